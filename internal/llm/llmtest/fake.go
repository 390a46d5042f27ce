// Package llmtest provides a scripted llm.Port for tests.
package llmtest

import (
	"context"
	"io"
	"sync"

	"hrtrainer/internal/llm"
)

// Fake answers Complete with CompleteFunc (or Reply) and streams Chunks.
type Fake struct {
	// CompleteFunc, when set, decides the Complete result.
	CompleteFunc func(req llm.Request) (string, error)
	Reply        string
	CompleteErr  error

	Chunks []string
	// StreamErr fails the Stream call itself.
	StreamErr error
	// RecvErr is returned after Chunks instead of io.EOF.
	RecvErr error
	// Hang makes Recv block on the request context after Chunks.
	Hang bool

	mu       sync.Mutex
	requests []llm.Request
}

func (f *Fake) Name() string { return "fake" }

func (f *Fake) Complete(ctx context.Context, req llm.Request) (string, error) {
	f.record(req)
	if f.CompleteFunc != nil {
		return f.CompleteFunc(req)
	}
	if f.CompleteErr != nil {
		return "", f.CompleteErr
	}
	return f.Reply, nil
}

func (f *Fake) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	f.record(req)
	if f.StreamErr != nil {
		return nil, f.StreamErr
	}
	return &stream{ctx: ctx, chunks: append([]string(nil), f.Chunks...), err: f.RecvErr, hang: f.Hang}, nil
}

// Requests returns every request seen so far.
func (f *Fake) Requests() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.Request(nil), f.requests...)
}

// Last returns the most recent request.
func (f *Fake) Last() llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return llm.Request{}
	}
	return f.requests[len(f.requests)-1]
}

func (f *Fake) record(req llm.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
}

type stream struct {
	ctx    context.Context
	chunks []string
	err    error
	hang   bool
	closed bool
}

func (s *stream) Recv() (string, error) {
	if len(s.chunks) > 0 {
		c := s.chunks[0]
		s.chunks = s.chunks[1:]
		return c, nil
	}
	if s.hang {
		<-s.ctx.Done()
		return "", s.ctx.Err()
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *stream) Close() error {
	s.closed = true
	return nil
}
