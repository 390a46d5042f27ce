package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"hrtrainer/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// WithTimeout bounds every call by d. For streams the deadline covers the
// whole read, not just the first fragment.
func WithTimeout(p Port, d time.Duration) Port {
	if d <= 0 {
		return p
	}
	return &timeoutPort{Port: p, d: d}
}

type timeoutPort struct {
	Port
	d time.Duration
}

func (t *timeoutPort) Complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.Port.Complete(ctx, req)
}

func (t *timeoutPort) Stream(ctx context.Context, req Request) (Stream, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	s, err := t.Port.Stream(ctx, req)
	if err != nil {
		cancel()
		return nil, err
	}
	return &cancelStream{Stream: s, cancel: cancel}, nil
}

type cancelStream struct {
	Stream
	cancel context.CancelFunc
}

func (s *cancelStream) Close() error {
	err := s.Stream.Close()
	s.cancel()
	return err
}

// WithRateLimit makes each call wait for a token. Zero RPS returns p as is.
func WithRateLimit(p Port, rl config.RateLimit) Port {
	if rl.RPS <= 0 {
		return p
	}
	burst := rl.Burst
	if burst < 1 {
		burst = 1
	}
	return &limitedPort{Port: p, limiter: rate.NewLimiter(rate.Limit(rl.RPS), burst)}
}

type limitedPort struct {
	Port
	limiter *rate.Limiter
}

func (l *limitedPort) Complete(ctx context.Context, req Request) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit: %w", err)
	}
	return l.Port.Complete(ctx, req)
}

func (l *limitedPort) Stream(ctx context.Context, req Request) (Stream, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	return l.Port.Stream(ctx, req)
}

// WithTracing wraps calls in spans on the global tracer provider.
func WithTracing(p Port) Port {
	return &tracedPort{Port: p, tracer: otel.Tracer("hrtrainer/llm")}
}

type tracedPort struct {
	Port
	tracer trace.Tracer
}

func (t *tracedPort) start(ctx context.Context, name string, req Request) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("llm.provider", t.Port.Name()),
		attribute.Float64("llm.temperature", float64(req.Temperature)),
		attribute.Int("llm.max_tokens", req.MaxTokens),
		attribute.Int("llm.messages", len(req.Messages)),
	))
}

func (t *tracedPort) Complete(ctx context.Context, req Request) (string, error) {
	ctx, span := t.start(ctx, "llm.complete", req)
	defer span.End()

	out, err := t.Port.Complete(ctx, req)
	if err != nil {
		recordSpanError(span, err)
		return "", err
	}
	span.SetAttributes(attribute.Int("llm.response_length", len(out)))
	return out, nil
}

func (t *tracedPort) Stream(ctx context.Context, req Request) (Stream, error) {
	ctx, span := t.start(ctx, "llm.stream", req)
	s, err := t.Port.Stream(ctx, req)
	if err != nil {
		recordSpanError(span, err)
		span.End()
		return nil, err
	}
	return &tracedStream{Stream: s, span: span}, nil
}

type tracedStream struct {
	Stream
	span   trace.Span
	chunks int
	once   sync.Once
}

func (s *tracedStream) Recv() (string, error) {
	chunk, err := s.Stream.Recv()
	if err == nil {
		s.chunks++
		return chunk, nil
	}
	if !errors.Is(err, io.EOF) {
		recordSpanError(s.span, err)
	}
	s.finish()
	return "", err
}

func (s *tracedStream) Close() error {
	s.finish()
	return s.Stream.Close()
}

func (s *tracedStream) finish() {
	s.once.Do(func() {
		s.span.SetAttributes(attribute.Int("llm.chunks", s.chunks))
		s.span.End()
	})
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
