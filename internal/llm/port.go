// Package llm defines the text-generation port and its provider adapters.
package llm

import (
	"context"
	"errors"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged turn sent to a provider.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request describes a single completion call.
type Request struct {
	Messages    []Message `json:"messages"`
	Temperature float32   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

// Port produces completions, either whole or as a fragment stream.
type Port interface {
	Complete(ctx context.Context, req Request) (string, error)
	Stream(ctx context.Context, req Request) (Stream, error)
	Name() string
}

// Stream yields text fragments. Recv returns io.EOF once the completion is
// finished. Close must be called when the caller stops reading.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// ErrNotConfigured is returned by every call on a Disabled port.
var ErrNotConfigured = errors.New("llm: provider not configured")

// Disabled is used when no provider credentials are available. Callers take
// their fallback paths.
type Disabled struct{}

func (Disabled) Complete(context.Context, Request) (string, error) { return "", ErrNotConfigured }
func (Disabled) Stream(context.Context, Request) (Stream, error)   { return nil, ErrNotConfigured }
func (Disabled) Name() string                                      { return "disabled" }
