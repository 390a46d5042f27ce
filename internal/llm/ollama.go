package llm

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"hrtrainer/internal/config"

	"github.com/ollama/ollama/api"
)

// Ollama calls a local or self-hosted Ollama server.
type Ollama struct {
	client *api.Client
	model  string
}

// NewOllama uses BaseURL when set, otherwise OLLAMA_HOST from the environment.
func NewOllama(cfg config.AIConfig) (*Ollama, error) {
	var client *api.Client
	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		client = api.NewClient(u, http.DefaultClient)
	} else {
		c, err := api.ClientFromEnvironment()
		if err != nil {
			return nil, err
		}
		client = c
	}
	return &Ollama{client: client, model: cfg.Model}, nil
}

func (o *Ollama) Name() string { return config.ProviderOllama }

func (o *Ollama) Complete(ctx context.Context, req Request) (string, error) {
	var out strings.Builder
	err := o.client.Chat(ctx, o.request(req, false), func(resp api.ChatResponse) error {
		out.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", err
	}
	return out.String(), nil
}

// Stream runs Chat in the background and hands fragments over a channel.
func (o *Ollama) Stream(ctx context.Context, req Request) (Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	s := &ollamaStream{
		chunks: make(chan string, 16),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	go func() {
		defer close(s.done)
		s.err = o.client.Chat(ctx, o.request(req, true), func(resp api.ChatResponse) error {
			if resp.Message.Content == "" {
				return nil
			}
			select {
			case s.chunks <- resp.Message.Content:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()
	return s, nil
}

func (o *Ollama) request(req Request, stream bool) *api.ChatRequest {
	msgs := make([]api.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, api.Message{Role: string(m.Role), Content: m.Content})
	}
	opts := map[string]any{"temperature": req.Temperature}
	if req.MaxTokens > 0 {
		opts["num_predict"] = req.MaxTokens
	}
	return &api.ChatRequest{
		Model:    o.model,
		Messages: msgs,
		Stream:   &stream,
		Options:  opts,
	}
}

type ollamaStream struct {
	chunks chan string
	done   chan struct{}
	err    error
	cancel context.CancelFunc
}

func (s *ollamaStream) Recv() (string, error) {
	select {
	case c := <-s.chunks:
		return c, nil
	case <-s.done:
	}
	// Chat has returned; drain anything it queued before finishing.
	select {
	case c := <-s.chunks:
		return c, nil
	default:
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *ollamaStream) Close() error {
	s.cancel()
	<-s.done
	return nil
}
