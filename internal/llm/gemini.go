package llm

import (
	"context"
	"errors"
	"io"
	"iter"
	"math"
	"strings"

	"hrtrainer/internal/config"

	"google.golang.org/genai"
)

// Gemini uses the Gemini API through the Gen AI SDK.
type Gemini struct {
	client *genai.Client
	model  string
}

func NewGemini(ctx context.Context, cfg config.AIConfig) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	model := cfg.Model
	if model == "" || strings.HasPrefix(model, "gpt-") {
		model = "gemini-2.0-flash"
	}
	return &Gemini{client: client, model: model}, nil
}

func (g *Gemini) Name() string { return config.ProviderGemini }

func (g *Gemini) Complete(ctx context.Context, req Request) (string, error) {
	contents, gc := buildGeminiRequest(req)
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, gc)
	if err != nil {
		return "", err
	}
	text, ok := geminiText(resp)
	if !ok {
		return "", errors.New("gemini: response has no candidates")
	}
	return text, nil
}

func (g *Gemini) Stream(ctx context.Context, req Request) (Stream, error) {
	contents, gc := buildGeminiRequest(req)
	next, stop := iter.Pull2(g.client.Models.GenerateContentStream(ctx, g.model, contents, gc))
	return &geminiStream{next: next, stop: stop}, nil
}

// buildGeminiRequest moves the system turn into SystemInstruction and maps
// assistant turns to the model role.
func buildGeminiRequest(req Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	gc := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(req.Temperature),
	}
	if req.MaxTokens > 0 && req.MaxTokens <= math.MaxInt32 {
		gc.MaxOutputTokens = int32(req.MaxTokens)
	}

	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		part := []*genai.Part{{Text: m.Content}}
		switch m.Role {
		case RoleSystem:
			gc.SystemInstruction = &genai.Content{Parts: part}
		case RoleAssistant:
			contents = append(contents, &genai.Content{Role: "model", Parts: part})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: part})
		}
	}
	return contents, gc
}

func geminiText(resp *genai.GenerateContentResponse) (string, bool) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", false
	}
	c := resp.Candidates[0]
	if c.Content == nil {
		return "", true
	}
	var b strings.Builder
	for _, p := range c.Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String(), true
}

type geminiStream struct {
	next func() (*genai.GenerateContentResponse, error, bool)
	stop func()
}

func (s *geminiStream) Recv() (string, error) {
	for {
		resp, err, ok := s.next()
		if !ok {
			return "", io.EOF
		}
		if err != nil {
			return "", err
		}
		if text, _ := geminiText(resp); text != "" {
			return text, nil
		}
	}
}

func (s *geminiStream) Close() error {
	s.stop()
	return nil
}
