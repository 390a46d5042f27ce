package llm

import (
	"context"
	"errors"

	"hrtrainer/internal/config"

	"github.com/sashabaranov/go-openai"
)

// chatClient is the subset of *openai.Client the adapter needs.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error)
}

// OpenAI talks to Azure OpenAI deployments or the public OpenAI API.
type OpenAI struct {
	client chatClient
	model  string
	name   string
}

// NewAzure builds an adapter for an Azure OpenAI resource. BaseURL is the
// resource endpoint and Model doubles as the deployment name.
func NewAzure(cfg config.AIConfig) *OpenAI {
	c := openai.DefaultAzureConfig(cfg.APIKey, cfg.BaseURL)
	if cfg.APIVersion != "" {
		c.APIVersion = cfg.APIVersion
	}
	deployment := cfg.Model
	c.AzureModelMapperFunc = func(string) string { return deployment }
	return &OpenAI{client: openai.NewClientWithConfig(c), model: cfg.Model, name: config.ProviderAzure}
}

func NewOpenAI(cfg config.AIConfig) *OpenAI {
	c := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		c.BaseURL = cfg.BaseURL
	}
	return &OpenAI{client: openai.NewClientWithConfig(c), model: cfg.Model, name: config.ProviderOpenAI}
}

func (o *OpenAI) Name() string { return o.name }

func (o *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, o.request(req, false))
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: response has no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (o *OpenAI) Stream(ctx context.Context, req Request) (Stream, error) {
	s, err := o.client.CreateChatCompletionStream(ctx, o.request(req, true))
	if err != nil {
		return nil, err
	}
	return &openAIStream{s: s}, nil
}

func (o *OpenAI) request(req Request, stream bool) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	return openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
}

type openAIStream struct {
	s *openai.ChatCompletionStream
}

// Recv skips chunks that carry no content, such as the role preamble.
func (st *openAIStream) Recv() (string, error) {
	for {
		resp, err := st.s.Recv()
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
			continue
		}
		return resp.Choices[0].Delta.Content, nil
	}
}

func (st *openAIStream) Close() error {
	return st.s.Close()
}
