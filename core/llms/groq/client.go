package groq

import (
	"context"
	"fmt"
	"os"

	"github.com/unamentis/tutor-core/core/llms"
)

const (
	url = "https://api.groq.com/openai/v1/chat/completions"

	endMessage  = "[DONE]"
	chunkPrefix = "data:"
)

const defaultModel = "llama-3.3-70b-versatile"

// Client talks to Groq's OpenAI-compatible chat completions API.
type Client struct {
	apiKey string
	model  string
}

type ClientOption func(*Client)

// WithAPIKey overrides the GROQ_API_KEY environment lookup.
func WithAPIKey(apiKey string) ClientOption {
	return func(c *Client) { c.apiKey = apiKey }
}

func WithModel(model string) ClientOption {
	return func(c *Client) { c.model = model }
}

func NewClient(opts ...ClientOption) (*Client, error) {
	client := &Client{model: defaultModel}
	for _, opt := range opts {
		opt(client)
	}

	if client.apiKey == "" {
		apiKey, ok := os.LookupEnv("GROQ_API_KEY")
		if !ok {
			return nil, fmt.Errorf("groq api key not found")
		}
		client.apiKey = apiKey
	}

	return client, nil
}

// PromptWithStream starts a streaming completion. The returned stream is
// lazy: no request is sent until Chunks is iterated.
func (c *Client) PromptWithStream(_ context.Context, opts ...llms.PromptOption) llms.Stream {
	options := llms.PromptOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	return &Stream{
		apiKey:      c.apiKey,
		model:       c.model,
		messages:    toMessages(options.Messages),
		temperature: options.Temperature,
		maxTokens:   options.MaxTokens,
	}
}
