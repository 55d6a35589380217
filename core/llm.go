package orchestration

import (
	"context"
	"fmt"
	"strings"

	"github.com/unamentis/tutor-core/core/llms"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// llm is the model facade for streamed completion execution.
type llm struct {
	// client is the configured streaming LLM implementation.
	client LLMWithStream

	temperature *float64
	maxTokens   int
}

func newLLM() llm {
	return llm{}
}

func (runtime *llm) set(client LLMWithStream) {
	if runtime == nil {
		return
	}

	runtime.client = client
}

func (runtime *llm) setSampling(temperature *float64, maxTokens int) {
	if runtime == nil {
		return
	}

	runtime.temperature = temperature
	runtime.maxTokens = maxTokens
}

func (runtime *llm) isConfigured() bool {
	return runtime != nil && runtime.client != nil
}

// generate streams one completion for the given history, invoking onToken
// for every content token. It returns the full accumulated message, possibly
// truncated when cancelled mid-stream.
func (runtime *llm) generate(
	ctx context.Context,
	history []llms.Message,
	onToken func(string),
	cancelled func() bool,
) (string, error) {
	if !runtime.isConfigured() {
		return "", fmt.Errorf("no language model configured")
	}

	span := trace.SpanFromContext(ctx)

	promptOptions := []llms.PromptOption{llms.WithMessages(history...)}
	if runtime.temperature != nil {
		promptOptions = append(promptOptions, llms.WithTemperature(*runtime.temperature))
	}
	if runtime.maxTokens > 0 {
		promptOptions = append(promptOptions, llms.WithMaxTokens(runtime.maxTokens))
	}

	stream := runtime.client.PromptWithStream(ctx, promptOptions...)

	var message strings.Builder
	for chunk, err := range stream.Chunks(ctx) {
		if err != nil {
			err = fmt.Errorf("failed to stream llm response: %w", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return message.String(), err
		}

		if cancelled != nil && cancelled() {
			return message.String(), nil
		}

		switch chunk := chunk.(type) {
		case llms.StreamContentChunk:
			message.WriteString(chunk.Content())
			if onToken != nil {
				onToken(chunk.Content())
			}
		}
	}

	return message.String(), nil
}
