package llms

import "context"

// Stream is a lazy sequence of completion chunks. Iteration ends when the
// provider signals completion or the context is cancelled; a cancelled
// iteration produces no further chunks.
type Stream interface {
	Chunks(context.Context) func(func(StreamChunk, error) bool)
}

type StreamChunk interface {
	FinishReason() *string
}

type StreamContentChunk interface {
	StreamChunk
	Content() string
}

type StreamUsageChunk interface {
	StreamChunk
	Usage() Usage
}

// Usage is a per-completion token accounting report.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int

	// Timing figures as reported by the provider, in seconds. These are
	// approximations.
	QueueTime      float64
	PromptTime     float64
	CompletionTime float64
	TotalTime      float64
}
