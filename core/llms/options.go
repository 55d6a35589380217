package llms

// PromptOptions carries everything a provider needs to run one completion.
type PromptOptions struct {
	Messages    []Message
	Temperature *float64
	MaxTokens   int
}

type PromptOption func(*PromptOptions)

// WithMessages appends messages to the prompt. Repeating this option keeps
// appending in order.
func WithMessages(messages ...Message) PromptOption {
	return func(o *PromptOptions) {
		o.Messages = append(o.Messages, messages...)
	}
}

// WithSystemPrompt sets (or replaces) the leading system message.
func WithSystemPrompt(prompt string) PromptOption {
	return func(o *PromptOptions) {
		if len(o.Messages) > 0 && o.Messages[0].Role == MessageRoleSystem {
			o.Messages[0].Content = prompt
			return
		}
		o.Messages = append([]Message{{Role: MessageRoleSystem, Content: prompt}}, o.Messages...)
	}
}

func WithTemperature(temperature float64) PromptOption {
	return func(o *PromptOptions) {
		o.Temperature = &temperature
	}
}

func WithMaxTokens(maxTokens int) PromptOption {
	return func(o *PromptOptions) {
		o.MaxTokens = maxTokens
	}
}
