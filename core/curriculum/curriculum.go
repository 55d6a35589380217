// Package curriculum defines the contract for supplying lesson context to
// the conversation orchestrator.
package curriculum

import "strings"

// Context describes what the tutor is currently supposed to be teaching.
type Context struct {
	TopicTitle string
	Objectives []string
}

// PromptFragment renders the context as a system-prompt addition.
func (c *Context) PromptFragment() string {
	if c == nil || c.TopicTitle == "" {
		return ""
	}

	var b strings.Builder
	b.WriteString("The current lesson topic is: " + c.TopicTitle + ".")
	if len(c.Objectives) > 0 {
		b.WriteString(" Learning objectives: " + strings.Join(c.Objectives, "; ") + ".")
	}
	return b.String()
}

// Provider supplies the current lesson context. CurrentContext is consulted
// once per session, when the system prompt is built; returning nil means an
// open-ended session.
type Provider interface {
	CurrentContext() *Context
}

// StaticProvider serves one fixed context for the lifetime of the process.
type StaticProvider struct {
	context *Context
}

func NewStaticProvider(topicTitle string, objectives ...string) *StaticProvider {
	if topicTitle == "" {
		return &StaticProvider{}
	}
	return &StaticProvider{context: &Context{TopicTitle: topicTitle, Objectives: objectives}}
}

func (p *StaticProvider) CurrentContext() *Context {
	return p.context
}
