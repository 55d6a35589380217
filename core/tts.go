package orchestration

import (
	"context"

	"github.com/unamentis/tutor-core/core/texttospeech"
)

// textToSpeech is the synthesis facade used to handle optional client wiring.
type textToSpeech struct {
	client TextToSpeech
}

func newTextToSpeech(client TextToSpeech) *textToSpeech {
	return &textToSpeech{client: client}
}

func (t *textToSpeech) set(client TextToSpeech) {
	if t != nil {
		t.client = client
	}
}

func (t *textToSpeech) isConfigured() bool {
	return t != nil && t.client != nil
}

func (t *textToSpeech) newSpeechGenerator(ctx context.Context, opts ...texttospeech.SynthesisOption) (texttospeech.SpeechGenerator, error) {
	if !t.isConfigured() {
		return nil, nil
	}

	return t.client.NewSpeechGenerator(ctx, opts...)
}
