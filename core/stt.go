package orchestration

import (
	"context"
	"fmt"

	"github.com/unamentis/tutor-core/core/audio"
	"github.com/unamentis/tutor-core/core/speechtotext"
)

// speechToText is the STT facade used to handle optional client wiring.
type speechToText struct {
	client SpeechToText
}

func newSpeechToText(client SpeechToText) *speechToText {
	return &speechToText{client: client}
}

func (s *speechToText) set(client SpeechToText) {
	if s != nil {
		s.client = client
	}
}

type speechToTextCallbacks struct {
	onInterimTranscription func(transcript string)
	onTranscription        func(result speechtotext.Result)
	onError                func(err error)
}

// start opens a transcription stream for one utterance.
func (s *speechToText) start(ctx context.Context, encodingInfo audio.EncodingInfo, callbacks speechToTextCallbacks) error {
	if !s.isConfigured() {
		return fmt.Errorf("no speech-to-text client configured")
	}

	sttOptions := []speechtotext.TranscriptionOption{
		speechtotext.WithInterimTranscriptionCallback(callbacks.onInterimTranscription),
		speechtotext.WithTranscriptionCallback(callbacks.onTranscription),
		speechtotext.WithErrorCallback(callbacks.onError),
		speechtotext.WithEncodingInfo(encodingInfo),
	}

	if err := s.client.Transcribe(ctx, sttOptions...); err != nil {
		return fmt.Errorf("failed to start transcribing: %w", err)
	}

	return nil
}

func (s *speechToText) SendAudio(audio []byte) error {
	if !s.isConfigured() {
		return nil
	}

	return s.client.SendAudio(audio)
}

// Finalize asks the client to flush buffered audio into a final transcript.
// Clients without finalization support deliver their final result on their
// own schedule.
func (s *speechToText) Finalize() error {
	if !s.isConfigured() {
		return nil
	}

	if client, ok := s.client.(interface{ Finalize() error }); ok {
		return client.Finalize()
	}

	return nil
}

func (s *speechToText) Close(ctx context.Context) error {
	if !s.isConfigured() {
		return nil
	}

	switch c := s.client.(type) {
	case interface{ Close(context.Context) error }:
		if err := c.Close(ctx); err != nil {
			return fmt.Errorf("failed to close speech-to-text client: %w", err)
		}
	case interface{ Close(context.Context) }:
		c.Close(ctx)
	case interface{ Close() error }:
		if err := c.Close(); err != nil {
			return fmt.Errorf("failed to close speech-to-text client: %w", err)
		}
	case interface{ Close() }:
		c.Close()
	}

	return nil
}

func (s *speechToText) isConfigured() bool {
	return s != nil && s.client != nil
}
