package orchestration

import (
	"context"
	"time"

	"github.com/unamentis/tutor-core/core/audio"
	"github.com/unamentis/tutor-core/core/curriculum"
	"github.com/unamentis/tutor-core/core/llms"
	"github.com/unamentis/tutor-core/core/speechtotext"
	"github.com/unamentis/tutor-core/core/texttospeech"
	"github.com/unamentis/tutor-core/core/vad"
	"github.com/unamentis/tutor-core/internal/utils"
)

type OrchestratorOption func(*Orchestrator)

type LLMWithStream interface {
	PromptWithStream(ctx context.Context, opts ...llms.PromptOption) llms.Stream
}

func WithStreamingLLM(client LLMWithStream) OrchestratorOption {
	return func(o *Orchestrator) {
		o.llm.set(client)
	}
}

type SpeechToText interface {
	Transcribe(ctx context.Context, opts ...speechtotext.TranscriptionOption) error
	SendAudio(audio []byte) error
}

func WithSpeechToTextClient(client SpeechToText) OrchestratorOption {
	return func(o *Orchestrator) {
		o.speechToText.set(client)
	}
}

type TextToSpeech interface {
	NewSpeechGenerator(ctx context.Context, opts ...texttospeech.SynthesisOption) (texttospeech.SpeechGenerator, error)
}

func WithTextToSpeechClient(client TextToSpeech) OrchestratorOption {
	return func(o *Orchestrator) {
		o.textToSpeech.set(client)
	}
}

type AudioIO interface {
	StartCapture(ctx context.Context, onFrame func(frame []byte)) error
	StopCapture() error
	QueuePlayback(audio []byte) error
	// MarkPlayback registers a callback fired once every byte queued before
	// the call has been played. ClearPlayback discards unfired marks.
	MarkPlayback(callback func()) error
	ClearPlayback()
	EncodingInfo() audio.EncodingInfo
	Close()
}

func WithAudioIO(client AudioIO) OrchestratorOption {
	return func(o *Orchestrator) { o.audioIO.set(client) }
}

func WithVAD(detector vad.Detector) OrchestratorOption {
	return func(o *Orchestrator) {
		if detector != nil {
			o.vad = detector
		}
	}
}

func WithCurriculumProvider(provider curriculum.Provider) OrchestratorOption {
	return func(o *Orchestrator) { o.curriculum = provider }
}

// WithTutorPersona replaces the default system prompt persona.
func WithTutorPersona(persona string) OrchestratorOption {
	return func(o *Orchestrator) {
		if persona != "" {
			o.persona = persona
		}
	}
}

func WithTemperature(temperature float64) OrchestratorOption {
	return func(o *Orchestrator) { o.llm.temperature = utils.Ptr(temperature) }
}

func WithMaxTokens(maxTokens int) OrchestratorOption {
	return func(o *Orchestrator) { o.llm.maxTokens = maxTokens }
}

// WithSilenceThreshold overrides how much continuous silence ends a user
// utterance.
func WithSilenceThreshold(threshold time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if threshold > 0 {
			o.silenceThreshold = threshold
		}
	}
}

// WithBargeInWindow overrides how long response speech must have been
// playing before user speech counts as a barge-in. Speech-positive frames
// inside the window are ignored to avoid false triggers from playback bleed.
func WithBargeInWindow(window time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if window > 0 {
			o.bargeInWindow = window
		}
	}
}

type orchestratorCallbacks struct {
	onStateChanged         func(state SessionState)
	onInterimTranscription func(transcript string)
	onTranscriptEntry      func(entry TranscriptEntry)
	onResponse             func(token string)
	onResponseEnd          func()
	onAudio                func(audio []byte)
	onMetricsUpdated       func(metrics SessionMetrics)
	onSessionEnded         func(session Session)
}

// WithStateChangedCallback registers a callback for every state transition.
// The transient interrupted state is reported like any other.
func WithStateChangedCallback(callback func(state SessionState)) OrchestratorOption {
	return func(o *Orchestrator) { o.callbacks.onStateChanged = callback }
}

// WithInterimTranscriptionCallback registers a callback for provisional
// transcripts of the utterance in progress.
func WithInterimTranscriptionCallback(callback func(transcript string)) OrchestratorOption {
	return func(o *Orchestrator) { o.callbacks.onInterimTranscription = callback }
}

// WithTranscriptEntryCallback registers a callback for every finalized
// transcript entry, user and assistant alike.
func WithTranscriptEntryCallback(callback func(entry TranscriptEntry)) OrchestratorOption {
	return func(o *Orchestrator) { o.callbacks.onTranscriptEntry = callback }
}

// WithResponseCallback registers a callback for each streamed response token.
func WithResponseCallback(callback func(token string)) OrchestratorOption {
	return func(o *Orchestrator) { o.callbacks.onResponse = callback }
}

func WithResponseEndCallback(callback func()) OrchestratorOption {
	return func(o *Orchestrator) { o.callbacks.onResponseEnd = callback }
}

// WithAudioCallback registers a callback for synthesized response audio, in
// playback order.
func WithAudioCallback(callback func(audio []byte)) OrchestratorOption {
	return func(o *Orchestrator) { o.callbacks.onAudio = callback }
}

func WithMetricsCallback(callback func(metrics SessionMetrics)) OrchestratorOption {
	return func(o *Orchestrator) { o.callbacks.onMetricsUpdated = callback }
}

// WithSessionEndedCallback registers a callback invoked with the finalized
// session once StopSession stamps its end time.
func WithSessionEndedCallback(callback func(session Session)) OrchestratorOption {
	return func(o *Orchestrator) { o.callbacks.onSessionEnded = callback }
}
