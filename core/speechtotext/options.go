package speechtotext

import (
	"time"

	"github.com/unamentis/tutor-core/core/audio"
)

// Result is a transcription update. A final result ends the utterance; the
// stream produces at most one final result per Transcribe call.
type Result struct {
	Text       string
	IsFinal    bool
	Confidence float64
	// Latency is the time between the last audio handed to the provider and
	// this result being produced.
	Latency time.Duration
}

type TranscriptionOptions struct {
	// InterimTranscriptionCallback receives provisional transcripts. These
	// can be revised by later results.
	InterimTranscriptionCallback func(transcript string)
	// TranscriptionCallback receives the final result for the utterance.
	TranscriptionCallback func(result Result)
	// ErrorCallback receives transport or provider failures. It is not
	// called when the stream is deliberately closed.
	ErrorCallback func(err error)

	EncodingInfo audio.EncodingInfo
}

type TranscriptionOption func(*TranscriptionOptions)

func WithInterimTranscriptionCallback(callback func(transcript string)) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.InterimTranscriptionCallback = callback
	}
}

func WithTranscriptionCallback(callback func(result Result)) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.TranscriptionCallback = callback
	}
}

func WithErrorCallback(callback func(err error)) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.ErrorCallback = callback
	}
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.EncodingInfo = encodingInfo
	}
}
