package texttospeech

import "github.com/unamentis/tutor-core/core/audio"

type SynthesisOptions struct {
	// SpeechAudioCallback is called whenever the provider produces audio.
	SpeechAudioCallback func(audio []byte)
	// SpeechMarkCallback is called when all speech up to a marked point in
	// the text has been produced. Each mark is reported once, in order.
	SpeechMarkCallback func(string)
	// SpeechEndedCallback is called once all requested speech has been
	// produced, after EndOfText.
	SpeechEndedCallback func(SpeechEndedReport)
	// ErrorCallback is called on transport or provider failures. It is not
	// called when the generator is deliberately cancelled or closed.
	ErrorCallback func(error)

	EncodingInfo audio.EncodingInfo
}

type SynthesisOption func(*SynthesisOptions)

func WithSpeechAudioCallback(callback func([]byte)) SynthesisOption {
	return func(o *SynthesisOptions) { o.SpeechAudioCallback = callback }
}

func WithSpeechMarkCallback(callback func(string)) SynthesisOption {
	return func(o *SynthesisOptions) { o.SpeechMarkCallback = callback }
}

func WithSpeechEndedCallback(callback func(SpeechEndedReport)) SynthesisOption {
	return func(o *SynthesisOptions) { o.SpeechEndedCallback = callback }
}

func WithErrorCallback(callback func(error)) SynthesisOption {
	return func(o *SynthesisOptions) { o.ErrorCallback = callback }
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) SynthesisOption {
	return func(o *SynthesisOptions) {
		if encodingInfo.IsZero() {
			return
		}
		o.EncodingInfo = encodingInfo
	}
}

// SpeechGenerator turns a stream of text into a stream of speech audio.
type SpeechGenerator interface {
	// SendText queues text for synthesis. Speech is guaranteed to be
	// generated in the order text is sent.
	//
	// SendText errors if EndOfText, Cancel or Close has been called.
	SendText(string) error
	// Mark marks the current point in the text. The mark is reported through
	// the mark callback after all text sent before it has been synthesized.
	//
	// Mark errors if EndOfText, Cancel or Close has been called.
	Mark() error
	// EndOfText signals that no more text will be sent. The generator closes
	// itself once all remaining speech has been produced.
	//
	// EndOfText errors if Cancel or Close has been called. Repeated calls
	// are ignored.
	EndOfText() error
	// Cancel discards any speech not yet produced and closes the generator.
	// No further audio is delivered after Cancel returns.
	//
	// Repeated calls are ignored.
	Cancel() error
	// Close immediately closes the generator.
	//
	// Repeated calls are ignored.
	Close() error
}

// SpeechEndedReport summarizes a completed generation.
type SpeechEndedReport struct{}
