package vad

import (
	"math"

	"github.com/unamentis/tutor-core/core/audio"
)

// EnergyDetector is an RMS-energy detector with hysteresis: it takes more
// energy to enter speech than to stay in it, which avoids flickering between
// speech and silence on breathy or trailing-off frames.
type EnergyDetector struct {
	speechThreshold  float64
	silenceThreshold float64

	inSpeech bool
}

type EnergyOption func(*EnergyDetector)

// WithSpeechThreshold sets the normalized RMS level required to enter speech.
func WithSpeechThreshold(threshold float64) EnergyOption {
	return func(d *EnergyDetector) { d.speechThreshold = threshold }
}

// WithSilenceThreshold sets the normalized RMS level below which an ongoing
// speech run ends. Must be below the speech threshold for hysteresis to work.
func WithSilenceThreshold(threshold float64) EnergyOption {
	return func(d *EnergyDetector) { d.silenceThreshold = threshold }
}

// NewEnergyDetector returns a detector tuned for 16kHz linear16 frames.
func NewEnergyDetector(opts ...EnergyOption) *EnergyDetector {
	d := &EnergyDetector{
		speechThreshold:  0.015,
		silenceThreshold: 0.008,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *EnergyDetector) Process(frame []byte) Result {
	level := audio.RMSLevel(frame)

	threshold := d.speechThreshold
	if d.inSpeech {
		threshold = d.silenceThreshold
	}
	d.inSpeech = level >= threshold

	return Result{
		IsSpeech:   d.inSpeech,
		Confidence: math.Min(1, level/d.speechThreshold),
	}
}
