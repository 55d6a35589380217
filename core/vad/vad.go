// Package vad provides per-frame voice activity detection.
package vad

// Result is a single-frame classification.
type Result struct {
	IsSpeech   bool
	Confidence float64
}

// Detector classifies one audio frame at a time. Process must be cheap
// enough to run on the capture path without stalling it.
type Detector interface {
	Process(frame []byte) Result
}
