package orchestration

import (
	"context"
	"fmt"

	"github.com/unamentis/tutor-core/core/audio"
)

// audioIO is the device facade used to normalize capture and playback
// behavior for an optional client.
type audioIO struct {
	client AudioIO

	capturing bool
}

func newAudioIO(client AudioIO) *audioIO {
	return &audioIO{client: client}
}

func (a *audioIO) set(client AudioIO) {
	if a != nil {
		a.client = client
	}
}

func (a *audioIO) isConfigured() bool {
	return a != nil && a.client != nil
}

func (a *audioIO) StartCapture(ctx context.Context, onFrame func(frame []byte)) error {
	if !a.isConfigured() {
		return nil
	}

	if err := a.client.StartCapture(ctx, onFrame); err != nil {
		return fmt.Errorf("failed to start audio capture: %w", err)
	}
	a.capturing = true
	return nil
}

func (a *audioIO) StopCapture() error {
	if !a.isConfigured() || !a.capturing {
		return nil
	}

	a.capturing = false
	if err := a.client.StopCapture(); err != nil {
		return fmt.Errorf("failed to stop audio capture: %w", err)
	}
	return nil
}

func (a *audioIO) QueuePlayback(audio []byte) error {
	if !a.isConfigured() {
		return nil
	}

	return a.client.QueuePlayback(audio)
}

func (a *audioIO) MarkPlayback(callback func()) error {
	if !a.isConfigured() {
		// No device means nothing is pending, the mark is already reached.
		callback()
		return nil
	}

	return a.client.MarkPlayback(callback)
}

func (a *audioIO) ClearPlayback() {
	if !a.isConfigured() {
		return
	}

	a.client.ClearPlayback()
}

func (a *audioIO) EncodingInfo() audio.EncodingInfo {
	if !a.isConfigured() {
		return audio.GetDefaultEncodingInfo()
	}

	return a.client.EncodingInfo()
}

func (a *audioIO) Close() {
	if !a.isConfigured() {
		return
	}

	a.client.Close()
}
