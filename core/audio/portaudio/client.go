// Package portaudio provides microphone capture and speaker playback through
// the portaudio bindings. It is a blocking-IO alternative to the miniaudio
// client for platforms where miniaudio misbehaves.
package portaudio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/unamentis/tutor-core/core/audio"
)

type Client struct {
	bufferSize    int
	stream        *portaudio.Stream
	leftoverAudio []byte
	audioMu       sync.Mutex

	capturing  bool
	captureMu  sync.Mutex
	captureCtx context.CancelFunc

	in  []int16
	out []int16
}

func NewClient(bufferSize int) (*Client, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	in := make([]int16, bufferSize)
	out := make([]int16, bufferSize)
	stream, err := portaudio.OpenDefaultStream(1, 1, audio.DefaultSampleRate, bufferSize, in, out)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to open portaudio stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to start portaudio stream: %w", err)
	}

	return &Client{
		bufferSize: bufferSize,
		stream:     stream,
		in:         in,
		out:        out,
	}, nil
}

// StartCapture reads microphone frames in a loop until StopCapture is called
// or ctx is cancelled.
func (c *Client) StartCapture(ctx context.Context, onFrame func(frame []byte)) error {
	c.captureMu.Lock()
	if c.capturing {
		c.captureMu.Unlock()
		return nil
	}
	c.capturing = true
	ctx, c.captureCtx = context.WithCancel(ctx)
	c.captureMu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
				if err := c.stream.Read(); err != nil {
					continue
				}

				audioBuffer := bytes.Buffer{}
				_ = binary.Write(&audioBuffer, binary.LittleEndian, c.in)
				onFrame(audioBuffer.Bytes())
			}
		}
	}()

	return nil
}

func (c *Client) StopCapture() error {
	c.captureMu.Lock()
	defer c.captureMu.Unlock()
	if !c.capturing {
		return nil
	}
	c.capturing = false
	c.captureCtx()
	return nil
}

func (c *Client) QueuePlayback(audio []byte) error {
	bufferSize := c.bufferSize * 2

	c.audioMu.Lock()
	audio = append(c.leftoverAudio, audio...)
	c.leftoverAudio = nil
	c.audioMu.Unlock()

	for i := range len(audio)/bufferSize + 1 {
		if (i+1)*bufferSize > len(audio) {
			c.audioMu.Lock()
			c.leftoverAudio = append(c.leftoverAudio, audio[i*bufferSize:]...)
			c.audioMu.Unlock()
			break
		}

		_ = binary.Read(bytes.NewBuffer(audio[i*bufferSize:(i+1)*bufferSize]), binary.LittleEndian, c.out)
		if err := c.stream.Write(); err != nil {
			return fmt.Errorf("failed to write to portaudio stream: %w", err)
		}
	}

	return nil
}

// MarkPlayback flushes the partial tail buffer and reports the mark. Stream
// writes block until the device accepts them, so by the time QueuePlayback
// returns only the tail is still unplayed.
func (c *Client) MarkPlayback(callback func()) error {
	c.audioMu.Lock()
	leftover := c.leftoverAudio
	c.leftoverAudio = nil
	c.audioMu.Unlock()

	if len(leftover) > 0 {
		padded := make([]byte, c.bufferSize*2)
		copy(padded, leftover)
		_ = binary.Read(bytes.NewBuffer(padded), binary.LittleEndian, c.out)
		if err := c.stream.Write(); err != nil {
			return fmt.Errorf("failed to flush portaudio stream: %w", err)
		}
	}

	go callback()
	return nil
}

func (c *Client) ClearPlayback() {
	c.audioMu.Lock()
	defer c.audioMu.Unlock()
	c.leftoverAudio = nil
}

func (c *Client) Close() {
	_ = c.StopCapture()
	c.stream.Close()
	portaudio.Terminate()
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return audio.GetDefaultEncodingInfo()
}
