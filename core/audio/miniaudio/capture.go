package miniaudio

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/unamentis/tutor-core/core/audio"
)

// captureFrameMillis is the frame length handed to the consumer. Energy
// based speech detection wants windows of a consistent length, so device
// periods are regrouped before delivery.
const captureFrameMillis = 20

type captureClient struct {
	audioContext *malgo.AllocatedContext
	device       *malgo.Device
	config       malgo.DeviceConfig

	frameBytes int
	pending    []byte
	onFrame    func(frame []byte)

	mu sync.Mutex
}

func (c *captureClient) Init(audioContext *malgo.AllocatedContext) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sampleRate := uint32(audio.DefaultSampleRate)
	channels := 1
	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels
	c.frameBytes = int(sampleRate) / 1000 * captureFrameMillis * bytesPerFrame

	c.config = malgo.DefaultDeviceConfig(malgo.Capture)
	c.config.SampleRate = sampleRate
	c.config.Capture.Format = format
	c.config.Capture.Channels = uint32(channels)
	c.config.Alsa.NoMMap = 1
	c.config.PerformanceProfile = malgo.LowLatency
	c.config.PeriodSizeInFrames = 480
	c.config.Periods = 3

	c.audioContext = audioContext

	var err error
	c.device, err = malgo.InitDevice(c.audioContext.Context, c.config, malgo.DeviceCallbacks{
		Data: c.processInput(bytesPerFrame),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize capture device: %w", err)
	}

	return nil
}

// processInput accumulates device periods and emits fixed-size frames. A
// partial tail stays pending until the next period fills it.
func (c *captureClient) processInput(bytesPerFrame int) malgo.DataProc {
	return func(_, pInput []byte, frameCount uint32) {
		n := int(frameCount) * bytesPerFrame
		if n == 0 || len(pInput) < n {
			return
		}

		c.mu.Lock()
		onFrame := c.onFrame
		c.pending = append(c.pending, pInput[:n]...)
		var frames [][]byte
		for len(c.pending) >= c.frameBytes {
			frame := make([]byte, c.frameBytes)
			copy(frame, c.pending[:c.frameBytes])
			c.pending = c.pending[c.frameBytes:]
			frames = append(frames, frame)
		}
		c.mu.Unlock()

		if onFrame == nil {
			return
		}
		for _, frame := range frames {
			onFrame(frame)
		}
	}
}

func (c *captureClient) Start(onFrame func(frame []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return fmt.Errorf("device not initialized")
	} else if c.device.IsStarted() {
		return nil
	}

	if err := c.device.Start(); err != nil {
		return fmt.Errorf("failed to start capture device: %w", err)
	}

	c.onFrame = onFrame
	c.pending = nil
	return nil
}

func (c *captureClient) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return fmt.Errorf("device not initialized")
	} else if !c.device.IsStarted() {
		return nil
	}

	if err := c.device.Stop(); err != nil {
		return fmt.Errorf("failed to stop device: %w", err)
	}

	c.onFrame = nil
	c.pending = nil
	return nil
}

func (c *captureClient) Uninit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device != nil {
		c.device.Uninit()
		c.device = nil
	}

	c.onFrame = nil
	c.pending = nil
	return nil
}
