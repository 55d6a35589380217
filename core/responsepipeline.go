package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/unamentis/tutor-core/core/llms"
	"github.com/unamentis/tutor-core/core/texttospeech"
	"go.opentelemetry.io/otel/codes"
)

type responsePipelineCallbacks struct {
	onResponse    func(token string)
	onResponseEnd func()
	onAudio       func(audio []byte)
}

// responsePipeline runs one assistant turn: it streams the model completion
// into the speech buffer, regroups the buffer into speakable chunks, and
// feeds the chunks to synthesis while audio is queued to playback. Chunk N+1
// synthesis overlaps chunk N playback, but chunks reach playback in the
// order they were cut. The turn is only complete once the playback queue has
// drained.
type responsePipeline struct {
	llm          llm
	textToSpeech *textToSpeech
	audioOutput  *audioIO
	buffer       *speechBuffer

	post      func(event)
	clock     func() time.Time
	callbacks responsePipelineCallbacks

	cancelled      atomic.Bool
	firstTokenOnce sync.Once
	firstAudioOnce sync.Once

	mu               sync.Mutex
	cancelFn         context.CancelFunc
	generator        texttospeech.SpeechGenerator
	firstChunkSentAt time.Time
}

func newResponsePipeline(
	llm llm,
	textToSpeech *textToSpeech,
	audioOutput *audioIO,
	post func(event),
	clock func() time.Time,
	callbacks responsePipelineCallbacks,
) *responsePipeline {
	return &responsePipeline{
		llm:          llm,
		textToSpeech: textToSpeech,
		audioOutput:  audioOutput,
		buffer:       newSpeechBuffer(),
		post:         post,
		clock:        clock,
		callbacks:    callbacks,
	}
}

// Run executes the turn to completion. It posts exactly one of
// turnCompletedEvent or capabilityErrorEvent back to the decision loop,
// unless the pipeline was cancelled, in which case it posts nothing.
func (p *responsePipeline) Run(ctx context.Context, history []llms.Message) {
	ctx, span := tracer.Start(ctx, "process turn")
	defer span.End()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// A dying context must also release anyone blocked on the buffer.
	defer close(withContextCancelHook(ctx, p.buffer.Clear))

	p.mu.Lock()
	p.cancelFn = cancel
	p.mu.Unlock()
	if p.cancelled.Load() {
		cancel()
	}

	var workerErr error
	workerErrMu := sync.Mutex{}
	addWorkerErr := func(err error) {
		if err == nil {
			return
		}
		workerErrMu.Lock()
		workerErr = errors.Join(workerErr, err)
		workerErrMu.Unlock()
	}

	workers := map[string]workerRun{
		"llm generation": panicSafeNamedWorker("llm generation", func(ctx context.Context) error {
			return p.generateResponse(ctx, history)
		}),
		"speech synthesis": panicSafeNamedWorker("speech synthesis", p.synthesizeSpeech),
	}

	wg := &sync.WaitGroup{}
	for name := range workers {
		worker := workers[name]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := worker(ctx); err != nil {
				addWorkerErr(err)
				cancel()
			}
		}()
	}
	wg.Wait()

	if p.cancelled.Load() {
		return
	}

	if workerErr != nil {
		err := fmt.Errorf("one or more turn processes failed: %w", workerErr)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.post(capabilityErrorEvent{stage: "response pipeline", err: err})
		return
	}

	p.post(turnCompletedEvent{response: p.buffer.String(), at: p.clock()})
}

func (p *responsePipeline) generateResponse(ctx context.Context, history []llms.Message) error {
	defer p.buffer.Complete()

	_, err := p.llm.generate(ctx, history, p.onToken, p.IsCancelled)
	if err != nil && !p.IsCancelled() {
		return err
	}

	if p.callbacks.onResponseEnd != nil && !p.IsCancelled() {
		p.callbacks.onResponseEnd()
	}
	return nil
}

func (p *responsePipeline) onToken(token string) {
	if token == "" || p.IsCancelled() {
		return
	}

	p.firstTokenOnce.Do(func() {
		p.post(responseStartedEvent{at: p.clock()})
	})

	p.buffer.AddToken(token)
	if p.callbacks.onResponse != nil {
		p.callbacks.onResponse(token)
	}
}

func (p *responsePipeline) synthesizeSpeech(ctx context.Context) error {
	if !p.textToSpeech.isConfigured() {
		// Text-only turn, drain the buffer so completion still tracks the
		// model stream.
		for range p.buffer.SpeakableChunks {
		}
		return nil
	}

	speechEnded := make(chan struct{})
	generator, err := p.textToSpeech.newSpeechGenerator(ctx,
		texttospeech.WithEncodingInfo(p.audioOutput.EncodingInfo()),
		texttospeech.WithSpeechAudioCallback(p.onSpeechAudio),
		texttospeech.WithSpeechEndedCallback(func(texttospeech.SpeechEndedReport) {
			close(speechEnded)
		}),
		texttospeech.WithErrorCallback(func(err error) {
			if !p.IsCancelled() {
				p.post(capabilityErrorEvent{stage: "text-to-speech", err: err})
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to open speech generator: %w", err)
	}

	p.mu.Lock()
	p.generator = generator
	p.mu.Unlock()
	if p.IsCancelled() {
		_ = generator.Cancel()
		return nil
	}

	for chunk := range p.buffer.SpeakableChunks {
		if p.IsCancelled() {
			break
		}

		p.mu.Lock()
		if p.firstChunkSentAt.IsZero() {
			p.firstChunkSentAt = p.clock()
		}
		p.mu.Unlock()

		if err := generator.SendText(chunk); err != nil {
			if p.IsCancelled() {
				break
			}
			return fmt.Errorf("failed to send text to synthesis: %w", err)
		}
		if err := generator.Mark(); err != nil {
			if p.IsCancelled() {
				break
			}
			return fmt.Errorf("failed to mark synthesis stream: %w", err)
		}
	}

	if p.IsCancelled() {
		return nil
	}

	if err := generator.EndOfText(); err != nil {
		return fmt.Errorf("failed to end synthesis stream: %w", err)
	}

	select {
	case <-speechEnded:
	case <-ctx.Done():
		return nil
	}

	// Synthesis done means everything is queued, not played. Hold the turn
	// open until the device reports the queue drained, otherwise the tail of
	// the response plays into a state that treats it as user speech.
	played := make(chan struct{})
	if err := p.audioOutput.MarkPlayback(func() { close(played) }); err != nil {
		return fmt.Errorf("failed to mark playback queue: %w", err)
	}
	select {
	case <-played:
	case <-ctx.Done():
	}
	return nil
}

func (p *responsePipeline) onSpeechAudio(audio []byte) {
	if len(audio) == 0 || p.IsCancelled() {
		return
	}

	p.firstAudioOnce.Do(func() {
		p.mu.Lock()
		sentAt := p.firstChunkSentAt
		p.mu.Unlock()
		if !sentAt.IsZero() {
			p.post(synthesisLatencyEvent{sample: p.clock().Sub(sentAt)})
		}
	})

	if err := p.audioOutput.QueuePlayback(audio); err != nil {
		p.post(capabilityErrorEvent{stage: "audio playback", err: err})
		return
	}
	if p.callbacks.onAudio != nil {
		p.callbacks.onAudio(audio)
	}
}

// Cancel stops the turn without recording any of it. It is idempotent, an
// already-cancelled pipeline produces no further side effects.
func (p *responsePipeline) Cancel() {
	if p == nil || !p.cancelled.CompareAndSwap(false, true) {
		return
	}

	p.buffer.Clear()

	p.mu.Lock()
	generator := p.generator
	cancel := p.cancelFn
	p.mu.Unlock()

	if generator != nil {
		_ = generator.Cancel()
	}
	p.audioOutput.ClearPlayback()
	if cancel != nil {
		cancel()
	}
}

func (p *responsePipeline) IsCancelled() bool {
	if p == nil {
		return false
	}

	return p.cancelled.Load()
}
