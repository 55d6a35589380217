package orchestration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/unamentis/tutor-core/core/audio"
	"github.com/unamentis/tutor-core/core/llms"
	"github.com/unamentis/tutor-core/core/speechtotext"
	"github.com/unamentis/tutor-core/core/texttospeech"
	"github.com/unamentis/tutor-core/core/vad"
)

// fakeClock lets tests control every timestamp the orchestrator derives
// durations from.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// frameVAD treats any frame whose first byte is non-zero as speech.
type frameVAD struct{}

func (frameVAD) Process(frame []byte) vad.Result {
	if len(frame) > 0 && frame[0] != 0 {
		return vad.Result{IsSpeech: true, Confidence: 1}
	}
	return vad.Result{IsSpeech: false, Confidence: 1}
}

var (
	speechFrame  = []byte{1}
	silenceFrame = []byte{0}
)

type speechToTextStub struct {
	mu             sync.Mutex
	options        speechtotext.TranscriptionOptions
	transcribeErr  error
	transcribes    int
	finalizes      int
	closes         int
	receivedFrames int
}

func (stub *speechToTextStub) Transcribe(_ context.Context, opts ...speechtotext.TranscriptionOption) error {
	options := speechtotext.TranscriptionOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	stub.mu.Lock()
	defer stub.mu.Unlock()
	if stub.transcribeErr != nil {
		return stub.transcribeErr
	}
	stub.options = options
	stub.transcribes++
	return nil
}

func (stub *speechToTextStub) SendAudio([]byte) error {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	stub.receivedFrames++
	return nil
}

func (stub *speechToTextStub) Finalize() error {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	stub.finalizes++
	return nil
}

func (stub *speechToTextStub) Close(context.Context) error {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	stub.closes++
	return nil
}

func (stub *speechToTextStub) deliverFinal(text string) {
	stub.mu.Lock()
	callback := stub.options.TranscriptionCallback
	stub.mu.Unlock()
	if callback != nil {
		callback(speechtotext.Result{Text: text, IsFinal: true, Confidence: 0.9})
	}
}

func (stub *speechToTextStub) counts() (transcribes, finalizes, frames int) {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	return stub.transcribes, stub.finalizes, stub.receivedFrames
}

// scriptedStream yields the scripted tokens, then optionally blocks until
// release or context cancellation before finishing.
type scriptedStream struct {
	tokens []string
	block  chan struct{}
}

type scriptedContentChunk struct{ content string }

func (scriptedContentChunk) FinishReason() *string { return nil }
func (c scriptedContentChunk) Content() string     { return c.content }

func (s *scriptedStream) Chunks(ctx context.Context) func(func(llms.StreamChunk, error) bool) {
	return func(yield func(llms.StreamChunk, error) bool) {
		for _, token := range s.tokens {
			if ctx.Err() != nil {
				return
			}
			if !yield(scriptedContentChunk{content: token}, nil) {
				return
			}
		}
		if s.block != nil {
			select {
			case <-s.block:
			case <-ctx.Done():
			}
		}
	}
}

type llmStub struct {
	mu      sync.Mutex
	tokens  []string
	block   chan struct{}
	prompts [][]llms.Message
}

func (stub *llmStub) PromptWithStream(_ context.Context, opts ...llms.PromptOption) llms.Stream {
	options := llms.PromptOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	stub.mu.Lock()
	defer stub.mu.Unlock()
	stub.prompts = append(stub.prompts, options.Messages)
	return &scriptedStream{tokens: stub.tokens, block: stub.block}
}

func (stub *llmStub) promptCount() int {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	return len(stub.prompts)
}

// speechGeneratorStub synthesizes one audio payload per sent chunk and
// reports speech as ended once EndOfText has drained everything.
type speechGeneratorStub struct {
	options texttospeech.SynthesisOptions

	mu        sync.Mutex
	chunks    []string
	cancelled bool
	closed    bool
}

func (stub *speechGeneratorStub) SendText(text string) error {
	stub.mu.Lock()
	stub.chunks = append(stub.chunks, text)
	audioCallback := stub.options.SpeechAudioCallback
	stub.mu.Unlock()

	if audioCallback != nil {
		audioCallback([]byte(text))
	}
	return nil
}

func (stub *speechGeneratorStub) Mark() error { return nil }

func (stub *speechGeneratorStub) EndOfText() error {
	stub.mu.Lock()
	endedCallback := stub.options.SpeechEndedCallback
	stub.mu.Unlock()

	if endedCallback != nil {
		endedCallback(texttospeech.SpeechEndedReport{})
	}
	return nil
}

func (stub *speechGeneratorStub) Cancel() error {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	stub.cancelled = true
	return nil
}

func (stub *speechGeneratorStub) Close() error {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	stub.closed = true
	return nil
}

func (stub *speechGeneratorStub) sentChunks() []string {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	chunks := make([]string, len(stub.chunks))
	copy(chunks, stub.chunks)
	return chunks
}

type textToSpeechStub struct {
	mu         sync.Mutex
	generators []*speechGeneratorStub
}

func (stub *textToSpeechStub) NewSpeechGenerator(_ context.Context, opts ...texttospeech.SynthesisOption) (texttospeech.SpeechGenerator, error) {
	options := texttospeech.SynthesisOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	generator := &speechGeneratorStub{options: options}
	stub.mu.Lock()
	stub.generators = append(stub.generators, generator)
	stub.mu.Unlock()
	return generator, nil
}

func (stub *textToSpeechStub) lastGenerator() *speechGeneratorStub {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	if len(stub.generators) == 0 {
		return nil
	}
	return stub.generators[len(stub.generators)-1]
}

type audioIOStub struct {
	mu           sync.Mutex
	capturing    bool
	queued       [][]byte
	cleared      int
	holdMarks    bool
	pendingMarks []func()
}

func (stub *audioIOStub) StartCapture(context.Context, func(frame []byte)) error {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	stub.capturing = true
	return nil
}

func (stub *audioIOStub) StopCapture() error {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	stub.capturing = false
	return nil
}

func (stub *audioIOStub) QueuePlayback(audio []byte) error {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	stub.queued = append(stub.queued, audio)
	return nil
}

// MarkPlayback reports marks immediately unless the stub is holding them to
// simulate a device with audio still in its queue.
func (stub *audioIOStub) MarkPlayback(callback func()) error {
	stub.mu.Lock()
	if stub.holdMarks {
		stub.pendingMarks = append(stub.pendingMarks, callback)
		stub.mu.Unlock()
		return nil
	}
	stub.mu.Unlock()
	callback()
	return nil
}

func (stub *audioIOStub) ClearPlayback() {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	stub.cleared++
	stub.pendingMarks = nil
}

func (stub *audioIOStub) setHoldMarks(hold bool) {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	stub.holdMarks = hold
}

func (stub *audioIOStub) pendingMarkCount() int {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	return len(stub.pendingMarks)
}

// drainPlayback fires held marks, as if the device finished the queue.
func (stub *audioIOStub) drainPlayback() {
	stub.mu.Lock()
	marks := stub.pendingMarks
	stub.pendingMarks = nil
	stub.mu.Unlock()
	for _, mark := range marks {
		mark()
	}
}

func (stub *audioIOStub) EncodingInfo() audio.EncodingInfo {
	return audio.GetDefaultEncodingInfo()
}

func (stub *audioIOStub) Close() {}

func (stub *audioIOStub) queuedPayloads() [][]byte {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	queued := make([][]byte, len(stub.queued))
	copy(queued, stub.queued)
	return queued
}

func (stub *audioIOStub) clearCount() int {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	return stub.cleared
}

// barrier waits until every event enqueued before it has been processed by
// the decision loop.
func barrier(o *Orchestrator) {
	_ = o.control(controlOp("barrier"), "")
}

func awaitState(t *testing.T, o *Orchestrator, want SessionState) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if o.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expected state %q, still %q after timeout", want, o.State())
}

func awaitCondition(t *testing.T, what string, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
