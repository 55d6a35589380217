// Package orchestration owns the turn-taking conversation loop between a
// learner and the tutoring model. It decides frame by frame and token by
// token who holds the floor, sequences the transcription, completion, and
// synthesis capabilities, and enforces the barge-in and cancellation rules
// that keep the conversation responsive.
package orchestration

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/unamentis/tutor-core/core/curriculum"
	"github.com/unamentis/tutor-core/core/llms"
	"github.com/unamentis/tutor-core/core/vad"
)

const (
	eventQueueCapacity = 64

	defaultSilenceThreshold = 1500 * time.Millisecond
	defaultBargeInWindow    = 600 * time.Millisecond

	defaultTutorPersona = "You are a patient, encouraging tutor holding a spoken conversation " +
		"with a learner. Keep answers short and conversational, one or two " +
		"sentences at a time, and check understanding before moving on."
)

type Orchestrator struct {
	// mu guards the observable snapshot fields below. Only the decision
	// loop writes them.
	mu         sync.RWMutex
	state      SessionState
	session    *Session
	transcript []TranscriptEntry
	history    []llms.Message
	metrics    SessionMetrics
	lastErr    error

	// Loop-owned, never touched outside the decision loop.
	timers        turnTimers
	sttGeneration int
	pipeline      *responsePipeline

	persona          string
	silenceThreshold time.Duration
	bargeInWindow    time.Duration

	// speechToText is the STT facade used to handle optional client wiring.
	speechToText *speechToText
	llm          llm
	textToSpeech *textToSpeech
	// audioIO is the device facade used to normalize capture behavior.
	audioIO    *audioIO
	vad        vad.Detector
	curriculum curriculum.Provider

	callbacks   orchestratorCallbacks
	clock       func() time.Time
	baseContext context.Context

	queue   chan queuedEvent
	closeCh chan struct{}
	done    chan struct{}

	loopRunning bool
	startOnce   sync.Once
	closeOnce   sync.Once
}

var errOrchestratorClosed = errors.New("orchestrator closed")

func NewOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		state:            StateIdle,
		persona:          defaultTutorPersona,
		silenceThreshold: defaultSilenceThreshold,
		bargeInWindow:    defaultBargeInWindow,
		speechToText:     newSpeechToText(nil),
		llm:              newLLM(),
		textToSpeech:     newTextToSpeech(nil),
		audioIO:          newAudioIO(nil),
		vad:              vad.NewEnergyDetector(),
		clock:            time.Now,
		baseContext:      context.Background(),
		queue:            make(chan queuedEvent, eventQueueCapacity),
		closeCh:          make(chan struct{}),
		done:             make(chan struct{}),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// StartSession begins a new tutoring conversation. It is a no-op when a
// session is already active or the orchestrator is not at rest.
func (o *Orchestrator) StartSession(topic string) error {
	return o.control(controlStart, topic)
}

// PauseSession stops capture and discards in-flight work. The session and
// its history survive, ResumeSession picks the conversation back up.
func (o *Orchestrator) PauseSession() error {
	return o.control(controlPause, "")
}

func (o *Orchestrator) ResumeSession() error {
	return o.control(controlResume, "")
}

// StopSession cancels everything, stamps the session end time and returns
// the orchestrator to rest. It is a no-op without an active session.
func (o *Orchestrator) StopSession() error {
	return o.control(controlStop, "")
}

// SendTextMessage submits a typed user message, bypassing audio and
// transcription. The message is dropped with a warning unless nobody is
// holding the floor.
func (o *Orchestrator) SendTextMessage(text string) {
	o.enqueue(textPromptEvent{text: text, at: o.clock()})
}

// ProcessAudioFrame hands one captured audio frame to the decision loop.
// When an audio client is configured through WithAudioIO this is wired up
// internally; external frame sources may call it directly. Frames are
// dropped rather than blocking the capture path when the loop falls behind.
func (o *Orchestrator) ProcessAudioFrame(frame []byte) {
	o.enqueueFrame(frame, o.clock())
}

func (o *Orchestrator) State() SessionState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// CurrentSession returns a copy of the active session, or nil when none.
func (o *Orchestrator) CurrentSession() *Session {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.session == nil {
		return nil
	}
	session := *o.session
	return &session
}

// Transcript returns the append-only session log accumulated so far.
func (o *Orchestrator) Transcript() []TranscriptEntry {
	o.mu.RLock()
	defer o.mu.RUnlock()

	transcript := make([]TranscriptEntry, len(o.transcript))
	copy(transcript, o.transcript)
	return transcript
}

func (o *Orchestrator) Metrics() SessionMetrics {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.metrics
}

// LastError reports the capability failure that moved the orchestrator into
// the error state, or nil.
func (o *Orchestrator) LastError() error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lastErr
}

func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.mu.RLock()
		started := o.loopRunning
		o.mu.RUnlock()

		close(o.closeCh)
		if started {
			<-o.done
		} else {
			o.shutdown()
		}
	})
}

func (o *Orchestrator) ensureStarted() {
	o.startOnce.Do(func() {
		select {
		case <-o.closeCh:
			return
		default:
		}

		o.mu.Lock()
		o.loopRunning = true
		o.mu.Unlock()
		go o.loop()
	})
}

func (o *Orchestrator) control(op controlOp, topic string) error {
	o.ensureStarted()

	ev := controlEvent{op: op, topic: topic, result: make(chan error, 1)}
	select {
	case <-o.closeCh:
		return errOrchestratorClosed
	case o.queue <- queuedEvent{event: ev, queuedAt: o.clock()}:
	}

	select {
	case <-o.closeCh:
		return errOrchestratorClosed
	case err := <-ev.result:
		return err
	}
}

func (o *Orchestrator) enqueue(ev event) bool {
	o.ensureStarted()

	select {
	case <-o.closeCh:
		return false
	case o.queue <- queuedEvent{event: ev, queuedAt: o.clock()}:
		return true
	}
}

func (o *Orchestrator) enqueueFrame(frame []byte, at time.Time) {
	o.ensureStarted()

	select {
	case <-o.closeCh:
	case o.queue <- queuedEvent{event: audioFrameEvent{frame: frame, at: at}, queuedAt: at}:
	default:
		// Dropping a frame beats stalling the capture path.
	}
}
