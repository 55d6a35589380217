package orchestration

import "time"

// event is the closed set of inputs the decision loop selects over. Every
// state mutation in the orchestrator is a reaction to one of these.
type event interface {
	name() string
}

type audioFrameEvent struct {
	frame []byte
	at    time.Time
}

func (audioFrameEvent) name() string { return "audio frame" }

type interimTranscriptEvent struct {
	transcript string
	generation int
}

func (interimTranscriptEvent) name() string { return "interim transcript" }

type finalTranscriptEvent struct {
	transcript string
	confidence float64
	generation int
	at         time.Time
}

func (finalTranscriptEvent) name() string { return "final transcript" }

// textPromptEvent carries a typed user message that bypasses audio and
// transcription entirely.
type textPromptEvent struct {
	text string
	at   time.Time
}

func (textPromptEvent) name() string { return "text prompt" }

// responseStartedEvent marks the first non-empty model token of a turn.
type responseStartedEvent struct {
	at time.Time
}

func (responseStartedEvent) name() string { return "response started" }

// synthesisLatencyEvent carries the turn's time-to-first-byte sample.
type synthesisLatencyEvent struct {
	sample time.Duration
}

func (synthesisLatencyEvent) name() string { return "synthesis latency" }

// turnCompletedEvent is posted by the response pipeline once the model
// stream finished and all speech was produced and queued.
type turnCompletedEvent struct {
	response string
	at       time.Time
}

func (turnCompletedEvent) name() string { return "turn completed" }

// pipelineScopedEvent ties a posted event to the pipeline that produced it
// so events from a cancelled turn can be discarded.
type pipelineScopedEvent struct {
	pipeline *responsePipeline
	event    event
}

func (e pipelineScopedEvent) name() string { return e.event.name() }

type capabilityErrorEvent struct {
	stage string
	err   error
}

func (capabilityErrorEvent) name() string { return "capability error" }

// controlOp is a lifecycle request from the caller. Invalid requests for the
// current state are no-ops.
type controlOp string

const (
	controlStart  controlOp = "start"
	controlPause  controlOp = "pause"
	controlResume controlOp = "resume"
	controlStop   controlOp = "stop"
)

type controlEvent struct {
	op    controlOp
	topic string

	// result reports the outcome to the waiting caller.
	result chan error
}

func (e controlEvent) name() string { return string(e.op) + " session" }

type queuedEvent struct {
	event    event
	queuedAt time.Time
}
