package orchestration

import "time"

// turnTimers holds the scalar timestamps the state machine derives interval
// durations from. They are written only by the decision loop.
type turnTimers struct {
	// turnStart is stamped when the user's finalized utterance is accepted,
	// it anchors the end-to-end turn latency.
	turnStart time.Time
	// userSpeechStart is stamped when speech onset moves the state to
	// user speaking.
	userSpeechStart time.Time
	// lastSpeech is the arrival time of the most recent speech-positive
	// frame, the silence threshold is measured against it.
	lastSpeech time.Time
	// llmStart is stamped when generation is kicked off, it anchors the
	// time-to-first-token measurement.
	llmStart time.Time
	// aiSpeechStart is stamped on the first non-empty token, the barge-in
	// confirmation window is measured against it.
	aiSpeechStart time.Time
}

func (t *turnTimers) reset() {
	*t = turnTimers{}
}

func (t *turnTimers) silenceDuration(now time.Time) time.Duration {
	if t.lastSpeech.IsZero() {
		return 0
	}
	return now.Sub(t.lastSpeech)
}

func (t *turnTimers) aiSpeechDuration(now time.Time) time.Duration {
	if t.aiSpeechStart.IsZero() {
		return 0
	}
	return now.Sub(t.aiSpeechStart)
}
