package orchestration

// SessionState is the orchestrator's turn-taking state. Exactly one value is
// current at any instant and only the orchestrator's decision loop writes it.
type SessionState string

const (
	// StateIdle means nobody holds the floor. Audio frames are evaluated
	// for user speech onset.
	StateIdle SessionState = "idle"
	// StateUserSpeaking means the user holds the floor and frames are being
	// streamed to transcription.
	StateUserSpeaking SessionState = "user_speaking"
	// StateProcessingUtterance means the utterance is over and the
	// orchestrator is waiting for the final transcript.
	StateProcessingUtterance SessionState = "processing_utterance"
	// StateAiThinking means the model is generating but no token has
	// arrived yet.
	StateAiThinking SessionState = "ai_thinking"
	// StateAiSpeaking means response audio is being synthesized and played.
	// Frames are evaluated solely for barge-in.
	StateAiSpeaking SessionState = "ai_speaking"
	// StateInterrupted is the transient state passed through when the user
	// barges in. It never outlives a single decision step.
	StateInterrupted SessionState = "interrupted"
	// StatePaused means capture is stopped and in-flight work was discarded.
	StatePaused SessionState = "paused"
	// StateError means a capability failed. There is no automatic recovery,
	// the caller must stop and restart the session.
	StateError SessionState = "error"
)

func (s SessionState) String() string { return string(s) }

// acceptsTranscripts reports whether a final transcript may complete an
// utterance in this state.
func (s SessionState) acceptsTranscripts() bool {
	return s == StateUserSpeaking || s == StateProcessingUtterance
}
