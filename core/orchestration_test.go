package orchestration

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/unamentis/tutor-core/core/llms"
)

type stateRecorder struct {
	mu     sync.Mutex
	states []SessionState
}

func (r *stateRecorder) record(state SessionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *stateRecorder) observed() []SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	states := make([]SessionState, len(r.states))
	copy(states, r.states)
	return states
}

type testHarness struct {
	orchestrator *Orchestrator
	clock        *fakeClock
	stt          *speechToTextStub
	llm          *llmStub
	tts          *textToSpeechStub
	audio        *audioIOStub
	states       *stateRecorder

	mu            sync.Mutex
	endedSessions []Session
}

func newTestHarness(t *testing.T, opts ...OrchestratorOption) *testHarness {
	t.Helper()

	harness := &testHarness{
		clock:  newFakeClock(),
		stt:    &speechToTextStub{},
		llm:    &llmStub{},
		tts:    &textToSpeechStub{},
		audio:  &audioIOStub{},
		states: &stateRecorder{},
	}

	orchestratorOptions := []OrchestratorOption{
		WithSpeechToTextClient(harness.stt),
		WithStreamingLLM(harness.llm),
		WithTextToSpeechClient(harness.tts),
		WithAudioIO(harness.audio),
		WithVAD(frameVAD{}),
		WithStateChangedCallback(harness.states.record),
		WithSessionEndedCallback(func(session Session) {
			harness.mu.Lock()
			defer harness.mu.Unlock()
			harness.endedSessions = append(harness.endedSessions, session)
		}),
	}
	orchestratorOptions = append(orchestratorOptions, opts...)

	harness.orchestrator = NewOrchestrator(orchestratorOptions...)
	harness.orchestrator.clock = harness.clock.Now
	t.Cleanup(harness.orchestrator.Close)
	return harness
}

func (h *testHarness) sessionEndCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.endedSessions)
}

func (h *testHarness) lastEndedSession() Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.endedSessions[len(h.endedSessions)-1]
}

func (h *testHarness) historySnapshot() []llms.Message {
	h.orchestrator.mu.RLock()
	defer h.orchestrator.mu.RUnlock()
	history := make([]llms.Message, len(h.orchestrator.history))
	copy(history, h.orchestrator.history)
	return history
}

// speakUntilSilence drives the orchestrator through a complete utterance,
// leaving it waiting for the final transcript.
func (h *testHarness) speakUntilSilence(t *testing.T) {
	t.Helper()

	at := h.clock.Now()
	for range 5 {
		h.orchestrator.enqueueFrame(speechFrame, at)
		at = at.Add(100 * time.Millisecond)
	}
	for range 15 {
		h.orchestrator.enqueueFrame(silenceFrame, at)
		at = at.Add(100 * time.Millisecond)
	}
	barrier(h.orchestrator)

	if got := h.orchestrator.State(); got != StateProcessingUtterance {
		t.Fatalf("expected state %q after sustained silence, got %q", StateProcessingUtterance, got)
	}
}

func TestStartSessionBeginsCaptureAndSeedsHistory(t *testing.T) {
	harness := newTestHarness(t)

	if err := harness.orchestrator.StartSession("Derivatives"); err != nil {
		t.Fatalf("expected session to start, got error: %v", err)
	}

	if got := harness.orchestrator.State(); got != StateIdle {
		t.Fatalf("expected state %q after starting, got %q", StateIdle, got)
	}

	session := harness.orchestrator.CurrentSession()
	if session == nil {
		t.Fatalf("expected an active session")
	}
	if session.Topic != "Derivatives" {
		t.Fatalf("expected session topic %q, got %q", "Derivatives", session.Topic)
	}
	if session.EndedAt != nil {
		t.Fatalf("expected active session to have no end time")
	}

	harness.audio.mu.Lock()
	capturing := harness.audio.capturing
	harness.audio.mu.Unlock()
	if !capturing {
		t.Fatalf("expected audio capture to start with the session")
	}

	history := harness.historySnapshot()
	if len(history) != 1 || history[0].Role != llms.MessageRoleSystem {
		t.Fatalf("expected history seeded with a single system message, got %+v", history)
	}
}

func TestLifecycleOperationsOutOfPlaceAreNoOps(t *testing.T) {
	harness := newTestHarness(t)

	if err := harness.orchestrator.PauseSession(); err != nil {
		t.Fatalf("expected pause without a session to be a no-op, got error: %v", err)
	}
	if err := harness.orchestrator.ResumeSession(); err != nil {
		t.Fatalf("expected resume without a session to be a no-op, got error: %v", err)
	}
	if err := harness.orchestrator.StopSession(); err != nil {
		t.Fatalf("expected stop without a session to be a no-op, got error: %v", err)
	}
	if got := harness.orchestrator.State(); got != StateIdle {
		t.Fatalf("expected state %q, got %q", StateIdle, got)
	}
	if harness.sessionEndCount() != 0 {
		t.Fatalf("expected no session-ended notifications")
	}

	if err := harness.orchestrator.StartSession("Algebra"); err != nil {
		t.Fatalf("expected session to start, got error: %v", err)
	}
	first := harness.orchestrator.CurrentSession()

	if err := harness.orchestrator.StartSession("Geometry"); err != nil {
		t.Fatalf("expected repeated start to be a no-op, got error: %v", err)
	}
	second := harness.orchestrator.CurrentSession()
	if first.ID != second.ID {
		t.Fatalf("expected repeated start to keep the active session")
	}
	if second.Topic != "Algebra" {
		t.Fatalf("expected original topic to survive, got %q", second.Topic)
	}
}

func TestSilenceThresholdFinalizesUtteranceOnce(t *testing.T) {
	harness := newTestHarness(t)
	if err := harness.orchestrator.StartSession("Fractions"); err != nil {
		t.Fatalf("failed to start session: %v", err)
	}

	at := harness.clock.Now()
	for range 6 {
		harness.orchestrator.enqueueFrame(speechFrame, at)
		at = at.Add(100 * time.Millisecond)
	}
	// 1.4s of silence stays below the threshold.
	for range 14 {
		harness.orchestrator.enqueueFrame(silenceFrame, at)
		at = at.Add(100 * time.Millisecond)
	}
	barrier(harness.orchestrator)
	if got := harness.orchestrator.State(); got != StateUserSpeaking {
		t.Fatalf("expected state %q below the silence threshold, got %q", StateUserSpeaking, got)
	}

	// The next frame crosses it; later frames must not re-finalize.
	for range 3 {
		harness.orchestrator.enqueueFrame(silenceFrame, at)
		at = at.Add(100 * time.Millisecond)
	}
	barrier(harness.orchestrator)

	if got := harness.orchestrator.State(); got != StateProcessingUtterance {
		t.Fatalf("expected state %q after the silence threshold, got %q", StateProcessingUtterance, got)
	}
	transcribes, finalizes, _ := harness.stt.counts()
	if transcribes != 1 {
		t.Fatalf("expected a single transcription stream, got %d", transcribes)
	}
	if finalizes != 1 {
		t.Fatalf("expected exactly one finalize, got %d", finalizes)
	}
}

func TestBlankTranscriptReturnsToIdleSilently(t *testing.T) {
	harness := newTestHarness(t)
	if err := harness.orchestrator.StartSession("Fractions"); err != nil {
		t.Fatalf("failed to start session: %v", err)
	}

	harness.speakUntilSilence(t)
	harness.stt.deliverFinal("   ")
	awaitState(t, harness.orchestrator, StateIdle)

	if transcript := harness.orchestrator.Transcript(); len(transcript) != 0 {
		t.Fatalf("expected empty transcript, got %d entries", len(transcript))
	}
	if history := harness.historySnapshot(); len(history) != 1 {
		t.Fatalf("expected history untouched, got %d messages", len(history))
	}
	if harness.llm.promptCount() != 0 {
		t.Fatalf("expected no llm prompt for a blank transcript")
	}
}

func TestVoiceTurnFlowsThroughSynthesisToIdle(t *testing.T) {
	harness := newTestHarness(t)
	harness.llm.tokens = []string{"A", " rate", " of", " change."}

	if err := harness.orchestrator.StartSession("Derivatives"); err != nil {
		t.Fatalf("failed to start session: %v", err)
	}
	harness.speakUntilSilence(t)

	harness.stt.deliverFinal("What is a derivative?")
	awaitState(t, harness.orchestrator, StateIdle)

	transcript := harness.orchestrator.Transcript()
	if len(transcript) != 2 {
		t.Fatalf("expected user and assistant transcript entries, got %d", len(transcript))
	}
	if transcript[0].Role != RoleUser || transcript[0].Text != "What is a derivative?" {
		t.Fatalf("unexpected user entry: %+v", transcript[0])
	}
	if transcript[1].Role != RoleAssistant || transcript[1].Text != "A rate of change." {
		t.Fatalf("unexpected assistant entry: %+v", transcript[1])
	}

	history := harness.historySnapshot()
	expectedRoles := []llms.MessageRole{llms.MessageRoleSystem, llms.MessageRoleUser, llms.MessageRoleAssistant}
	if len(history) != len(expectedRoles) {
		t.Fatalf("expected %d history messages, got %d", len(expectedRoles), len(history))
	}
	for i, role := range expectedRoles {
		if history[i].Role != role {
			t.Fatalf("expected history[%d] role %q, got %q", i, role, history[i].Role)
		}
	}

	if session := harness.orchestrator.CurrentSession(); session == nil || session.Turns != 1 {
		t.Fatalf("expected one completed turn, got %+v", session)
	}

	generator := harness.tts.lastGenerator()
	if generator == nil {
		t.Fatalf("expected a speech generator for the turn")
	}
	chunks := generator.sentChunks()
	if len(chunks) != 1 || chunks[0] != "A rate of change." {
		t.Fatalf("expected the full sentence as one speakable chunk, got %q", chunks)
	}

	queued := harness.audio.queuedPayloads()
	if len(queued) != 1 || string(queued[0]) != "A rate of change." {
		t.Fatalf("expected synthesized audio queued for playback, got %d payloads", len(queued))
	}

	var sawThinking, sawSpeaking bool
	for _, state := range harness.states.observed() {
		switch state {
		case StateAiThinking:
			sawThinking = true
		case StateAiSpeaking:
			if !sawThinking {
				t.Fatalf("expected %q before %q", StateAiThinking, StateAiSpeaking)
			}
			sawSpeaking = true
		}
	}
	if !sawThinking || !sawSpeaking {
		t.Fatalf("expected the turn to pass through thinking and speaking, observed %v", harness.states.observed())
	}
}

func TestBargeInHonorsConfirmationWindow(t *testing.T) {
	harness := newTestHarness(t)
	harness.llm.tokens = []string{"Let me explain this in detail."}
	harness.llm.block = make(chan struct{})
	defer close(harness.llm.block)

	if err := harness.orchestrator.StartSession("Derivatives"); err != nil {
		t.Fatalf("failed to start session: %v", err)
	}
	harness.orchestrator.SendTextMessage("Explain derivatives")
	awaitState(t, harness.orchestrator, StateAiSpeaking)

	speechStart := harness.clock.Now()

	// Inside the confirmation window speech is treated as playback bleed.
	harness.orchestrator.enqueueFrame(speechFrame, speechStart.Add(400*time.Millisecond))
	barrier(harness.orchestrator)
	if got := harness.orchestrator.State(); got != StateAiSpeaking {
		t.Fatalf("expected speech inside the confirmation window to be ignored, state became %q", got)
	}
	if harness.orchestrator.Metrics().Interruptions != 0 {
		t.Fatalf("expected no interruption inside the confirmation window")
	}

	harness.orchestrator.enqueueFrame(speechFrame, speechStart.Add(650*time.Millisecond))
	barrier(harness.orchestrator)

	if got := harness.orchestrator.State(); got != StateUserSpeaking {
		t.Fatalf("expected barge-in to hand the floor back, state is %q", got)
	}
	if got := harness.orchestrator.Metrics().Interruptions; got != 1 {
		t.Fatalf("expected one recorded interruption, got %d", got)
	}

	awaitCondition(t, "synthesis to be cancelled", func() bool {
		generator := harness.tts.lastGenerator()
		if generator == nil {
			return false
		}
		generator.mu.Lock()
		defer generator.mu.Unlock()
		return generator.cancelled
	})
	if harness.audio.clearCount() == 0 {
		t.Fatalf("expected queued playback to be flushed on barge-in")
	}

	// The partial response is discarded.
	transcript := harness.orchestrator.Transcript()
	if len(transcript) != 1 || transcript[0].Role != RoleUser {
		t.Fatalf("expected only the user entry to survive, got %+v", transcript)
	}
	if transcribes, _, _ := harness.stt.counts(); transcribes != 1 {
		t.Fatalf("expected a fresh transcription stream for the interrupting speech, got %d", transcribes)
	}
}

func TestResponseHoldsFloorUntilPlaybackDrains(t *testing.T) {
	harness := newTestHarness(t)
	harness.audio.setHoldMarks(true)
	harness.llm.tokens = []string{"The", " slope", " is", " rising."}

	if err := harness.orchestrator.StartSession("Derivatives"); err != nil {
		t.Fatalf("failed to start session: %v", err)
	}
	harness.orchestrator.SendTextMessage("What is the slope doing?")

	// Synthesis finishes but the device still has the audio queued.
	awaitCondition(t, "playback mark to be registered", func() bool {
		return harness.audio.pendingMarkCount() == 1
	})
	barrier(harness.orchestrator)

	if got := harness.orchestrator.State(); got != StateAiSpeaking {
		t.Fatalf("expected the floor to be held while audio is queued, state is %q", got)
	}
	if transcript := harness.orchestrator.Transcript(); len(transcript) != 1 {
		t.Fatalf("expected the response to stay unrecorded until played, got %d entries", len(transcript))
	}

	// Speech during the undrained tail still gets bleed protection.
	harness.orchestrator.enqueueFrame(speechFrame, harness.clock.Now().Add(400*time.Millisecond))
	barrier(harness.orchestrator)
	if got := harness.orchestrator.State(); got != StateAiSpeaking {
		t.Fatalf("expected playback bleed to be ignored while draining, state is %q", got)
	}

	harness.audio.drainPlayback()
	awaitState(t, harness.orchestrator, StateIdle)

	transcript := harness.orchestrator.Transcript()
	if len(transcript) != 2 || transcript[1].Role != RoleAssistant {
		t.Fatalf("expected the played response to be recorded, got %+v", transcript)
	}
	if got := transcript[1].Text; got != "The slope is rising." {
		t.Fatalf("unexpected response text %q", got)
	}
}

func TestStopSessionCancelsPendingResponse(t *testing.T) {
	harness := newTestHarness(t)
	harness.llm.block = make(chan struct{})
	defer close(harness.llm.block)

	if err := harness.orchestrator.StartSession("Limits"); err != nil {
		t.Fatalf("failed to start session: %v", err)
	}
	harness.orchestrator.SendTextMessage("What is a limit?")
	awaitState(t, harness.orchestrator, StateAiThinking)

	if err := harness.orchestrator.StopSession(); err != nil {
		t.Fatalf("failed to stop session: %v", err)
	}

	if got := harness.orchestrator.State(); got != StateIdle {
		t.Fatalf("expected state %q after stopping, got %q", StateIdle, got)
	}
	if harness.orchestrator.CurrentSession() != nil {
		t.Fatalf("expected no active session after stopping")
	}
	if harness.sessionEndCount() != 1 {
		t.Fatalf("expected one session-ended notification, got %d", harness.sessionEndCount())
	}
	ended := harness.lastEndedSession()
	if ended.EndedAt == nil {
		t.Fatalf("expected the ended session to carry an end time")
	}
	// The transcript outlives the session so it can still be summarized.
	if transcript := harness.orchestrator.Transcript(); len(transcript) != 1 || transcript[0].Role != RoleUser {
		t.Fatalf("expected the transcript to survive the stop, got %+v", transcript)
	}

	if err := harness.orchestrator.StartSession("Series"); err != nil {
		t.Fatalf("expected a new session to start after stopping, got error: %v", err)
	}
	if session := harness.orchestrator.CurrentSession(); session == nil || session.ID == ended.ID {
		t.Fatalf("expected a fresh session identity")
	}
	if len(harness.orchestrator.Transcript()) != 0 {
		t.Fatalf("expected a new session to reset the transcript")
	}
}

func TestTextMessageDroppedWhileBusy(t *testing.T) {
	harness := newTestHarness(t)
	harness.llm.block = make(chan struct{})

	if err := harness.orchestrator.StartSession("Limits"); err != nil {
		t.Fatalf("failed to start session: %v", err)
	}
	harness.orchestrator.SendTextMessage("first question")
	awaitState(t, harness.orchestrator, StateAiThinking)

	harness.orchestrator.SendTextMessage("second question")
	barrier(harness.orchestrator)

	if got := harness.llm.promptCount(); got != 1 {
		t.Fatalf("expected a single llm prompt, got %d", got)
	}
	if transcript := harness.orchestrator.Transcript(); len(transcript) != 1 {
		t.Fatalf("expected only the accepted message in the transcript, got %d entries", len(transcript))
	}

	close(harness.llm.block)
	awaitState(t, harness.orchestrator, StateIdle)

	// The empty response leaves history with the dangling user message only.
	if history := harness.historySnapshot(); len(history) != 2 {
		t.Fatalf("expected system and user messages only, got %d", len(history))
	}
}

func TestPauseDiscardsLateTranscriptsAndResumePreservesSession(t *testing.T) {
	harness := newTestHarness(t)
	if err := harness.orchestrator.StartSession("Integrals"); err != nil {
		t.Fatalf("failed to start session: %v", err)
	}
	started := harness.orchestrator.CurrentSession()

	harness.orchestrator.enqueueFrame(speechFrame, harness.clock.Now())
	barrier(harness.orchestrator)
	if got := harness.orchestrator.State(); got != StateUserSpeaking {
		t.Fatalf("expected state %q, got %q", StateUserSpeaking, got)
	}

	if err := harness.orchestrator.PauseSession(); err != nil {
		t.Fatalf("failed to pause session: %v", err)
	}
	if got := harness.orchestrator.State(); got != StatePaused {
		t.Fatalf("expected state %q, got %q", StatePaused, got)
	}

	// A transcript from the torn-down stream must not start a turn.
	harness.stt.deliverFinal("leftover speech")
	// Frames while paused are discarded.
	harness.orchestrator.enqueueFrame(speechFrame, harness.clock.Now())
	barrier(harness.orchestrator)

	if got := harness.orchestrator.State(); got != StatePaused {
		t.Fatalf("expected paused session to ignore input, state became %q", got)
	}
	if len(harness.orchestrator.Transcript()) != 0 {
		t.Fatalf("expected no transcript entries while paused")
	}

	if err := harness.orchestrator.ResumeSession(); err != nil {
		t.Fatalf("failed to resume session: %v", err)
	}
	if got := harness.orchestrator.State(); got != StateIdle {
		t.Fatalf("expected state %q after resuming, got %q", StateIdle, got)
	}
	if session := harness.orchestrator.CurrentSession(); session == nil || session.ID != started.ID {
		t.Fatalf("expected the same session to survive pause and resume")
	}
}

func TestCapabilityFailureEntersErrorState(t *testing.T) {
	harness := newTestHarness(t)
	harness.stt.transcribeErr = errors.New("upstream connection refused")

	if err := harness.orchestrator.StartSession("Vectors"); err != nil {
		t.Fatalf("failed to start session: %v", err)
	}

	harness.orchestrator.enqueueFrame(speechFrame, harness.clock.Now())
	barrier(harness.orchestrator)

	if got := harness.orchestrator.State(); got != StateError {
		t.Fatalf("expected state %q after a capability failure, got %q", StateError, got)
	}
	if harness.orchestrator.LastError() == nil {
		t.Fatalf("expected the failure to be retained")
	}

	// No automatic recovery: further input leaves the state alone.
	harness.orchestrator.enqueueFrame(speechFrame, harness.clock.Now())
	barrier(harness.orchestrator)
	if got := harness.orchestrator.State(); got != StateError {
		t.Fatalf("expected error state to persist, got %q", got)
	}

	if err := harness.orchestrator.StopSession(); err != nil {
		t.Fatalf("failed to stop errored session: %v", err)
	}
	if got := harness.orchestrator.State(); got != StateIdle {
		t.Fatalf("expected explicit stop to clear the error state, got %q", got)
	}
	if harness.orchestrator.LastError() != nil {
		t.Fatalf("expected the retained error to clear with the session")
	}
}

func TestInterimTranscriptsOnlySurfaceWhileListening(t *testing.T) {
	interims := make(chan string, 4)
	harness := newTestHarness(t, WithInterimTranscriptionCallback(func(transcript string) {
		interims <- transcript
	}))

	if err := harness.orchestrator.StartSession("Primes"); err != nil {
		t.Fatalf("failed to start session: %v", err)
	}
	harness.orchestrator.enqueueFrame(speechFrame, harness.clock.Now())
	barrier(harness.orchestrator)

	harness.stt.mu.Lock()
	interimCallback := harness.stt.options.InterimTranscriptionCallback
	harness.stt.mu.Unlock()
	if interimCallback == nil {
		t.Fatalf("expected an interim transcription callback to be wired")
	}

	interimCallback("what is a pri")
	select {
	case got := <-interims:
		if got != "what is a pri" {
			t.Fatalf("expected interim transcript to surface, got %q", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected interim transcript to surface while listening")
	}

	if err := harness.orchestrator.PauseSession(); err != nil {
		t.Fatalf("failed to pause session: %v", err)
	}
	interimCallback("what is a prime")
	barrier(harness.orchestrator)
	select {
	case got := <-interims:
		t.Fatalf("expected no interim transcript after pausing, got %q", got)
	default:
	}
}

func TestMultiSentenceResponseChunksInOrder(t *testing.T) {
	harness := newTestHarness(t)
	harness.llm.tokens = []string{
		"First", " the", " slope", ".", " Then", " the", " tangent", " line", ".",
	}

	if err := harness.orchestrator.StartSession("Slopes"); err != nil {
		t.Fatalf("failed to start session: %v", err)
	}
	harness.orchestrator.SendTextMessage("Walk me through it")
	awaitCondition(t, "the turn to complete", func() bool {
		return len(harness.orchestrator.Transcript()) == 2
	})
	awaitState(t, harness.orchestrator, StateIdle)

	generator := harness.tts.lastGenerator()
	if generator == nil {
		t.Fatalf("expected a speech generator for the turn")
	}
	chunks := generator.sentChunks()
	expected := []string{"First the slope.", " Then the tangent line."}
	if len(chunks) != len(expected) {
		t.Fatalf("expected %d chunks, got %d (%q)", len(expected), len(chunks), chunks)
	}
	for i, chunk := range expected {
		if chunks[i] != chunk {
			t.Fatalf("expected chunk %d to be %q, got %q", i, chunk, chunks[i])
		}
	}

	queued := harness.audio.queuedPayloads()
	if len(queued) != len(expected) {
		t.Fatalf("expected one playback payload per chunk, got %d", len(queued))
	}
	for i, payload := range queued {
		if string(payload) != expected[i] {
			t.Fatalf("expected playback payload %d to be %q, got %q", i, expected[i], payload)
		}
	}
}

func TestCloseShutsDownCleanly(t *testing.T) {
	harness := newTestHarness(t)
	if err := harness.orchestrator.StartSession("Sets"); err != nil {
		t.Fatalf("failed to start session: %v", err)
	}

	harness.orchestrator.Close()
	harness.orchestrator.Close() // idempotent

	if err := harness.orchestrator.StartSession("Sets again"); !errors.Is(err, errOrchestratorClosed) {
		t.Fatalf("expected %v after closing, got %v", errOrchestratorClosed, err)
	}

	harness.audio.mu.Lock()
	capturing := harness.audio.capturing
	harness.audio.mu.Unlock()
	if capturing {
		t.Fatalf("expected capture to stop on close")
	}
}
