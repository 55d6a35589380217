package orchestration

import (
	"strings"
	"time"

	"github.com/unamentis/tutor-core/core/llms"
	"github.com/unamentis/tutor-core/core/speechtotext"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// loop is the orchestrator's single decision point. Every state mutation
// happens here, one event at a time, so concurrency correctness does not
// depend on the pacing of the capability streams feeding it.
func (o *Orchestrator) loop() {
	defer close(o.done)
	defer o.shutdown()

	for {
		select {
		case <-o.closeCh:
			return
		case queuedEvent := <-o.queue:
			o.handleEvent(queuedEvent.event)
		}
	}
}

func (o *Orchestrator) shutdown() {
	o.cancelActiveWork()
	_ = o.audioIO.StopCapture()
	o.audioIO.Close()
}

func (o *Orchestrator) handleEvent(ev event) {
	switch ev := ev.(type) {
	case controlEvent:
		ev.result <- o.handleControl(ev)
	case audioFrameEvent:
		o.handleAudioFrame(ev)
	case interimTranscriptEvent:
		o.handleInterimTranscript(ev)
	case finalTranscriptEvent:
		o.handleFinalTranscript(ev)
	case textPromptEvent:
		o.handleTextPrompt(ev)
	case pipelineScopedEvent:
		if ev.pipeline != o.pipeline {
			// Leftover from a cancelled turn.
			return
		}
		o.handlePipelineEvent(ev.event)
	case capabilityErrorEvent:
		o.enterError(ev.stage, ev.err)
	}
}

func (o *Orchestrator) handlePipelineEvent(ev event) {
	switch ev := ev.(type) {
	case responseStartedEvent:
		o.handleResponseStarted(ev)
	case synthesisLatencyEvent:
		o.handleSynthesisLatency(ev)
	case turnCompletedEvent:
		o.handleTurnCompleted(ev)
	case capabilityErrorEvent:
		o.enterError(ev.stage, ev.err)
	}
}

func (o *Orchestrator) handleControl(ev controlEvent) error {
	switch ev.op {
	case controlStart:
		return o.startSession(ev.topic)
	case controlPause:
		o.pauseSession()
	case controlResume:
		o.resumeSession()
	case controlStop:
		o.stopSession()
	}
	return nil
}

func (o *Orchestrator) startSession(topic string) error {
	if o.State() != StateIdle || o.hasSession() {
		return nil
	}

	systemPrompt := o.persona
	if o.curriculum != nil {
		if curriculumContext := o.curriculum.CurrentContext(); curriculumContext != nil {
			systemPrompt += "\n\n" + curriculumContext.PromptFragment()
			if topic == "" {
				topic = curriculumContext.TopicTitle
			}
		}
	}

	now := o.clock()
	o.mu.Lock()
	o.session = newSession(topic, now)
	o.transcript = nil
	o.history = []llms.Message{{Role: llms.MessageRoleSystem, Content: systemPrompt}}
	o.metrics = SessionMetrics{}
	o.lastErr = nil
	o.mu.Unlock()
	o.timers.reset()

	if err := o.audioIO.StartCapture(o.baseContext, o.ProcessAudioFrame); err != nil {
		o.enterError("audio capture", err)
		return err
	}

	logger.InfoContext(o.baseContext, "session started", "topic", topic)
	return nil
}

func (o *Orchestrator) pauseSession() {
	if !o.hasSession() || o.State() == StatePaused {
		return
	}

	o.cancelActiveWork()
	_ = o.audioIO.StopCapture()
	o.audioIO.ClearPlayback()
	o.timers.reset()
	o.setState(StatePaused)
}

func (o *Orchestrator) resumeSession() {
	if o.State() != StatePaused {
		return
	}

	if err := o.audioIO.StartCapture(o.baseContext, o.ProcessAudioFrame); err != nil {
		o.enterError("audio capture", err)
		return
	}
	o.setState(StateIdle)
}

func (o *Orchestrator) stopSession() {
	if !o.hasSession() {
		return
	}

	o.cancelActiveWork()
	_ = o.audioIO.StopCapture()
	o.audioIO.ClearPlayback()

	now := o.clock()
	o.mu.Lock()
	o.session.EndedAt = &now
	ended := *o.session
	o.session = nil
	o.lastErr = nil
	o.mu.Unlock()
	o.timers.reset()

	o.setState(StateIdle)
	if o.callbacks.onSessionEnded != nil {
		o.callbacks.onSessionEnded(ended)
	}
}

// cancelActiveWork tears down the in-flight turn, if any. It is safe to call
// from any state.
func (o *Orchestrator) cancelActiveWork() {
	if o.pipeline != nil {
		o.pipeline.Cancel()
		o.pipeline = nil
	}
	o.sttGeneration++
	if err := o.speechToText.Close(o.baseContext); err != nil {
		logger.WarnContext(o.baseContext, "failed to close transcription stream", "error", err)
	}
}

func (o *Orchestrator) handleAudioFrame(ev audioFrameEvent) {
	if !o.hasSession() {
		return
	}

	switch o.State() {
	case StateIdle:
		if result := o.vad.Process(ev.frame); result.IsSpeech {
			o.beginUserSpeech(ev)
		}

	case StateUserSpeaking:
		_ = o.speechToText.SendAudio(ev.frame)

		if result := o.vad.Process(ev.frame); result.IsSpeech {
			o.timers.lastSpeech = ev.at
			return
		}
		if o.timers.silenceDuration(ev.at) >= o.silenceThreshold {
			if err := o.speechToText.Finalize(); err != nil {
				o.enterError("speech-to-text", err)
				return
			}
			o.setState(StateProcessingUtterance)
		}

	case StateAiSpeaking:
		// Frames are evaluated solely for barge-in. Speech inside the
		// confirmation window is ignored as likely playback bleed.
		if result := o.vad.Process(ev.frame); result.IsSpeech &&
			o.timers.aiSpeechDuration(ev.at) >= o.bargeInWindow {
			o.handleBargeIn(ev)
		}

	default:
		// Discarded, not buffered.
	}
}

func (o *Orchestrator) beginUserSpeech(ev audioFrameEvent) {
	o.timers.userSpeechStart = ev.at
	o.timers.lastSpeech = ev.at

	if err := o.startTranscription(); err != nil {
		o.enterError("speech-to-text", err)
		return
	}
	_ = o.speechToText.SendAudio(ev.frame)
	o.setState(StateUserSpeaking)
}

func (o *Orchestrator) startTranscription() error {
	o.sttGeneration++
	generation := o.sttGeneration

	return o.speechToText.start(o.baseContext, o.audioIO.EncodingInfo(), speechToTextCallbacks{
		onInterimTranscription: func(transcript string) {
			o.enqueue(interimTranscriptEvent{transcript: transcript, generation: generation})
		},
		onTranscription: func(result speechtotext.Result) {
			o.enqueue(finalTranscriptEvent{
				transcript: result.Text,
				confidence: result.Confidence,
				generation: generation,
				at:         o.clock(),
			})
		},
		onError: func(err error) {
			o.enqueue(capabilityErrorEvent{stage: "speech-to-text", err: err})
		},
	})
}

func (o *Orchestrator) handleInterimTranscript(ev interimTranscriptEvent) {
	if ev.generation != o.sttGeneration || !o.State().acceptsTranscripts() {
		return
	}

	if o.callbacks.onInterimTranscription != nil {
		o.callbacks.onInterimTranscription(ev.transcript)
	}
}

func (o *Orchestrator) handleFinalTranscript(ev finalTranscriptEvent) {
	if ev.generation != o.sttGeneration || !o.State().acceptsTranscripts() {
		return
	}

	if err := o.speechToText.Close(o.baseContext); err != nil {
		logger.WarnContext(o.baseContext, "failed to close transcription stream", "error", err)
	}

	text := strings.TrimSpace(ev.transcript)
	if text == "" {
		// Degenerate utterance, return to rest without touching history.
		o.timers.reset()
		o.setState(StateIdle)
		return
	}

	o.acceptUserUtterance(text, ev.at)
}

func (o *Orchestrator) handleTextPrompt(ev textPromptEvent) {
	if !o.hasSession() {
		return
	}
	if o.State() != StateIdle {
		logger.WarnContext(o.baseContext, "dropping text message, conversation is busy", "state", o.State().String())
		return
	}

	text := strings.TrimSpace(ev.text)
	if text == "" {
		return
	}

	o.acceptUserUtterance(text, ev.at)
}

// acceptUserUtterance appends the finalized user text to history and
// transcript, then starts the response pipeline for the turn.
func (o *Orchestrator) acceptUserUtterance(text string, at time.Time) {
	o.timers.turnStart = at

	o.mu.Lock()
	o.history = append(o.history, llms.Message{Role: llms.MessageRoleUser, Content: text})
	entry := newTranscriptEntry(o.session.ID, RoleUser, text, at)
	o.transcript = append(o.transcript, entry)
	history := make([]llms.Message, len(o.history))
	copy(history, o.history)
	o.mu.Unlock()

	if o.callbacks.onTranscriptEntry != nil {
		o.callbacks.onTranscriptEntry(entry)
	}

	o.startResponsePipeline(history)
	o.setState(StateAiThinking)
}

func (o *Orchestrator) startResponsePipeline(history []llms.Message) {
	o.timers.llmStart = o.clock()

	pipeline := newResponsePipeline(
		o.llm,
		o.textToSpeech,
		o.audioIO,
		nil,
		o.clock,
		responsePipelineCallbacks{
			onResponse:    o.callbacks.onResponse,
			onResponseEnd: o.callbacks.onResponseEnd,
			onAudio:       o.callbacks.onAudio,
		},
	)
	pipeline.post = func(ev event) {
		o.enqueue(pipelineScopedEvent{pipeline: pipeline, event: ev})
	}
	o.pipeline = pipeline

	go pipeline.Run(o.baseContext, history)
}

func (o *Orchestrator) handleResponseStarted(ev responseStartedEvent) {
	if o.State() != StateAiThinking {
		return
	}

	o.timers.aiSpeechStart = ev.at

	o.mu.Lock()
	o.metrics.recordTimeToFirstToken(ev.at.Sub(o.timers.llmStart))
	metrics := o.metrics
	o.mu.Unlock()
	o.notifyMetrics(metrics)

	o.setState(StateAiSpeaking)
}

func (o *Orchestrator) handleSynthesisLatency(ev synthesisLatencyEvent) {
	o.mu.Lock()
	o.metrics.recordTimeToFirstByte(ev.sample)
	metrics := o.metrics
	o.mu.Unlock()
	o.notifyMetrics(metrics)
}

func (o *Orchestrator) handleTurnCompleted(ev turnCompletedEvent) {
	o.pipeline = nil

	response := strings.TrimSpace(ev.response)

	o.mu.Lock()
	var entry *TranscriptEntry
	if response != "" && o.session != nil {
		o.history = append(o.history, llms.Message{Role: llms.MessageRoleAssistant, Content: response})
		newEntry := newTranscriptEntry(o.session.ID, RoleAssistant, response, ev.at)
		o.transcript = append(o.transcript, newEntry)
		o.session.Turns++
		entry = &newEntry
	}
	o.metrics.recordTurnLatency(ev.at.Sub(o.timers.turnStart))
	metrics := o.metrics
	o.mu.Unlock()

	if entry != nil && o.callbacks.onTranscriptEntry != nil {
		o.callbacks.onTranscriptEntry(*entry)
	}
	o.notifyMetrics(metrics)

	o.timers.reset()
	o.setState(StateIdle)
}

// handleBargeIn cancels the response mid-flight and hands the floor back to
// the user in a single decision step. The partially generated response is
// discarded, not recorded.
func (o *Orchestrator) handleBargeIn(ev audioFrameEvent) {
	o.mu.Lock()
	o.metrics.Interruptions++
	metrics := o.metrics
	o.mu.Unlock()
	o.notifyMetrics(metrics)

	if o.pipeline != nil {
		o.pipeline.Cancel()
		o.pipeline = nil
	}
	o.setState(StateInterrupted)

	o.timers.reset()
	o.beginUserSpeech(ev)
}

func (o *Orchestrator) enterError(stage string, err error) {
	if !o.hasSession() {
		return
	}

	recordedErr := err
	span := trace.SpanFromContext(o.baseContext)
	span.RecordError(recordedErr)
	span.SetStatus(codes.Error, recordedErr.Error())
	logger.ErrorContext(o.baseContext, "capability failure", "stage", stage, "error", err)

	o.cancelActiveWork()
	o.audioIO.ClearPlayback()
	o.timers.reset()

	o.mu.Lock()
	o.lastErr = err
	o.mu.Unlock()

	o.setState(StateError)
}

func (o *Orchestrator) setState(state SessionState) {
	o.mu.Lock()
	if o.state == state {
		o.mu.Unlock()
		return
	}
	o.state = state
	o.mu.Unlock()

	if o.callbacks.onStateChanged != nil {
		o.callbacks.onStateChanged(state)
	}
}

func (o *Orchestrator) hasSession() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.session != nil
}

func (o *Orchestrator) notifyMetrics(metrics SessionMetrics) {
	if o.callbacks.onMetricsUpdated != nil {
		o.callbacks.onMetricsUpdated(metrics)
	}
}
