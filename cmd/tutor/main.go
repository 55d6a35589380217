// Command tutor runs an interactive voice tutoring session in the terminal.
// Speak into the default microphone, or type; the tutor answers out loud and
// the whole exchange is mirrored in the UI.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	orchestration "github.com/unamentis/tutor-core/core"
	"github.com/unamentis/tutor-core/core/audio/miniaudio"
	"github.com/unamentis/tutor-core/core/curriculum"
	"github.com/unamentis/tutor-core/core/llms/groq"
	sttdeepgram "github.com/unamentis/tutor-core/core/speechtotext/deepgram"
	ttsdeepgram "github.com/unamentis/tutor-core/core/texttospeech/deepgram"
	"github.com/unamentis/tutor-core/core/vad"
	"github.com/unamentis/tutor-core/internal/config"
	"github.com/unamentis/tutor-core/internal/observability"
)

// uiBridge forwards orchestrator callbacks into the bubbletea program once
// it exists. Callbacks fire from the orchestrator's goroutine, so the
// handoff is guarded.
type uiBridge struct {
	mu      sync.Mutex
	program *tea.Program
}

func (b *uiBridge) attach(program *tea.Program) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.program = program
}

func (b *uiBridge) send(msg tea.Msg) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.program != nil {
		b.program.Send(msg)
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logCloser, err := observability.InitLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	if logCloser != nil {
		defer logCloser.Close()
	}
	logger := observability.Logger()

	llmClient, err := groq.NewClient(
		groq.WithAPIKey(cfg.GroqAPIKey),
		groq.WithModel(cfg.GroqModel),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create llm client")
	}

	sttClient, err := sttdeepgram.NewTranscriptionClient(
		sttdeepgram.WithAPIKey(cfg.DeepgramAPIKey),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create speech-to-text client")
	}

	voice, err := ttsdeepgram.ParseVoice(cfg.DeepgramVoice)
	if err != nil {
		logger.Fatal().Err(err).Str("voice", cfg.DeepgramVoice).Msg("unknown voice")
	}
	ttsClient, err := ttsdeepgram.NewTextToSpeechClient(
		ttsdeepgram.WithAPIKey(cfg.DeepgramAPIKey),
		ttsdeepgram.WithVoice(voice),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create text-to-speech client")
	}

	audioClient, err := miniaudio.NewClient()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open audio devices")
	}

	bridge := &uiBridge{}

	var (
		endedMu      sync.Mutex
		endedSession *orchestration.Session
	)

	options := []orchestration.OrchestratorOption{
		orchestration.WithStreamingLLM(llmClient),
		orchestration.WithSpeechToTextClient(sttClient),
		orchestration.WithTextToSpeechClient(ttsClient),
		orchestration.WithAudioIO(audioClient),
		orchestration.WithVAD(vad.NewEnergyDetector(
			vad.WithSpeechThreshold(cfg.VADSpeechThreshold),
			vad.WithSilenceThreshold(cfg.VADSilenceThreshold),
		)),
		orchestration.WithTemperature(cfg.LLMTemperature),
		orchestration.WithMaxTokens(cfg.LLMMaxTokens),
		orchestration.WithStateChangedCallback(func(state orchestration.SessionState) {
			bridge.send(stateChangedMsg(state))
		}),
		orchestration.WithInterimTranscriptionCallback(func(transcript string) {
			bridge.send(interimTranscriptMsg(transcript))
		}),
		orchestration.WithTranscriptEntryCallback(func(entry orchestration.TranscriptEntry) {
			bridge.send(transcriptEntryMsg(entry))
		}),
		orchestration.WithResponseCallback(func(token string) {
			bridge.send(responseTokenMsg(token))
		}),
		orchestration.WithResponseEndCallback(func() {
			bridge.send(responseDoneMsg{})
		}),
		orchestration.WithMetricsCallback(func(metrics orchestration.SessionMetrics) {
			bridge.send(metricsMsg(metrics))
		}),
		orchestration.WithSessionEndedCallback(func(session orchestration.Session) {
			endedMu.Lock()
			endedSession = &session
			endedMu.Unlock()
		}),
	}
	if cfg.TutorPersona != "" {
		options = append(options, orchestration.WithTutorPersona(cfg.TutorPersona))
	}
	if cfg.TopicTitle != "" {
		var objectives []string
		for _, objective := range strings.Split(cfg.TopicObjectives, ",") {
			if objective = strings.TrimSpace(objective); objective != "" {
				objectives = append(objectives, objective)
			}
		}
		options = append(options, orchestration.WithCurriculumProvider(
			curriculum.NewStaticProvider(cfg.TopicTitle, objectives...),
		))
	}
	if cfg.SilenceThresholdMs > 0 {
		options = append(options, orchestration.WithSilenceThreshold(
			time.Duration(cfg.SilenceThresholdMs)*time.Millisecond,
		))
	}
	if cfg.BargeInWindowMs > 0 {
		options = append(options, orchestration.WithBargeInWindow(
			time.Duration(cfg.BargeInWindowMs)*time.Millisecond,
		))
	}

	orchestrator := orchestration.NewOrchestrator(options...)

	program := tea.NewProgram(newModel(orchestrator, cfg.TopicTitle), tea.WithAltScreen())
	bridge.attach(program)

	if _, err := program.Run(); err != nil {
		logger.Fatal().Err(err).Msg("terminal ui failed")
	}

	transcript := orchestrator.Transcript()
	if err := orchestrator.StopSession(); err != nil {
		logger.Warn().Err(err).Msg("failed to stop session")
	}
	orchestrator.Close()

	if !cfg.SessionSummary || len(transcript) == 0 {
		return
	}

	endedMu.Lock()
	session := endedSession
	endedMu.Unlock()
	if session == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	report, err := summarizeSession(ctx, llmClient, *session, transcript)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to summarize session")
		return
	}
	printReport(os.Stdout, *session, report)
}
