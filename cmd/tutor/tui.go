package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
	orchestration "github.com/unamentis/tutor-core/core"
)

type (
	stateChangedMsg      orchestration.SessionState
	interimTranscriptMsg string
	transcriptEntryMsg   orchestration.TranscriptEntry
	responseTokenMsg     string
	responseDoneMsg      struct{}
	metricsMsg           orchestration.SessionMetrics

	sessionStartErrMsg struct{ err error }
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	userLabelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	aiLabelStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	interimStyle   = lipgloss.NewStyle().Faint(true).Italic(true)
	statusStyle    = lipgloss.NewStyle().Faint(true)
	errorStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	helpStyle      = lipgloss.NewStyle().Faint(true)
)

const timeRounding = 10 * time.Millisecond

func stateLabel(state orchestration.SessionState) string {
	switch state {
	case orchestration.StateIdle:
		return "listening for speech"
	case orchestration.StateUserSpeaking:
		return "hearing you"
	case orchestration.StateProcessingUtterance:
		return "transcribing"
	case orchestration.StateAiThinking:
		return "thinking"
	case orchestration.StateAiSpeaking:
		return "speaking"
	case orchestration.StateInterrupted:
		return "interrupted"
	case orchestration.StatePaused:
		return "paused"
	case orchestration.StateError:
		return "error"
	}
	return state.String()
}

type model struct {
	orchestrator *orchestration.Orchestrator
	topic        string

	viewport viewport.Model
	input    textinput.Model
	ready    bool
	width    int

	state   orchestration.SessionState
	interim string
	partial strings.Builder
	entries []orchestration.TranscriptEntry
	metrics orchestration.SessionMetrics
	err     error
}

func newModel(orchestrator *orchestration.Orchestrator, topic string) *model {
	input := textinput.New()
	input.Placeholder = "Type to the tutor, or just speak"
	input.Focus()

	return &model{
		orchestrator: orchestrator,
		topic:        topic,
		input:        input,
		state:        orchestration.StateIdle,
	}
}

func (m *model) Init() tea.Cmd {
	return func() tea.Msg {
		if err := m.orchestrator.StartSession(m.topic); err != nil {
			return sessionStartErrMsg{err: err}
		}
		return nil
	}
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		headerHeight := 2
		footerHeight := 4
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-headerHeight-footerHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - headerHeight - footerHeight
		}
		m.refreshConversation()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "ctrl+p":
			if m.state == orchestration.StatePaused {
				m.orchestrator.ResumeSession()
			} else {
				m.orchestrator.PauseSession()
			}
		case "enter":
			if text := strings.TrimSpace(m.input.Value()); text != "" {
				m.orchestrator.SendTextMessage(text)
				m.input.Reset()
			}
		}

	case sessionStartErrMsg:
		m.err = msg.err

	case stateChangedMsg:
		m.state = orchestration.SessionState(msg)
		if m.state == orchestration.StateError {
			m.err = m.orchestrator.LastError()
		}
		if m.state != orchestration.StateUserSpeaking {
			m.interim = ""
		}
		m.refreshConversation()

	case interimTranscriptMsg:
		m.interim = string(msg)
		m.refreshConversation()

	case transcriptEntryMsg:
		entry := orchestration.TranscriptEntry(msg)
		m.entries = append(m.entries, entry)
		if entry.Role == orchestration.RoleAssistant {
			m.partial.Reset()
		}
		m.refreshConversation()

	case responseTokenMsg:
		m.partial.WriteString(string(msg))
		m.refreshConversation()

	case responseDoneMsg:
		// The final transcript entry follows once playback is done; keep
		// the partial on screen until then.

	case metricsMsg:
		m.metrics = orchestration.SessionMetrics(msg)
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *model) refreshConversation() {
	if !m.ready {
		return
	}

	wasAtBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.renderConversation())
	if wasAtBottom {
		m.viewport.GotoBottom()
	}
}

func (m *model) renderConversation() string {
	width := max(m.width-2, 20)

	var b strings.Builder
	for _, entry := range m.entries {
		label := userLabelStyle.Render("You")
		if entry.Role == orchestration.RoleAssistant {
			label = aiLabelStyle.Render("Tutor")
		}
		b.WriteString(label + "\n")
		b.WriteString(wordwrap.String(entry.Text, width) + "\n\n")
	}

	if partial := m.partial.String(); partial != "" {
		b.WriteString(aiLabelStyle.Render("Tutor") + "\n")
		b.WriteString(wordwrap.String(partial, width) + "\n\n")
	}
	if m.interim != "" {
		b.WriteString(interimStyle.Render(wordwrap.String(m.interim, width)) + "\n")
	}

	return b.String()
}

func (m *model) View() string {
	if !m.ready {
		return "starting..."
	}

	title := "Tutor"
	if m.topic != "" {
		title += " - " + m.topic
	}
	header := headerStyle.Render(title) + "\n"

	status := statusStyle.Render(fmt.Sprintf(
		"[%s]  first token %s  first audio %s  turn %s  interruptions %d",
		stateLabel(m.state),
		m.metrics.AvgTimeToFirstToken.Round(timeRounding),
		m.metrics.AvgTimeToFirstByte.Round(timeRounding),
		m.metrics.AvgTurnLatency.Round(timeRounding),
		m.metrics.Interruptions,
	))
	if m.err != nil {
		status = errorStyle.Render("error: " + m.err.Error())
	}

	help := helpStyle.Render("enter send  -  ctrl+p pause/resume  -  esc quit")

	return header + "\n" +
		m.viewport.View() + "\n" +
		status + "\n" +
		m.input.View() + "\n" +
		help
}
