package orchestration

import (
	"time"

	"github.com/google/uuid"
)

// Session identifies one tutoring conversation. It is created by
// StartSession and immutable once EndedAt is set.
type Session struct {
	ID        string
	Topic     string
	StartedAt time.Time
	// EndedAt is nil while the session is active.
	EndedAt *time.Time
	// Turns counts completed turns, one user utterance plus the finished
	// response each.
	Turns int
}

func newSession(topic string, startedAt time.Time) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Topic:     topic,
		StartedAt: startedAt,
	}
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TranscriptEntry is one finalized utterance in the session log. Entries are
// append-only, the orchestrator never mutates or deletes them.
type TranscriptEntry struct {
	ID        string
	SessionID string
	Role      Role
	Text      string
	Timestamp time.Time
}

func newTranscriptEntry(sessionID string, role Role, text string, at time.Time) TranscriptEntry {
	return TranscriptEntry{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Text:      text,
		Timestamp: at,
	}
}
