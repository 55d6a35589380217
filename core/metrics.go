package orchestration

import "time"

// SessionMetrics tracks running latency figures across turns. Each average
// is updated at most once per turn.
//
// The averages decay exponentially with factor 0.5 rather than being true
// means: avg' = (avg + sample) / 2. Recent turns dominate, which is what a
// latency readout on a live conversation should show.
type SessionMetrics struct {
	// AvgTimeToFirstToken measures model responsiveness, from invocation to
	// the first non-empty token.
	AvgTimeToFirstToken time.Duration
	// AvgTimeToFirstByte measures synthesis responsiveness, from the first
	// chunk handed to synthesis to the first non-empty audio payload.
	AvgTimeToFirstByte time.Duration
	// AvgTurnLatency measures the full turn, from the user's finalized
	// utterance to all response audio being produced.
	AvgTurnLatency time.Duration

	// Interruptions counts confirmed barge-ins.
	Interruptions int
}

func runningAverage(avg, sample time.Duration) time.Duration {
	return (avg + sample) / 2
}

func (m *SessionMetrics) recordTimeToFirstToken(sample time.Duration) {
	m.AvgTimeToFirstToken = runningAverage(m.AvgTimeToFirstToken, sample)
}

func (m *SessionMetrics) recordTimeToFirstByte(sample time.Duration) {
	m.AvgTimeToFirstByte = runningAverage(m.AvgTimeToFirstByte, sample)
}

func (m *SessionMetrics) recordTurnLatency(sample time.Duration) {
	m.AvgTurnLatency = runningAverage(m.AvgTurnLatency, sample)
}
