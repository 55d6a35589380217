package orchestration

import (
	"strings"
	"sync"
)

// speakableChunkMaxLength bounds how much text accumulates before it is
// handed to synthesis even without a prosody break.
const speakableChunkMaxLength = 100

// speechBuffer accumulates streamed response tokens and regroups them into
// speakable chunks. A chunk is cut when the pending text ends with terminal
// punctuation or reaches speakableChunkMaxLength, whichever comes first;
// whatever remains when the stream completes is cut as a final chunk. The
// concatenation of all chunks always equals the accumulated text.
type speechBuffer struct {
	mu             sync.Mutex
	pending        strings.Builder
	chunks         []string
	chunksConsumed int
	complete       bool
	cleared        bool
	updateSignal   chan struct{}
}

func newSpeechBuffer() *speechBuffer {
	return &speechBuffer{
		updateSignal: make(chan struct{}, 1),
	}
}

func (b *speechBuffer) AddToken(token string) {
	if token == "" {
		return
	}

	b.mu.Lock()
	b.pending.WriteString(token)
	if endsWithTerminalPunctuation(b.pending.String()) || b.pending.Len() >= speakableChunkMaxLength {
		b.cutPendingLocked()
	}
	b.mu.Unlock()
	b.signalUpdate()
}

// Complete marks the token stream as finished, cutting any remaining pending
// text as the final chunk.
func (b *speechBuffer) Complete() {
	b.mu.Lock()
	b.cutPendingLocked()
	b.complete = true
	b.mu.Unlock()
	b.signalUpdate()
}

// SpeakableChunks yields chunks in the order they were cut, blocking until
// more text arrives. Iteration ends once the buffer is complete or cleared.
func (b *speechBuffer) SpeakableChunks(yield func(string) bool) {
	for {
		b.mu.Lock()
		if b.cleared {
			b.mu.Unlock()
			return
		}

		if b.chunksConsumed < len(b.chunks) {
			chunk := b.chunks[b.chunksConsumed]
			b.chunksConsumed++
			b.mu.Unlock()
			if !yield(chunk) {
				return
			}
			continue
		}

		if b.complete {
			b.mu.Unlock()
			return
		}

		b.mu.Unlock()
		<-b.updateSignal
	}
}

// String returns all accumulated text, cut or pending.
func (b *speechBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return strings.Join(b.chunks, "") + b.pending.String()
}

func (b *speechBuffer) Clear() {
	b.mu.Lock()
	b.cleared = true
	b.mu.Unlock()
	b.signalUpdate()
}

func (b *speechBuffer) cutPendingLocked() {
	if b.pending.Len() == 0 {
		return
	}
	b.chunks = append(b.chunks, b.pending.String())
	b.pending.Reset()
}

func (b *speechBuffer) signalUpdate() {
	select {
	case b.updateSignal <- struct{}{}:
	default:
	}
}

func endsWithTerminalPunctuation(text string) bool {
	trimmed := strings.TrimRight(text, " \t\n")
	if trimmed == "" {
		return false
	}
	switch trimmed[len(trimmed)-1] {
	case '.', '?', '!':
		return true
	}
	return false
}
