package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/unamentis/tutor-core/core/audio"
	"github.com/unamentis/tutor-core/core/texttospeech"
)

type speechGenerator struct {
	ws *websocket.Conn
	mu sync.Mutex

	textBuffer   []string
	textBufferMu sync.Mutex

	options generatorOptions

	textComplete bool
	cancelled    bool
	closed       bool

	report texttospeech.SpeechEndedReport
}

type generatorOptions struct {
	texttospeech.SynthesisOptions
	Voice deepgramVoice
}

// NewSpeechGenerator opens a fresh synthesis stream. Each generator serves a
// single response and is closed when the response completes or is cancelled.
func (c *TextToSpeechClient) NewSpeechGenerator(ctx context.Context, opts ...texttospeech.SynthesisOption) (texttospeech.SpeechGenerator, error) {
	gen := &speechGenerator{
		options: generatorOptions{
			SynthesisOptions: texttospeech.SynthesisOptions{
				SpeechAudioCallback: func([]byte) {},
				SpeechMarkCallback:  func(string) {},
				SpeechEndedCallback: func(texttospeech.SpeechEndedReport) {},
				ErrorCallback:       func(error) {},
				EncodingInfo:        audio.GetDefaultEncodingInfo(),
			},
			Voice: c.voice,
		},
	}

	for _, opt := range opts {
		opt(&gen.options.SynthesisOptions)
	}

	var err error
	if gen.ws, err = connectWebsocket(c.apiKey, c.voice, gen.options.EncodingInfo); err != nil {
		return nil, fmt.Errorf("failed to open websocket: %w", err)
	}

	go gen.processIncomingMessages(ctx)

	return gen, nil
}

func connectWebsocket(apiKey string, voice deepgramVoice, encodingInfo audio.EncodingInfo) (*websocket.Conn, error) {
	urlValues := url.Values{}
	urlValues.Set("encoding", encodingInfo.Format.Name())
	urlValues.Set("sample_rate", strconv.Itoa(encodingInfo.SampleRate))
	urlValues.Set("model", string(voice))
	urlValues.Set("container", "none")

	conn, _, err := websocket.DefaultDialer.Dial(
		(&url.URL{
			Scheme: "wss",
			Host:   "api.deepgram.com", Path: "/v1/speak",
			RawQuery: urlValues.Encode(),
		}).String(),
		http.Header{"Authorization": {"token " + apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}

	return conn, nil
}

func (g *speechGenerator) processIncomingMessages(ctx context.Context) {
	for {
		msgType, msg, err := g.ws.ReadMessage()
		if err != nil {
			if !g.closed && !g.cancelled && err.Error() != "websocket: close 1000 (normal)" {
				logger.ErrorContext(ctx, "websocket read error", "error", err)
				g.options.ErrorCallback(fmt.Errorf("speech stream failed: %w", err))
			}
			_ = g.Close()
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if g.cancelled || g.closed {
				continue
			}
			if len(msg) > 0 {
				g.options.SpeechAudioCallback(msg)
			}
		case websocket.TextMessage:
			var parsedMsg struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(msg, &parsedMsg); err != nil {
				logger.ErrorContext(ctx, "failed to unmarshal deepgram message", "error", err)
				continue
			}

			switch parsedMsg.Type {
			case "Flushed":
				g.handleFlushed(ctx)
			case "Warning":
				logger.WarnContext(ctx, "deepgram warning", "message", string(msg))
			}
		}
	}
}

func (g *speechGenerator) handleFlushed(ctx context.Context) {
	g.textBufferMu.Lock()
	defer g.textBufferMu.Unlock()

	if g.cancelled || g.closed {
		return
	}

	// notify the user we have reached the mark
	if len(g.textBuffer) > 0 {
		g.options.SpeechMarkCallback(g.textBuffer[0])
		g.textBuffer = g.textBuffer[1:]
	}

	// nothing left to synthesize; a lone empty slot is the trailing mark
	// appended by Mark and carries no text to send
	if g.textComplete &&
		(len(g.textBuffer) == 0 ||
			(len(g.textBuffer) == 1 && g.textBuffer[0] == "")) {
		g.textBuffer = nil
		g.options.SpeechEndedCallback(g.report)
		_ = g.Close()
		return
	}

	// send the next text if there is any
	if len(g.textBuffer) > 0 {
		if err := g.sendWebsocketMessage(sendTextMsg(g.textBuffer[0])); err != nil {
			logger.ErrorContext(ctx, "failed to send deepgram text", "error", err)
		}
	}
	if len(g.textBuffer) > 1 {
		if err := g.sendWebsocketMessage(flushMsg); err != nil {
			logger.ErrorContext(ctx, "failed to flush deepgram buffer", "error", err)
		}
	}
}

func (g *speechGenerator) SendText(text string) error {
	if g.closed {
		return fmt.Errorf("speech generator closed")
	} else if g.cancelled {
		return fmt.Errorf("speech generator cancelled")
	} else if g.textComplete {
		return fmt.Errorf("speech generator text already completed")
	}

	g.textBufferMu.Lock()
	defer g.textBufferMu.Unlock()

	if len(g.textBuffer) == 0 {
		g.textBuffer = append(g.textBuffer, "")
	}

	if len(g.textBuffer) == 1 {
		if err := g.sendWebsocketMessage(sendTextMsg(text)); err != nil {
			return fmt.Errorf("failed to send websocket send text message: %w", err)
		}
	}
	g.textBuffer[len(g.textBuffer)-1] += text
	return nil
}

func (g *speechGenerator) Mark() error {
	if g.closed {
		return fmt.Errorf("speech generator closed")
	} else if g.cancelled {
		return fmt.Errorf("speech generator cancelled")
	} else if g.textComplete {
		return fmt.Errorf("speech generator text already completed")
	}

	g.textBufferMu.Lock()
	defer g.textBufferMu.Unlock()

	if len(g.textBuffer) == 1 {
		if err := g.sendWebsocketMessage(flushMsg); err != nil {
			return fmt.Errorf("failed to send websocket flush message: %w", err)
		}
	}

	// NOTE: Deepgram sometimes drops text that is passed right after a flush
	// unless there is a break. Text after the mark is held back until the
	// flush confirmation arrives.
	g.textBuffer = append(g.textBuffer, "")

	return nil
}

func (g *speechGenerator) EndOfText() error {
	if g.closed {
		return fmt.Errorf("speech generator closed")
	} else if g.cancelled {
		return fmt.Errorf("speech generator cancelled")
	}

	g.textBufferMu.Lock()
	defer g.textBufferMu.Unlock()

	g.textComplete = true
	if len(g.textBuffer) == 0 ||
		(len(g.textBuffer) == 1 && g.textBuffer[0] == "") {
		g.textBuffer = nil
		g.options.SpeechEndedCallback(g.report)
		_ = g.Close()
	}

	return nil
}

func (g *speechGenerator) Cancel() error {
	if g.closed {
		return fmt.Errorf("speech generator closed")
	}
	if g.cancelled {
		return nil
	}

	g.cancelled = true

	g.textBufferMu.Lock()
	g.textBuffer = nil
	g.textBufferMu.Unlock()

	if err := g.sendWebsocketMessage(clearMsg); err != nil {
		return fmt.Errorf("failed to send websocket clear message: %w", err)
	}

	_ = g.Close()
	return nil
}

func (g *speechGenerator) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	g.mu.Unlock()

	if err := g.ws.WriteJSON(closeMsg); err != nil {
		if aggressiveCloseErr := g.ws.Close(); aggressiveCloseErr != nil {
			return fmt.Errorf("failed to close websocket: %w", errors.Join(err, aggressiveCloseErr))
		}
	}
	return nil
}

type websocketMessage struct {
	Type string `json:"type"`
}

type speakMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

var (
	sendTextMsg = func(text string) speakMessage {
		return speakMessage{Type: "Speak", Text: text}
	}
	flushMsg = websocketMessage{Type: "Flush"}
	clearMsg = websocketMessage{Type: "Clear"}
	closeMsg = websocketMessage{Type: "Close"}
)

func (g *speechGenerator) sendWebsocketMessage(msg any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed || g.ws == nil {
		return fmt.Errorf("websocket connection closed")
	}

	if err := g.ws.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to write to websocket: %w", err)
	}
	return nil
}
