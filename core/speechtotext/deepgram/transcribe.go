package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
	"github.com/unamentis/tutor-core/core/audio"
	"github.com/unamentis/tutor-core/core/speechtotext"
)

// Transcribe opens a live transcription stream for a single utterance.
func (s *TranscriptionClient) Transcribe(ctx context.Context, opts ...speechtotext.TranscriptionOption) error {
	ctx, span := tracer.Start(ctx, "deepgram.Transcribe")
	defer span.End()

	options := &speechtotext.TranscriptionOptions{EncodingInfo: audio.GetDefaultEncodingInfo()}
	for _, opt := range opts {
		opt(options)
	}

	encoding, err := convertEncoding(options.EncodingInfo)
	if err != nil {
		return fmt.Errorf("invalid encoding: %w", err)
	}

	conn, err := s.connectWebsocket(connectionOptions{
		sampleRate:     encoding.SampleRate,
		encoding:       encoding.Format.Name(),
		interimResults: options.InterimTranscriptionCallback != nil,
	})
	if err != nil {
		return fmt.Errorf("failed to open websocket: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	s.resultMu.Lock()
	s.accumulated = ""
	s.confidence = 0
	s.finalSent = false
	s.lastAudioTs = time.Now()
	s.resultMu.Unlock()

	go s.readAndProcessMessages(ctx, conn, *options)

	return nil
}

type connectionOptions struct {
	sampleRate int
	encoding   string

	interimResults bool
}

func (s *TranscriptionClient) connectWebsocket(options connectionOptions) (*websocket.Conn, error) {
	listenUrl, _ := url.Parse("wss://api.deepgram.com/v1/listen")
	queryParams := listenUrl.Query()
	queryParams.Set("encoding", options.encoding)
	queryParams.Set("sample_rate", strconv.Itoa(options.sampleRate))
	queryParams.Set("channels", "1")
	queryParams.Set("model", "nova-3")
	queryParams.Set("language", "en-US")
	queryParams.Set("smart_format", "true")
	queryParams.Set("endpointing", "300")
	if options.interimResults {
		queryParams.Set("interim_results", "true")
	}

	listenUrl.RawQuery = queryParams.Encode()
	conn, _, err := websocket.DefaultDialer.Dial(listenUrl.String(),
		http.Header{"Authorization": {"Token " + s.apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}

	return conn, err
}

func (s *TranscriptionClient) SendAudio(audio []byte) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return fmt.Errorf("transcription stream not open")
	}

	s.resultMu.Lock()
	s.lastAudioTs = time.Now()
	s.resultMu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return fmt.Errorf("failed to write to deepgram client: %w", err)
	}
	return nil
}

// Finalize asks the provider to flush whatever it has buffered into a final
// transcript. The final result arrives through the transcription callback.
func (s *TranscriptionClient) Finalize() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return fmt.Errorf("transcription stream not open")
	}

	if err := s.conn.WriteJSON(struct {
		Type string `json:"type"`
	}{Type: "Finalize"}); err != nil {
		return fmt.Errorf("failed to finalize deepgram stream: %w", err)
	}
	return nil
}

func (s *TranscriptionClient) Close(context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return nil
	}

	_ = s.conn.WriteJSON(struct {
		Type string `json:"type"`
	}{Type: string(api.TypeCloseStreamResponse)})
	err := s.conn.Close()
	s.conn = nil
	if err != nil {
		return fmt.Errorf("failed to close deepgram websocket: %w", err)
	}
	return nil
}

func (s *TranscriptionClient) readAndProcessMessages(ctx context.Context, conn *websocket.Conn, options speechtotext.TranscriptionOptions) {
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			s.connMu.Lock()
			deliberate := s.conn == nil || s.conn != conn
			s.connMu.Unlock()

			if !deliberate && err.Error() != "websocket: close 1000 (normal)" && ctx.Err() == nil {
				logger.ErrorContext(ctx, "failed to read deepgram websocket message", "error", err)
				if options.ErrorCallback != nil {
					options.ErrorCallback(fmt.Errorf("transcription stream failed: %w", err))
				}
			}
			conn.Close()
			return
		}
		if msgType != websocket.BinaryMessage {
			s.processMessage(ctx, msg, options)
		}
	}
}

func (s *TranscriptionClient) processMessage(ctx context.Context, msg []byte, options speechtotext.TranscriptionOptions) {
	var parsedMsg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &parsedMsg); err != nil {
		logger.ErrorContext(ctx, "failed to unmarshal deepgram message", "error", err)
		return
	}

	switch api.TypeResponse(parsedMsg.Type) {
	case api.TypeMessageResponse:
		var msgResp api.MessageResponse
		if err := json.Unmarshal(msg, &msgResp); err != nil {
			logger.ErrorContext(ctx, "failed to unmarshal deepgram message", "error", err)
			return
		}
		// from_finalize is not surfaced by the SDK response type.
		var finalizeMarker struct {
			FromFinalize bool `json:"from_finalize"`
		}
		_ = json.Unmarshal(msg, &finalizeMarker)

		if msgResp.IsFinal {
			if len(msgResp.Channel.Alternatives) > 0 {
				alternative := msgResp.Channel.Alternatives[0]
				if transcript := strings.TrimSpace(alternative.Transcript); len(transcript) > 0 {
					s.resultMu.Lock()
					s.accumulated = strings.TrimSpace(s.accumulated + " " + transcript)
					s.confidence = alternative.Confidence
					s.resultMu.Unlock()
				}
			}
			if msgResp.SpeechFinal || finalizeMarker.FromFinalize {
				s.deliverFinal(options)
			}
			return
		}

		if options.InterimTranscriptionCallback != nil && len(msgResp.Channel.Alternatives) > 0 {
			if transcript := strings.TrimSpace(msgResp.Channel.Alternatives[0].Transcript); len(transcript) > 0 {
				s.resultMu.Lock()
				accumulated := strings.TrimSpace(s.accumulated + " " + transcript)
				s.resultMu.Unlock()
				options.InterimTranscriptionCallback(accumulated)
			}
		}

	case api.TypeUtteranceEndResponse:
		s.deliverFinal(options)

	case api.TypeResponse(api.TypeErrorResponse):
		if options.ErrorCallback != nil {
			options.ErrorCallback(fmt.Errorf("deepgram error response: %s", string(msg)))
		}
	}
}

// deliverFinal emits the accumulated transcript exactly once per stream.
func (s *TranscriptionClient) deliverFinal(options speechtotext.TranscriptionOptions) {
	s.resultMu.Lock()
	if s.finalSent {
		s.resultMu.Unlock()
		return
	}
	s.finalSent = true
	result := speechtotext.Result{
		Text:       strings.TrimSpace(s.accumulated),
		IsFinal:    true,
		Confidence: s.confidence,
		Latency:    time.Since(s.lastAudioTs),
	}
	s.accumulated = ""
	s.resultMu.Unlock()

	if options.TranscriptionCallback != nil {
		options.TranscriptionCallback(result)
	}
}
