// Package deepgram implements streaming text-to-speech over Deepgram's speak
// websocket API.
package deepgram

import (
	"fmt"
	"os"
	"slices"
)

type deepgramVoice string

const (
	VoiceAsteriaEn   deepgramVoice = "aura-2-asteria-en"
	VoiceThaliaEn    deepgramVoice = "aura-2-thalia-en"
	VoiceOrionEn     deepgramVoice = "aura-2-orion-en"
	VoiceArcasEn     deepgramVoice = "aura-2-arcas-en"
	VoiceAndromedaEn deepgramVoice = "aura-2-andromeda-en"

	defaultVoice = VoiceThaliaEn
)

func GetAvailableVoices() []deepgramVoice {
	return []deepgramVoice{
		VoiceAsteriaEn,
		VoiceThaliaEn,
		VoiceOrionEn,
		VoiceArcasEn,
		VoiceAndromedaEn,
	}
}

type TextToSpeechClient struct {
	apiKey string
	voice  deepgramVoice
}

type ClientOption func(*TextToSpeechClient)

// WithAPIKey overrides the DEEPGRAM_API_KEY environment lookup.
func WithAPIKey(apiKey string) ClientOption {
	return func(c *TextToSpeechClient) { c.apiKey = apiKey }
}

func WithVoice(voice deepgramVoice) ClientOption {
	return func(c *TextToSpeechClient) { c.voice = voice }
}

// ParseVoice resolves a voice model name, falling back to the default when
// name is empty.
func ParseVoice(name string) (deepgramVoice, error) {
	if name == "" {
		return defaultVoice, nil
	}
	voice := deepgramVoice(name)
	if !slices.Contains(GetAvailableVoices(), voice) {
		return "", fmt.Errorf("unknown voice %q", name)
	}
	return voice, nil
}

func NewTextToSpeechClient(opts ...ClientOption) (*TextToSpeechClient, error) {
	client := &TextToSpeechClient{voice: defaultVoice}
	for _, opt := range opts {
		opt(client)
	}

	if !slices.Contains(GetAvailableVoices(), client.voice) {
		return nil, fmt.Errorf("invalid voice")
	}

	if client.apiKey == "" {
		apiKey, ok := os.LookupEnv("DEEPGRAM_API_KEY")
		if !ok {
			return nil, fmt.Errorf("deepgram api key not found")
		}
		client.apiKey = apiKey
	}

	return client, nil
}

func (c *TextToSpeechClient) SetVoice(voice deepgramVoice) {
	c.voice = voice
}
