package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds configuration for the tutor demo app and the capability
// clients it wires into the orchestrator.
type Config struct {
	// Deepgram STT/TTS configuration
	DeepgramAPIKey string `envconfig:"DEEPGRAM_API_KEY" required:"true"`
	DeepgramVoice  string `envconfig:"DEEPGRAM_VOICE" default:"aura-2-thalia-en"`

	// Groq LLM configuration
	GroqAPIKey      string  `envconfig:"GROQ_API_KEY" required:"true"`
	GroqModel       string  `envconfig:"GROQ_MODEL" default:"llama-3.3-70b-versatile"`
	LLMTemperature  float64 `envconfig:"LLM_TEMPERATURE" default:"0.7"`
	LLMMaxTokens    int     `envconfig:"LLM_MAX_TOKENS" default:"512"`
	SessionSummary  bool    `envconfig:"SESSION_SUMMARY" default:"true"`
	TutorPersona    string  `envconfig:"TUTOR_PERSONA" default:""`
	TopicTitle      string  `envconfig:"TOPIC_TITLE" default:""`
	TopicObjectives string  `envconfig:"TOPIC_OBJECTIVES" default:""` // comma-separated

	// Voice activity detection
	VADSpeechThreshold  float64 `envconfig:"VAD_SPEECH_THRESHOLD" default:"0.015"`
	VADSilenceThreshold float64 `envconfig:"VAD_SILENCE_THRESHOLD" default:"0.008"`

	// Turn-taking windows, in milliseconds. Zero means use the orchestrator
	// defaults (1500 / 600).
	SilenceThresholdMs int `envconfig:"SILENCE_THRESHOLD_MS" default:"0"`
	BargeInWindowMs    int `envconfig:"BARGE_IN_WINDOW_MS" default:"0"`

	// Observability
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	LogFile  string `envconfig:"LOG_FILE" default:"tutor.log"`
}

// Load reads configuration from a .env file (if present) and the
// environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return &cfg, nil
}
