// Package config loads the talkd daemon configuration: a YAML file with
// environment overlays on top, so containerized deployments can inject
// credentials without touching the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// Answer provider names accepted in the config file.
const (
	ProviderTemplate = "template"
	ProviderHTTP     = "http"
	ProviderOpenAI   = "openai"
)

// Recognition modes accepted in the config file.
const (
	RecognitionBrowser  = "browser"
	RecognitionDeepgram = "deepgram"
)

// Transcript store names accepted in the config file.
const (
	StoreNone   = "none"
	StoreJSON   = "json"
	StoreBadger = "badger"
)

// Config is the full talkd configuration.
type Config struct {
	// Addr is the listen address for the HTTP/websocket server.
	Addr string `yaml:"addr"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// Language is the BCP 47 tag used for recognition and voice choice.
	Language string `yaml:"language"`

	Engine      Engine      `yaml:"engine"`
	Answer      AnswerCfg   `yaml:"answer"`
	Recognition Recognition `yaml:"recognition"`
	Transcript  Transcript  `yaml:"transcript"`
}

// Engine tunes the conversation loop. All durations are milliseconds;
// zero means "use the engine default".
type Engine struct {
	SilenceTimeoutMs int `yaml:"silence_timeout_ms"`
	AnswerTimeoutMs  int `yaml:"answer_timeout_ms"`
	BackoffMs        int `yaml:"backoff_ms"`
	RearmDelayMs     int `yaml:"rearm_delay_ms"`
}

// AnswerCfg selects and configures the answer provider.
type AnswerCfg struct {
	// Provider is template, http or openai.
	Provider string `yaml:"provider"`

	// URL is the documentation service endpoint for the http provider.
	URL string `yaml:"url"`

	// APIKey is the OpenAI key. The OPENAI_API_KEY environment variable
	// overrides it.
	APIKey string `yaml:"api_key"`

	// Model overrides the openai provider's default model.
	Model string `yaml:"model"`
}

// Recognition selects where speech recognition runs.
type Recognition struct {
	// Mode is browser (recognition in the page) or deepgram (audio
	// relayed to Deepgram from the page).
	Mode string `yaml:"mode"`

	// APIKey is the Deepgram key. DEEPGRAM_API_KEY overrides it.
	APIKey string `yaml:"api_key"`

	// Model overrides the Deepgram model.
	Model string `yaml:"model"`
}

// Transcript selects conversation persistence.
type Transcript struct {
	// Store is none, json or badger.
	Store string `yaml:"store"`

	// Path is the JSON file or the Badger directory.
	Path string `yaml:"path"`
}

// Default returns the configuration talkd runs with when no file and no
// environment say otherwise.
func Default() *Config {
	return &Config{
		Addr:        ":8080",
		LogLevel:    "info",
		Language:    "en-US",
		Answer:      AnswerCfg{Provider: ProviderTemplate},
		Recognition: Recognition{Mode: RecognitionBrowser},
		Transcript:  Transcript{Store: StoreNone},
	}
}

// Load reads the YAML file at path, fills gaps with defaults, applies
// environment overlays and validates. An empty path skips the file; a
// missing file at an explicit path is an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv lays environment variables over the file values.
func (c *Config) applyEnv() {
	if v := os.Getenv("TALKD_ADDR"); v != "" {
		c.Addr = v
	}
	if v := os.Getenv("TALKD_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Answer.APIKey = v
	}
	if v := os.Getenv("DEEPGRAM_API_KEY"); v != "" {
		c.Recognition.APIKey = v
	}
}

// Validation errors.
var (
	ErrNoAddr         = errors.New("config: addr must be set")
	ErrBadProvider    = errors.New("config: answer.provider must be template, http or openai")
	ErrBadRecognition = errors.New("config: recognition.mode must be browser or deepgram")
	ErrBadStore       = errors.New("config: transcript.store must be none, json or badger")
	ErrNoAnswerURL    = errors.New("config: answer.url is required for the http provider")
	ErrNoOpenAIKey    = errors.New("config: answer.api_key is required for the openai provider")
	ErrNoDeepgramKey  = errors.New("config: recognition.api_key is required for deepgram mode")
	ErrNoStorePath    = errors.New("config: transcript.path is required for json and badger stores")
	ErrBadDuration    = errors.New("config: engine durations must not be negative")
)

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return ErrNoAddr
	}
	switch c.Answer.Provider {
	case ProviderTemplate:
	case ProviderHTTP:
		if c.Answer.URL == "" {
			return ErrNoAnswerURL
		}
	case ProviderOpenAI:
		if c.Answer.APIKey == "" {
			return ErrNoOpenAIKey
		}
	default:
		return ErrBadProvider
	}
	switch c.Recognition.Mode {
	case RecognitionBrowser:
	case RecognitionDeepgram:
		if c.Recognition.APIKey == "" {
			return ErrNoDeepgramKey
		}
	default:
		return ErrBadRecognition
	}
	switch c.Transcript.Store {
	case StoreNone:
	case StoreJSON, StoreBadger:
		if c.Transcript.Path == "" {
			return ErrNoStorePath
		}
	default:
		return ErrBadStore
	}
	if c.Engine.SilenceTimeoutMs < 0 || c.Engine.AnswerTimeoutMs < 0 ||
		c.Engine.BackoffMs < 0 || c.Engine.RearmDelayMs < 0 {
		return ErrBadDuration
	}
	return nil
}

// SilenceTimeout returns the configured silence window, or zero when
// the engine default should apply.
func (e Engine) SilenceTimeout() time.Duration {
	return time.Duration(e.SilenceTimeoutMs) * time.Millisecond
}

// AnswerTimeout returns the configured answer bound, or zero.
func (e Engine) AnswerTimeout() time.Duration {
	return time.Duration(e.AnswerTimeoutMs) * time.Millisecond
}

// Backoff returns the configured failure backoff, or zero.
func (e Engine) Backoff() time.Duration {
	return time.Duration(e.BackoffMs) * time.Millisecond
}

// RearmDelay returns the configured re-arm settle pause, or zero.
func (e Engine) RearmDelay() time.Duration {
	return time.Duration(e.RearmDelayMs) * time.Millisecond
}
