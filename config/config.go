// Package config handles application configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/google/uuid"

	"go.aimuz.me/transcast/internal/types"
)

const (
	appName        = "transcast"
	configFileName = "config.json"
)

// EnvAPIKey is read when no credential is configured.
const EnvAPIKey = "OPENAI_API_KEY"

// Speech providers.
const (
	ProviderWhisperLocal = "whisper-local"
	ProviderWhisperAPI   = "whisper-api"
)

// Capture formats.
const (
	FormatPCM16   = "pcm16"
	FormatOggOpus = "ogg-opus"
)

// Defaults.
const (
	DefaultSampleRate   = 16000
	DefaultMaxSeconds   = 30
	DefaultRetryDelayMS = 25
	DefaultHubURL       = "ws://127.0.0.1:8765/channels"
	DefaultListenAddr   = ":8765"
	DefaultTarget       = "eng_Latn"
)

// Credential is a named API credential.
type Credential struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"` // openai, openai-compatible
	BaseURL string `json:"base_url,omitempty"`
	APIKey  string `json:"api_key"`
}

// Speech configures transcription.
type Speech struct {
	Provider     string `json:"provider"`
	ModelSize    string `json:"model_size,omitempty"`
	ModelDir     string `json:"model_dir,omitempty"`
	BinPath      string `json:"bin_path,omitempty"`
	CredentialID string `json:"credential_id,omitempty"`
	Model        string `json:"model,omitempty"`
	Language     string `json:"language,omitempty"`
}

// Translation configures the LLM used by listeners.
type Translation struct {
	CredentialID   string  `json:"credential_id,omitempty"`
	Model          string  `json:"model,omitempty"`
	SystemPrompt   string  `json:"system_prompt,omitempty"`
	MaxTokens      int     `json:"max_tokens,omitempty"`
	Temperature    float64 `json:"temperature,omitempty"`
	TargetLanguage string  `json:"target_language,omitempty"`
	Cache          bool    `json:"cache"`
	CacheDir       string  `json:"cache_dir,omitempty"`
}

// Audio configures capture and windowing.
type Audio struct {
	SampleRate       int      `json:"sample_rate"`
	MaxSeconds       int      `json:"max_seconds"`
	RetryDelayMS     int      `json:"retry_delay_ms"`
	SilenceThreshold float32  `json:"silence_threshold,omitempty"`
	CaptureCommand   []string `json:"capture_command,omitempty"`
	Format           string   `json:"format"`
	SourceRate       int      `json:"source_rate,omitempty"`
	Channels         int      `json:"channels,omitempty"`
}

// Broadcast configures the realtime channel.
type Broadcast struct {
	HubURL     string `json:"hub_url"`
	ListenAddr string `json:"listen_addr"`
}

// Config represents the application configuration.
type Config struct {
	Credentials []Credential `json:"credentials,omitempty"`
	Speech      Speech       `json:"speech"`
	Translation Translation  `json:"translation"`
	Audio       Audio        `json:"audio"`
	Broadcast   Broadcast    `json:"broadcast"`

	path string
}

// Load loads configuration from the user config directory.
// Returns default config if file doesn't exist.
func Load() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, fmt.Errorf("get config path: %w", err)
	}
	return LoadFrom(path)
}

// LoadFrom loads configuration from path. Save writes back to the same path.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Save persists the configuration to where it was loaded from, or to the
// user config directory.
func (c *Config) Save() error {
	path := c.path
	if path == "" {
		p, err := configPath()
		if err != nil {
			return fmt.Errorf("get config path: %w", err)
		}
		path = p
	}
	return c.SaveTo(path)
}

// SaveTo writes the configuration to path.
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	c.path = path
	return nil
}

// Path returns the file the configuration was loaded from, if any.
func (c *Config) Path() string {
	return c.path
}

// Default returns the default configuration.
func Default() *Config {
	c := &Config{Translation: Translation{Cache: true}}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Speech.Provider == "" {
		c.Speech.Provider = ProviderWhisperLocal
	}
	if c.Speech.ModelSize == "" {
		c.Speech.ModelSize = "base"
	}

	if c.Translation.MaxTokens == 0 {
		c.Translation.MaxTokens = types.DefaultMaxTokens
	}
	if c.Translation.Temperature == 0 {
		c.Translation.Temperature = types.DefaultTemperature
	}
	if c.Translation.TargetLanguage == "" {
		c.Translation.TargetLanguage = DefaultTarget
	}

	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = DefaultSampleRate
	}
	if c.Audio.MaxSeconds == 0 {
		c.Audio.MaxSeconds = DefaultMaxSeconds
	}
	if c.Audio.RetryDelayMS == 0 {
		c.Audio.RetryDelayMS = DefaultRetryDelayMS
	}
	if c.Audio.Format == "" {
		c.Audio.Format = FormatPCM16
	}
	if c.Audio.Channels == 0 {
		c.Audio.Channels = 1
	}
	if c.Audio.SourceRate == 0 {
		c.Audio.SourceRate = c.Audio.SampleRate
	}

	if c.Broadcast.HubURL == "" {
		c.Broadcast.HubURL = DefaultHubURL
	}
	if c.Broadcast.ListenAddr == "" {
		c.Broadcast.ListenAddr = DefaultListenAddr
	}
}

// Validate applies defaults and rejects invalid settings.
func (c *Config) Validate() error {
	c.applyDefaults()

	switch c.Speech.Provider {
	case ProviderWhisperLocal:
	case ProviderWhisperAPI:
		if c.Speech.CredentialID != "" && c.GetCredential(c.Speech.CredentialID) == nil {
			return fmt.Errorf("speech credential not found: %s", c.Speech.CredentialID)
		}
	default:
		return fmt.Errorf("unknown speech provider: %s", c.Speech.Provider)
	}

	if id := c.Translation.CredentialID; id != "" && c.GetCredential(id) == nil {
		return fmt.Errorf("translation credential not found: %s", id)
	}
	if c.Translation.MaxTokens < 0 {
		return fmt.Errorf("max tokens must be positive")
	}
	if t := c.Translation.Temperature; t < 0 || t > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}

	// Windows are written as 16 kHz WAV; other capture rates are resampled
	// through source_rate.
	if c.Audio.SampleRate != DefaultSampleRate {
		return fmt.Errorf("sample rate must be %d, got %d", DefaultSampleRate, c.Audio.SampleRate)
	}
	if c.Audio.SourceRate < 8000 || c.Audio.SourceRate > 48000 {
		return fmt.Errorf("source rate out of range: %d", c.Audio.SourceRate)
	}
	if c.Audio.MaxSeconds < 1 || c.Audio.MaxSeconds > 120 {
		return fmt.Errorf("max seconds out of range: %d", c.Audio.MaxSeconds)
	}
	if c.Audio.RetryDelayMS < 1 {
		return fmt.Errorf("retry delay must be positive")
	}
	if c.Audio.SilenceThreshold < 0 || c.Audio.SilenceThreshold >= 1 {
		return fmt.Errorf("silence threshold must be in [0, 1)")
	}
	if c.Audio.Channels < 1 || c.Audio.Channels > 2 {
		return fmt.Errorf("channels must be 1 or 2")
	}
	switch c.Audio.Format {
	case FormatPCM16, FormatOggOpus:
	default:
		return fmt.Errorf("unknown audio format: %s", c.Audio.Format)
	}

	for _, cred := range c.Credentials {
		if err := validateCredential(cred); err != nil {
			return fmt.Errorf("credential %s: %w", cred.Name, err)
		}
	}
	return nil
}

func validateCredential(cred Credential) error {
	if cred.Name == "" {
		return fmt.Errorf("credential name required")
	}
	if cred.APIKey == "" {
		return fmt.Errorf("api key required")
	}
	if cred.Type == "openai-compatible" && cred.BaseURL == "" {
		return fmt.Errorf("base url required for openai-compatible")
	}
	return nil
}

func configPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get user config dir: %w", err)
	}
	return filepath.Join(dir, appName, configFileName), nil
}

// ─────────────────────────────────────────────────────────────────────────────
// API Credential Management
// ─────────────────────────────────────────────────────────────────────────────

// GetCredential returns a credential by ID.
func (c *Config) GetCredential(id string) *Credential {
	for i := range c.Credentials {
		if c.Credentials[i].ID == id {
			return &c.Credentials[i]
		}
	}
	return nil
}

// AddCredential adds a new API credential and returns its ID.
func (c *Config) AddCredential(cred Credential) (string, error) {
	if err := validateCredential(cred); err != nil {
		return "", err
	}
	if cred.Type == "" {
		cred.Type = "openai"
	}
	if cred.ID == "" {
		cred.ID = uuid.New().String()
	}

	c.Credentials = append(c.Credentials, cred)
	return cred.ID, c.Save()
}

// RemoveCredential removes a credential by ID.
// Returns error if the speech or translation settings still use it.
func (c *Config) RemoveCredential(id string) error {
	if c.Translation.CredentialID == id {
		return fmt.Errorf("credential in use by translation")
	}
	if c.Speech.CredentialID == id {
		return fmt.Errorf("credential in use by speech config")
	}

	idx := slices.IndexFunc(c.Credentials, func(x Credential) bool {
		return x.ID == id
	})
	if idx == -1 {
		return fmt.Errorf("credential not found: %s", id)
	}

	c.Credentials = slices.Delete(c.Credentials, idx, idx+1)
	return c.Save()
}
