// Package types provides shared type definitions for the application.
package types

// DefaultMaxTokens is the default max tokens if not specified.
const DefaultMaxTokens = 1000

// DefaultTemperature is the default temperature if not specified.
const DefaultTemperature = 0.3

// TranslateRequest represents one translation of a piece of transcript.
type TranslateRequest struct {
	Text       string `json:"text"`
	SourceLang string `json:"sourceLang"`
	TargetLang string `json:"targetLang"`
	Context    string `json:"context,omitempty"` // Previous context for better coherence
}

// Usage represents token usage statistics from LLM API calls.
type Usage struct {
	PromptTokens     int  `json:"promptTokens"`
	CompletionTokens int  `json:"completionTokens"`
	TotalTokens      int  `json:"totalTokens"`
	CacheHit         bool `json:"cacheHit"`
}

// TranslateResult represents the result of a translation request.
type TranslateResult struct {
	Text  string `json:"text"`
	Usage Usage  `json:"usage"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Live Caption Types
// ─────────────────────────────────────────────────────────────────────────────

// TranscriptEvent is produced once per completed transcription.
type TranscriptEvent struct {
	Text           string `json:"text"`
	SourceLanguage string `json:"sourceLanguage"`
	Timestamp      int64  `json:"timestamp"` // Unix milliseconds
}

// ProgressItem tracks one model file being loaded.
type ProgressItem struct {
	File     string  `json:"file"`
	Progress float64 `json:"progress"` // 0-100
	Loaded   int64   `json:"loaded"`
	Total    int64   `json:"total,omitempty"`
}

// Snapshot is the read-only view of the pipelines exposed to the UI.
type Snapshot struct {
	RecorderState   string                  `json:"recorderState"`
	Phase           string                  `json:"phase"`
	ProgressItems   map[string]ProgressItem `json:"progressItems"`
	TranscriptText  string                  `json:"transcriptText"`
	TranslatedText  string                  `json:"translatedText"`
	TokensPerSecond float64                 `json:"tokensPerSecond"`
	SourceLanguage  string                  `json:"sourceLanguage"`
	TargetLanguage  string                  `json:"targetLanguage"`
	ChannelID       string                  `json:"channelId,omitempty"`
}

// STTProviderInfo represents information about an STT provider.
type STTProviderInfo struct {
	Name        string `json:"name"`        // Provider identifier
	DisplayName string `json:"displayName"` // Human-readable name
	IsLocal     bool   `json:"isLocal"`     // Whether it runs locally
	Supported   bool   `json:"supported"`   // Whether it can run here
}
