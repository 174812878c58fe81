package stt

import (
	"bytes"
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"go.aimuz.me/transcast/audio"
	"go.aimuz.me/transcast/inference"
)

// WhisperAPI implements the Provider interface using the OpenAI audio
// transcription endpoint, or any server compatible with it.
type WhisperAPI struct {
	client openai.Client
	apiKey string
	model  string
}

// WhisperAPIConfig holds configuration for WhisperAPI.
type WhisperAPIConfig struct {
	APIKey  string
	BaseURL string // Optional, defaults to OpenAI's API
	Model   string // Optional, defaults to "whisper-1"
}

// NewWhisperAPI creates a new WhisperAPI provider.
func NewWhisperAPI(cfg WhisperAPIConfig) *WhisperAPI {
	model := cfg.Model
	if model == "" {
		model = string(openai.AudioModelWhisper1)
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &WhisperAPI{
		client: openai.NewClient(opts...),
		apiKey: cfg.APIKey,
		model:  model,
	}
}

func (w *WhisperAPI) Name() string        { return "whisper-api" }
func (w *WhisperAPI) DisplayName() string { return "OpenAI Whisper API" }
func (w *WhisperAPI) IsLocal() bool       { return false }

// Check fails without an API key.
func (w *WhisperAPI) Check() error {
	if w.apiKey == "" {
		return fmt.Errorf("%w: API key is required", inference.ErrUnsupported)
	}
	return nil
}

// Setup has nothing to download.
func (w *WhisperAPI) Setup(_ context.Context, _ func(inference.Event)) error {
	return w.Check()
}

// Transcribe uploads the samples as WAV.
func (w *WhisperAPI) Transcribe(ctx context.Context, samples []float32, language string) (*TranscribeResult, error) {
	if err := w.Check(); err != nil {
		return nil, err
	}

	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(audio.EncodeWAV(samples, SampleRate)), "audio.wav", "audio/wav"),
		Model: openai.AudioModel(w.model),
	}
	// The API rejects "auto"; leaving the field out means auto-detect.
	if language != "" && language != "auto" {
		params.Language = openai.String(language)
	}

	resp, err := w.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create transcription: %w", err)
	}

	return &TranscribeResult{
		Text:     resp.Text,
		Language: language,
	}, nil
}

func (w *WhisperAPI) Close() error {
	return nil
}
