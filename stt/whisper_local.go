package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.aimuz.me/transcast/audio"
	"go.aimuz.me/transcast/inference"
)

const defaultModelBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main"

// Model files and their approximate download sizes, used when the server
// sends no Content-Length.
var modelSizes = map[string]struct {
	File string
	Size int64
}{
	"tiny":   {"ggml-tiny.bin", 75 * 1024 * 1024},
	"base":   {"ggml-base.bin", 142 * 1024 * 1024},
	"small":  {"ggml-small.bin", 466 * 1024 * 1024},
	"medium": {"ggml-medium.bin", 1500 * 1024 * 1024},
	"large":  {"ggml-large-v3.bin", 2900 * 1024 * 1024},
}

// WhisperLocal implements the Provider interface using the whisper.cpp CLI.
type WhisperLocal struct {
	modelSize string
	modelFile string
	modelPath string
	modelURL  string
	binPath   string
	http      *http.Client

	mu    sync.RWMutex
	ready bool
}

// WhisperLocalConfig holds configuration for WhisperLocal.
type WhisperLocalConfig struct {
	ModelSize    string // "tiny", "base", "small", "medium", "large"
	ModelDir     string // Directory to store models
	BinPath      string // Path to whisper.cpp binary, searched when empty
	ModelBaseURL string // Where model files are downloaded from
	HTTPClient   *http.Client
}

// NewWhisperLocal creates a new WhisperLocal provider.
func NewWhisperLocal(cfg WhisperLocalConfig) (*WhisperLocal, error) {
	if cfg.ModelSize == "" {
		cfg.ModelSize = "base"
	}
	info, ok := modelSizes[cfg.ModelSize]
	if !ok {
		return nil, fmt.Errorf("invalid model size: %s", cfg.ModelSize)
	}

	if cfg.ModelDir == "" {
		cacheDir, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("get cache dir: %w", err)
		}
		cfg.ModelDir = filepath.Join(cacheDir, "transcast", "models")
	}
	if cfg.ModelBaseURL == "" {
		cfg.ModelBaseURL = defaultModelBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}

	w := &WhisperLocal{
		modelSize: cfg.ModelSize,
		modelFile: info.File,
		modelPath: filepath.Join(cfg.ModelDir, info.File),
		modelURL:  strings.TrimSuffix(cfg.ModelBaseURL, "/") + "/" + info.File,
		binPath:   cfg.BinPath,
		http:      cfg.HTTPClient,
	}
	if w.binPath == "" {
		w.binPath = findWhisperBinary()
	}
	return w, nil
}

func (w *WhisperLocal) Name() string { return "whisper-local" }
func (w *WhisperLocal) DisplayName() string {
	return fmt.Sprintf("Whisper Local (%s)", w.modelSize)
}
func (w *WhisperLocal) IsLocal() bool { return true }

// Check fails when no whisper.cpp binary is installed.
func (w *WhisperLocal) Check() error {
	if w.binPath == "" {
		return fmt.Errorf("%w: whisper.cpp binary not found", inference.ErrUnsupported)
	}
	if _, err := os.Stat(w.binPath); err != nil {
		return fmt.Errorf("%w: whisper.cpp binary: %v", inference.ErrUnsupported, err)
	}
	return nil
}

// IsReady reports whether the model file is present.
func (w *WhisperLocal) IsReady() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.ready
}

// Setup downloads the model file unless it is already present.
func (w *WhisperLocal) Setup(ctx context.Context, progress func(inference.Event)) error {
	if progress == nil {
		progress = func(inference.Event) {}
	}

	if w.IsReady() {
		return nil
	}
	if _, err := os.Stat(w.modelPath); err == nil {
		w.setReady()
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(w.modelPath), 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}

	progress(inference.InitiateEvent{File: w.modelFile})
	if err := w.downloadModel(ctx, progress); err != nil {
		return fmt.Errorf("download model: %w", err)
	}
	progress(inference.DoneEvent{File: w.modelFile})

	w.setReady()
	return nil
}

func (w *WhisperLocal) setReady() {
	w.mu.Lock()
	w.ready = true
	w.mu.Unlock()
}

func (w *WhisperLocal) downloadModel(ctx context.Context, progress func(inference.Event)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.modelURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := w.http.Do(req)
	if err != nil {
		return fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http status: %d", resp.StatusCode)
	}

	total := resp.ContentLength
	if total <= 0 {
		total = modelSizes[w.modelSize].Size
	}

	tmpPath := w.modelPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		f.Close()
		os.Remove(tmpPath) // no-op after rename
	}()

	var (
		loaded int64
		last   int
	)
	buf := make([]byte, 32*1024)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return fmt.Errorf("write file: %w", werr)
			}
			loaded += int64(n)

			pct := int(loaded * 100 / total)
			if pct > last || loaded == total {
				last = pct
				progress(inference.ProgressEvent{
					File:     w.modelFile,
					Progress: float64(min(pct, 100)),
					Loaded:   loaded,
					Total:    total,
				})
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmpPath, w.modelPath); err != nil {
		return fmt.Errorf("rename file: %w", err)
	}
	return nil
}

// Transcribe writes the samples to a temporary WAV file and runs whisper.cpp
// on it.
func (w *WhisperLocal) Transcribe(ctx context.Context, samples []float32, language string) (*TranscribeResult, error) {
	if !w.IsReady() {
		return nil, ErrNotReady
	}
	if err := w.Check(); err != nil {
		return nil, err
	}

	tmpDir, err := os.MkdirTemp("", "transcast-whisper-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	audioPath := filepath.Join(tmpDir, "audio.wav")
	if err := os.WriteFile(audioPath, audio.EncodeWAV(samples, SampleRate), 0o644); err != nil {
		return nil, fmt.Errorf("write audio file: %w", err)
	}

	outBase := filepath.Join(tmpDir, "out")
	args := []string{
		"-m", w.modelPath,
		"-f", audioPath,
		"-oj", "-of", outBase,
		"-np",
	}
	if language == "" {
		language = "auto"
	}
	args = append(args, "-l", language)

	cmd := exec.CommandContext(ctx, w.binPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("whisper.cpp failed: %w, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}

	data, err := os.ReadFile(outBase + ".json")
	if err != nil {
		// Older builds print the transcript instead of writing JSON.
		return &TranscribeResult{Text: stdout.String(), Language: language}, nil
	}
	return parseWhisperCppOutput(data)
}

func parseWhisperCppOutput(data []byte) (*TranscribeResult, error) {
	var out whisperCppOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse whisper.cpp output: %w", err)
	}

	var text strings.Builder
	result := &TranscribeResult{
		Language: out.Result.Language,
		Segments: make([]Segment, 0, len(out.Transcription)),
	}
	for _, seg := range out.Transcription {
		text.WriteString(seg.Text)
		result.Segments = append(result.Segments, Segment{
			Text:  seg.Text,
			Start: time.Duration(seg.Offsets.From) * time.Millisecond,
			End:   time.Duration(seg.Offsets.To) * time.Millisecond,
		})
	}
	result.Text = text.String()
	return result, nil
}

func findWhisperBinary() string {
	// whisper-cli is the Homebrew name
	names := []string{"whisper-cli", "whisper-cpp", "whisper"}

	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	homeDir, _ := os.UserHomeDir()
	locations := []string{
		"/opt/homebrew/bin",
		"/usr/local/bin",
		filepath.Join(homeDir, ".local", "bin"),
		filepath.Join(homeDir, "whisper.cpp", "build", "bin"),
	}
	for _, loc := range locations {
		for _, name := range names {
			path := filepath.Join(loc, name)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

func (w *WhisperLocal) Close() error {
	return nil
}

// whisperCppOutput represents the JSON output from whisper.cpp. Offsets are
// in milliseconds.
type whisperCppOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Text    string `json:"text"`
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
	} `json:"transcription"`
}
