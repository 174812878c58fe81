// Package app wires the caption pipelines to configuration, transports and a
// frontend event emitter.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"go.aimuz.me/transcast/audio"
	"go.aimuz.me/transcast/broadcast"
	"go.aimuz.me/transcast/cache"
	"go.aimuz.me/transcast/capture"
	"go.aimuz.me/transcast/config"
	"go.aimuz.me/transcast/inference"
	"go.aimuz.me/transcast/internal/metrics"
	"go.aimuz.me/transcast/internal/types"
	"go.aimuz.me/transcast/lang"
	"go.aimuz.me/transcast/livecaption"
	"go.aimuz.me/transcast/llm"
	"go.aimuz.me/transcast/stt"
	"go.aimuz.me/transcast/translate"
)

// Service builds the pipelines from configuration and forwards their events
// to the frontend.
type Service struct {
	cfg     *config.Config
	emit    func(name string, data any)
	logger  *slog.Logger
	metrics *metrics.Metrics

	transport broadcast.Transport
	device    capture.Device
	provider  stt.Provider
	completer llm.Completer

	live liveSession
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithMetrics sets the metrics.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithTransport replaces the WebSocket transport built from configuration.
func WithTransport(t broadcast.Transport) Option { return func(s *Service) { s.transport = t } }

// WithDevice replaces the capture command from configuration.
func WithDevice(d capture.Device) Option { return func(s *Service) { s.device = d } }

// WithSTTProvider replaces the speech provider from configuration.
func WithSTTProvider(p stt.Provider) Option { return func(s *Service) { s.provider = p } }

// WithCompleter replaces the LLM from configuration.
func WithCompleter(c llm.Completer) Option { return func(s *Service) { s.completer = c } }

// New creates a Service. emit may be nil.
func New(cfg *config.Config, emit func(name string, data any), opts ...Option) *Service {
	s := &Service{cfg: cfg, emit: emit, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if s.emit == nil {
		s.emit = func(string, any) {}
	}
	if s.transport == nil {
		s.transport = &broadcast.WebSocketTransport{URL: cfg.Broadcast.HubURL, Logger: s.logger}
	}
	return s
}

// ─────────────────────────────────────────────────────────────────────────────
// Broadcasting
// ─────────────────────────────────────────────────────────────────────────────

// Broadcast captures, transcribes and publishes transcripts on channelID, or
// on a fresh channel when it is empty. It blocks until ctx is done or the
// pipeline fails.
func (s *Service) Broadcast(ctx context.Context, channelID string) error {
	if channelID == "" {
		channelID = broadcast.NewChannelID()
	}

	ch, err := s.transport.Channel(channelID)
	if err != nil {
		return fmt.Errorf("join channel: %w", err)
	}
	bridge := broadcast.NewBridge(ch, s.logger, s.metrics)
	defer bridge.Close()

	provider, err := s.sttProvider()
	if err != nil {
		return err
	}
	defer provider.Close()

	worker := inference.NewWorker(stt.NewBackend(provider), s.logger)
	defer worker.Close()

	a := s.cfg.Audio
	decoder, err := audio.NewDecoder(audio.Format(a.Format), a.SampleRate, a.SourceRate, a.Channels)
	if err != nil {
		return fmt.Errorf("create decoder: %w", err)
	}

	device := s.device
	if device == nil {
		device = capture.NewProcessDevice(s.captureCommand(), 0, s.logger)
	}

	tr := livecaption.NewTranscriber(device, worker, decoder, livecaption.TranscriberConfig{
		SampleRate:       a.SampleRate,
		MaxSeconds:       a.MaxSeconds,
		RetryDelay:       time.Duration(a.RetryDelayMS) * time.Millisecond,
		Language:         s.cfg.Speech.Language,
		SilenceThreshold: a.SilenceThreshold,
	}, s.logger, s.metrics)

	s.live.setTranscriber(tr, channelID)
	defer s.live.setTranscriber(nil, "")

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		tr.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	s.logger.Info("broadcasting", "channel", channelID, "provider", provider.Name())
	s.emit(EventChannel, channelID)
	tr.StartLoading()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-tr.Events():
			switch ev := ev.(type) {
			case livecaption.TranscriptEvent:
				if ev.Text != "" {
					bridge.Publish(ev.TranscriptEvent)
				}
				s.emit(EventTranscript, ev.TranscriptEvent)
			case livecaption.StateEvent:
				snap := ev.Snapshot
				snap.ChannelID = channelID
				s.emit(EventState, snap)
			case livecaption.Notice:
				s.emit(EventNotice, noticeOf(ev))
				if ev.Kind.Fatal() {
					return fmt.Errorf("%s: %w", ev.Kind, ev.Err)
				}
			}
		}
	}
}

// SetLanguage changes the source language of the running broadcast.
func (s *Service) SetLanguage(language string) bool {
	return s.live.withTranscriber(func(t *livecaption.Transcriber) { t.SetLanguage(language) })
}

// ResetCapture restarts the capture device of the running broadcast.
func (s *Service) ResetCapture() bool {
	return s.live.withTranscriber(func(t *livecaption.Transcriber) { t.ResetCapture() })
}

func (s *Service) sttProvider() (stt.Provider, error) {
	if s.provider != nil {
		return s.provider, nil
	}
	return s.newSTTProvider(s.cfg.Speech.Provider)
}

func (s *Service) newSTTProvider(name string) (stt.Provider, error) {
	sp := s.cfg.Speech
	switch name {
	case config.ProviderWhisperAPI:
		c := stt.WhisperAPIConfig{Model: sp.Model, APIKey: os.Getenv(config.EnvAPIKey)}
		if cred := s.cfg.GetCredential(sp.CredentialID); cred != nil {
			c.APIKey = cred.APIKey
			if cred.Type == "openai-compatible" {
				c.BaseURL = cred.BaseURL
			}
		}
		return stt.NewWhisperAPI(c), nil
	case config.ProviderWhisperLocal:
		p, err := stt.NewWhisperLocal(stt.WhisperLocalConfig{
			ModelSize: sp.ModelSize,
			ModelDir:  sp.ModelDir,
			BinPath:   sp.BinPath,
		})
		if err != nil {
			return nil, fmt.Errorf("create whisper provider: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown speech provider: %s", name)
	}
}

func (s *Service) captureCommand() []string {
	if len(s.cfg.Audio.CaptureCommand) > 0 {
		return s.cfg.Audio.CaptureCommand
	}
	rate := fmt.Sprint(s.cfg.Audio.SourceRate)
	switch runtime.GOOS {
	case "linux":
		return []string{"ffmpeg", "-loglevel", "error", "-f", "pulse", "-i", "default",
			"-ac", "1", "-ar", rate, "-f", "s16le", "-"}
	case "darwin":
		return []string{"ffmpeg", "-loglevel", "error", "-f", "avfoundation", "-i", ":0",
			"-ac", "1", "-ar", rate, "-f", "s16le", "-"}
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Listening
// ─────────────────────────────────────────────────────────────────────────────

// Listen subscribes to channelID and translates every transcript into
// target. It blocks until ctx is done.
func (s *Service) Listen(ctx context.Context, channelID, target string) error {
	if channelID == "" {
		return errors.New("channel id required")
	}
	if target == "" {
		target = s.cfg.Translation.TargetLanguage
	}

	c := s.openCache()
	if c != nil {
		defer c.Close()
	}

	profile := translate.Profile{Model: s.cfg.Translation.Model, SystemPrompt: s.cfg.Translation.SystemPrompt}
	if cred := s.cfg.GetCredential(s.cfg.Translation.CredentialID); cred != nil {
		profile.Name = cred.Name
	}
	worker := inference.NewWorker(translate.NewBackend(translate.New(s.llmCompleter(), c, profile)), s.logger)
	defer worker.Close()

	tr := livecaption.NewTranslator(worker, target,
		livecaption.WithDetector(lang.NewDetector()),
		livecaption.WithTranslatorLogger(s.logger),
		livecaption.WithTranslatorMetrics(s.metrics),
	)
	s.live.setTranslator(tr, channelID)
	defer s.live.setTranslator(nil, "")

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		tr.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	ch, err := s.transport.Channel(channelID)
	if err != nil {
		return fmt.Errorf("join channel: %w", err)
	}
	bridge := broadcast.NewBridge(ch, s.logger, s.metrics)
	defer bridge.Close()

	if _, err := bridge.Subscribe(func(p broadcast.Payload) {
		ev := types.TranscriptEvent{Text: p.Text, SourceLanguage: p.SourceLanguage, Timestamp: p.Timestamp}
		s.emit(EventTranscript, ev)
		tr.HandleTranscript(ev)
	}); err != nil {
		return err
	}

	s.logger.Info("listening", "channel", channelID, "target", target)
	s.emit(EventChannel, channelID)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-tr.Events():
			switch ev := ev.(type) {
			case livecaption.TranslationEvent:
				s.emit(EventTranslation, translationOf(ev))
			case livecaption.StateEvent:
				snap := ev.Snapshot
				snap.ChannelID = channelID
				s.emit(EventState, snap)
			case livecaption.Notice:
				s.emit(EventNotice, noticeOf(ev))
			}
		}
	}
}

// SetTargetLanguage changes the target language of the running listener.
func (s *Service) SetTargetLanguage(language string) bool {
	return s.live.withTranslator(func(t *livecaption.Translator) { t.SetTargetLanguage(language) })
}

// Snapshot returns the state of the running pipelines.
func (s *Service) Snapshot() types.Snapshot {
	return s.live.snapshot()
}

func (s *Service) llmCompleter() llm.Completer {
	if s.completer != nil {
		return s.completer
	}
	opts := llm.Options{
		MaxTokens:   s.cfg.Translation.MaxTokens,
		Temperature: s.cfg.Translation.Temperature,
	}
	cred := s.cfg.GetCredential(s.cfg.Translation.CredentialID)
	if cred == nil {
		if key := os.Getenv(config.EnvAPIKey); key != "" {
			return llm.NewCompleter("openai", key, "", s.cfg.Translation.Model, opts)
		}
		return nil
	}
	return llm.NewCompleter(cred.Type, cred.APIKey, cred.BaseURL, s.cfg.Translation.Model, opts)
}

func (s *Service) openCache() *cache.Cache {
	if !s.cfg.Translation.Cache {
		return nil
	}

	dir := s.cfg.Translation.CacheDir
	if dir == "" {
		cacheDir, err := os.UserCacheDir()
		if err != nil {
			s.logger.Error("get cache dir", "error", err)
			return nil
		}
		dir = filepath.Join(cacheDir, "transcast", "translations")
	}

	c, err := cache.New(dir)
	if err != nil {
		s.logger.Error("init cache", "error", err)
		return nil
	}
	s.logger.Info("cache initialized", "path", dir)
	return c
}

// ─────────────────────────────────────────────────────────────────────────────
// Providers
// ─────────────────────────────────────────────────────────────────────────────

// Providers lists the speech providers and whether they can run here.
func (s *Service) Providers() []types.STTProviderInfo {
	reg := stt.NewRegistry()
	defer reg.Close()

	for _, name := range []string{config.ProviderWhisperLocal, config.ProviderWhisperAPI} {
		p, err := s.newSTTProvider(name)
		if err != nil {
			s.logger.Warn("skip provider", "name", name, "error", err)
			continue
		}
		reg.Register(p)
	}

	var infos []types.STTProviderInfo
	for _, p := range reg.List() {
		infos = append(infos, types.STTProviderInfo{
			Name:        p.Name(),
			DisplayName: p.DisplayName(),
			IsLocal:     p.IsLocal(),
			Supported:   p.Check() == nil,
		})
	}
	return infos
}
