package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"go.aimuz.me/transcast/broadcast"
	"go.aimuz.me/transcast/capture"
	"go.aimuz.me/transcast/config"
	"go.aimuz.me/transcast/internal/app"
	"go.aimuz.me/transcast/internal/metrics"
	"go.aimuz.me/transcast/internal/types"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	cfg     *config.Config
	logger  *slog.Logger
	mets    *metrics.Metrics
	promReg = prometheus.NewRegistry()
)

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to the config file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("metrics-addr", "", "Serve Prometheus metrics on this address")

	broadcastCmd.Flags().String("channel", "", "Channel id, generated when empty")
	broadcastCmd.Flags().String("language", "", "Source language code, detected when empty")
	broadcastCmd.Flags().String("format", "", "Capture format (pcm16, ogg-opus)")
	broadcastCmd.Flags().Bool("stdin", false, "Read captured audio from stdin")

	listenCmd.Flags().String("target", "", "Target language code")

	hubCmd.Flags().String("addr", "", "Listen address")

	credentialsAddCmd.Flags().String("name", "", "Display name")
	credentialsAddCmd.Flags().String("type", "openai", "Credential type (openai, openai-compatible)")
	credentialsAddCmd.Flags().String("base-url", "", "API base URL for openai-compatible servers")
	credentialsAddCmd.Flags().String("api-key", "", "API key")
	credentialsCmd.AddCommand(credentialsAddCmd, credentialsListCmd, credentialsRemoveCmd)

	rootCmd.AddCommand(broadcastCmd, listenCmd, hubCmd, providersCmd, credentialsCmd)
}

var rootCmd = &cobra.Command{
	Use:           "transcast",
	Short:         "Live captions broadcast to translating listeners",
	Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, _ := cmd.Flags().GetString("log-level")
		var l slog.Level
		if err := l.UnmarshalText([]byte(level)); err != nil {
			return fmt.Errorf("parse log level: %w", err)
		}
		logger = slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			Level:      l,
			TimeFormat: time.Kitchen,
		}))
		slog.SetDefault(logger)

		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("load .env", "error", err)
		}

		path, _ := cmd.Flags().GetString("config")
		var err error
		if path != "" {
			cfg, err = config.LoadFrom(path)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		mets = metrics.New(promReg)
		if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
			go serveMetrics(addr)
		}
		return nil
	},
}

var broadcastCmd = &cobra.Command{
	Use:   "broadcast",
	Short: "Capture the microphone and publish transcripts on a channel",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		channel, _ := cmd.Flags().GetString("channel")
		if language, _ := cmd.Flags().GetString("language"); language != "" {
			cfg.Speech.Language = language
		}
		if format, _ := cmd.Flags().GetString("format"); format != "" {
			cfg.Audio.Format = format
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		opts := []app.Option{app.WithLogger(logger), app.WithMetrics(mets)}
		if stdin, _ := cmd.Flags().GetBool("stdin"); stdin {
			opts = append(opts, app.WithDevice(capture.NewReaderDevice(os.Stdin)))
		}
		svc := app.New(cfg, printEvent, opts...)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// SIGHUP restarts the capture device without leaving the channel.
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-hup:
					if svc.ResetCapture() {
						logger.Info("capture reset")
					}
				}
			}
		}()

		return svc.Broadcast(ctx, channel)
	},
}

var listenCmd = &cobra.Command{
	Use:   "listen <channel>",
	Short: "Subscribe to a channel and translate its transcripts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, _ := cmd.Flags().GetString("target")
		if target == "" {
			target = cfg.Translation.TargetLanguage
		}

		svc := app.New(cfg, printEvent, app.WithLogger(logger), app.WithMetrics(mets))

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return svc.Listen(ctx, args[0], target)
	},
}

var hubCmd = &cobra.Command{
	Use:   "hub",
	Short: "Run the WebSocket hub that relays channel messages",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = cfg.Broadcast.ListenAddr
		}

		hub := broadcast.NewHub(logger.With("component", "hub"), mets)
		defer hub.Close()

		mux := http.NewServeMux()
		mux.Handle("GET /channels/{id}", hub)
		mux.Handle("GET /metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{"status": "ok", "clients": hub.Clients()})
		})

		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errc := make(chan error, 1)
		go func() {
			logger.Info("hub listening", "addr", addr)
			errc <- srv.ListenAndServe()
		}()

		select {
		case err := <-errc:
			return fmt.Errorf("serve hub: %w", err)
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("shutdown hub: %w", err)
		}
		return nil
	},
}

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List speech providers and whether they can run here",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := app.New(cfg, nil, app.WithLogger(logger))
		for _, p := range svc.Providers() {
			fmt.Printf("%-14s %-28s local=%-5t supported=%t\n", p.Name, p.DisplayName, p.IsLocal, p.Supported)
		}
		return nil
	},
}

var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Manage API credentials",
}

var credentialsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a credential",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var cred config.Credential
		cred.Name, _ = cmd.Flags().GetString("name")
		cred.Type, _ = cmd.Flags().GetString("type")
		cred.BaseURL, _ = cmd.Flags().GetString("base-url")
		cred.APIKey, _ = cmd.Flags().GetString("api-key")
		if cred.APIKey == "" {
			cred.APIKey = os.Getenv(config.EnvAPIKey)
		}

		id, err := cfg.AddCredential(cred)
		if err != nil {
			return err
		}
		if err := cfg.Save(); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Println(id)
		return nil
	},
}

var credentialsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List credentials",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		for _, c := range cfg.Credentials {
			fmt.Printf("%s  %-20s %-18s %s\n", c.ID, c.Name, c.Type, c.BaseURL)
		}
	},
}

var credentialsRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a credential that is not in use",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.RemoveCredential(args[0]); err != nil {
			return err
		}
		return cfg.Save()
	},
}

// printEvent writes pipeline events to stdout. State changes only go to the
// debug log.
func printEvent(name string, data any) {
	switch name {
	case app.EventChannel:
		fmt.Printf("channel: %v\n", data)
	case app.EventTranscript:
		if ev, ok := data.(types.TranscriptEvent); ok && ev.Text != "" {
			fmt.Printf("[%s] %s\n", ev.SourceLanguage, ev.Text)
		}
	case app.EventTranslation:
		ev, ok := data.(app.Translation)
		if !ok || ev.Partial {
			return
		}
		mark := ""
		if ev.Stale {
			mark = " (stale)"
		}
		fmt.Printf("[%s]%s %s\n", ev.TargetLanguage, mark, ev.Text)
	case app.EventNotice:
		if n, ok := data.(app.Notice); ok {
			logger.Warn("notice", "kind", n.Kind, "message", n.Message, "fatal", n.Fatal)
		}
	case app.EventState:
		if s, ok := data.(types.Snapshot); ok {
			logger.Debug("state", "phase", s.Phase, "recorder", s.RecorderState, "tokens_per_second", s.TokensPerSecond)
		}
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	logger.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("serve metrics", "error", err)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		msg := err.Error()
		if logger != nil {
			logger.Error("exit", "error", msg)
		} else {
			fmt.Fprintln(os.Stderr, strings.TrimSpace(msg))
		}
		os.Exit(1)
	}
}
