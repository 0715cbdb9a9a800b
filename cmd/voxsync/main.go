package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"voxsync/internal/config"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile     string
	transport   string
	model       string
	logLevel    string
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   "voxsync",
	Short: "Terminal client for realtime voice conversations",
	Long: `voxsync talks to the OpenAI Realtime API and keeps the user's
transcription and the assistant's response in one ordered timeline.

Configuration is read from --config, $VOXSYNC_CONFIG or
$HOME/.config/voxsync/config.yaml, then VOXSYNC_* environment variables.
OPENAI_API_KEY is used when no key is configured.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "voxsync", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/voxsync/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&transport, "transport", "", "transport to use: webrtc or websocket")
	rootCmd.PersistentFlags().StringVar(&model, "model", "", "realtime model")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: trace, debug, info, warn, error, disabled")

	chatCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9464")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	overrides := map[string]any{}
	if transport != "" {
		overrides["openai.transport"] = transport
	}
	if model != "" {
		overrides["openai.model"] = model
	}
	if logLevel != "" {
		overrides["log.level"] = logLevel
	}
	cfg, err := config.LoadWith(config.Options{File: cfgFile, Overrides: overrides})
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// serveMetrics exposes the default Prometheus registry until the returned
// server is shut down.
func serveMetrics(addr string, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
	logger.Info().Str("addr", addr).Msg("serving metrics")
	return srv
}
