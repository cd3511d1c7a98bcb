package cmd

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/eventduniya/authsession/internal/config"
	"github.com/eventduniya/authsession/internal/observability/logger"
	"github.com/eventduniya/authsession/internal/observability/metrics"
	"github.com/eventduniya/authsession/internal/observability/tracing"
)

var (
	apiURL        string
	refreshCookie string

	cfg       *config.Config
	logCloser io.Closer
	tracer    *tracing.Tracer
	meter     *metrics.Meter
)

var rootCmd = &cobra.Command{
	Use:   "authsession",
	Short: "Keeps an EventDuniya authentication session alive",
	Long: `authsession restores, renews and ends EventDuniya authentication sessions.
The access token is held in memory and renewed shortly before it expires;
the refresh credential travels as a cookie.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		if apiURL != "" {
			loaded.API.BaseURL = apiURL
			if err := loaded.Validate(); err != nil {
				return err
			}
		}
		cfg = loaded

		logCloser = logger.InitLogger(logger.Config{
			Level:       cfg.Observability.LogLevel,
			Format:      cfg.Observability.LogFormat,
			ServiceName: cfg.Observability.ServiceName,
			File:        cfg.Observability.LogFile,
			MaxSizeMB:   cfg.Observability.LogMaxSizeMB,
			MaxBackups:  cfg.Observability.LogMaxBackups,
			MaxAgeDays:  cfg.Observability.LogMaxAgeDays,
		})

		tracer, err = tracing.New(cmd.Context(), tracing.Config{
			Enabled:        cfg.Observability.OTELEnabled,
			ServiceName:    cfg.Observability.ServiceName,
			ServiceVersion: cfg.Observability.ServiceVersion,
			SamplingRate:   cfg.Observability.SamplingRate,
			Endpoint:       cfg.Observability.OTELEndpoint,
		})
		if err != nil {
			slog.Error("failed to initialize tracer, continuing without", logger.Error(err))
			tracer, _ = tracing.New(cmd.Context(), tracing.Config{ServiceName: cfg.Observability.ServiceName})
		}

		meter, err = metrics.New(cmd.Context(), metrics.Config{
			Enabled:        cfg.Observability.OTELEnabled,
			ServiceVersion: cfg.Observability.ServiceVersion,
			Endpoint:       cfg.Observability.MetricsEndpoint,
			Interval:       cfg.Observability.MetricsInterval,
		}, cfg.Observability.ServiceName)
		if err != nil {
			slog.Error("failed to initialize metrics, continuing without", logger.Error(err))
			meter, _ = metrics.New(cmd.Context(), metrics.Config{}, cfg.Observability.ServiceName)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := tracer.Shutdown(ctx); err != nil {
			slog.Warn("tracer shutdown failed", logger.Error(err))
		}
		if err := meter.Shutdown(ctx); err != nil {
			slog.Warn("meter shutdown failed", logger.Error(err))
		}
		return logCloser.Close()
	},
}

// Execute runs the CLI. SIGINT and SIGTERM cancel the command context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "Authentication service base URL (overrides AUTH_API_URL)")
	rootCmd.PersistentFlags().StringVar(&refreshCookie, "refresh-cookie", "", "Refresh credential to resume a session obtained elsewhere")
}
