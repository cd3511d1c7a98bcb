package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/eventduniya/authsession/internal/audit"
	"github.com/eventduniya/authsession/internal/devauth"
	"github.com/eventduniya/authsession/internal/observability/logger"
)

var (
	devHost string
	devPort string
)

var devserverCmd = &cobra.Command{
	Use:   "devserver",
	Short: "Run the in-memory stub authentication service",
	Long: `Run a local stand-in for the authentication service. Accounts and
refresh credentials live in memory and vanish on exit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		devCfg := cfg.DevServer
		if devHost != "" {
			devCfg.Host = devHost
		}
		if devPort != "" {
			devCfg.Port = devPort
		}

		backend := devauth.New(devCfg,
			devauth.WithAuditLogger(audit.NewSlogLogger()),
			devauth.WithLogger(slog.Default()),
		)
		defer backend.Close()

		server := &http.Server{
			Addr:         devCfg.Addr(),
			Handler:      backend.Router(),
			ReadTimeout:  devCfg.ReadTimeout,
			WriteTimeout: devCfg.WriteTimeout,
		}

		done := make(chan error, 1)
		go func() {
			slog.Info("starting devauth server", logger.Component("devserver"), logger.Operation("listen"), slog.String("addr", devCfg.Addr()))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		select {
		case err := <-done:
			return err
		case <-cmd.Context().Done():
		}

		slog.Info("shutting down devauth server")
		ctx, cancel := context.WithTimeout(context.Background(), devCfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		slog.Info("devauth server stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(devserverCmd)
	devserverCmd.Flags().StringVar(&devHost, "host", "", "Listen host (overrides DEVAUTH_HOST)")
	devserverCmd.Flags().StringVarP(&devPort, "port", "p", "", "Listen port (overrides DEVAUTH_PORT)")
}
