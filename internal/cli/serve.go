package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/R3E-Network/loyalty_layer/internal/app"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the loyalty HTTP API and the expiry sweeper",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, rootOpts, cmd)
		},
	}
}

func runServe(ctx context.Context, opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	log, err := opts.logger(cfg, cmd, false)
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return NewExitError(ExitCommandError, "JWT_SECRET is required to serve the API")
	}

	application, err := app.Open(ctx, cfg, log)
	if err != nil {
		return WrapExitError(ExitCommandError, "initialise application", err)
	}
	defer func() {
		if err := application.Close(); err != nil {
			log.WithError(err).Warn("close application")
		}
	}()

	srv, err := application.EnableHTTP()
	if err != nil {
		return WrapExitError(ExitCommandError, "configure http server", err)
	}
	if err := application.Start(ctx); err != nil {
		return WrapExitError(ExitCommandError, "start services", err)
	}

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case serveErr = <-srv.Done():
		if serveErr != nil {
			log.WithError(serveErr).Error("http server failed")
		}
	}

	// The signal context is already cancelled; shutdown gets its own budget.
	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := application.Stop(stopCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown incomplete")
	}
	if serveErr != nil {
		return WrapExitError(ExitFailure, "http server", serveErr)
	}
	return nil
}
