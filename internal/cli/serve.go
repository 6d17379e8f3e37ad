package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/murelay/internal/api"
	"github.com/roach88/murelay/internal/sequencer"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen string

	// ready, when set, receives the bound address once listening (for testing).
	ready chan<- string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the relay over HTTP",
		Long: `Start the relay HTTP API.

Inbound messages are sequenced, executed on their compute node, and their
outbox cascades cranked to completion. With the local sequencer its HTTP
surface is mounted under /sequencer.

Example:
  murelay serve --listen :8080 --cache ./murelay.db --nodes ./nodes.yaml
  murelay serve --cache redis://localhost:6379/0 --sequencer https://su.example`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (MURELAY_LISTEN)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	if opts.Listen != "" {
		cfg.ListenAddr = opts.Listen
	}
	setupLogging(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	r, err := openRelay(ctx, cfg, relayOptions{})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start relay", err)
	}
	defer func() {
		if closeErr := r.Close(); closeErr != nil {
			slog.Error("error closing cache", "error", closeErr)
		}
	}()

	router := api.NewRouter(r.proc, r.cranker, r.cache, api.Options{RequestTimeout: cfg.RequestTimeout})
	if r.local != nil {
		router.Mount("/sequencer", sequencer.NewHandler(r.local))
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}

	srv := &http.Server{
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()

	addr := ln.Addr().String()
	slog.Info("relay listening",
		"addr", addr,
		"cache", cfg.CacheName,
		"sequencer", cfg.SequencerURL,
		"nodes", len(r.selector.Nodes()),
	)
	fmt.Fprintf(cmd.OutOrStdout(), "Relay listening on %s\n", addr)
	if opts.ready != nil {
		opts.ready <- addr
	}

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "server error", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "server forced to shutdown", err)
	}

	slog.Info("relay stopped gracefully")
	return nil
}
