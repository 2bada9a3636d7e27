package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gilchrisn/domino/pkg/api"
)

var (
	serveAddr    string
	serveOrigins []string
	serveLimits  = api.DefaultLimits()

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve community detection over HTTP",
		RunE:  runServe,
	}
)

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveAddr, "addr", ":8080", "listen address")
	f.StringSliceVar(&serveOrigins, "origins", nil, "allowed CORS origins (default any)")
	f.IntVar(&serveLimits.MaxNodes, "max-nodes", serveLimits.MaxNodes, "largest graph accepted")
	f.DurationVar(&serveLimits.RunTimeout, "timeout", serveLimits.RunTimeout, "time limit per detection")
}

func runServe(cmd *cobra.Command, args []string) error {
	handlers := api.NewHandlers(cfg.Options(), serveLimits, logger)
	server := &http.Server{
		Addr:         serveAddr,
		Handler:      api.NewHandler(handlers, serveOrigins, logger),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: serveLimits.RunTimeout + 30*time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info().Str("address", serveAddr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errc:
		return err
	case <-quit:
	}

	logger.Info().Msg("Shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return err
	}
	logger.Info().Msg("Server exited")
	return nil
}
