package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/openpane/termhost/internal/config"
	"github.com/openpane/termhost/internal/logging"
	"github.com/openpane/termhost/internal/server"
)

func main() {
	port := flag.String("port", "", "Listen port (overrides PORT)")
	maxSessions := flag.Int("max-sessions", 0, "Session limit (overrides TERMINAL_MAX_SESSIONS)")
	dev := flag.Bool("dev", false, "Development logging")
	flag.Parse()

	cfg := config.LoadOrDefault()
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *maxSessions > 0 {
		cfg.Terminal.MaxSessions = *maxSessions
	}
	if *dev {
		cfg.Logging.Development = true
	}

	log, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		os.Stderr.WriteString("logger init failed: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync()

	srv, err := server.New(cfg, log)
	if err != nil {
		log.Fatal("server init failed", zap.Error(err))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run()
	}()

	select {
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Warn("shutdown incomplete", zap.Error(err))
		}
	case err := <-errCh:
		if err != nil {
			log.Fatal("server error", zap.Error(err))
		}
	}
}
