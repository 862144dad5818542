// Command parsec-server runs a single parsec authenticated server process:
// it loads configuration from the environment, wires the backend and
// engines via lib/server, and serves HTTP until an interrupt/terminate
// signal arrives.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"

	"github.com/parsec-io/parsec-server/lib/config"
	"github.com/parsec-io/parsec-server/lib/server"
)

func main() {
	if err := run(); err != nil {
		logrus.WithField(trace.Component, "parsec-server").WithError(err).Error("exiting")
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	if cfg.LogJSON {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
	log := logrus.WithField(trace.Component, "parsec-server")

	srv, err := server.New(cfg)
	if err != nil {
		return trace.Wrap(err, "failed to wire parsec-server")
	}
	defer func() {
		if err := srv.Close(); err != nil {
			log.WithError(err).Warn("error closing server resources")
		}
	}()

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("starting parsec-server")
		serveErr <- httpServer.ListenAndServe()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return trace.Wrap(err, "http server exited")
		}
		return nil
	case s := <-sig:
		log.WithField("signal", s.String()).Info("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return trace.Wrap(err, "graceful shutdown failed")
	}
	return nil
}
