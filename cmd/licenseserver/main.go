package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"opencdm/internal/app"
	"opencdm/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "yaml config file")
	addr := flag.String("addr", "", "listen address (overrides config)")
	flag.Parse()

	cfg := app.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = app.LoadConfig(*configPath); err != nil {
			log.WithError(err).Fatal("failed to read config")
		}
	}
	if *addr != "" {
		cfg.Server.Address = *addr
	}

	logger, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		log.WithError(err).Fatal("failed to build logger")
	}
	srv, err := app.NewLicenseServer(cfg.Server, logger)
	if err != nil {
		logger.WithError(err).Fatal("bad server config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdown)
	}()

	logger.WithFields(log.Fields{"addr": srv.Addr, "keys": len(cfg.Server.Keys)}).Info("license server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Fatal("license server failed")
	}
}
