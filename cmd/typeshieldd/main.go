// typeshieldd - Behavioural authentication daemon
//
// Serves the typeshield HTTP API: user enrollment with a typing profile,
// login combining a password check with keystroke-rhythm matching, and an
// attempt history endpoint. Configuration is reloaded on change without a
// restart.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"typeshield/internal/config"
	"typeshield/internal/logging"
	"typeshield/internal/metrics"
	"typeshield/internal/server"
	"typeshield/internal/store"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to config file (TOML or YAML)")
		listenAddr = flag.String("listen", "", "listen address override")
		showVer    = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVer {
		fmt.Printf("typeshieldd config-version %d\n", config.Version)
		return
	}

	if err := run(*configPath, *listenAddr); err != nil {
		fmt.Fprintf(os.Stderr, "typeshieldd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, listenAddr string) error {
	cfg, loader, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}
	if listenAddr != "" {
		cfg.Server.ListenAddr = listenAddr
	}

	log, err := buildLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	defer log.Close()
	logging.SetDefault(log)

	st, err := store.Open(cfg.Storage.Path, cfg.BusyTimeout())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	var m *metrics.AuthMetrics
	if cfg.Metrics.Enabled {
		m = metrics.NewAuthMetrics(metrics.NewRegistry("typeshield"))
	}

	srv, err := server.New(cfg, st, log, m)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	// Swap the scorer when the config file changes so threshold and
	// weight adjustments apply without a restart.
	if loader != nil {
		loader.OnChange(func(updated *config.Config) {
			if err := srv.UpdateScorer(updated.Behaviour); err != nil {
				log.Error("apply reloaded config", "err", err)
			}
		})
		loader.OnError(func(err error) {
			log.Error("config reload rejected, keeping previous", "err", err)
		})
		if err := loader.Watch(); err != nil {
			log.Warn("config watch unavailable", "err", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	log.Info("typeshieldd started", "addr", cfg.Server.ListenAddr, "db", cfg.Storage.Path)

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// loadConfig resolves the configuration. Without a path the defaults plus
// environment overrides apply and there is nothing to watch.
func loadConfig(path string) (*config.Config, *config.Loader, error) {
	if path == "" {
		cfg := config.Default()
		cfg.ApplyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
		return cfg, nil, nil
	}

	loader := config.NewLoader(path)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, loader, nil
}

func buildLogger(lc config.LoggingConfig) (*logging.Logger, error) {
	level, err := logging.ParseLevel(lc.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(lc.Format)
	if err != nil {
		return nil, err
	}
	return logging.New(&logging.Config{
		Level:     level,
		Format:    format,
		Output:    lc.Output,
		FilePath:  lc.FilePath,
		Component: "typeshieldd",
	})
}
