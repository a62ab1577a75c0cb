// redlined is the redline server daemon. It fronts the remote correction
// provider with a rate limiter and a recent-query cache, persists per-user
// ignore rules in SQLite, and serves the HTTP JSON API plus the websocket
// editor-session endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	btclogv1 "github.com/btcsuite/btclog"
	btclog "github.com/btcsuite/btclog/v2"
	"github.com/joho/godotenv"
	"github.com/quillworks/redline/internal/build"
	"github.com/quillworks/redline/internal/db"
	"github.com/quillworks/redline/internal/guard"
	"github.com/quillworks/redline/internal/provider"
	"github.com/quillworks/redline/internal/web"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "redlined: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		addr   = flag.String("addr", ":8433", "HTTP listen address")
		dbPath = flag.String("db", "",
			"Path to the SQLite database (default ~/.redline/"+
				"redlined.db)")
		logDir   = flag.String("logdir", defaultLogDir(),
			"Directory for rotated log files")
		cacheDir = flag.String("cachedir", defaultCacheDir(),
			"Directory for per-user session result caches "+
				"(empty disables persistence)")
		logLevel = flag.String("loglevel", "info",
			"Log level (trace|debug|info|warn|error)")
		envFile = flag.String("env", "",
			"Optional .env file with provider and auth secrets")
	)
	flag.Parse()

	if *dbPath == "" {
		resolved, err := db.DefaultDBPath()
		if err != nil {
			return err
		}
		*dbPath = resolved
	}

	// Secrets come from the environment: REDLINE_PROVIDER_URL,
	// REDLINE_PROVIDER_KEY, REDLINE_AUTH_SECRET. An explicit -env file
	// must load; the implicit ./.env is best effort.
	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			return fmt.Errorf("failed to load env file %s: %w",
				*envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	providerURL := os.Getenv("REDLINE_PROVIDER_URL")
	providerKey := os.Getenv("REDLINE_PROVIDER_KEY")
	authSecret := os.Getenv("REDLINE_AUTH_SECRET")
	if providerURL == "" {
		return errors.New("REDLINE_PROVIDER_URL is not set")
	}
	if authSecret == "" {
		return errors.New("REDLINE_AUTH_SECRET is not set")
	}

	// Fan logs out to the console and the rotating file.
	logWriter := build.NewRotatingLogWriter()
	rotatorCfg := build.DefaultLogRotatorConfig()
	rotatorCfg.LogDir = *logDir
	if err := logWriter.InitLogRotator(rotatorCfg); err != nil {
		return fmt.Errorf("failed to init log rotator: %w", err)
	}
	defer logWriter.Close()

	handler := build.NewFanoutHandler(
		btclog.NewDefaultHandler(os.Stdout),
		btclog.NewDefaultHandler(logWriter),
	)
	level, ok := btclogv1.LevelFromString(*logLevel)
	if !ok {
		return fmt.Errorf("unknown log level %q", *logLevel)
	}
	handler.SetLevel(level)

	log := btclog.NewSLogger(handler.SubSystem("RLND"))
	log.Infof("redlined starting, db=%s", *dbPath)

	rules, err := db.Open(
		*dbPath, btclog.NewSLogger(handler.SubSystem("RLDB")),
	)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer rules.Close()

	providerClient := provider.NewClient(&provider.Config{
		BaseURL: providerURL,
		APIKey:  providerKey,
		Logger:  btclog.NewSLogger(handler.SubSystem("PROV")),
	})

	guardSvc := guard.NewService(&guard.ServiceConfig{
		Upstream: providerClient,
		Logger:   btclog.NewSLogger(handler.SubSystem("GARD")),
	})

	webServer, err := web.NewServer(&web.Config{
		Addr:       *addr,
		Guard:      guardSvc,
		Rules:      rules,
		Feedback:   providerClient,
		AuthSecret: []byte(authSecret),
		CacheDir:   *cacheDir,
		Logger:     btclog.NewSLogger(handler.SubSystem("WEBS")),
	})
	if err != nil {
		return fmt.Errorf("failed to create web server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Infof("Shutdown signal received")
		cancel()
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := webServer.Start(); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {

			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		if err := webServer.Shutdown(context.Background()); err != nil {
			log.Warnf("Web server shutdown: %v", err)
		}

	case err := <-errCh:
		return fmt.Errorf("web server failed: %w", err)
	}

	log.Infof("redlined stopped")

	return nil
}

// defaultLogDir is ~/.redline/logs, falling back to the working directory
// when the home directory cannot be determined.
func defaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "logs"
	}

	return filepath.Join(home, ".redline", "logs")
}

// defaultCacheDir is ~/.redline/cache, falling back to memory-only session
// caches when the home directory cannot be determined.
func defaultCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".redline", "cache")
}
