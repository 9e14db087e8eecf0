// Package bridge ties the telemetry components together and runs the HTTP
// service.
package bridge

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/adhole/ftlbridge/internal/bridgehttp"
	"github.com/adhole/ftlbridge/internal/ftllock"
	"github.com/adhole/ftlbridge/internal/ftlmem"
	"github.com/adhole/ftlbridge/internal/ftlsock"
	"github.com/adhole/ftlbridge/internal/history"
	"github.com/adhole/ftlbridge/internal/querydb"
	"github.com/adhole/ftlbridge/internal/setupvars"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// shutdownTimeout bounds the HTTP server's graceful shutdown.
const shutdownTimeout = 5 * time.Second

// Main is the entry point.
func Main() {
	confPath := flag.String("c", "/etc/ftlbridge.yaml", "path to the configuration file")
	flag.Parse()

	conf, err := readConfig(*confPath)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)

		os.Exit(1)
	}

	lvl := slog.LevelInfo
	if conf.Verbose {
		lvl = slog.LevelDebug
	}

	logger := slogutil.New(&slogutil.Config{
		Format:       slogutil.FormatDefault,
		Level:        lvl,
		AddTimestamp: true,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err = run(ctx, logger, conf)
	if err != nil {
		logger.Error("fatal", slogutil.KeyError, err)

		os.Exit(1)
	}
}

// run builds the components and serves until ctx is canceled.
func run(ctx context.Context, logger *slog.Logger, conf *config) (err error) {
	lock := ftllock.New(&ftllock.Config{
		Logger:     logger.With("component", "ftllock"),
		OpenRegion: ftllock.ShmRegionOpener(conf.ShmDir),
	})
	lock.Start()
	defer func() { err = errors.WithDeferred(err, lock.Close()) }()

	var store history.Store
	if conf.DBPath != "" {
		var db *querydb.Store
		db, err = querydb.New(&querydb.Config{
			Logger: logger.With("component", "querydb"),
			Path:   conf.DBPath,
		})
		if err != nil {
			return err
		}
		defer func() { err = errors.WithDeferred(err, db.Close()) }()

		store = db
	}

	confSrc, err := setupvars.New(&setupvars.Config{
		Logger: logger.With("component", "setupvars"),
		Path:   conf.SetupVarsPath,
	})
	if err != nil {
		return err
	}

	watcher, err := setupvars.NewWatcher(logger.With("component", "setupvars"), confSrc)
	if err != nil {
		return err
	}

	err = watcher.Start(ctx)
	if err != nil {
		return err
	}
	defer func() { err = errors.WithDeferred(err, watcher.Shutdown(context.Background())) }()

	engine := history.NewEngine(&history.Config{
		Logger:  logger.With("component", "history"),
		Lock:    lock,
		Memory:  &ftlmem.ShmMemory{Dir: conf.ShmDir},
		Store:   store,
		ConfSrc: confSrc,
	})

	sock := ftlsock.New(&ftlsock.Config{
		Logger: logger.With("component", "ftlsock"),
		Dialer: &ftlsock.SocketDialer{Path: conf.SocketPath},
	})

	handlers := bridgehttp.NewHandlers(logger.With("component", "http"), engine, sock)

	return serve(ctx, logger, conf.ListenAddr, handlers)
}

// serve runs the HTTP server until ctx is canceled.
func serve(
	ctx context.Context,
	logger *slog.Logger,
	addr string,
	handlers *bridgehttp.Handlers,
) (err error) {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		bridgehttp.WriteError(logger, w, struct{}{}, bridgehttp.KeyNotFound, "no such endpoint")
	})

	handlers.Register(func(method, url string, handler http.HandlerFunc) {
		r.Method(method, url, handler)
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "listening", "addr", addr)

		errCh <- srv.ListenAndServe()
	}()

	select {
	case err = <-errCh:
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
		logger.InfoContext(ctx, "shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err = srv.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}

	return nil
}
