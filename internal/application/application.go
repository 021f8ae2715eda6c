package application

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/requiemdev/requiem/internal/api"
	"github.com/requiemdev/requiem/internal/config"
	"github.com/requiemdev/requiem/internal/store"
)

// App encapsulates the application dependencies and HTTP server.
type App struct {
	store   *store.Store
	handler *api.Handler
	router  http.Handler
	logger  *zap.Logger
	server  *http.Server
	watcher *watcher
}

// New initializes the application with all dependencies from the provided configuration.
func New(cfg config.Config, logger *zap.Logger) (*App, error) {
	s, err := store.Open(cfg.Root, store.Options{
		Digits:            cfg.Digits,
		AllowedKinds:      cfg.AllowedKinds,
		AllowUnrecognised: cfg.AllowUnrecognised,
		Logger:            logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open requirement store: %w", err)
	}

	handler := api.NewHandler(s)
	router := api.NewRouter(handler, logger,
		api.WithLogging(cfg.EnableRequestLogging),
		api.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	)

	return &App{
		store:   s,
		handler: handler,
		router:  router,
		logger:  logger,
		server:  NewServer(cfg, router),
	}, nil
}

// NewServer creates and configures an HTTP server from the provided configuration.
func NewServer(cfg config.Config, handler http.Handler) *http.Server {
	addr := cfg.Port
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}

// Start launches the HTTP server and the directory watcher. The server runs
// in a goroutine; Start returns immediately.
func (a *App) Start() error {
	w, err := newWatcher(a.store, a.logger)
	if err != nil {
		return fmt.Errorf("failed to start directory watcher: %w", err)
	}
	a.watcher = w

	go func() {
		a.logger.Info("server listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("server error", zap.Error(err))
		}
	}()
	return nil
}

// Server returns the HTTP server instance for shutdown handling.
func (a *App) Server() *http.Server {
	return a.server
}

// Store returns the underlying requirement store.
func (a *App) Store() *store.Store {
	return a.store
}

// Close stops the directory watcher.
func (a *App) Close() error {
	if a.watcher == nil {
		return nil
	}
	return a.watcher.Close()
}
