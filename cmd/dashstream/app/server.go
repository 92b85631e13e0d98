package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/beevik/etree"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dashstream/engine/internal/fetch"
	"github.com/dashstream/engine/internal/manifest"
	"github.com/dashstream/engine/internal/model"
	"github.com/dashstream/engine/internal/selection"
	"github.com/dashstream/engine/internal/streaming"
	"github.com/dashstream/engine/pkg/logging"
)

// Server wires a Manifest Model, a Streaming Engine, and the debug/control
// HTTP API around it into one process.
type Server struct {
	Router *chi.Mux
	Cfg    *Config

	mf         *manifest.Manifest
	engine     *streaming.Engine
	playhead   *clockPlayhead
	metrics    *engineMetrics
	httpClient *http.Client

	baseURL string

	mu            sync.Mutex
	liveDoc       *etree.Document
	applyingPatch bool
	recentErrors  []*model.Error
}

// SetupServer builds the Manifest Model and Streaming Engine from cfg and
// wires the control API router around them.
func SetupServer(ctx context.Context, cfg *Config) (*Server, error) {
	client := &http.Client{Timeout: 30 * time.Second}

	mf, liveDoc, err := loadManifest(client, cfg.ManifestURL)
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}

	variant, text, err := pickInitialVariant(mf, selection.Preferences{
		Language: cfg.PreferredLanguage,
		Role:     cfg.PreferredRole,
	})
	if err != nil {
		return nil, fmt.Errorf("select initial variant: %w", err)
	}

	sink := newStdoutSink()
	fetcher := fetch.New(client)
	playhead := newClockPlayhead()
	metrics := newEngineMetrics()

	s := &Server{
		Cfg:        cfg,
		mf:         mf,
		playhead:   playhead,
		metrics:    metrics,
		httpClient: client,
		baseURL:    baseURLOf(cfg.ManifestURL),
		liveDoc:    liveDoc,
	}

	retry := model.DefaultRetryParams()
	if cfg.RetryAttempts > 0 {
		retry.MaxAttempts = cfg.RetryAttempts
	}
	engineCfg := streaming.Config{
		BufferingGoal:       cfg.BufferingGoalS,
		RebufferingGoal:     cfg.RebufferingGoalS,
		BufferBehind:        cfg.BufferBehindS,
		Retry:               retry,
		AbortThresholdBytes: uint64(cfg.AbortThreshold),
		FairBufferSlack:     0.5,
	}

	s.engine = streaming.New(mf, sink, fetcher, playhead, engineCfg, nil, s.onEngineError, s.onManifestUpdate)

	if err := s.engine.SwitchVariant(variant, false, 0); err != nil {
		return nil, fmt.Errorf("switch initial variant: %w", err)
	}
	if text != nil {
		if err := s.engine.LoadNewTextStream(text); err != nil {
			slog.Warn("could not load initial text stream", "err", err)
		}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logging.SlogMiddleware("dashstream"))
	r.Use(middleware.Recoverer)
	r.Use(metrics.middleware)
	r.Use(addVersionAndCORSHeaders)
	s.Router = r

	r.Route("/api", createRouteAPI(s))
	r.MethodFunc("GET", "/healthz", s.healthzHandlerFunc)

	if err := s.engine.Start(ctx); err != nil {
		return nil, fmt.Errorf("start engine: %w", err)
	}

	slog.Info("dashstream engine started", "manifest", cfg.ManifestURL, "port", cfg.Port)
	return s, nil
}

func (s *Server) healthzHandlerFunc(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"ok":true}`))
}

func (s *Server) onEngineError(err *model.Error) {
	s.metrics.engineErrors.WithLabelValues(err.Severity.String(), string(err.Category)).Inc()
	s.mu.Lock()
	s.recentErrors = append(s.recentErrors, err)
	if len(s.recentErrors) > 20 {
		s.recentErrors = s.recentErrors[len(s.recentErrors)-20:]
	}
	s.mu.Unlock()
}

// onManifestUpdate is the engine's emsg manifest-update signal (§4.3). It
// drives the Patch Applier (component D) rather than just logging: fetch
// the MPD's PatchLocation, parse and validate the patch, apply it to the
// live DOM, and merge the reconciled Manifest back into the one the
// engine is already playing against. Runs off the MediaState goroutine
// that observed the emsg, so it is dispatched asynchronously and
// serialised against overlapping refreshes by applyingPatch.
func (s *Server) onManifestUpdate() {
	go s.refreshFromPatch()
}
