// Package http provides a webhook Adapter accepting occupancy state changes
// as JSON POST bodies.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"hometopology/internal/logging"
	"hometopology/internal/source"
)

// Config holds webhook adapter configuration.
type Config struct {
	// Addr is the address to listen on (e.g. ":8090").
	Addr string

	// Registry resolves a stable source id for events that carry an
	// entity_id but no explicit source_id. Optional.
	Registry *source.Registry

	Logger *slog.Logger
}

// eventRequest is the webhook body shape: POST /events.
type eventRequest struct {
	LocationID     string `json:"location_id"`
	EntityID       string `json:"entity_id"`
	SourceID       string `json:"source_id"`
	State          bool   `json:"state"`
	TimeoutSeconds *int   `json:"timeout_seconds"`
}

// Adapter is a webhook receiver that translates POST /events bodies into
// Trigger/Clear calls. Mirrors the shape of a Loki-push-style log ingester:
// a small standalone HTTP server owning its own listener lifecycle.
type Adapter struct {
	cfg      Config
	listener net.Listener
	server   *http.Server
	logger   *slog.Logger
}

// New creates a webhook Adapter.
func New(cfg Config) *Adapter {
	return &Adapter{
		cfg:    cfg,
		logger: logging.Default(cfg.Logger).With("component", "source", "type", "http"),
	}
}

var _ source.Adapter = (*Adapter)(nil)

// Run starts the HTTP server and blocks until ctx is cancelled.
func (a *Adapter) Run(ctx context.Context, sink source.Sink) error {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /events", func(w http.ResponseWriter, req *http.Request) {
		a.handleEvent(w, req, sink)
	})
	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	a.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var err error
	a.listener, err = net.Listen("tcp", a.cfg.Addr)
	if err != nil {
		return err
	}

	a.logger.Info("http source adapter starting", "addr", a.listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Serve(a.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("http source adapter stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

// Addr returns the listener address. Only valid after Run has started.
func (a *Adapter) Addr() net.Addr {
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

func (a *Adapter) handleEvent(w http.ResponseWriter, req *http.Request, sink source.Sink) {
	data, err := readBody(req.Body, req.Header.Get("Content-Encoding"), 1<<20)
	if err != nil {
		http.Error(w, "failed to read body: "+err.Error(), http.StatusBadRequest)
		return
	}

	var ev eventRequest
	if err := json.Unmarshal(data, &ev); err != nil {
		a.logger.Warn("failed to parse event", "error", err)
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if ev.SourceID == "" && ev.EntityID != "" && a.cfg.Registry != nil {
		ev.SourceID = a.cfg.Registry.Resolve(map[string]string{
			"protocol":  "http",
			"entity_id": ev.EntityID,
		})
	}
	if ev.LocationID == "" || ev.SourceID == "" {
		http.Error(w, "location_id and source_id are required (or entity_id with a registry configured)", http.StatusBadRequest)
		return
	}

	now := time.Now()
	if ev.State {
		var timeout *time.Duration
		if ev.TimeoutSeconds != nil {
			d := time.Duration(*ev.TimeoutSeconds) * time.Second
			timeout = &d
		}
		err = sink.Trigger(ev.LocationID, ev.SourceID, timeout, now)
	} else {
		err = sink.Clear(ev.LocationID, ev.SourceID, nil, now)
	}
	if err != nil {
		a.logger.Warn("event translation failed", "location_id", ev.LocationID, "source_id", ev.SourceID, "error", err)
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
