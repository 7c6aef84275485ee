// Package api exposes the HTTP management surface: machines, locations,
// check definitions, settings, results and ad-hoc scans.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/osbits/winfleet/internal/location"
	"github.com/osbits/winfleet/internal/probe"
	"github.com/osbits/winfleet/internal/scanauth"
	"github.com/osbits/winfleet/internal/storage"
)

// App wires storage, the probe pipeline and the auth resolver into HTTP
// handlers.
type App struct {
	store      *storage.Store
	pipeline   *probe.Pipeline
	recomputer *location.Recomputer
	resolver   *scanauth.Resolver
	logger     *slog.Logger
}

// New constructs the API application.
func New(store *storage.Store, pipeline *probe.Pipeline, resolver *scanauth.Resolver, logger *slog.Logger) (*App, error) {
	if store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		store:      store,
		pipeline:   pipeline,
		recomputer: location.NewRecomputer(store, logger),
		resolver:   resolver,
		logger:     logger,
	}, nil
}

// Routes returns the HTTP handler tree.
func (a *App) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/healthcheck", a.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Route("/machines", func(r chi.Router) {
			r.Get("/", a.handleListMachines)
			r.Post("/", a.handleCreateMachine)
			r.Get("/{machineID}", a.handleGetMachine)
			r.Put("/{machineID}", a.handleUpdateMachine)
			r.Delete("/{machineID}", a.handleDeleteMachine)
			r.Get("/{machineID}/results", a.handleListResults)
			r.Post("/{machineID}/scan", a.handleScan)
		})
		r.Post("/machines/recompute-locations", a.handleRecomputeAll)
		r.Route("/locations", func(r chi.Router) {
			r.Get("/", a.handleListLocations)
			r.Post("/", a.handleCreateLocation)
			r.Put("/{locationID}", a.handleUpdateLocation)
			r.Delete("/{locationID}", a.handleDeleteLocation)
		})
		r.Route("/checks", func(r chi.Router) {
			r.Get("/", a.handleListChecks)
			r.Post("/", a.handleCreateCheck)
			r.Get("/{checkID}", a.handleGetCheck)
			r.Put("/{checkID}", a.handleUpdateCheck)
			r.Delete("/{checkID}", a.handleDeleteCheck)
		})
		r.Route("/settings", func(r chi.Router) {
			r.Get("/", a.handleGetSettings)
			r.Put("/", a.handlePutSettings)
		})
		r.Get("/audit", a.handleListAudit)
	})
	return r
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if _, err := a.store.GetSettings(r.Context(), []string{scanauth.KeyEnabled}); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": status})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func readJSON(r *http.Request, dest any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeStoreError maps storage errors onto HTTP codes.
func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
