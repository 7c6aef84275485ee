package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/osbits/winfleet/internal/location"
	"github.com/osbits/winfleet/internal/storage"
)

type locationPayload struct {
	Name    string `json:"name"`
	StartIP string `json:"startIp"`
	EndIP   string `json:"endIp"`
}

type locationResponse struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	StartIP string `json:"startIp"`
	EndIP   string `json:"endIp"`
}

func locationToResponse(l storage.LocationDefinition) locationResponse {
	return locationResponse{ID: l.ID, Name: l.Name, StartIP: l.StartIP, EndIP: l.EndIP}
}

func (a *App) handleListLocations(w http.ResponseWriter, r *http.Request) {
	locations, err := a.store.ListLocations(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	out := make([]locationResponse, 0, len(locations))
	for _, l := range locations {
		out = append(out, locationToResponse(l))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *App) handleCreateLocation(w http.ResponseWriter, r *http.Request) {
	var payload locationPayload
	if err := readJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.validateLocation(r, payload, ""); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	l, err := a.store.CreateLocation(r.Context(), payload.Name, payload.StartIP, payload.EndIP)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	a.recomputeAfterLocationWrite(r)
	writeJSON(w, http.StatusCreated, locationToResponse(*l))
}

func (a *App) handleUpdateLocation(w http.ResponseWriter, r *http.Request) {
	var payload locationPayload
	if err := readJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := chi.URLParam(r, "locationID")
	if err := a.validateLocation(r, payload, id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	l, err := a.store.UpdateLocation(r.Context(), id, payload.Name, payload.StartIP, payload.EndIP)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	a.recomputeAfterLocationWrite(r)
	writeJSON(w, http.StatusOK, locationToResponse(*l))
}

func (a *App) handleDeleteLocation(w http.ResponseWriter, r *http.Request) {
	if err := a.store.DeleteLocation(r.Context(), chi.URLParam(r, "locationID")); err != nil {
		writeStoreError(w, err)
		return
	}
	a.recomputeAfterLocationWrite(r)
	w.WriteHeader(http.StatusNoContent)
}

// validateLocation enforces the write-side invariants: a name, a valid
// ordered IPv4 range, and no overlap with other stored ranges. The matcher
// itself tolerates overlap; rejecting it here keeps assignments predictable.
func (a *App) validateLocation(r *http.Request, payload locationPayload, selfID string) error {
	if strings.TrimSpace(payload.Name) == "" {
		return fmt.Errorf("name is required")
	}
	start, ok := location.IPv4ToInt(payload.StartIP)
	if !ok {
		return fmt.Errorf("startIp %q is not a valid IPv4 address", payload.StartIP)
	}
	end, ok := location.IPv4ToInt(payload.EndIP)
	if !ok {
		return fmt.Errorf("endIp %q is not a valid IPv4 address", payload.EndIP)
	}
	if start > end {
		return fmt.Errorf("startIp must not exceed endIp")
	}

	existing, err := a.store.LocationsForMatching(r.Context())
	if err != nil {
		return fmt.Errorf("load existing ranges: %w", err)
	}
	for _, other := range existing {
		if other.ID == selfID {
			continue
		}
		if start <= other.EndIPInt && end >= other.StartIPInt {
			return fmt.Errorf("range overlaps location %q (%s)", other.Name, other.ID)
		}
	}
	return nil
}

func (a *App) recomputeAfterLocationWrite(r *http.Request) {
	updated, total, err := a.recomputer.RecomputeAll(r.Context())
	if err != nil {
		a.logger.Warn("location recompute failed", "error", err)
		return
	}
	a.logger.Info("locations recomputed", "updated", updated, "total", total)
}
