package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/osbits/winfleet/internal/checkdef"
)

type checkPayload struct {
	Kind     string         `json:"kind"`
	Name     string         `json:"name"`
	IsActive *bool          `json:"isActive"`
	Params   map[string]any `json:"params"`
}

type checkResponse struct {
	ID       string         `json:"id"`
	Kind     string         `json:"kind"`
	Name     string         `json:"name"`
	IsActive bool           `json:"isActive"`
	Params   map[string]any `json:"params"`
}

func checkToResponse(def checkdef.Definition) checkResponse {
	return checkResponse{
		ID:       def.ID,
		Kind:     string(def.Kind),
		Name:     def.Name,
		IsActive: def.IsActive,
		Params:   def.Params,
	}
}

func (a *App) handleListChecks(w http.ResponseWriter, r *http.Request) {
	var kind checkdef.Kind
	if raw := r.URL.Query().Get("kind"); raw != "" {
		parsed, err := checkdef.ParseKind(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		kind = parsed
	}
	activeOnly := r.URL.Query().Get("active") == "true"

	defs, err := a.store.ListCheckDefinitions(r.Context(), kind, activeOnly)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	out := make([]checkResponse, 0, len(defs))
	for _, def := range defs {
		out = append(out, checkToResponse(def))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *App) handleGetCheck(w http.ResponseWriter, r *http.Request) {
	def, err := a.store.GetCheckDefinition(r.Context(), chi.URLParam(r, "checkID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, checkToResponse(*def))
}

func (a *App) handleCreateCheck(w http.ResponseWriter, r *http.Request) {
	var payload checkPayload
	if err := readJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	kind, err := checkdef.ParseKind(payload.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(payload.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	active := true
	if payload.IsActive != nil {
		active = *payload.IsActive
	}

	def, err := a.store.CreateCheckDefinition(r.Context(), checkdef.Definition{
		Kind:     kind,
		Name:     payload.Name,
		IsActive: active,
		Params:   payload.Params,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, checkToResponse(*def))
}

func (a *App) handleUpdateCheck(w http.ResponseWriter, r *http.Request) {
	var payload checkPayload
	if err := readJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := chi.URLParam(r, "checkID")
	existing, err := a.store.GetCheckDefinition(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	if payload.Name != "" {
		existing.Name = payload.Name
	}
	if payload.IsActive != nil {
		existing.IsActive = *payload.IsActive
	}
	if payload.Params != nil {
		existing.Params = payload.Params
	}

	def, err := a.store.UpdateCheckDefinition(r.Context(), *existing)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, checkToResponse(*def))
}

func (a *App) handleDeleteCheck(w http.ResponseWriter, r *http.Request) {
	if err := a.store.DeleteCheckDefinition(r.Context(), chi.URLParam(r, "checkID")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
