package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/osbits/winfleet/internal/checkdef"
	"github.com/osbits/winfleet/internal/storage"
)

type machinePayload struct {
	Hostname  string `json:"hostname"`
	IPAddress string `json:"ipAddress"`
}

type machineResponse struct {
	ID         string     `json:"id"`
	Hostname   string     `json:"hostname"`
	IPAddress  string     `json:"ipAddress"`
	LocationID string     `json:"locationId,omitempty"`
	Status     string     `json:"status"`
	PCModel    string     `json:"pcModel,omitempty"`
	LastSeen   *time.Time `json:"lastSeen,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

func machineToResponse(m storage.Machine) machineResponse {
	return machineResponse{
		ID:         m.ID,
		Hostname:   m.Hostname,
		IPAddress:  m.IPAddress,
		LocationID: m.LocationID,
		Status:     m.Status,
		PCModel:    m.PCModel,
		LastSeen:   m.LastSeen,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func (a *App) handleListMachines(w http.ResponseWriter, r *http.Request) {
	machines, err := a.store.ListMachines(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	out := make([]machineResponse, 0, len(machines))
	for _, m := range machines {
		out = append(out, machineToResponse(m))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *App) handleGetMachine(w http.ResponseWriter, r *http.Request) {
	m, err := a.store.GetMachine(r.Context(), chi.URLParam(r, "machineID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, machineToResponse(*m))
}

func (a *App) handleCreateMachine(w http.ResponseWriter, r *http.Request) {
	var payload machinePayload
	if err := readJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(payload.Hostname) == "" {
		writeError(w, http.StatusBadRequest, "hostname is required")
		return
	}

	m, err := a.store.CreateMachine(r.Context(), payload.Hostname, payload.IPAddress)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if err := a.recomputer.RecomputeOne(r.Context(), m.ID); err != nil {
		a.logger.Warn("location recompute failed", "machine", m.ID, "error", err)
	}

	m, err = a.store.GetMachine(r.Context(), m.ID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, machineToResponse(*m))
}

func (a *App) handleUpdateMachine(w http.ResponseWriter, r *http.Request) {
	var payload machinePayload
	if err := readJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(payload.Hostname) == "" {
		writeError(w, http.StatusBadRequest, "hostname is required")
		return
	}

	id := chi.URLParam(r, "machineID")
	m, err := a.store.UpdateMachine(r.Context(), id, payload.Hostname, payload.IPAddress)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if err := a.recomputer.RecomputeOne(r.Context(), m.ID); err != nil {
		a.logger.Warn("location recompute failed", "machine", m.ID, "error", err)
	}

	m, err = a.store.GetMachine(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, machineToResponse(*m))
}

func (a *App) handleDeleteMachine(w http.ResponseWriter, r *http.Request) {
	if err := a.store.DeleteMachine(r.Context(), chi.URLParam(r, "machineID")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleRecomputeAll(w http.ResponseWriter, r *http.Request) {
	updated, total, err := a.recomputer.RecomputeAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": updated, "total": total})
}

func (a *App) handleListResults(w http.ResponseWriter, r *http.Request) {
	machineID := chi.URLParam(r, "machineID")
	if _, err := a.store.GetMachine(r.Context(), machineID); err != nil {
		writeStoreError(w, err)
		return
	}

	var kind checkdef.Kind
	if raw := r.URL.Query().Get("kind"); raw != "" {
		parsed, err := checkdef.ParseKind(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		kind = parsed
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	results, err := a.store.ListCheckResults(r.Context(), machineID, kind, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	out := make([]resultResponse, 0, len(results))
	for _, res := range results {
		out = append(out, resultToResponse(res))
	}
	writeJSON(w, http.StatusOK, out)
}

type resultResponse struct {
	ID         string    `json:"id"`
	MachineID  string    `json:"machineId"`
	CheckKind  string    `json:"checkKind"`
	CheckName  string    `json:"checkName"`
	Status     string    `json:"status"`
	ResultData any       `json:"resultData,omitempty"`
	Message    string    `json:"message,omitempty"`
	DurationMS int64     `json:"durationMs"`
	CreatedAt  time.Time `json:"createdAt"`
}

func resultToResponse(res storage.CheckResult) resultResponse {
	return resultResponse{
		ID:         res.ID,
		MachineID:  res.MachineID,
		CheckKind:  string(res.CheckKind),
		CheckName:  res.CheckName,
		Status:     res.Status,
		ResultData: res.ResultData,
		Message:    res.Message,
		DurationMS: res.DurationMS,
		CreatedAt:  res.CreatedAt,
	}
}

type auditResponse struct {
	ID        string         `json:"id"`
	EventType string         `json:"eventType"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	MachineID string         `json:"machineId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

func (a *App) handleListAudit(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := a.store.ListAuditEvents(r.Context(), limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	out := make([]auditResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, auditResponse{
			ID:        ev.ID,
			EventType: ev.EventType,
			Level:     ev.Level,
			Message:   ev.Message,
			MachineID: ev.MachineID,
			Metadata:  ev.Metadata,
			CreatedAt: ev.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
