package api

import (
	"net/http"
	"strings"

	"github.com/osbits/winfleet/internal/scanauth"
	"github.com/osbits/winfleet/internal/storage"
)

func (a *App) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	values, err := a.store.AllSettings(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	// Stored scan credentials are write-only through the API.
	if _, ok := values[scanauth.KeyPassword]; ok {
		values[scanauth.KeyPassword] = "********"
	}
	writeJSON(w, http.StatusOK, values)
}

func (a *App) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var payload map[string]string
	if err := readJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(payload) == 0 {
		writeError(w, http.StatusBadRequest, "no settings supplied")
		return
	}
	for key := range payload {
		if strings.TrimSpace(key) == "" {
			writeError(w, http.StatusBadRequest, "setting key must not be blank")
			return
		}
	}

	if err := a.store.SetSettings(r.Context(), payload); err != nil {
		writeStoreError(w, err)
		return
	}

	// Persisted scan-auth overrides must take effect immediately, not after
	// the resolver's cache TTL runs out.
	if a.resolver != nil && touchesScanAuth(payload) {
		a.resolver.Invalidate()
	}

	if err := a.store.InsertAuditEvent(r.Context(), storage.AuditEvent{
		EventType: "SETTINGS_UPDATED",
		Message:   "settings updated",
		Metadata:  map[string]any{"keys": settingKeys(payload)},
	}); err != nil {
		a.logger.Warn("audit write failed", "error", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

func touchesScanAuth(values map[string]string) bool {
	for key := range values {
		if strings.HasPrefix(key, "scanAuth.") {
			return true
		}
	}
	return false
}

func settingKeys(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	return keys
}
