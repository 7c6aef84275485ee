package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/osbits/winfleet/internal/checkdef"
	"github.com/osbits/winfleet/internal/probe"
	"github.com/osbits/winfleet/internal/scanauth"
)

type scanPayload struct {
	// Kind selects what to run: a check kind, or empty for the full suite.
	Kind string `json:"kind"`
	// CheckID runs one stored definition instead of a kind.
	CheckID string `json:"checkId"`
	// Username/Password supply one-off credentials for this scan only.
	Username string `json:"username"`
	Password string `json:"password"`
}

type scanResponse struct {
	CheckKind  string `json:"checkKind"`
	CheckName  string `json:"checkName"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
	ResultData any    `json:"resultData,omitempty"`
	DurationMS int64  `json:"durationMs"`
	ResultID   string `json:"resultId"`
}

func outcomeToResponse(out probe.Outcome) scanResponse {
	return scanResponse{
		CheckKind:  string(out.Definition.Kind),
		CheckName:  out.Definition.Name,
		Status:     string(out.Evaluation.Status),
		Message:    out.Evaluation.Message,
		ResultData: out.Evaluation.Data,
		DurationMS: out.DurationMS,
		ResultID:   out.ResultID,
	}
}

// handleScan triggers an immediate scan of one machine, optionally with
// one-off credentials that bypass both the persisted override and the
// configured defaults.
func (a *App) handleScan(w http.ResponseWriter, r *http.Request) {
	machine, err := a.store.GetMachine(r.Context(), chi.URLParam(r, "machineID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	var payload scanPayload
	if r.ContentLength > 0 {
		if err := readJSON(r, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	var override *scanauth.Override
	if payload.Username != "" || payload.Password != "" {
		override = &scanauth.Override{Username: payload.Username, Password: payload.Password}
	}

	var outcomes []probe.Outcome
	switch {
	case payload.CheckID != "":
		def, err := a.store.GetCheckDefinition(r.Context(), payload.CheckID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		out, err := a.pipeline.RunCheck(r.Context(), *machine, *def, override)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		outcomes = []probe.Outcome{out}

	case payload.Kind == "":
		outcomes, err = a.pipeline.RunSuite(r.Context(), *machine, override)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

	default:
		kind, kerr := checkdef.ParseKind(payload.Kind)
		if kerr != nil {
			writeError(w, http.StatusBadRequest, kerr.Error())
			return
		}
		switch kind {
		case checkdef.KindPing, checkdef.KindSystemInfo, checkdef.KindUserInfo:
			name := map[checkdef.Kind]string{
				checkdef.KindPing:       "ping",
				checkdef.KindSystemInfo: "system info",
				checkdef.KindUserInfo:   "user info",
			}[kind]
			out, err := a.pipeline.RunCheck(r.Context(), *machine, checkdef.Definition{Kind: kind, Name: name}, override)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			outcomes = []probe.Outcome{out}
		default:
			outcomes, err = a.pipeline.RunAll(r.Context(), *machine, kind, override)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
		}
	}

	out := make([]scanResponse, 0, len(outcomes))
	for _, o := range outcomes {
		out = append(out, outcomeToResponse(o))
	}
	writeJSON(w, http.StatusOK, out)
}
