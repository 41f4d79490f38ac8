// internal/server/handlers.go
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/courtkit/rotation/internal/handlers"
	"github.com/courtkit/rotation/pkg/core"
)

// routerHandlers adapts the operation service to HTTP: decode the
// request, delegate, encode the result.
type routerHandlers struct {
	svc *handlers.Service
}

// errStatus maps service errors to HTTP statuses. Not-found errors win
// over the caller's fallback.
func errStatus(err error, fallback int) int {
	if errors.Is(err, handlers.ErrSessionNotFound) || errors.Is(err, core.ErrFormationNotFound) {
		return http.StatusNotFound
	}
	return fallback
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

func (h *routerHandlers) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *routerHandlers) createSession(w http.ResponseWriter, r *http.Request) {
	var req handlers.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	resp, err := h.svc.CreateSession(req)
	if err != nil {
		writeError(w, err.Error(), errStatus(err, http.StatusBadRequest))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// sessionView is the GET shape of a session: the formation it edits plus
// the current slot states.
type sessionView struct {
	Formation core.Formation     `json:"formation"`
	States    []core.PlayerState `json:"states"`
}

func (h *routerHandlers) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	f, err := h.svc.SessionFormation(id)
	if err != nil {
		writeError(w, err.Error(), errStatus(err, http.StatusNotFound))
		return
	}
	states, err := h.svc.SessionStates(id)
	if err != nil {
		writeError(w, err.Error(), errStatus(err, http.StatusNotFound))
		return
	}
	writeJSON(w, http.StatusOK, sessionView{Formation: f, States: states})
}

func (h *routerHandlers) closeSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.CloseSession(id); err != nil {
		writeError(w, err.Error(), errStatus(err, http.StatusNotFound))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"closed": true})
}

// moveRequest is the body of move and snap calls.
type moveRequest struct {
	Slot     core.Slot          `json:"slot"`
	Position core.CourtPosition `json:"position"`
}

func (h *routerHandlers) move(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	fb, err := h.svc.ApplyMove(id, req.Slot, req.Position)
	if err != nil {
		writeError(w, err.Error(), errStatus(err, http.StatusBadRequest))
		return
	}
	writeJSON(w, http.StatusOK, fb)
}

func (h *routerHandlers) bounds(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n, err := strconv.Atoi(chi.URLParam(r, "slot"))
	if err != nil {
		writeError(w, "slot must be numeric", http.StatusBadRequest)
		return
	}
	b, err := h.svc.PlayerBounds(id, core.Slot(n))
	if err != nil {
		writeError(w, err.Error(), errStatus(err, http.StatusBadRequest))
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *routerHandlers) validate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := h.svc.ValidateLineup(id)
	if err != nil {
		writeError(w, err.Error(), errStatus(err, http.StatusBadRequest))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *routerHandlers) snap(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	pos, err := h.svc.SnapPosition(id, req.Slot, req.Position)
	if err != nil {
		writeError(w, err.Error(), errStatus(err, http.StatusBadRequest))
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func (h *routerHandlers) rotate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := h.svc.Rotate(id)
	if err != nil {
		writeError(w, err.Error(), errStatus(err, http.StatusBadRequest))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *routerHandlers) undo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := h.svc.Undo(id)
	if err != nil {
		writeError(w, err.Error(), errStatus(err, http.StatusBadRequest))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *routerHandlers) redo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := h.svc.Redo(id)
	if err != nil {
		writeError(w, err.Error(), errStatus(err, http.StatusBadRequest))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *routerHandlers) setServer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Slot core.Slot `json:"slot"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.svc.SetServer(id, req.Slot); err != nil {
		writeError(w, err.Error(), errStatus(err, http.StatusBadRequest))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *routerHandlers) listFormations(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListFormations()
	if err != nil {
		writeError(w, err.Error(), errStatus(err, http.StatusInternalServerError))
		return
	}
	if list == nil {
		list = []core.Formation{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *routerHandlers) saveFormation(w http.ResponseWriter, r *http.Request) {
	var req handlers.SaveFormationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	f, err := h.svc.SaveFormation(req)
	if err != nil {
		writeError(w, err.Error(), errStatus(err, http.StatusBadRequest))
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (h *routerHandlers) getFormation(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	f, err := h.svc.LoadFormation(name)
	if err != nil {
		writeError(w, err.Error(), errStatus(err, http.StatusInternalServerError))
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (h *routerHandlers) deleteFormation(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.svc.DeleteFormation(name); err != nil {
		writeError(w, err.Error(), errStatus(err, http.StatusInternalServerError))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (h *routerHandlers) exportShare(w http.ResponseWriter, r *http.Request) {
	var req handlers.ExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	resp, err := h.svc.ExportShareCode(req)
	if err != nil {
		writeError(w, err.Error(), errStatus(err, http.StatusBadRequest))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *routerHandlers) importShare(w http.ResponseWriter, r *http.Request) {
	req := handlers.ImportRequest{Code: chi.URLParam(r, "code")}
	req.Save, _ = strconv.ParseBool(r.URL.Query().Get("save"))
	req.CreateSession, _ = strconv.ParseBool(r.URL.Query().Get("open"))

	resp, err := h.svc.ImportShareCode(req)
	if err != nil {
		writeError(w, err.Error(), errStatus(err, http.StatusBadRequest))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *routerHandlers) engineMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.EngineMetrics())
}
