package engine

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/printmesh/printmesh/internal/accesscontrol"
	"github.com/printmesh/printmesh/internal/mutation"
	"github.com/printmesh/printmesh/internal/sync"
	"github.com/printmesh/printmesh/pkg/database"
)

// SyncHandlers serves the push and pull endpoints.
type SyncHandlers struct {
	engine *Engine
}

func NewSyncHandlers(engine *Engine) *SyncHandlers {
	return &SyncHandlers{engine: engine}
}

// Push handles POST /{tenant_url}/api/v1/sync/push.
func (h *SyncHandlers) Push(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing principal")
		return
	}

	var req sync.PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid push body")
		return
	}

	if err := h.engine.pusher.Push(r.Context(), principal, &req); err != nil {
		h.writeSyncError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// Pull handles POST /{tenant_url}/api/v1/sync/pull.
func (h *SyncHandlers) Pull(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing principal")
		return
	}

	var req sync.PullRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid pull body")
		return
	}

	resp, err := h.engine.puller.Pull(r.Context(), principal, &req)
	if err != nil {
		h.writeSyncError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeSyncError maps the error taxonomy onto the wire. Protocol conditions
// the client must react to (resync, upgrade) ship as HTTP 200 with an error
// body, matching what sync clients expect; everything else is a plain HTTP
// error.
func (h *SyncHandlers) writeSyncError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, sync.ErrVersionNotSupported):
		writeJSON(w, http.StatusOK, SyncErrorResponse{Error: "VersionNotSupported"})
	case errors.Is(err, sync.ErrClientStateNotFound):
		writeJSON(w, http.StatusOK, SyncErrorResponse{Error: "ClientStateNotFound"})
	case accesscontrol.IsAccessDenied(err):
		writeError(w, http.StatusForbidden, "access_denied", err.Error())
	case mutation.IsValidation(err), mutation.IsUnknownMutation(err), sync.IsFutureMutation(err):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, database.ErrConflictExhausted):
		writeError(w, http.StatusServiceUnavailable, "conflict", "storage contention, retry later")
	default:
		h.engine.logger.Errorf("Sync request %s failed: %v", r.URL.Path, err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}
