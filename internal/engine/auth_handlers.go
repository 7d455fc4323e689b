package engine

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/printmesh/printmesh/internal/services/tenants"
	"github.com/printmesh/printmesh/internal/services/users"
)

// AuthHandlers serves login and logout.
type AuthHandlers struct {
	engine *Engine
}

func NewAuthHandlers(engine *Engine) *AuthHandlers {
	return &AuthHandlers{engine: engine}
}

// Login handles POST /{tenant_url}/api/v1/auth/login.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	tenantURL := mux.Vars(r)["tenant_url"]

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid login body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "email and password are required")
		return
	}

	tenant, err := h.engine.tenants.GetByURL(r.Context(), h.engine.pool, tenantURL)
	if errors.Is(err, tenants.ErrTenantNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "unknown tenant")
		return
	}
	if err != nil {
		h.engine.logger.Errorf("Failed to resolve tenant %s: %v", tenantURL, err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to resolve tenant")
		return
	}

	session, user, err := h.engine.authenticator.Login(r.Context(), h.engine.pool, tenant.ID, req.Email, req.Password)
	if errors.Is(err, users.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid credentials")
		return
	}
	if err != nil {
		h.engine.logger.Errorf("Login failed for tenant %s: %v", tenant.ID, err)
		writeError(w, http.StatusInternalServerError, "internal", "login failed")
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{
		Token:     session.Token,
		UserID:    user.ID,
		TenantID:  user.TenantID,
		Name:      user.Name,
		Role:      user.Role,
		ExpiresAt: session.ExpiresAt.Format(time.RFC3339),
	})
}

// Logout handles POST /{tenant_url}/api/v1/auth/logout.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	token := extractBearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Authorization token is required")
		return
	}
	if err := h.engine.authenticator.Logout(r.Context(), h.engine.pool, token); err != nil {
		h.engine.logger.Errorf("Logout failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", "logout failed")
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}
