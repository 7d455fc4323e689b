package engine

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/printmesh/printmesh/internal/accesscontrol"
	"github.com/printmesh/printmesh/internal/services/tenants"
	"github.com/printmesh/printmesh/internal/services/users"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const principalContextKey contextKey = "principal"

// PrincipalFromContext returns the authenticated principal of the request.
func PrincipalFromContext(ctx context.Context) (*accesscontrol.Principal, bool) {
	principal, ok := ctx.Value(principalContextKey).(*accesscontrol.Principal)
	return principal, ok
}

// Middleware authenticates requests and builds the Principal.
type Middleware struct {
	engine *Engine
}

func NewMiddleware(engine *Engine) *Middleware {
	return &Middleware{engine: engine}
}

// Authenticate resolves the bearer token into a Principal scoped to the
// tenant named in the path. Login and health endpoints skip it.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.shouldSkipAuth(r) {
			next.ServeHTTP(w, r)
			return
		}

		vars := mux.Vars(r)
		tenantURL := vars["tenant_url"]
		if tenantURL == "" {
			writeError(w, http.StatusBadRequest, "bad_request", "tenant_url is required")
			return
		}

		token := extractBearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Authorization token is required")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		tenant, err := m.engine.tenants.GetByURL(ctx, m.engine.pool, tenantURL)
		if errors.Is(err, tenants.ErrTenantNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "unknown tenant")
			return
		}
		if err != nil {
			m.engine.logger.Errorf("Failed to resolve tenant %s: %v", tenantURL, err)
			writeError(w, http.StatusInternalServerError, "internal", "failed to resolve tenant")
			return
		}

		session, err := m.engine.authenticator.Resolve(ctx, m.engine.pool, token)
		if errors.Is(err, users.ErrSessionNotFound) || (err == nil && session.TenantID != tenant.ID) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired session")
			return
		}
		if err != nil {
			m.engine.logger.Errorf("Failed to resolve session: %v", err)
			writeError(w, http.StatusInternalServerError, "internal", "failed to resolve session")
			return
		}

		user, err := m.engine.users.Get(ctx, m.engine.pool, tenant.ID, session.UserID)
		if err != nil || user.Deleted {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired session")
			return
		}

		role := accesscontrol.Role(user.Role)
		principal := accesscontrol.NewPrincipal(user.ID, tenant.ID, role, m.engine.acl.PermissionsFor(role))

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalContextKey, principal)))
	})
}

func (m *Middleware) shouldSkipAuth(r *http.Request) bool {
	if r.URL.Path == "/healthz" {
		return true
	}
	return strings.HasSuffix(r.URL.Path, "/auth/login")
}

func extractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
