package engine

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/printmesh/printmesh/pkg/health"
)

// Server is the HTTP surface: sync endpoints, auth, health.
type Server struct {
	engine      *Engine
	router      *mux.Router
	syncHandler *SyncHandlers
	authHandler *AuthHandlers
	middleware  *Middleware
	httpServer  *http.Server
}

func NewServer(engine *Engine, addr string) *Server {
	s := &Server{
		engine:      engine,
		router:      mux.NewRouter(),
		syncHandler: NewSyncHandlers(engine),
		authHandler: NewAuthHandlers(engine),
		middleware:  NewMiddleware(engine),
	}
	s.setupRoutes()
	s.setupMiddleware()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})
	s.router.Use(s.middleware.Authenticate)
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	tenantRouter := s.router.PathPrefix("/{tenant_url}/api/v1").Subrouter()

	auth := tenantRouter.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/login", s.authHandler.Login).Methods(http.MethodPost)
	auth.HandleFunc("/logout", s.authHandler.Logout).Methods(http.MethodPost)

	syncRouter := tenantRouter.PathPrefix("/sync").Subrouter()
	syncRouter.HandleFunc("/push", s.syncHandler.Push).Methods(http.MethodPost)
	syncRouter.HandleFunc("/pull", s.syncHandler.Pull).Methods(http.MethodPost)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	overall := s.engine.health.GetOverallStatus()
	status := http.StatusOK
	if overall == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"status": overall,
		"checks": s.engine.health.GetAllChecks(),
	})
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.engine.logger.Infof("HTTP server listening on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
