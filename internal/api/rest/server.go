// Package rest is the JSON API: refresh triggers and progress on the write
// side, teams and computed aggregates on the read side.
package rest

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Lolevel/thunderclap/internal/cache"
	"github.com/Lolevel/thunderclap/internal/store"
)

// Server represents the REST API server.
type Server struct {
	port   string
	server *http.Server
}

// NewServer creates a new REST API server with all routes registered.
func NewServer(port string, db *store.Database, rc *cache.RedisCache, refreshHandler *RefreshHandler) *Server {
	handler := NewHandler(db, rc)
	router := NewRouter(handler, refreshHandler)

	return &Server{
		port: port,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%s", port),
			Handler: router,
		},
	}
}

// NewRouter builds the route table. Split out from NewServer so handler tests
// can run against the real routing and middleware.
func NewRouter(handler *Handler, refreshHandler *RefreshHandler) *mux.Router {
	router := mux.NewRouter()

	router.Use(RecoveryMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(CORSMiddleware)

	router.HandleFunc("/health", handler.HealthCheck).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()

	// Refresh lifecycle
	api.HandleFunc("/teams/{teamID}/refresh", refreshHandler.TriggerRefresh).Methods("POST")
	api.HandleFunc("/teams/{teamID}/refresh-status", refreshHandler.GetRefreshStatus).Methods("GET")
	api.HandleFunc("/teams/{teamID}/progress-stream", refreshHandler.ProgressStream).Methods("GET")
	api.HandleFunc("/admin/trigger-nightly-refresh", refreshHandler.TriggerNightlyRefresh).Methods("POST")

	// Read side
	api.HandleFunc("/teams", handler.GetTeams).Methods("GET")
	api.HandleFunc("/teams/{teamID}", handler.GetTeam).Methods("GET")
	api.HandleFunc("/teams/{teamID}/roster", handler.GetTeamRoster).Methods("GET")
	api.HandleFunc("/teams/{teamID}/stats", handler.GetTeamStats).Methods("GET")
	api.HandleFunc("/players/{playerID}/champions", handler.GetPlayerChampions).Methods("GET")

	return router
}

// Start starts the REST API server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
