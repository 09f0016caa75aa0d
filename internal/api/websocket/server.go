// Package websocket pushes refresh progress events to browser clients.
package websocket

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // TODO: restrict origins once the frontend host is fixed
	},
}

// Server is the WebSocket endpoint. It runs on its own port, separate from
// the REST API.
type Server struct {
	port   string
	server *http.Server
	hub    *Hub
}

// NewServer creates a WebSocket server around a hub.
func NewServer(hub *Hub) *Server {
	return &Server{hub: hub}
}

// Hub returns the server's hub, for wiring it as a progress sink.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start runs the hub and serves until shutdown.
func (s *Server) Start(port string) error {
	s.port = port
	go s.hub.Run()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/teams", s.handleRefresh)
	mux.HandleFunc("/ws/health", s.handleHealth)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%s", port),
		Handler: mux,
	}

	log.Info().Str("component", "ws_server").Str("port", port).
		Msg("websocket server listening")
	return s.server.ListenAndServe()
}

// handleRefresh upgrades the connection. An optional team_id query parameter
// narrows the stream to one team.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	teamID := uuid.Nil
	if raw := r.URL.Query().Get("team_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "invalid team_id", http.StatusBadRequest)
			return
		}
		teamID = parsed
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Str("component", "ws_server").Err(err).Msg("upgrade failed")
		return
	}

	client := &Client{
		hub:    s.hub,
		conn:   conn,
		send:   make(chan []byte, 256),
		teamID: teamID,
	}
	s.hub.add(client)

	go client.writePump()
	go client.readPump()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status": "healthy", "clients": %d}`, s.hub.ClientCount())
}

// Shutdown stops the hub and closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Stop()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
