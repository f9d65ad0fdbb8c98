// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package web serves relay status over HTTP and streams relay events to
// websocket clients.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/usbl_relay/internal/relay"
)

const (
	clientQueue  = 32
	writeTimeout = 5 * time.Second
)

// Relay is what the server needs from a running controller.
type Relay interface {
	Snapshot() relay.Status
	SyncLocation() error
	SetGPSEndpoint(addr string) error
	SetFusedEndpoint(addr string) error
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // status page may be served from another host
	},
}

// Server is an http.Handler. It answers 503 until a relay is attached.
type Server struct {
	logger *slog.Logger
	mux    *http.ServeMux

	mu    sync.RWMutex
	relay Relay

	clientsMu sync.Mutex
	clients   map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.send) })
}

func New(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		logger:  logger.With("component", "web"),
		mux:     http.NewServeMux(),
		clients: make(map[*wsClient]struct{}),
	}
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("POST /api/sync", s.handleSync)
	s.mux.HandleFunc("PUT /api/endpoints", s.handleEndpoints)
	s.mux.HandleFunc("GET /ws", s.handleWS)
	return s
}

// Attach makes r the relay behind the API.
func (s *Server) Attach(r Relay) {
	s.mu.Lock()
	s.relay = r
	s.mu.Unlock()
}

func (s *Server) current() Relay {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.relay
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		s.closeClients()
	}()

	s.logger.Info("web server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handle is a relay.Listener: every event goes to every websocket client.
// A client that cannot keep up is disconnected.
func (s *Server) Handle(ev relay.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("json encode error", "key", ev.Key, "err", err)
		return
	}

	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			s.logger.Warn("websocket client too slow, disconnecting", "remote", c.conn.RemoteAddr().String())
			delete(s.clients, c)
			c.close()
		}
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	rl := s.current()
	if rl == nil {
		http.Error(w, "relay not running", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, rl.Snapshot())
}

func (s *Server) handleSync(w http.ResponseWriter, _ *http.Request) {
	rl := s.current()
	if rl == nil {
		http.Error(w, "relay not running", http.StatusServiceUnavailable)
		return
	}
	if err := rl.SyncLocation(); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, relay.ErrStopped) {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type endpointsRequest struct {
	GPS   *string `json:"gps"`
	Fused *string `json:"fused"`
}

func (s *Server) handleEndpoints(w http.ResponseWriter, r *http.Request) {
	rl := s.current()
	if rl == nil {
		http.Error(w, "relay not running", http.StatusServiceUnavailable)
		return
	}
	var req endpointsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.GPS != nil {
		if err := rl.SetGPSEndpoint(*req.GPS); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	if req.Fused != nil {
		if err := rl.SetFusedEndpoint(*req.Fused); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	s.writeJSON(w, rl.Snapshot())
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade error", "err", err)
		return
	}
	c := &wsClient{conn: conn, send: make(chan []byte, clientQueue)}

	s.clientsMu.Lock()
	s.clients[c] = struct{}{}
	s.clientsMu.Unlock()
	s.logger.Debug("websocket client connected", "remote", conn.RemoteAddr().String())

	go s.writeLoop(c)

	// Incoming messages are ignored; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.removeClient(c)
	s.logger.Debug("websocket client disconnected", "remote", conn.RemoteAddr().String())
}

func (s *Server) writeLoop(c *wsClient) {
	defer c.conn.Close()
	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			s.removeClient(c)
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

func (s *Server) removeClient(c *wsClient) {
	s.clientsMu.Lock()
	delete(s.clients, c)
	s.clientsMu.Unlock()
	c.close()
}

func (s *Server) closeClients() {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for c := range s.clients {
		delete(s.clients, c)
		c.close()
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("json encode error", "err", err)
	}
}
