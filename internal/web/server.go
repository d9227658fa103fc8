// Package web exposes the live configuration, status and snapshots over
// HTTP and pushes status to websocket clients.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/guidoenr/glyphcast/internal/config"
	"github.com/guidoenr/glyphcast/internal/engine"
)

// Engine is the part of the render loop the server reads.
type Engine interface {
	Status() engine.Status
	Snapshot(ctx context.Context) (image.Image, error)
}

// Options wires a Server.
type Options struct {
	Store  *config.Store
	Engine Engine
	// SavePath is where /api/save writes; defaults to config.DefaultPath.
	SavePath string
	// StatusInterval is the websocket push period; defaults to 500ms.
	StatusInterval time.Duration
	Log            *log.Logger
}

// Server serves the control API.
type Server struct {
	store    *config.Store
	engine   Engine
	savePath string
	interval time.Duration
	log      *log.Logger

	mu        sync.RWMutex
	clients   map[*websocketClient]bool
	broadcast chan []byte
	upgrader  websocket.Upgrader
	srv       *http.Server
}

type websocketClient struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	server *Server
}

// Message is the websocket envelope in both directions. Clients send
// {"type":"config","patch":{...}}; the server sends status and config.
type Message struct {
	Type   string         `json:"type"`
	Client string         `json:"client,omitempty"`
	Status *engine.Status `json:"status,omitempty"`
	Config *config.Config `json:"config,omitempty"`
	Patch  *config.Patch  `json:"patch,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Status  engine.Status `json:"status"`
	Config  config.Config `json:"config"`
	Version uint64        `json:"version"`
	Clients int           `json:"clients"`
}

// NewServer builds a server; call Start or mount Handler.
func NewServer(opts Options) *Server {
	if opts.SavePath == "" {
		opts.SavePath = config.DefaultPath()
	}
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = 500 * time.Millisecond
	}
	if opts.Log == nil {
		opts.Log = log.New(os.Stdout, "", log.LstdFlags)
	}
	return &Server{
		store:     opts.Store,
		engine:    opts.Engine,
		savePath:  opts.SavePath,
		interval:  opts.StatusInterval,
		log:       opts.Log,
		clients:   make(map[*websocketClient]bool),
		broadcast: make(chan []byte, 256),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, "/api/status", http.StatusFound)
	})
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/save", s.handleSave)
	mux.HandleFunc("/api/glyphsets", s.handleGlyphSets)
	mux.HandleFunc("/api/colormodes", s.handleColorModes)
	mux.HandleFunc("/api/snapshot", s.handleSnapshot)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// Start serves on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.srv = &http.Server{Addr: addr, Handler: s.Handler()}
	s.log.Printf("[web] server starting on http://%s", addr)

	go s.broadcastLoop(ctx)
	go s.statusUpdateLoop(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
	}()

	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	clients := len(s.clients)
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, StatusResponse{
		Status:  s.engine.Status(),
		Config:  s.store.Load(),
		Version: s.store.Version(),
		Clients: clients,
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.store.Load())
	case http.MethodPost, http.MethodPatch:
		var patch config.Patch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		cfg, err := s.store.ApplyPatch(patch)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		s.pushConfig(cfg)
		writeJSON(w, http.StatusOK, cfg)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := config.SaveFile(s.savePath, s.store.Load()); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("failed to save config: %w", err))
		return
	}
	s.log.Printf("[web] config saved to %s", s.savePath)
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved", "path": s.savePath})
}

func (s *Server) handleGlyphSets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, config.GlyphSets())
}

func (s *Server) handleColorModes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, config.ColorModeNames())
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	img, err := s.engine.Snapshot(ctx)
	switch {
	case errors.Is(err, engine.ErrNoFrame):
		writeError(w, http.StatusServiceUnavailable, err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", "glyphcast-"+uuid.NewString()[:8]+".png"))
	if err := png.Encode(w, img); err != nil {
		s.log.Printf("[web] encode snapshot: %v", err)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Printf("[web] websocket upgrade error: %v", err)
		return
	}

	client := &websocketClient{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, 256),
		server: s,
	}

	s.mu.Lock()
	s.clients[client] = true
	s.mu.Unlock()

	cfg := s.store.Load()
	if hello, err := json.Marshal(Message{Type: "config", Client: client.id, Config: &cfg}); err == nil {
		client.send <- hello
	}

	go client.writePump()
	go client.readPump()
}

func (s *Server) pushConfig(cfg config.Config) {
	data, err := json.Marshal(Message{Type: "config", Config: &cfg})
	if err != nil {
		return
	}
	select {
	case s.broadcast <- data:
	default:
	}
}

func (s *Server) broadcastLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case message := <-s.broadcast:
			s.mu.Lock()
			for client := range s.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(s.clients, client)
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *Server) statusUpdateLoop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		status := s.engine.Status()
		data, err := json.Marshal(Message{Type: "status", Status: &status})
		if err != nil {
			continue
		}
		select {
		case s.broadcast <- data:
		default:
			// drop if channel full
		}
	}
}

// handleMessage applies a client config patch and replies on failure.
func (c *websocketClient) handleMessage(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply(Message{Type: "error", Error: err.Error()})
		return
	}
	if msg.Type != "config" || msg.Patch == nil {
		c.reply(Message{Type: "error", Error: fmt.Sprintf("unsupported message %q", msg.Type)})
		return
	}
	cfg, err := c.server.store.ApplyPatch(*msg.Patch)
	if err != nil {
		c.reply(Message{Type: "error", Error: err.Error()})
		return
	}
	c.server.log.Printf("[web] config patched by client %s", c.id)
	c.server.pushConfig(cfg)
}

func (c *websocketClient) reply(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.server.mu.RLock()
	defer c.server.mu.RUnlock()
	if !c.server.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *websocketClient) readPump() {
	defer func() {
		c.server.mu.Lock()
		if c.server.clients[c] {
			delete(c.server.clients, c)
			close(c.send)
		}
		c.server.mu.Unlock()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(64 << 10)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		c.handleMessage(data)
	}
}

func (c *websocketClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
