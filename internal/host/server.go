package host

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/InWeCrypto/keytool/internal/transport"
)

// Server exposes the host over WebSocket at /bridge.
type Server struct {
	handler *Handler
	opts    ServeOptions
	logger  *slog.Logger
	router  *mux.Router

	mu       sync.Mutex
	sessions map[string]transport.Conn
}

func NewServer(h *Handler, opts ServeOptions, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		handler:  h,
		opts:     opts,
		logger:   logger,
		router:   mux.NewRouter(),
		sessions: map[string]transport.Conn{},
	}
	s.router.Use(localOnly)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/bridge", s.handleBridge)
	s.router.HandleFunc("/about", s.handleAbout).Methods(http.MethodPost)
	return s
}

// localOnly refuses browser requests from non-loopback origins, so a web
// page cannot open a bridge session or push dialogs.
func localOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !transport.LocalOrigin(r) {
			http.Error(w, "forbidden origin", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe blocks until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		s.closeSessions()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.logger.Info("host listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	n := len(s.sessions)
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "sessions": n})
}

func (s *Server) handleBridge(w http.ResponseWriter, r *http.Request) {
	raw, err := transport.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	conn := transport.NewWebSocket(s.logger, raw)
	id := uuid.NewString()
	s.mu.Lock()
	s.sessions[id] = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	s.logger.Info("front-end connected", "session", id, "remote", r.RemoteAddr)
	// r.Context() is not tied to a hijacked connection.
	if err := s.handler.Serve(context.Background(), conn, s.opts); err != nil {
		s.logger.Warn("session ended", "session", id, "err", err)
	}
}

// handleAbout pushes the about dialog to every connected front-end.
func (s *Server) handleAbout(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	conns := make([]transport.Conn, 0, len(s.sessions))
	for _, c := range s.sessions {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	pushed := 0
	for _, c := range conns {
		if _, err := (Pusher{Conn: c}).About(r.Context(), AboutHTML); err == nil {
			pushed++
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"pushed": pushed})
}

func (s *Server) closeSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.sessions {
		_ = c.Close()
	}
}
