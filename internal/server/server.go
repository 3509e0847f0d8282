// Package server is the HTTP control surface: remote viewers negotiate a
// gesture data channel or open a websocket, and operators read status and
// the latest mirrored frame.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"playmirror/internal/input"
	"playmirror/internal/session"
	mirrortls "playmirror/internal/tls"
	"playmirror/internal/types"
)

const (
	offerTimeout  = 10 * time.Second
	maxOfferBytes = 64 << 10
	wsReadLimit   = 4 << 10
	wsIdleTimeout = 5 * time.Minute
)

// FrameSource renders the most recent mirrored frame.
type FrameSource interface {
	WritePNG(w io.Writer) error
}

// Config holds all server configuration.
type Config struct {
	Addr     string
	Token    string
	TLS      bool
	TLSHosts []string

	Session  session.Config
	EnableWS bool

	Sink types.GestureSink
	// Frames backs /debug/frame and Status backs /status; nil disables
	// the route.
	Frames FrameSource
	Status func() any
}

type Server struct {
	cfg      Config
	upgrader websocket.Upgrader

	mu   sync.Mutex
	sess *session.Session
}

func New(cfg Config) *Server {
	return &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			// Viewers authenticate with the token, not by origin.
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Handler returns the routed control surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /input", s.handleOffer)
	mux.HandleFunc("PATCH /input/{id}", s.handlePatch)
	mux.HandleFunc("DELETE /input/{id}", s.handleDelete)
	mux.HandleFunc("OPTIONS /input", s.handleOptions)
	mux.HandleFunc("OPTIONS /input/{id}", s.handleOptions)
	if s.cfg.EnableWS {
		mux.HandleFunc("GET /input/ws", s.handleWebSocket)
	}
	if s.cfg.Frames != nil {
		mux.HandleFunc("GET /debug/frame", s.handleDebugFrame)
	}
	if s.cfg.Status != nil {
		mux.HandleFunc("GET /status", s.handleStatus)
	}
	return mux
}

// ListenAndServe serves until ctx is done, then shuts down gracefully and
// tears down the active session.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if s.cfg.TLS {
		tlsCfg, err := mirrortls.SelfSigned(s.cfg.TLSHosts, true)
		if err != nil {
			return fmt.Errorf("tls: %w", err)
		}
		srv.TLSConfig = tlsCfg
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	scheme := "http"
	if s.cfg.TLS {
		scheme = "https"
	}
	log.Printf("server: listening on %s://%s", scheme, ln.Addr())

	errCh := make(chan error, 1)
	go func() {
		if s.cfg.TLS {
			errCh <- srv.ServeTLS(ln, "", "")
		} else {
			errCh <- srv.Serve(ln)
		}
	}()

	select {
	case err := <-errCh:
		s.Teardown()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	s.Teardown()
	if e := <-errCh; e != nil && !errors.Is(e, http.ErrServerClosed) {
		return e
	}
	return err
}

// Teardown closes the active session, if any.
func (s *Server) Teardown() {
	s.mu.Lock()
	s.teardownLocked()
	s.mu.Unlock()
}

// SessionStatus describes the active gesture session.
type SessionStatus struct {
	ID        string `json:"id"`
	Delivered uint64 `json:"delivered"`
	Rejected  uint64 `json:"rejected"`
}

// Session reports the active session and its event counters.
func (s *Server) Session() (SessionStatus, bool) {
	s.mu.Lock()
	sess := s.sess
	s.mu.Unlock()
	if sess == nil || sess.IsClosed() {
		return SessionStatus{}, false
	}
	delivered, rejected := sess.Events()
	return SessionStatus{ID: sess.ID, Delivered: delivered, Rejected: rejected}, true
}

// SessionID returns the active session's ID, or "".
func (s *Server) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil || s.sess.IsClosed() {
		return ""
	}
	return s.sess.ID
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Expose-Headers", "Location")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOffer(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Expose-Headers", "Location")

	if !s.checkAuth(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxOfferBytes))
	if err != nil || len(body) == 0 {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	// Single session: tear down existing
	s.Teardown()

	sessionID := uuid.New().String()
	sess, err := session.NewSession(sessionID, s.cfg.Session, s.cfg.Sink)
	if err != nil {
		log.Printf("server: session create error: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), offerTimeout)
	defer cancel()
	answer, err := sess.Answer(ctx, string(body))
	if err != nil {
		sess.Close()
		log.Printf("server: answer error: %v", err)
		http.Error(w, "bad SDP offer", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.teardownLocked()
	s.sess = sess
	s.mu.Unlock()
	go s.release(sess)

	w.Header().Set("Content-Type", "application/sdp")
	w.Header().Set("Location", "/input/"+sessionID)
	w.WriteHeader(http.StatusCreated)
	io.WriteString(w, answer) //nolint:errcheck
}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")

	if !s.checkAuth(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	id := r.PathValue("id")
	s.mu.Lock()
	sess := s.sess
	s.mu.Unlock()

	if sess == nil || sess.ID != id {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxOfferBytes))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "a=candidate:") {
			if err := sess.AddCandidate(strings.TrimPrefix(line, "a=")); err != nil {
				log.Printf("server: add ice candidate error: %v", err)
			}
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")

	if !s.checkAuth(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	id := r.PathValue("id")
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sess == nil || s.sess.ID != id {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	s.teardownLocked()
	w.WriteHeader(http.StatusOK)
}

// handleWebSocket streams JSON input events, one per text message. Browsers
// cannot set headers on websocket requests, so the token may also come as
// a query parameter.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.checkAuth(r) && !s.tokenMatches(r.URL.Query().Get("token")) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("server: websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(wsReadLimit)
	conn.SetReadDeadline(time.Now().Add(wsIdleTimeout)) //nolint:errcheck
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
	})

	log.Printf("server: websocket viewer %s connected", r.RemoteAddr)
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("server: websocket unexpected close: %v", err)
			}
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}
		conn.SetReadDeadline(time.Now().Add(wsIdleTimeout)) //nolint:errcheck

		var event types.InputEvent
		if err := json.Unmarshal(data, &event); err != nil {
			log.Printf("server: bad websocket input event: %v", err)
			continue
		}
		input.Deliver(s.cfg.Sink, event)
	}
	log.Printf("server: websocket viewer %s disconnected", r.RemoteAddr)
}

func (s *Server) handleDebugFrame(w http.ResponseWriter, r *http.Request) {
	if !s.checkAuth(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := s.cfg.Frames.WritePNG(w); err != nil {
		w.Header().Del("Content-Type")
		http.Error(w, fmt.Sprintf("no frame: %v", err), http.StatusServiceUnavailable)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.checkAuth(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.cfg.Status()) //nolint:errcheck
}

func (s *Server) checkAuth(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return s.cfg.Token == "" || auth == "Bearer "+s.cfg.Token
}

// tokenMatches accepts anything when no token is configured.
func (s *Server) tokenMatches(tok string) bool {
	return s.cfg.Token == "" || tok == s.cfg.Token
}

// release forgets sess once it stops, so a viewer whose peer connection
// failed no longer holds the session slot.
func (s *Server) release(sess *session.Session) {
	<-sess.Stop
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == sess {
		s.sess = nil
		log.Printf("server: session %s ended", sess.ID)
	}
}

func (s *Server) teardownLocked() {
	if s.sess != nil {
		s.sess.Close()
		s.sess = nil
	}
}
