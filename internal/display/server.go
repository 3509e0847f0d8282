// Package display receives frames from a producer over the control socket
// and hands them to the active render path.
package display

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"playmirror/internal/transport"
)

// DefaultSocketPath is where producers look for the mirror.
const DefaultSocketPath = "/tmp/playdroid_socket"

// State is the connection manager's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateListening
	StateAccepted
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateAccepted:
		return "accepted"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Server owns the control socket and at most one producer connection.
// While a producer is connected the listener is closed, so a second
// producer cannot connect until the first one leaves.
type Server struct {
	path string
	disp *Dispatcher

	mu       sync.Mutex
	state    State
	peerID   string
	ln       *net.UnixListener
	ch       *transport.Channel
	lockFile *os.File
	stopping bool

	ready     chan struct{}
	readyOnce sync.Once
}

func NewServer(path string, disp *Dispatcher) *Server {
	if path == "" {
		path = DefaultSocketPath
	}
	return &Server{
		path:  path,
		disp:  disp,
		ready: make(chan struct{}),
	}
}

// Path returns the socket path.
func (s *Server) Path() string { return s.path }

// Ready is closed once the server listens for the first time.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// State returns the current lifecycle state and the connected peer's ID,
// if any.
func (s *Server) State() (State, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.peerID
}

// Run serves producers one after another until ctx is cancelled. It only
// fails early when the socket cannot be bound or another instance holds
// the lock.
func (s *Server) Run(ctx context.Context) error {
	if err := s.acquireLock(); err != nil {
		return err
	}
	defer s.releaseLock() //nolint:errcheck

	stop := context.AfterFunc(ctx, s.interrupt)
	defer stop()

	for {
		if ctx.Err() != nil {
			s.setState(StateClosed, "")
			return ctx.Err()
		}

		ln, err := transport.Listen(s.path)
		if err != nil {
			return err
		}
		if !s.track(ln, nil) {
			return ctx.Err()
		}
		s.setState(StateListening, "")
		s.readyOnce.Do(func() { close(s.ready) })
		log.Printf("display: listening on %s", s.path)

		conn, err := ln.AcceptUnix()
		ln.Close()
		s.untrack()
		if err != nil {
			if ctx.Err() != nil {
				s.setState(StateClosed, "")
				return ctx.Err()
			}
			log.Printf("display: accept failed: %v", err)
			continue
		}

		ch := transport.New(conn)
		if !s.track(nil, ch) {
			ch.Close()
			return ctx.Err()
		}
		id := uuid.NewString()
		s.setState(StateAccepted, id)
		log.Printf("display: peer %s connected", id)

		if err := s.serve(ch); err != nil && ctx.Err() == nil {
			log.Printf("display: peer %s dropped: %v", id, err)
		} else {
			log.Printf("display: peer %s disconnected", id)
		}
		ch.Close()
		s.untrack()
		s.setState(StateClosed, "")
	}
}

// serve processes messages from one peer in arrival order. A nil return
// means the peer closed the connection cleanly.
func (s *Server) serve(ch *transport.Channel) error {
	for {
		msg, err := ch.Receive()
		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				return nil
			}
			return err
		}
		if err := s.disp.Dispatch(ch, msg); err != nil {
			return err
		}
	}
}

func (s *Server) setState(st State, peerID string) {
	s.mu.Lock()
	s.state = st
	s.peerID = peerID
	s.mu.Unlock()
}

// track records the live listener or channel so interrupt can unblock it.
// It returns false, closing nothing, when shutdown already started.
func (s *Server) track(ln *net.UnixListener, ch *transport.Channel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		if ln != nil {
			ln.Close()
		}
		return false
	}
	s.ln = ln
	s.ch = ch
	return true
}

func (s *Server) untrack() {
	s.mu.Lock()
	s.ln = nil
	s.ch = nil
	s.mu.Unlock()
}

func (s *Server) interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopping = true
	if s.ln != nil {
		s.ln.Close()
	}
	if s.ch != nil {
		s.ch.Close()
	}
}

func (s *Server) acquireLock() error {
	lockPath := s.path + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close() //nolint:errcheck
		return fmt.Errorf("display server already running on %s", s.path)
	}
	s.mu.Lock()
	s.lockFile = f
	s.mu.Unlock()
	return nil
}

func (s *Server) releaseLock() error {
	s.mu.Lock()
	f := s.lockFile
	s.lockFile = nil
	s.mu.Unlock()
	if f == nil {
		return nil
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return f.Close()
}
