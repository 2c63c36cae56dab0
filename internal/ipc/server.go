package ipc

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sidecar-core/sidecar/internal/agentmodel"
)

const outboundChannelCapacity = 32

// registeredWrapper is one live connection's registry entry.
type registeredWrapper struct {
	connectionID string
	paneID       string
	pid          int
	teamName       *string
	teamMemberName *string
	isTeamLead     bool
	state          agentmodel.WrapState
	updatedAt      time.Time
}

// Server is the IPC Server of spec.md §4.5: a Unix-domain socket listener
// maintaining a registry of connected wrappers and routing keystroke
// commands back to them.
type Server struct {
	logger *slog.Logger

	mu       sync.RWMutex
	byPane   map[string]*registeredWrapper
	outbound map[string]chan []byte // keyed by connection id

	listener net.Listener
}

// NewServer constructs an unstarted Server.
func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		logger:   logger,
		byPane:   make(map[string]*registeredWrapper),
		outbound: make(map[string]chan []byte),
	}
}

// Listen binds the Unix socket at sockPath. Callers must have already
// resolved a stale-socket check (see statedir package); Listen itself just
// binds and sets mode 0700.
func Listen(sockPath string) (net.Listener, error) {
	_ = os.Remove(sockPath)
	l, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, fmt.Errorf("ipc: listen %s: %w", sockPath, err)
	}
	if err := os.Chmod(sockPath, 0o700); err != nil {
		l.Close()
		return nil, fmt.Errorf("ipc: chmod %s: %w", sockPath, err)
	}
	return l, nil
}

// ProbeStale attempts to connect to an existing socket path; a live socket
// means another instance is running, a dead one should be removed by the
// caller before Listen.
func ProbeStale(sockPath string) (live bool) {
	conn, err := net.DialTimeout("unix", sockPath, 200*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Serve accepts connections until ctx is cancelled or the listener closes.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	s.listener = l
	go func() {
		<-ctx.Done()
		l.Close()
	}()
	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)

	line, err := reader.ReadBytes('\n')
	if err != nil {
		s.logger.Debug("ipc: connection closed before register", "err", err)
		return
	}
	msg, err := DecodeClientMessage(line)
	if err != nil || msg.Type != "register" {
		s.logger.Debug("ipc: first message was not register", "err", err)
		return
	}

	connID := uuid.NewString()
	wrapper := &registeredWrapper{
		connectionID:   connID,
		paneID:         msg.Register.PaneID,
		pid:            msg.Register.PID,
		teamName:       msg.Register.TeamName,
		teamMemberName: msg.Register.TeamMemberName,
		isTeamLead:     msg.Register.IsTeamLead,
		updatedAt:      time.Now(),
	}

	out := make(chan []byte, outboundChannelCapacity)
	s.mu.Lock()
	// Reconnect semantics: evict any existing handle for this pane id first.
	if prev, ok := s.byPane[wrapper.paneID]; ok {
		if prevOut, ok := s.outbound[prev.connectionID]; ok {
			close(prevOut)
			delete(s.outbound, prev.connectionID)
		}
	}
	s.byPane[wrapper.paneID] = wrapper
	s.outbound[connID] = out
	s.mu.Unlock()

	registeredLine, err := EncodeRegistered(RegisteredMsg{ConnectionID: connID})
	if err == nil {
		conn.Write(append(registeredLine, '\n'))
	}

	defer func() {
		s.mu.Lock()
		if cur, ok := s.byPane[wrapper.paneID]; ok && cur.connectionID == connID {
			delete(s.byPane, wrapper.paneID)
		}
		delete(s.outbound, connID)
		s.mu.Unlock()
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				return
			}
			msg, err := DecodeClientMessage(line)
			if err != nil {
				s.logger.Debug("ipc: malformed client message", "err", err)
				continue
			}
			if msg.Type == "state_update" && msg.State != nil {
				s.mu.Lock()
				if w, ok := s.byPane[wrapper.paneID]; ok && w.connectionID == connID {
					w.state = *msg.State
					w.updatedAt = time.Now()
				}
				s.mu.Unlock()
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case payload, ok := <-out:
			if !ok {
				return
			}
			if _, err := conn.Write(append(payload, '\n')); err != nil {
				return
			}
		}
	}
}

// State returns the most recent WrapState for a pane id, and whether one is
// registered.
func (s *Server) State(paneID string) (agentmodel.WrapState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.byPane[paneID]
	if !ok {
		return agentmodel.WrapState{}, false
	}
	return w.state, true
}

// Fresh reports whether the pane's last reported state is within maxAge of
// now.
func (s *Server) Fresh(paneID string, maxAge time.Duration, now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.byPane[paneID]
	if !ok {
		return false
	}
	return now.Sub(w.updatedAt) <= maxAge
}

// TrySendKeys attempts a synchronous, non-blocking delivery of a send_keys
// message; returns false if no live channel accepts it.
func (s *Server) TrySendKeys(paneID, keys string, literal bool) bool {
	payload, err := EncodeSendKeys(SendKeysMsg{Keys: keys, Literal: literal})
	if err != nil {
		return false
	}
	return s.trySend(paneID, payload)
}

// TrySendKeysAndEnter attempts a synchronous, non-blocking delivery of a
// send_keys_and_enter message.
func (s *Server) TrySendKeysAndEnter(paneID, text string) bool {
	payload, err := EncodeSendKeysAndEnter(SendKeysAndEnterMsg{Text: text})
	if err != nil {
		return false
	}
	return s.trySend(paneID, payload)
}

func (s *Server) trySend(paneID string, payload []byte) bool {
	s.mu.RLock()
	w, ok := s.byPane[paneID]
	var ch chan []byte
	if ok {
		ch, ok = s.outbound[w.connectionID]
	}
	s.mu.RUnlock()
	if !ok {
		return false
	}
	select {
	case ch <- payload:
		return true
	default:
		return false
	}
}

// HasConnection reports whether a live wrapper is registered for paneID.
func (s *Server) HasConnection(paneID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byPane[paneID]
	return ok
}
