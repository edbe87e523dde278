package server

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/mrtsync/mrtftp/event"
)

// Server is the panel FTP server.
//
// It listens for incoming connections and runs one session per client.
// Sessions are tracked in a registry so they can be listed and addressed
// through their special channel.
//
// Lifecycle:
//  1. Create server with NewServer()
//  2. Start with ListenAndServe() or Serve()
//  3. Call Shutdown() to stop accepting and close every session
//
// Basic example:
//
//	driver, _ := server.NewFSDriver("/srv/panel")
//	s, err := server.NewServer(":21", server.WithDriver(driver))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(s.ListenAndServe())
type Server struct {
	// addr is the TCP address to listen on (e.g., ":21").
	addr string

	// driver provides the per-session filesystem.
	driver Driver

	// logger is the logger instance.
	logger *slog.Logger

	// users are the accepted USER names.
	users []string

	// password is the shared password, compared in constant time.
	// Ignored when passwordHash is set.
	password string

	// passwordHash is a bcrypt hash of the shared password.
	passwordHash []byte

	// requireAuth rejects file commands until PASS succeeds.
	requireAuth bool

	// appLocator finds the panel application for GTSA and GPN.
	// If nil, those commands reply 550.
	appLocator AppLocator

	// metricsCollector receives command, transfer and connection metrics.
	metricsCollector MetricsCollector

	// eventHandlers are subscribed to every session's event queue.
	eventHandlers []event.Handler

	// heartbeatInterval is the delay between heartbeat probes.
	heartbeatInterval time.Duration

	// maxIdleTime closes a control connection idle for that long.
	// If 0, connections never time out.
	maxIdleTime time.Duration

	// maxConnections is the maximum number of simultaneous sessions.
	// If 0, there is no limit.
	maxConnections int

	// limiter caps the aggregate data transfer rate. Nil means unlimited.
	limiter *rate.Limiter

	// activeConns tracks the number of currently active sessions.
	activeConns atomic.Int32

	mu         sync.Mutex
	listener   net.Listener
	conns      map[net.Conn]struct{}
	sessions   map[string]*session
	inShutdown atomic.Bool
}

// ErrServerClosed is returned by Serve and ListenAndServe after a call to
// Shutdown.
var ErrServerClosed = errors.New("mrtftp: server closed")

// ErrSessionNotFound is returned when addressing an unknown session.
var ErrSessionNotFound = errors.New("mrtftp: session not found")

// ErrNoSpecialChannel is returned by SendSpecial when the session has not
// opened its special channel.
var ErrNoSpecialChannel = errors.New("mrtftp: special channel not open")

// Default credentials of the panel client.
const (
	DefaultPassword = "Heil,MRT!"
)

// DefaultUsers are the client identities accepted by USER.
var DefaultUsers = []string{"mrt.client", "other.client"}

// NewServer creates a new server with the given address and options.
// The driver must be provided via the WithDriver option.
//
// Default values:
//   - Logger: slog.Default()
//   - Users: DefaultUsers
//   - Password: DefaultPassword
//   - RequireAuth: true
//   - HeartbeatInterval: 1 second
//   - MaxIdleTime: 0 (no timeout)
//   - AppLocator: DirAppLocator over the driver root, when the driver
//     exposes one (FSDriver does)
func NewServer(addr string, options ...Option) (*Server, error) {
	s := &Server{
		addr:              addr,
		logger:            slog.Default(),
		users:             slices.Clone(DefaultUsers),
		password:          DefaultPassword,
		requireAuth:       true,
		heartbeatInterval: time.Second,
		conns:             make(map[net.Conn]struct{}),
		sessions:          make(map[string]*session),
	}

	for _, opt := range options {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.driver == nil {
		return nil, fmt.Errorf("driver is required (use WithDriver option)")
	}

	if s.appLocator == nil {
		if r, ok := s.driver.(interface{ Root() string }); ok {
			s.appLocator = NewDirAppLocator(r.Root())
		}
	}

	return s, nil
}

// ListenAndServe starts the server on the configured address.
// It blocks until the server stops or an error occurs.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.logger.Info("FTP server listening", "addr", ln.Addr().String())
	return s.Serve(ln)
}

// Shutdown stops the server.
//
// It closes the listener and immediately closes all active connections.
func (s *Server) Shutdown() error {
	s.inShutdown.Store(true)

	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	conns := s.conns
	s.conns = make(map[net.Conn]struct{})
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}

	for conn := range maps.Keys(conns) {
		conn.Close()
	}

	return err
}

// Serve accepts incoming connections on the listener l.
// It blocks until the listener is closed or an error occurs.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.inShutdown.Load() {
		s.mu.Unlock()
		l.Close()
		return ErrServerClosed
	}
	s.listener = l
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.listener == l {
			s.listener = nil
		}
		s.mu.Unlock()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if s.inShutdown.Load() {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.logger.Error("accept error", "error", err)
			continue
		}

		go s.handleConnection(conn)
	}
}

// SessionInfo describes a connected session.
type SessionInfo struct {
	ID          string
	RemoteAddr  string
	User        string
	LoggedIn    bool
	Ping        time.Duration
	ConnectedAt time.Time
}

// Sessions returns a snapshot of the connected sessions, oldest first.
func (s *Server) Sessions() []SessionInfo {
	s.mu.Lock()
	list := slices.Collect(maps.Values(s.sessions))
	s.mu.Unlock()

	infos := make([]SessionInfo, 0, len(list))
	for _, sess := range list {
		infos = append(infos, sess.info())
	}
	slices.SortFunc(infos, func(a, b SessionInfo) int {
		return a.ConnectedAt.Compare(b.ConnectedAt)
	})
	return infos
}

// SendSpecial writes line to the special channel of session id.
func (s *Server) SendSpecial(id, line string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	return sess.sendSpecial(line)
}

// handleConnection handles a new client connection.
func (s *Server) handleConnection(conn net.Conn) {
	if !s.trackConnection(conn, true) {
		return
	}
	defer s.trackConnection(conn, false)

	s.handleSession(conn)
}

// trackConnection returns false if we're shutting down.
func (s *Server) trackConnection(conn net.Conn, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if add {
		if s.inShutdown.Load() {
			conn.Close()
			return false
		}
		s.conns[conn] = struct{}{}
		return true
	}
	delete(s.conns, conn)
	return true
}

func (s *Server) registerSession(sess *session) {
	s.mu.Lock()
	s.sessions[sess.sessionID] = sess
	s.mu.Unlock()
}

func (s *Server) unregisterSession(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess.sessionID)
	s.mu.Unlock()
}

// handleSession enforces the connection limit and runs the session.
func (s *Server) handleSession(conn net.Conn) {
	if s.maxConnections > 0 && s.activeConns.Load() >= int32(s.maxConnections) {
		ip, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
		s.logger.Warn("connection_rejected",
			"remote_ip", ip,
			"reason", "global_limit_reached",
			"limit", s.maxConnections,
		)
		if s.metricsCollector != nil {
			s.metricsCollector.RecordConnection(false, "global_limit_reached")
		}
		fmt.Fprintf(conn, "421 Too many users, sorry.\r\n")
		conn.Close()
		return
	}

	s.activeConns.Add(1)
	defer s.activeConns.Add(-1)

	if s.metricsCollector != nil {
		s.metricsCollector.RecordConnection(true, "accepted")
	}

	sess, err := newSession(s, conn)
	if err != nil {
		s.logger.Error("session_setup_failed", "error", err)
		fmt.Fprintf(conn, "421 Service not available.\r\n")
		conn.Close()
		return
	}

	s.registerSession(sess)
	defer s.unregisterSession(sess)

	sess.serve()
}
