package server

import (
	"bufio"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mrtsync/mrtftp/event"
	"github.com/mrtsync/mrtftp/internal/transfer"
)

// MaxCommandLength is the maximum length of a command line.
const MaxCommandLength = 4096

// dataAcceptTimeout bounds how long a data or auxiliary listener waits for
// the client to connect.
const dataAcceptTimeout = 10 * time.Second

var errCommandTooLong = errors.New("command too long")

type connectionType int

const (
	connPassive connectionType = iota
	connActive
)

// session represents a client session.
type session struct {
	server *Server
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	mu     sync.Mutex // Protects writer, user and isLoggedIn

	// Session tracking
	sessionID   string
	remoteIP    string
	connectedAt time.Time
	events      *event.Queue
	ctx         context.Context // Canceled when the session closes
	cancel      context.CancelFunc

	disconnectOnce sync.Once
	closeOnce      sync.Once

	// State, owned by the command goroutine
	isLoggedIn    bool
	user          string
	fs            ClientContext
	transferType  string // A or I
	connType      connectionType
	renameFrom    string // For RNFR/RNTO
	copyFrom      string // For CFR/CTO
	bufferSize    int
	restartOffset int64 // For REST
	lastCode      int

	// Data connection state
	pasvList net.Listener

	// Auxiliary channels
	chMu        sync.Mutex
	pingList    net.Listener
	pingConn    net.Conn
	specialList net.Listener
	specialConn net.Conn
	specialMu   sync.Mutex // Serializes writes to specialConn
	ping        atomic.Int64
}

// commandHandlers maps commands to their handler functions.
// Handlers write their own replies. USER, PASS and QUIT go through the same
// table; authentication gating is applied in handleCommand.
var commandHandlers = map[string]func(*session, string){
	// Access control
	"USER": (*session).handleUSER,
	"PASS": (*session).handlePASS,
	"QUIT": (*session).handleQUIT,

	// File management
	"CWD":  (*session).handleCWD,
	"CDUP": (*session).handleCDUP,
	"PWD":  (*session).handlePWD,
	"MKD":  (*session).handleMKD,
	"RMD":  (*session).handleRMD,
	"DELE": (*session).handleDELE,
	"RNFR": (*session).handleRNFR,
	"RNTO": (*session).handleRNTO,

	// Transfer
	"TYPE": (*session).handleTYPE,
	"PORT": (*session).handlePORT,
	"PASV": (*session).handlePASV,
	"REST": (*session).handleREST,
	"RETR": (*session).handleRETR,
	"STOR": (*session).handleSTOR,
	"LIST": (*session).handleLIST,
	"NLST": (*session).handleNLST,
	"EXLI": (*session).handleEXLI,

	// Information
	"SYST": (*session).handleSYST,
	"SIZE": (*session).handleSIZE,
	"FEAT": (*session).handleFEAT,
	"OPTS": (*session).handleOPTS,
	"MFMT": (*session).handleMFMT,
	"GDT":  (*session).handleGDT,
	"GPN":  (*session).handleGPN,

	// Application lifecycle
	"RSTP": appAction("RSTP", "Restarting panel..."),
	"RSPL": appAction("RSPL", "Restarting launcher..."),
	"STP":  appAction("STP", "Stopping panel..."),
	"STPL": appAction("STPL", "Stopping launcher..."),
	"STTP": appAction("STTP", "Strating panel..."),

	// Panel content
	"GTSA": (*session).handleGTSA,
	"RIN":  (*session).handleRIN,
	"RVD":  removeMedia(mediaVideo, false),
	"RIM":  removeMedia(mediaImage, false),
	"RAU":  removeMedia(mediaAudio, false),
	"RVDS": removeMedia(mediaVideo, true),
	"RIMS": removeMedia(mediaImage, true),
	"RAUS": removeMedia(mediaAudio, true),
	"CIN":  (*session).handleCIN,
	"CLRD": (*session).handleCLRD,
	"CFR":  (*session).handleCFR,
	"CTO":  (*session).handleCTO,
	"SDBS": (*session).handleSDBS,

	// Auxiliary channels
	"STPS": (*session).handleSTPS,
	"HPS":  (*session).handleHPS,
	"STSS": (*session).handleSTSS,
	"HSS":  (*session).handleHSS,
}

// preAuthCommands are served before login even when authentication is
// required.
var preAuthCommands = map[string]bool{
	"USER": true,
	"PASS": true,
	"QUIT": true,
	"SYST": true,
	"FEAT": true,
	"OPTS": true,
}

// generateSessionID generates a unique 8-character session ID.
func generateSessionID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%08x", b)
}

// newSession creates a new session with its own filesystem context and
// event queue.
func newSession(server *Server, conn net.Conn) (*session, error) {
	fs, err := server.driver.NewContext()
	if err != nil {
		return nil, fmt.Errorf("failed to open filesystem: %w", err)
	}

	remoteAddr := conn.RemoteAddr().String()
	remoteIP, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		remoteIP = remoteAddr
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &session{
		server:       server,
		conn:         conn,
		reader:       bufio.NewReader(conn),
		writer:       bufio.NewWriter(conn),
		sessionID:    generateSessionID(),
		remoteIP:     remoteIP,
		connectedAt:  time.Now(),
		events:       event.NewQueue(server.eventHandlers...),
		ctx:          ctx,
		cancel:       cancel,
		fs:           fs,
		transferType: "I",
		connType:     connPassive,
		bufferSize:   transfer.DefaultBufferSize,
	}, nil
}

// serve runs the command loop until the client disconnects, sends an empty
// line, or an auxiliary channel fails.
func (s *session) serve() {
	defer s.close()

	s.reply(220, "Connection established.")

	s.server.logger.Info("session_started",
		"session_id", s.sessionID,
		"remote_ip", s.remoteIP,
	)

	for {
		if s.server.maxIdleTime > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.server.maxIdleTime))
		}

		line, err := s.readCommand()
		if err != nil {
			if errors.Is(err, errCommandTooLong) {
				s.reply(500, "Command line too long.")
			} else if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.server.logger.Warn("read error",
					"session_id", s.sessionID,
					"remote_ip", s.remoteIP,
					"user", s.user,
					"error", err,
				)
			}
			return
		}

		line = strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(line) == "" {
			s.server.logger.Debug("empty command, disconnecting",
				"session_id", s.sessionID,
			)
			return
		}

		s.handleCommand(line)
	}
}

// readCommand reads a line from the reader with a limit.
func (s *session) readCommand() (string, error) {
	var line []byte
	for {
		b, err := s.reader.ReadByte()
		if err != nil {
			return string(line), err
		}

		if len(line) >= MaxCommandLength {
			return "", errCommandTooLong
		}

		if b == '\n' {
			return string(line), nil
		}
		line = append(line, b)
	}
}

// parseCommand splits a command line at the first space into an upper-cased
// verb and its argument.
func parseCommand(line string) (cmd, arg string) {
	line = strings.TrimRight(line, "\r\n")
	cmd, arg, _ = strings.Cut(line, " ")
	return strings.ToUpper(strings.TrimSpace(cmd)), arg
}

// handleCommand parses and dispatches a command.
func (s *session) handleCommand(line string) {
	cmd, arg := parseCommand(line)

	logArg := arg
	if cmd == "PASS" {
		logArg = "***"
	}
	s.server.logger.Debug("command received",
		"session_id", s.sessionID,
		"remote_ip", s.remoteIP,
		"user", s.user,
		"cmd", cmd,
		"arg", logArg,
	)

	start := time.Now()
	s.lastCode = 0

	handler, ok := commandHandlers[cmd]
	switch {
	case !ok:
		s.reply(502, "Command not implemented.")
	case s.server.requireAuth && !s.isLoggedIn && !preAuthCommands[cmd]:
		s.reply(530, "Please login with USER and PASS.")
	default:
		handler(s, arg)
	}

	if s.server.metricsCollector != nil && ok {
		s.server.metricsCollector.RecordCommand(cmd, s.lastCode > 0 && s.lastCode < 400, time.Since(start))
	}
}

// reply sends a response to the client. A 221 reply raises the
// disconnect event; the loop still waits for the client to close.
func (s *session) reply(code int, message string) {
	s.mu.Lock()
	fmt.Fprintf(s.writer, "%d %s\r\n", code, message)
	err := s.writer.Flush()
	s.mu.Unlock()

	s.lastCode = code
	if err != nil {
		s.server.logger.Debug("write error",
			"session_id", s.sessionID,
			"error", err,
		)
	}
	if code == 221 {
		s.raiseDisconnect(nil)
	}
}

// replyLines sends a multi-line response: "code-first", the body lines
// prefixed with a space, then "code last".
func (s *session) replyLines(code int, first string, lines []string, last string) {
	s.mu.Lock()
	fmt.Fprintf(s.writer, "%d-%s\r\n", code, first)
	for _, l := range lines {
		fmt.Fprintf(s.writer, " %s\r\n", l)
	}
	fmt.Fprintf(s.writer, "%d %s\r\n", code, last)
	_ = s.writer.Flush()
	s.mu.Unlock()
	s.lastCode = code
}

// publish queues an event for this session.
func (s *session) publish(kind event.Kind, message string, err error) {
	s.events.Publish(event.Event{
		Kind:      kind,
		SessionID: s.sessionID,
		Message:   message,
		Err:       err,
	})
}

// raiseDisconnect publishes the Disconnected event once per session.
func (s *session) raiseDisconnect(err error) {
	s.disconnectOnce.Do(func() {
		s.publish(event.Disconnected, s.remoteIP, err)
	})
}

// fail tears the session down after an auxiliary channel error.
func (s *session) fail(channel string, err error) {
	if s.ctx.Err() != nil {
		return
	}
	s.server.logger.Warn("channel_failed",
		"session_id", s.sessionID,
		"remote_ip", s.remoteIP,
		"channel", channel,
		"error", err,
	)
	s.raiseDisconnect(err)
	s.conn.Close()
}

// info returns a snapshot for Server.Sessions.
func (s *session) info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		ID:          s.sessionID,
		RemoteAddr:  s.conn.RemoteAddr().String(),
		User:        s.user,
		LoggedIn:    s.isLoggedIn,
		Ping:        time.Duration(s.ping.Load()),
		ConnectedAt: s.connectedAt,
	}
}

// close closes the session and every socket it owns.
func (s *session) close() {
	s.closeOnce.Do(func() {
		s.cancel()

		if s.pasvList != nil {
			s.pasvList.Close()
		}

		s.chMu.Lock()
		for _, c := range []io.Closer{s.pingList, s.pingConn, s.specialList, s.specialConn} {
			if c != nil {
				c.Close()
			}
		}
		s.chMu.Unlock()

		if s.fs != nil {
			s.fs.Close()
		}
		s.conn.Close()

		s.raiseDisconnect(nil)
		s.events.Close()

		s.server.logger.Debug("session closed",
			"session_id", s.sessionID,
			"remote_ip", s.remoteIP,
			"user", s.user,
		)
	})
}

// replyError sends a standard error response based on the error type.
func (s *session) replyError(err error) {
	if os.IsNotExist(err) {
		s.reply(550, "File not found.")
		return
	}
	if os.IsPermission(err) {
		s.reply(550, "Permission denied.")
		return
	}
	if os.IsExist(err) {
		s.reply(550, "File already exists.")
		return
	}
	s.reply(550, "Action failed.")
}
