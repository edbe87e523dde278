package server

import (
	"io"
	"log/slog"
	"net"
	"net/textproto"
	"sync"
	"testing"
	"time"

	"github.com/mrtsync/mrtftp/event"
	"github.com/mrtsync/mrtftp/internal/pasv"
)

// eventRecorder collects session events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *eventRecorder) handle(e event.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *eventRecorder) count(kind event.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func (r *eventRecorder) find(kind event.Kind) (event.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Kind == kind {
			return e, true
		}
	}
	return event.Event{}, false
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

// startServer serves rootDir on a loopback port and returns the server
// and its address. The server is shut down when the test ends.
func startServer(t *testing.T, rootDir string, opts ...Option) (*Server, string) {
	t.Helper()

	driver, err := NewFSDriver(rootDir)
	fatalIfErr(t, err, "NewFSDriver failed")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	fatalIfErr(t, err, "Listen failed")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithDriver(driver), WithLogger(logger)}, opts...)
	s, err := NewServer(ln.Addr().String(), opts...)
	fatalIfErr(t, err, "NewServer failed")

	go func() {
		if err := s.Serve(ln); err != nil && err != ErrServerClosed {
			t.Logf("Server stopped: %v", err)
		}
	}()
	t.Cleanup(func() {
		if err := s.Shutdown(); err != nil {
			t.Logf("Shutdown failed: %v", err)
		}
	})

	return s, ln.Addr().String()
}

// controlConn is a raw control connection used to drive the server
// command by command.
type controlConn struct {
	t  *testing.T
	c  net.Conn
	tp *textproto.Conn
}

func dialControl(t *testing.T, addr string) *controlConn {
	t.Helper()
	c, err := net.DialTimeout("tcp", addr, 5*time.Second)
	fatalIfErr(t, err, "Dial failed")
	_ = c.SetDeadline(time.Now().Add(30 * time.Second))

	cc := &controlConn{t: t, c: c, tp: textproto.NewConn(c)}
	t.Cleanup(func() { cc.tp.Close() })

	if _, _, err := cc.tp.ReadResponse(220); err != nil {
		t.Fatalf("Greeting failed: %v", err)
	}
	return cc
}

// cmd sends one command and returns the reply code and text.
func (cc *controlConn) cmd(line string) (int, string) {
	cc.t.Helper()
	if err := cc.tp.PrintfLine("%s", line); err != nil {
		cc.t.Fatalf("Send %q failed: %v", line, err)
	}
	return cc.read()
}

func (cc *controlConn) read() (int, string) {
	cc.t.Helper()
	code, msg, err := cc.tp.ReadResponse(0)
	if err != nil {
		cc.t.Fatalf("ReadResponse failed: %v", err)
	}
	return code, msg
}

// expect sends line and fails unless the reply is exactly code and msg.
func (cc *controlConn) expect(line string, code int, msg string) {
	cc.t.Helper()
	gotCode, gotMsg := cc.cmd(line)
	if gotCode != code || gotMsg != msg {
		cc.t.Fatalf("%s: got %d %q, want %d %q", line, gotCode, gotMsg, code, msg)
	}
}

func (cc *controlConn) login() {
	cc.t.Helper()
	cc.expect("USER mrt.client", 331, "User name okay, need password.")
	cc.expect("PASS "+DefaultPassword, 230, "User logged in, proceed.")
}

// pasv sends PASV and dials the advertised address.
func (cc *controlConn) pasv() net.Conn {
	cc.t.Helper()
	code, msg := cc.cmd("PASV")
	if code != 227 {
		cc.t.Fatalf("PASV: got %d %q", code, msg)
	}
	addr, err := pasv.Parse(msg)
	fatalIfErr(cc.t, err, "pasv.Parse failed")
	conn, err := net.DialTimeout("tcp", addr.String(), 5*time.Second)
	fatalIfErr(cc.t, err, "Dial data failed")
	return conn
}

// retrieve runs a data command and returns the payload.
func (cc *controlConn) retrieve(line string) string {
	cc.t.Helper()
	data := cc.pasv()
	defer data.Close()

	code, msg := cc.cmd(line)
	if code != 150 {
		cc.t.Fatalf("%s: got %d %q, want 150", line, code, msg)
	}
	payload, err := io.ReadAll(data)
	fatalIfErr(cc.t, err, "ReadAll failed")
	if code, msg := cc.read(); code != 226 {
		cc.t.Fatalf("%s: got %d %q, want 226", line, code, msg)
	}
	return string(payload)
}

// store uploads content with STOR.
func (cc *controlConn) store(name, content string) {
	cc.t.Helper()
	data := cc.pasv()

	code, msg := cc.cmd("STOR " + name)
	if code != 150 {
		data.Close()
		cc.t.Fatalf("STOR: got %d %q, want 150", code, msg)
	}
	if _, err := io.WriteString(data, content); err != nil {
		cc.t.Fatalf("Write failed: %v", err)
	}
	data.Close()
	if code, msg := cc.read(); code != 226 {
		cc.t.Fatalf("STOR: got %d %q, want 226", code, msg)
	}
}
