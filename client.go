package mrtftp

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/mrtsync/mrtftp/event"
	"github.com/mrtsync/mrtftp/internal/retry"
	"github.com/mrtsync/mrtftp/internal/transfer"
)

// Default credentials of the panel client.
const (
	DefaultUser     = "mrt.client"
	DefaultPassword = "Heil,MRT!"
)

// Client is a remote session with a panel server.
//
// A Client is created disconnected by Dial; operations log in on demand.
// Methods are not safe for concurrent use, except Ping, LoggedIn,
// SendSpecialCommand and Close.
type Client struct {
	// addr is the server address in host:port form
	addr string

	// user and password are sent by Login
	user     string
	password string

	// timeout bounds each control exchange and each dial
	timeout time.Duration

	// retry configures the connection attempts of Login
	retry retry.Config

	// logger is used for debug logging
	logger *slog.Logger

	// dialer is used to establish connections
	dialer *net.Dialer

	// handlers are subscribed to events
	handlers []event.Handler
	events   *event.Queue

	// bufferSize is the transfer chunk size
	bufferSize int

	// limiter caps the transfer rate, nil means unlimited
	limiter *rate.Limiter

	// remotePath is the working directory reported by the last PWD
	remotePath string

	// localDir is the local directory cursor
	localDir string

	// mu serializes control exchanges
	mu sync.Mutex

	// loginMu serializes Login
	loginMu sync.Mutex

	// stateMu protects link
	stateMu sync.Mutex
	link    *link

	lastPing atomic.Int64

	// ctx is canceled by Close
	ctx    context.Context
	cancel context.CancelFunc
}

// link is one established control connection with its auxiliary
// channels. A new link is created by every Login.
type link struct {
	conn   net.Conn
	reader *bufio.Reader
	ready  atomic.Bool

	mu        sync.Mutex
	closed    bool
	ping      net.Conn
	special   net.Conn
	specialMu sync.Mutex // Serializes writes to special
}

// attach stores an auxiliary connection. It returns false, closing conn,
// when the link is already closed.
func (l *link) attach(slot *net.Conn, conn net.Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		conn.Close()
		return false
	}
	*slot = conn
	return true
}

// close closes every connection of the link. It returns true only for the
// first call.
func (l *link) close() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.closed = true
	for _, c := range []net.Conn{l.conn, l.ping, l.special} {
		if c != nil {
			c.Close()
		}
	}
	return true
}

// Dial returns a Client for the server at addr.
// No connection is made until Login or the first operation.
//
// Example:
//
//	client, err := mrtftp.Dial("panel.local:21",
//	    mrtftp.WithEventHandler(func(e event.Event) {
//	        log.Println(e.Kind, e.Message)
//	    }),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	if err := client.Login(ctx); err != nil {
//	    log.Fatal(err)
//	}
func Dial(addr string, options ...Option) (*Client, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}

	c := &Client{
		addr:       addr,
		user:       DefaultUser,
		password:   DefaultPassword,
		timeout:    30 * time.Second,
		retry:      retry.DefaultConfig(),
		dialer:     &net.Dialer{},
		logger:     slog.New(slog.DiscardHandler),
		bufferSize: transfer.DefaultBufferSize,
	}

	for _, opt := range options {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if c.localDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		c.localDir = wd
	}

	if c.dialer.Timeout == 0 {
		c.dialer.Timeout = c.timeout
	}

	c.events = event.NewQueue(c.handlers...)
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c, nil
}

// Subscribe adds an event handler after Dial.
func (c *Client) Subscribe(h event.Handler) {
	c.events.Subscribe(h)
}

func (c *Client) publish(kind event.Kind, message string, err error) {
	c.events.Publish(event.Event{Kind: kind, Message: message, Err: err})
}

func (c *Client) currentLink() *link {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.link
}

// LoggedIn reports whether the session is established.
func (c *Client) LoggedIn() bool {
	l := c.currentLink()
	return l != nil && l.ready.Load()
}

// Ping returns the latest heartbeat round trip.
func (c *Client) Ping() time.Duration {
	return time.Duration(c.lastPing.Load())
}

// RemotePath returns the remote working directory as of the last PWD.
func (c *Client) RemotePath() string {
	return c.remotePath
}

// Login connects and authenticates.
//
// The server is dialed every retry interval until it answers, ctx is done
// or the client is closed. After the greeting the client sends USER and
// PASS, enters the configured remote path, switches to UTF-8 and binary
// mode, then opens the heartbeat and special channels.
// On any failure the connection is torn down and event.Disconnected is
// published.
func (c *Client) Login(ctx context.Context) error {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()

	if c.ctx.Err() != nil {
		return ErrClosed
	}
	if c.LoggedIn() {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	var conn net.Conn
	err := retry.Do(ctx, c.retry, func() error {
		cn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
		if err != nil {
			c.logger.Debug("dial failed, retrying", "addr", c.addr, "error", err)
			return retry.Retryable(err)
		}
		conn = cn
		return nil
	})
	if err != nil {
		if c.ctx.Err() != nil {
			return ErrClosed
		}
		err = fmt.Errorf("failed to connect: %w", err)
		c.publish(event.Disconnected, c.addr, err)
		return err
	}

	l := &link{conn: conn, reader: bufio.NewReader(conn)}
	c.stateMu.Lock()
	c.link = l
	c.stateMu.Unlock()

	if err := c.handshake(ctx, l); err != nil {
		c.teardown(l, err)
		return err
	}

	l.ready.Store(true)
	c.logger.Info("login_success", "addr", c.addr, "user", c.user, "remote_path", c.remotePath)
	c.publish(event.Connected, c.addr, nil)
	return nil
}

func (c *Client) handshake(ctx context.Context, l *link) error {
	resp, err := c.readReply(ctx)
	if err != nil {
		return fmt.Errorf("failed to read greeting: %w", err)
	}
	if resp.Code != 220 {
		return protocolError("CONNECT", resp)
	}

	resp, err = c.expectCode(ctx, codes(230, 331), "USER", c.user)
	if err != nil {
		return err
	}
	if resp.Code == 331 {
		if _, err := c.expectCode(ctx, codes(230, 202), "PASS", c.password); err != nil {
			return err
		}
	}

	if c.remotePath != "" {
		if _, err := c.expectCode(ctx, codes(200, 250), "CWD", c.remotePath); err != nil {
			return err
		}
	}
	if _, err := c.pwd(ctx); err != nil {
		return err
	}

	if _, err := c.expectCode(ctx, codes(200), "OPTS", "UTF8", "ON"); err != nil {
		return err
	}
	if _, err := c.expectCode(ctx, codes(200), "TYPE", "I"); err != nil {
		return err
	}
	if c.bufferSize != transfer.DefaultBufferSize {
		if _, err := c.expectCode(ctx, codes(200), "SDBS", strconv.Itoa(c.bufferSize)); err != nil {
			return err
		}
	}

	ping, err := c.openChannel(ctx, "STPS", "HPS")
	if err != nil {
		return fmt.Errorf("heartbeat channel: %w", err)
	}
	if !l.attach(&l.ping, ping) {
		return ErrClosed
	}

	special, err := c.openChannel(ctx, "STSS", "HSS")
	if err != nil {
		return fmt.Errorf("special channel: %w", err)
	}
	if !l.attach(&l.special, special) {
		return ErrClosed
	}

	go c.heartbeat(l, ping)
	go c.readSpecial(l, special)
	return nil
}

// ensureLoggedIn runs Login unless a session is established.
func (c *Client) ensureLoggedIn(ctx context.Context) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	if c.LoggedIn() {
		return nil
	}
	return c.Login(ctx)
}

// teardown closes l and publishes event.Disconnected once per link.
func (c *Client) teardown(l *link, err error) {
	if !l.close() {
		return
	}

	c.stateMu.Lock()
	if c.link == l {
		c.link = nil
	}
	c.stateMu.Unlock()

	if err != nil {
		c.logger.Warn("session_lost", "addr", c.addr, "error", err)
	} else {
		c.logger.Debug("session closed", "addr", c.addr)
	}
	c.publish(event.Disconnected, c.addr, err)
}

// Quit sends QUIT and closes the session. The Client can log in again.
func (c *Client) Quit(ctx context.Context) error {
	l := c.currentLink()
	if l == nil {
		return nil
	}
	_, err := c.expectCode(ctx, codes(221), "QUIT")
	c.teardown(l, nil)
	return err
}

// Close closes the session, stops pending Login attempts and delivers the
// remaining events. The Client cannot be used afterwards.
func (c *Client) Close() error {
	c.cancel()
	if l := c.currentLink(); l != nil {
		c.teardown(l, nil)
	}
	c.events.Close()
	return nil
}

// pwd sends PWD and caches the quoted path.
func (c *Client) pwd(ctx context.Context) (string, error) {
	resp, err := c.expectCode(ctx, codes(257), "PWD")
	if err != nil {
		return "", err
	}
	p, err := quotedPath(resp.Message)
	if err != nil {
		return "", err
	}
	c.remotePath = p
	return p, nil
}

// quotedPath extracts the double-quoted path of a PWD or CDUP reply.
// Doubled quotes inside the path are unescaped.
func quotedPath(msg string) (string, error) {
	start := strings.IndexByte(msg, '"')
	end := strings.LastIndexByte(msg, '"')
	if start < 0 || end <= start {
		return "", fmt.Errorf("%w: no quoted path in %q", ErrMalformedReply, msg)
	}
	inner := msg[start+1 : end]
	if s, err := strconv.Unquote(`"` + inner + `"`); err == nil {
		return s, nil
	}
	return strings.ReplaceAll(inner, `""`, `"`), nil
}
