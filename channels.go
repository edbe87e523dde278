package mrtftp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/mrtsync/mrtftp/event"
	"github.com/mrtsync/mrtftp/internal/pasv"
)

// openChannel asks the server to open an auxiliary listener with start,
// confirms it with hold and connects to it.
func (c *Client) openChannel(ctx context.Context, start, hold string) (net.Conn, error) {
	resp, err := c.expectCode(ctx, codes(200), start)
	if err != nil {
		return nil, err
	}

	addr, err := pasv.Parse(resp.Message)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrMalformedPASV, err)
		c.publish(event.Error, resp.Message, err)
		return nil, err
	}

	if _, err := c.expectCode(ctx, codes(200), hold); err != nil {
		return nil, err
	}

	conn, err := c.dialer.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return conn, nil
}

// heartbeat answers the server's probes and records the round trip from
// the reply to the server's ack.
func (c *Client) heartbeat(l *link, conn net.Conn) {
	buf := make([]byte, 1)
	for {
		if _, err := io.ReadFull(conn, buf); err != nil {
			c.teardown(l, fmt.Errorf("heartbeat: %w", err))
			return
		}

		start := time.Now()
		if _, err := conn.Write([]byte{1}); err != nil {
			c.teardown(l, fmt.Errorf("heartbeat: %w", err))
			return
		}
		if _, err := io.ReadFull(conn, buf); err != nil {
			c.teardown(l, fmt.Errorf("heartbeat: %w", err))
			return
		}
		c.lastPing.Store(int64(time.Since(start)))
	}
}

// readSpecial publishes every line pushed by the server.
func (c *Client) readSpecial(l *link, conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		c.publish(event.SpecialCommand, strings.TrimRight(scanner.Text(), "\r"), nil)
	}
	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	c.teardown(l, fmt.Errorf("special channel: %w", err))
}

// SendSpecialCommand writes line to the special channel.
func (c *Client) SendSpecialCommand(line string) error {
	l := c.currentLink()
	if l == nil {
		return ErrNotLoggedIn
	}

	l.mu.Lock()
	conn := l.special
	l.mu.Unlock()
	if conn == nil {
		return ErrNoSpecialChannel
	}

	l.specialMu.Lock()
	defer l.specialMu.Unlock()
	if _, err := io.WriteString(conn, line+"\n"); err != nil {
		return fmt.Errorf("special channel write failed: %w", err)
	}
	return nil
}
