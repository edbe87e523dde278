package mrtftp

import (
	"context"
	"fmt"
	"net"

	"github.com/mrtsync/mrtftp/event"
	"github.com/mrtsync/mrtftp/internal/pasv"
)

// CreateDataSocket sends PASV and connects to the advertised address.
// A malformed address publishes event.Error and returns ErrMalformedPASV;
// the session stays usable.
func (c *Client) CreateDataSocket(ctx context.Context) (net.Conn, error) {
	if err := c.ensureLoggedIn(ctx); err != nil {
		return nil, err
	}

	resp, err := c.expectCode(ctx, codes(227), "PASV")
	if err != nil {
		return nil, fmt.Errorf("PASV failed: %w", err)
	}

	addr, err := pasv.Parse(resp.Message)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrMalformedPASV, err)
		c.publish(event.Error, resp.Message, err)
		return nil, err
	}

	conn, err := c.dialer.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to data port: %w", err)
	}
	return conn, nil
}

// cmdDataConn opens a data connection and sends cmd, which must answer
// with a preliminary 125 or 150 reply.
func (c *Client) cmdDataConn(ctx context.Context, cmd string, args ...string) (net.Conn, error) {
	dataConn, err := c.CreateDataSocket(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := c.expectCode(ctx, codes(125, 150), cmd, args...); err != nil {
		dataConn.Close()
		return nil, err
	}

	return dataConn, nil
}

// finishDataConn closes the data connection and reads the completion reply.
func (c *Client) finishDataConn(ctx context.Context, dataConn net.Conn) error {
	if err := dataConn.Close(); err != nil {
		return fmt.Errorf("failed to close data connection: %w", err)
	}

	resp, err := c.readReply(ctx)
	if err != nil {
		return fmt.Errorf("failed to read completion response: %w", err)
	}

	c.logger.Debug("ftp data transfer complete", "code", resp.Code, "message", resp.Message)

	if resp.Code != 226 && resp.Code != 250 {
		return protocolError("DATA_TRANSFER", resp)
	}
	return nil
}
