package mrtftp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Response represents a server reply.
type Response struct {
	// Code is the three-digit reply code (e.g., 220, 550)
	Code int

	// Message is the human-readable text of the reply
	Message string

	// Lines contains all lines of the reply (for multi-line replies)
	Lines []string
}

// Is2xx returns true if the response code is in the 2xx range (success).
func (r *Response) Is2xx() bool {
	return r.Code >= 200 && r.Code < 300
}

// Is5xx returns true if the response code is in the 5xx range (permanent failure).
func (r *Response) Is5xx() bool {
	return r.Code >= 500 && r.Code < 600
}

// String returns the full response as a string.
func (r *Response) String() string {
	return strings.Join(r.Lines, "\n")
}

// readResponse reads a complete reply from the reader.
// It handles both single-line and multi-line replies.
//
// Single-line format: "220 Connection established.\r\n"
// Multi-line format:
//
//	"211-Extensions supported:\r\n"
//	" UTF8\r\n"
//	"211 END.\r\n"
//
// The reply is complete when a line starts with the code followed by a space.
// Lines may end in "\n" or "\r\n".
func readResponse(r *bufio.Reader) (*Response, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}

	line = strings.TrimRight(line, "\r\n")
	if len(line) < 3 {
		return nil, fmt.Errorf("%w: %q", ErrMalformedReply, line)
	}

	code, err := strconv.Atoi(line[0:3])
	if err != nil {
		return nil, fmt.Errorf("%w: invalid code %q", ErrMalformedReply, line[0:3])
	}

	lines := []string{line}

	if len(line) == 3 {
		return &Response{Code: code, Lines: lines}, nil
	}

	if line[3] == ' ' {
		return &Response{
			Code:    code,
			Message: line[4:],
			Lines:   lines,
		}, nil
	}

	if line[3] != '-' {
		return nil, fmt.Errorf("%w: %q", ErrMalformedReply, line)
	}

	if err := readMultiLine(r, code, &lines); err != nil {
		return nil, err
	}

	var messageLines []string
	for _, l := range lines {
		if len(l) > 0 && l[0] == ' ' {
			messageLines = append(messageLines, strings.TrimSpace(l))
		} else if len(l) > 4 {
			messageLines = append(messageLines, l[4:])
		}
	}

	return &Response{
		Code:    code,
		Message: strings.Join(messageLines, "\n"),
		Lines:   lines,
	}, nil
}

func readMultiLine(r *bufio.Reader, code int, lines *[]string) error {
	codeStr := fmt.Sprintf("%03d", code)

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return fmt.Errorf("unexpected EOF reading response")
			}
			return err
		}

		line = strings.TrimRight(line, "\r\n")

		// RFC 2389 continuation (starts with space)
		if len(line) > 0 && line[0] == ' ' {
			*lines = append(*lines, line)
			continue
		}

		if len(line) < 4 || line[0:3] != codeStr {
			return fmt.Errorf("%w: code mismatch in %q", ErrMalformedReply, line)
		}

		*lines = append(*lines, line)

		if line[3] == ' ' {
			return nil
		}

		if line[3] != '-' {
			return fmt.Errorf("%w: %q", ErrMalformedReply, line)
		}
	}
}

// sendCommand sends a command and returns the reply.
// A transport error tears the session down.
func (c *Client) sendCommand(ctx context.Context, command string, args ...string) (*Response, error) {
	cmd := command
	if len(args) > 0 {
		cmd = fmt.Sprintf("%s %s", command, strings.Join(args, " "))
	}

	logCmd := cmd
	if command == "PASS" {
		logCmd = "PASS ***"
	}
	c.logger.Debug("ftp command", "cmd", logCmd)

	c.mu.Lock()
	defer c.mu.Unlock()

	l := c.currentLink()
	if l == nil {
		return nil, ErrNotLoggedIn
	}

	stop := context.AfterFunc(ctx, func() {
		_ = l.conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	if err := l.conn.SetWriteDeadline(c.deadline()); err != nil {
		return nil, fmt.Errorf("failed to set write deadline: %w", err)
	}

	if _, err := fmt.Fprintf(l.conn, "%s\r\n", cmd); err != nil {
		err = contextOr(ctx, err)
		c.teardown(l, err)
		return nil, fmt.Errorf("failed to send command: %w", err)
	}

	resp, err := c.readLinkResponse(ctx, l)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// readReply reads one more reply on the control connection, such as the
// completion reply of a transfer.
func (c *Client) readReply(ctx context.Context) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	l := c.currentLink()
	if l == nil {
		return nil, ErrNotLoggedIn
	}

	stop := context.AfterFunc(ctx, func() {
		_ = l.conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	return c.readLinkResponse(ctx, l)
}

// readLinkResponse reads a reply from l. Callers hold c.mu.
func (c *Client) readLinkResponse(ctx context.Context, l *link) (*Response, error) {
	if err := l.conn.SetReadDeadline(c.deadline()); err != nil {
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}

	resp, err := readResponse(l.reader)
	if err != nil {
		err = contextOr(ctx, err)
		c.teardown(l, err)
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.Debug("ftp response", "code", resp.Code, "message", resp.Message)
	return resp, nil
}

// deadline returns the I/O deadline for the next control exchange; the
// zero time when no timeout is configured.
func (c *Client) deadline() time.Time {
	if c.timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.timeout)
}

// contextOr returns the context error when ctx is done, err otherwise.
func contextOr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// expectCode sends a command and verifies the reply code is one of codes.
func (c *Client) expectCode(ctx context.Context, codes []int, command string, args ...string) (*Response, error) {
	resp, err := c.sendCommand(ctx, command, args...)
	if err != nil {
		return nil, err
	}

	if !slices.Contains(codes, resp.Code) {
		if resp.Code == 502 {
			return resp, fmt.Errorf("%s: %w", command, ErrNotSupported)
		}
		return resp, protocolError(command, resp)
	}

	return resp, nil
}

// codes is shorthand for an accepted reply code list.
func codes(c ...int) []int { return c }
