package mrtftp

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/mrtsync/mrtftp/event"
	"github.com/mrtsync/mrtftp/internal/transfer"
)

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithTimeout sets the timeout for connecting and for every control
// exchange. Zero disables deadlines.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		if timeout < 0 {
			return fmt.Errorf("timeout cannot be negative")
		}
		c.timeout = timeout
		return nil
	}
}

// WithLogger enables debug logging using the provided logger.
// All commands and replies are logged at debug level, passwords masked.
//
// Example:
//
//	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	}))
//	client, _ := mrtftp.Dial("panel.local:21", mrtftp.WithLogger(logger))
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		c.logger = logger
		return nil
	}
}

// WithDialer sets a custom net.Dialer for the control, data and auxiliary
// connections.
func WithDialer(dialer *net.Dialer) Option {
	return func(c *Client) error {
		c.dialer = dialer
		return nil
	}
}

// WithCredentials sets the user name and password sent at login.
// Defaults are DefaultUser and DefaultPassword.
func WithCredentials(user, password string) Option {
	return func(c *Client) error {
		if user == "" {
			return fmt.Errorf("user cannot be empty")
		}
		c.user = user
		c.password = password
		return nil
	}
}

// WithRemotePath sets the directory entered right after login.
func WithRemotePath(path string) Option {
	return func(c *Client) error {
		c.remotePath = path
		return nil
	}
}

// WithRetryInterval sets the delay between connection attempts in Login.
func WithRetryInterval(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("retry interval must be positive")
		}
		c.retry.Interval = d
		return nil
	}
}

// WithMaxAttempts bounds the number of connection attempts in Login.
// Zero, the default, retries until the context is done or the client is
// closed.
func WithMaxAttempts(n int) Option {
	return func(c *Client) error {
		if n < 0 {
			return fmt.Errorf("max attempts cannot be negative")
		}
		c.retry.MaxAttempts = n
		return nil
	}
}

// WithEventHandler subscribes h to the client's events.
// Handlers run in order on a single goroutine.
func WithEventHandler(h event.Handler) Option {
	return func(c *Client) error {
		if h == nil {
			return fmt.Errorf("event handler cannot be nil")
		}
		c.handlers = append(c.handlers, h)
		return nil
	}
}

// WithBufferSize sets the data buffer size used for transfers. It is also
// announced to the server with SDBS at login.
func WithBufferSize(n int) Option {
	return func(c *Client) error {
		if n <= 0 {
			return fmt.Errorf("buffer size must be positive")
		}
		c.bufferSize = n
		return nil
	}
}

// WithLocalDir sets the initial local directory cursor.
// The default is the process working directory.
func WithLocalDir(dir string) Option {
	return func(c *Client) error {
		c.localDir = dir
		return nil
	}
}

// WithBandwidthLimit caps the transfer rate of uploads and downloads in
// bytes per second. Zero means unlimited.
func WithBandwidthLimit(bytesPerSecond int64) Option {
	return func(c *Client) error {
		if bytesPerSecond < 0 {
			return fmt.Errorf("bandwidth limit cannot be negative")
		}
		c.limiter = transfer.NewLimiter(bytesPerSecond)
		return nil
	}
}
