package server

import (
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mrtsync/mrtftp/event"
	"github.com/mrtsync/mrtftp/internal/transfer"
)

// Option is a functional option for configuring a server.
type Option func(*Server) error

// WithDriver sets the filesystem backend.
// This option is required and can only be set once.
//
// Example:
//
//	driver, _ := server.NewFSDriver("/srv/panel")
//	s, _ := server.NewServer(":21", server.WithDriver(driver))
func WithDriver(driver Driver) Option {
	return func(s *Server) error {
		if s.driver != nil {
			return fmt.Errorf("driver already set")
		}
		s.driver = driver
		return nil
	}
}

// WithLogger sets a custom logger for the server.
// If not specified, slog.Default() is used.
//
// Example with debug logging:
//
//	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	}))
//	s, _ := server.NewServer(":21",
//	    server.WithDriver(driver),
//	    server.WithLogger(logger),
//	)
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		s.logger = logger
		return nil
	}
}

// WithUsers replaces the user names accepted by USER.
func WithUsers(users ...string) Option {
	return func(s *Server) error {
		if len(users) == 0 {
			return fmt.Errorf("at least one user is required")
		}
		s.users = users
		return nil
	}
}

// WithPassword sets the shared password checked by PASS.
func WithPassword(password string) Option {
	return func(s *Server) error {
		s.password = password
		s.passwordHash = nil
		return nil
	}
}

// WithPasswordHash sets the shared password as a bcrypt hash, so the clear
// text never has to be stored in configuration.
//
// Example:
//
//	hash, _ := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.DefaultCost)
//	s, _ := server.NewServer(":21",
//	    server.WithDriver(driver),
//	    server.WithPasswordHash(string(hash)),
//	)
func WithPasswordHash(hash string) Option {
	return func(s *Server) error {
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return fmt.Errorf("invalid password hash: %w", err)
		}
		s.passwordHash = []byte(hash)
		s.password = ""
		return nil
	}
}

// WithRequireAuth controls whether file and directory commands need a
// successful PASS first. Defaults to true. With false, every command is
// served before login.
func WithRequireAuth(require bool) Option {
	return func(s *Server) error {
		s.requireAuth = require
		return nil
	}
}

// WithAppLocator sets how the panel application is found for GTSA and GPN.
func WithAppLocator(locator AppLocator) Option {
	return func(s *Server) error {
		s.appLocator = locator
		return nil
	}
}

// WithMetrics sets a collector for server metrics.
func WithMetrics(collector MetricsCollector) Option {
	return func(s *Server) error {
		s.metricsCollector = collector
		return nil
	}
}

// WithEventHandler subscribes h to the events of every session.
// The handler may be called from several sessions at once; events of one
// session are delivered in order.
//
// Example:
//
//	s, _ := server.NewServer(":21",
//	    server.WithDriver(driver),
//	    server.WithEventHandler(func(e event.Event) {
//	        if e.Kind == event.AppAction {
//	            restartPanel(e.Message)
//	        }
//	    }),
//	)
func WithEventHandler(h event.Handler) Option {
	return func(s *Server) error {
		if h == nil {
			return fmt.Errorf("event handler cannot be nil")
		}
		s.eventHandlers = append(s.eventHandlers, h)
		return nil
	}
}

// WithHeartbeatInterval sets the delay between heartbeat probes.
// Defaults to 1 second.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(s *Server) error {
		if d <= 0 {
			return fmt.Errorf("heartbeat interval must be positive")
		}
		s.heartbeatInterval = d
		return nil
	}
}

// WithMaxIdleTime sets the maximum time a control connection can be idle
// before being closed. If not specified, connections never time out.
//
// Example:
//
//	s, _ := server.NewServer(":21",
//	    server.WithDriver(driver),
//	    server.WithMaxIdleTime(10*time.Minute),
//	)
func WithMaxIdleTime(duration time.Duration) Option {
	return func(s *Server) error {
		s.maxIdleTime = duration
		return nil
	}
}

// WithMaxConnections sets the maximum number of simultaneous connections.
// If 0, there is no limit. This is the default.
//
// When the limit is reached, new connections receive a "421 Too many users" response.
func WithMaxConnections(max int) Option {
	return func(s *Server) error {
		s.maxConnections = max
		return nil
	}
}

// WithBandwidthLimit caps the aggregate data transfer rate of all sessions
// in bytes per second. 0 means unlimited.
func WithBandwidthLimit(bytesPerSecond int64) Option {
	return func(s *Server) error {
		s.limiter = transfer.NewLimiter(bytesPerSecond)
		return nil
	}
}
