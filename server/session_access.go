package server

import (
	"crypto/subtle"
	"slices"

	"golang.org/x/crypto/bcrypt"

	"github.com/mrtsync/mrtftp/event"
)

func (s *session) handleUSER(arg string) {
	s.mu.Lock()
	known := slices.Contains(s.server.users, arg)
	if known {
		s.user = arg
	} else {
		s.user = ""
	}
	s.isLoggedIn = false
	s.mu.Unlock()

	if !known {
		s.server.logger.Warn("login_failed",
			"session_id", s.sessionID,
			"remote_ip", s.remoteIP,
			"user", arg,
			"reason", "unknown_user",
		)
		s.reply(530, "Need account for login.")
		return
	}
	s.reply(331, "User name okay, need password.")
}

func (s *session) handlePASS(arg string) {
	if s.user == "" || !s.server.checkPassword(arg) {
		if s.server.metricsCollector != nil {
			s.server.metricsCollector.RecordAuthentication(false, s.user)
		}
		s.server.logger.Warn("login_failed",
			"session_id", s.sessionID,
			"remote_ip", s.remoteIP,
			"user", s.user,
			"reason", "bad_password",
		)
		s.reply(530, "Not logged in.")
		return
	}

	s.mu.Lock()
	s.isLoggedIn = true
	s.mu.Unlock()

	if s.server.metricsCollector != nil {
		s.server.metricsCollector.RecordAuthentication(true, s.user)
	}
	s.server.logger.Info("login_success",
		"session_id", s.sessionID,
		"remote_ip", s.remoteIP,
		"user", s.user,
	)
	s.reply(230, "User logged in, proceed.")
	s.publish(event.Connected, s.user, nil)
}

// checkPassword compares pass with the shared password.
func (s *Server) checkPassword(pass string) bool {
	if s.passwordHash != nil {
		return bcrypt.CompareHashAndPassword(s.passwordHash, []byte(pass)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(pass), []byte(s.password)) == 1
}

func (s *session) handleQUIT(_ string) {
	s.reply(221, "Service closing control connection.")
}
