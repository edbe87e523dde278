package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/mrtsync/mrtftp/event"
)

// Heartbeat bytes: the server probes, the client answers, the server acks.
const (
	heartbeatProbe byte = 0
	heartbeatReply byte = 1
	heartbeatAck   byte = 2
)

// auxChannel selects one of the two auxiliary channels of a session.
type auxChannel int

const (
	channelPing auxChannel = iota
	channelSpecial
)

func (c auxChannel) String() string {
	if c == channelPing {
		return "Ping"
	}
	return "Special"
}

// listenerSlot returns a pointer to the listener slot of the channel.
// Callers hold chMu.
func (s *session) listenerSlot(c auxChannel) *net.Listener {
	if c == channelPing {
		return &s.pingList
	}
	return &s.specialList
}

func (s *session) handleSTPS(_ string) { s.startChannel(channelPing) }
func (s *session) handleSTSS(_ string) { s.startChannel(channelSpecial) }
func (s *session) handleHPS(_ string)  { s.holdChannel(channelPing) }
func (s *session) handleHSS(_ string)  { s.holdChannel(channelSpecial) }

// startChannel opens the listener of an auxiliary channel and replies with
// its address. A previous, unaccepted listener is closed.
func (s *session) startChannel(c auxChannel) {
	ln, tuple, err := s.listenBeside()
	if err != nil {
		s.server.logger.Error("channel listen failed",
			"session_id", s.sessionID,
			"channel", c.String(),
			"error", err,
		)
		s.reply(425, "Can't open passive connection.")
		return
	}

	s.chMu.Lock()
	slot := s.listenerSlot(c)
	if *slot != nil {
		(*slot).Close()
	}
	*slot = ln
	s.chMu.Unlock()

	s.reply(200, fmt.Sprintf("Start listenenig %s (%s)", c, tuple))
}

// holdChannel acknowledges and accepts the client on the channel listener
// in the background, then runs the channel loop.
func (s *session) holdChannel(c auxChannel) {
	s.chMu.Lock()
	slot := s.listenerSlot(c)
	ln := *slot
	*slot = nil
	s.chMu.Unlock()

	if ln == nil {
		s.reply(503, "Bad sequence of commands.")
		return
	}

	s.reply(200, "OK.")
	go s.acceptChannel(c, ln)
}

func (s *session) acceptChannel(c auxChannel, ln net.Listener) {
	if t, ok := ln.(*net.TCPListener); ok {
		_ = t.SetDeadline(time.Now().Add(dataAcceptTimeout))
	}
	stop := context.AfterFunc(s.ctx, func() { ln.Close() })
	conn, err := ln.Accept()
	stop()
	ln.Close()
	if err != nil {
		s.fail(c.String(), err)
		return
	}

	s.chMu.Lock()
	if s.ctx.Err() != nil {
		s.chMu.Unlock()
		conn.Close()
		return
	}
	if c == channelPing {
		s.pingConn = conn
	} else {
		s.specialConn = conn
	}
	s.chMu.Unlock()

	s.server.logger.Debug("channel connected",
		"session_id", s.sessionID,
		"channel", c.String(),
	)

	if c == channelPing {
		s.heartbeat(conn)
	} else {
		s.readSpecial(conn)
	}
}

// heartbeat probes the client every heartbeatInterval and records the
// round trip latency.
func (s *session) heartbeat(conn net.Conn) {
	ticker := time.NewTicker(s.server.heartbeatInterval)
	defer ticker.Stop()

	buf := make([]byte, 1)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		start := time.Now()
		if _, err := conn.Write([]byte{heartbeatProbe}); err != nil {
			s.fail("Ping", err)
			return
		}
		if _, err := io.ReadFull(conn, buf); err != nil {
			s.fail("Ping", err)
			return
		}
		latency := time.Since(start)
		s.ping.Store(int64(latency))
		if s.server.metricsCollector != nil {
			s.server.metricsCollector.RecordHeartbeat(latency)
		}

		if buf[0] == heartbeatReply {
			if _, err := conn.Write([]byte{heartbeatAck}); err != nil {
				s.fail("Ping", err)
				return
			}
		}
	}
}

// readSpecial publishes every line received on the special channel.
func (s *session) readSpecial(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		s.publish(event.SpecialCommand, strings.TrimRight(scanner.Text(), "\r"), nil)
	}
	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	s.fail("Special", err)
}

// sendSpecial writes one line to the client's special channel.
func (s *session) sendSpecial(line string) error {
	s.chMu.Lock()
	conn := s.specialConn
	s.chMu.Unlock()
	if conn == nil {
		return ErrNoSpecialChannel
	}

	s.specialMu.Lock()
	defer s.specialMu.Unlock()
	if _, err := io.WriteString(conn, line+"\n"); err != nil {
		return fmt.Errorf("special channel write failed: %w", err)
	}
	return nil
}
