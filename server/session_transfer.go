package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/mrtsync/mrtftp/event"
	"github.com/mrtsync/mrtftp/internal/pasv"
	"github.com/mrtsync/mrtftp/internal/transfer"
)

var errNoPassive = errors.New("no passive listener, send PASV first")

func (s *session) handleTYPE(arg string) {
	args := strings.Split(arg, " ")

	code, msg := 504, "Command not implemented for that parameter."
	switch strings.ToUpper(args[0]) {
	case "A", "I":
		s.transferType = strings.ToUpper(args[0])
		code, msg = 200, "OK."
	}

	if len(args) == 2 && args[1] != "" {
		if strings.ToUpper(args[1]) == "N" {
			code, msg = 200, "OK."
		} else {
			code, msg = 504, "Command not implemented for that parameter."
		}
	}
	s.reply(code, msg)
}

// handlePORT accepts active mode but transfers in active mode are no-ops.
func (s *session) handlePORT(_ string) {
	s.connType = connActive
	s.reply(200, "OK.")
}

// listenBeside opens an ephemeral listener on the control connection's
// local IPv4 address and returns it with its encoded tuple.
func (s *session) listenBeside() (net.Listener, string, error) {
	ip := transfer.ListenerIP(s.conn)
	ln, err := net.Listen("tcp4", net.JoinHostPort(ip.String(), "0"))
	if err != nil {
		return nil, "", err
	}
	port := ln.Addr().(*net.TCPAddr).Port
	tuple, err := pasv.Encode(ip, port)
	if err != nil {
		ln.Close()
		return nil, "", err
	}
	return ln, tuple, nil
}

func (s *session) handlePASV(_ string) {
	if s.pasvList != nil {
		s.pasvList.Close()
		s.pasvList = nil
	}

	ln, tuple, err := s.listenBeside()
	if err != nil {
		s.server.logger.Error("passive listen failed", "session_id", s.sessionID, "error", err)
		s.reply(425, "Can't open passive connection.")
		return
	}
	s.pasvList = ln
	s.connType = connPassive

	s.reply(227, fmt.Sprintf("Entering passive mode (%s)", tuple))
}

func (s *session) handleREST(arg string) {
	offset, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || offset < 0 {
		s.reply(501, "Invalid arguments.")
		return
	}
	s.restartOffset = offset
	s.reply(350, fmt.Sprintf("Restarting at %d. Send STOR or RETR to initiate transfer.", offset))
}

// acceptData waits for the client on the passive listener and closes the
// listener afterwards; one listener serves one transfer.
func (s *session) acceptData() (net.Conn, error) {
	if s.pasvList == nil {
		return nil, errNoPassive
	}
	ln := s.pasvList
	s.pasvList = nil
	defer ln.Close()

	s.server.logger.Debug("waiting for passive connection",
		"session_id", s.sessionID,
		"remote_ip", s.remoteIP,
	)
	if t, ok := ln.(*net.TCPListener); ok {
		_ = t.SetDeadline(time.Now().Add(dataAcceptTimeout))
	}
	return ln.Accept()
}

func (s *session) handleRETR(arg string) {
	info, err := s.fs.GetFileInfo(arg)
	if arg == "" || err != nil || info.IsDir() {
		s.reply(550, "File not found.")
		return
	}

	offset := s.restartOffset
	s.restartOffset = 0

	if s.connType == connActive {
		s.reply(226, "Closing data connection, file transfer successful")
		return
	}
	if s.pasvList == nil {
		s.reply(425, "Use PASV first.")
		return
	}

	file, err := s.fs.OpenFile(arg, os.O_RDONLY)
	if err != nil {
		s.replyError(err)
		return
	}
	defer file.Close()

	if offset > 0 {
		if _, err := file.Seek(offset, io.SeekStart); err != nil {
			s.replyError(err)
			return
		}
	}

	s.reply(150, "Opening data connection.")
	conn, err := s.acceptData()
	if err != nil {
		s.reply(425, "Can't open data connection.")
		return
	}

	s.publish(event.TransferStarted, arg, nil)
	start := time.Now()
	n, err := transfer.Copy(s.ctx, conn, file, s.bufferSize, s.server.limiter)
	conn.Close()
	if err != nil {
		s.publish(event.Error, arg, err)
		s.reply(426, "Connection closed; transfer aborted.")
		return
	}

	s.logTransfer("RETR", arg, n, time.Since(start))
	s.publish(event.TransferFinished, arg, nil)
	s.reply(226, "Closing data connection, file transfer successful")
}

func (s *session) handleSTOR(arg string) {
	if arg == "" {
		s.reply(501, "Invalid arguments.")
		return
	}

	offset := s.restartOffset
	s.restartOffset = 0

	if s.connType == connActive {
		s.reply(226, "Closing data connection, file transfer successful")
		return
	}
	if s.pasvList == nil {
		s.reply(425, "Use PASV first.")
		return
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if offset > 0 {
		flags = os.O_WRONLY | os.O_CREATE
	}
	file, err := s.fs.OpenFile(arg, flags)
	if err != nil {
		s.server.logger.Debug("open for write failed", "session_id", s.sessionID, "path", arg, "error", err)
		s.reply(553, "File unavailable.")
		return
	}
	defer file.Close()

	if offset > 0 {
		if _, err := file.Seek(offset, io.SeekStart); err != nil {
			s.replyError(err)
			return
		}
	}

	s.reply(150, "Opening data connection.")
	conn, err := s.acceptData()
	if err != nil {
		s.reply(425, "Can't open data connection.")
		return
	}

	s.publish(event.TransferStarted, arg, nil)
	start := time.Now()
	n, err := transfer.Copy(s.ctx, file, conn, s.bufferSize, s.server.limiter)
	conn.Close()
	if err != nil {
		s.publish(event.Error, arg, err)
		s.reply(451, "Requested action aborted: local error in processing.")
		return
	}

	s.logTransfer("STOR", arg, n, time.Since(start))
	s.publish(event.TransferFinished, arg, nil)
	s.reply(226, "Closing data connection, file transfer successful")
}

// logTransfer logs and records a completed transfer.
func (s *session) logTransfer(op, path string, bytes int64, duration time.Duration) {
	throughputMBps := float64(0)
	if duration.Seconds() > 0 {
		throughputMBps = float64(bytes) / duration.Seconds() / 1024 / 1024
	}

	s.server.logger.Info("transfer_complete",
		"session_id", s.sessionID,
		"remote_ip", s.remoteIP,
		"user", s.user,
		"operation", op,
		"path", path,
		"bytes", bytes,
		"duration_ms", duration.Milliseconds(),
		"throughput_mbps", fmt.Sprintf("%.2f", throughputMBps),
	)

	if s.server.metricsCollector != nil {
		s.server.metricsCollector.RecordTransfer(op, bytes, duration)
	}
}

// listingFormat renders one directory entry as a listing line.
type listingFormat func(os.FileInfo) string

// listDate is the MM dd yyyy date used by LIST and EXLI.
func listDate(t time.Time) string {
	return t.Local().Format("01 02 2006")
}

func formatLIST(info os.FileInfo) string {
	if info.IsDir() {
		return fmt.Sprintf("drwxr-xr-x 1 mrt ftp 4096 %s %s", listDate(info.ModTime()), info.Name())
	}
	return fmt.Sprintf("-rw-r--r-- 1 mrt ftp %d %s %s", info.Size(), listDate(info.ModTime()), info.Name())
}

func formatNLST(info os.FileInfo) string {
	return info.Name()
}

func formatEXLI(info os.FileInfo) string {
	kind := "f"
	if info.IsDir() {
		kind = "d"
	}
	return fmt.Sprintf("%s*%s*%s", kind, listDate(info.ModTime()), info.Name())
}

func (s *session) handleLIST(arg string) { s.sendListing(arg, formatLIST) }
func (s *session) handleNLST(arg string) { s.sendListing(arg, formatNLST) }
func (s *session) handleEXLI(arg string) { s.sendListing(arg, formatEXLI) }

// sendListing writes the directory arg (or the current directory) over the
// passive data connection, directories first, then files.
func (s *session) sendListing(arg string, format listingFormat) {
	dir := arg
	if dir == "" {
		dir = "."
	}

	entries, err := s.fs.ListDir(dir)
	if err != nil {
		s.reply(550, "Directory not found.")
		return
	}
	slices.SortStableFunc(entries, func(a, b os.FileInfo) int {
		switch {
		case a.IsDir() == b.IsDir():
			return strings.Compare(a.Name(), b.Name())
		case a.IsDir():
			return -1
		default:
			return 1
		}
	})

	if s.connType == connActive {
		s.reply(226, "Transfer complete.")
		return
	}
	if s.pasvList == nil {
		s.reply(425, "Use PASV first.")
		return
	}

	s.reply(150, "Opening Passive mode data transfer for LIST.")
	conn, err := s.acceptData()
	if err != nil {
		s.reply(425, "Can't open data connection.")
		return
	}

	w := bufio.NewWriter(conn)
	for _, entry := range entries {
		fmt.Fprintf(w, "%s\r\n", format(entry))
	}
	err = w.Flush()
	conn.Close()
	if err != nil {
		s.reply(426, "Connection closed; transfer aborted.")
		return
	}

	s.reply(226, "Transfer complete.")
}
