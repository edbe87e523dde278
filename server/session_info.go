package server

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

func (s *session) handleSYST(_ string) {
	s.reply(215, "UNIX Type: L8")
}

func (s *session) handleSIZE(arg string) {
	if arg == "" {
		s.reply(501, "Invalid arguments.")
		return
	}
	info, err := s.fs.GetFileInfo(arg)
	if err != nil || info.IsDir() {
		s.reply(550, "File not found.")
		return
	}
	s.reply(213, strconv.FormatInt(info.Size(), 10))
}

// features lists the commands advertised by FEAT.
var features = []string{
	"UTF8",
	"CWD",
	"CDUP",
	"PORT",
	"PASV",
	"TYPE",
	"RETR",
	"STOR",
	"RNFR",
	"RNTO",
	"RMD",
	"MKD",
	"PWD",
	"LIST",
	"MFMT",
	"REST STREAM",
}

func (s *session) handleFEAT(_ string) {
	s.replyLines(211, "Extensions supported:", features, "END.")
}

func (s *session) handleOPTS(arg string) {
	if strings.EqualFold(strings.TrimSpace(arg), "UTF8 ON") {
		s.reply(200, "UTF8 ON.")
		return
	}
	s.reply(451, "Invalid arguments.")
}

// handleMFMT sets the modification time of a file.
// Format: MFMT YYYYMMDDHHMMSS path, the time being UTC.
func (s *session) handleMFMT(arg string) {
	timeStr, path, ok := strings.Cut(arg, " ")
	if !ok || path == "" {
		s.reply(501, "Invalid arguments.")
		return
	}

	t, err := time.Parse("20060102150405", timeStr)
	if err != nil {
		s.reply(501, "Invalid time format.")
		return
	}

	if err := s.fs.SetTime(path, t); err != nil {
		s.replyError(err)
		return
	}

	s.reply(213, fmt.Sprintf("Modify=%s; %s", timeStr, path))
}

// handleGDT replies with the modification time of a path as
// "M D YYYY h m s" in local time, without zero padding.
func (s *session) handleGDT(arg string) {
	info, err := s.fs.GetFileInfo(arg)
	if arg == "" || err != nil {
		s.reply(550, "Path doesn't exists.")
		return
	}
	t := info.ModTime().Local()
	s.reply(200, fmt.Sprintf("%d %d %d %d %d %d",
		int(t.Month()), t.Day(), t.Year(), t.Hour(), t.Minute(), t.Second()))
}

func (s *session) handleGPN(_ string) {
	if s.server.appLocator == nil {
		s.reply(550, "DIR_NOT_FOUND")
		return
	}
	name, err := s.server.appLocator.PanelName()
	if err != nil {
		s.reply(550, "DIR_NOT_FOUND")
		return
	}
	s.reply(200, name)
}
