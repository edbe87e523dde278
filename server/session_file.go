package server

import (
	"fmt"
	"path"
	"strings"
)

// absPath returns p as an absolute virtual path based on the current
// directory.
func (s *session) absPath(p string) string {
	if strings.HasPrefix(p, "/") {
		return path.Clean(p)
	}
	return path.Join(s.fs.GetWd(), p)
}

func (s *session) handleCWD(arg string) {
	if arg == "" {
		s.reply(501, "Invalid arguments.")
		return
	}
	if err := s.fs.ChangeDir(arg); err != nil {
		s.reply(550, "Directory not found.")
		return
	}
	s.reply(200, "OK.")
}

func (s *session) handleCDUP(_ string) {
	// ".." from the root cleans back to the root.
	_ = s.fs.ChangeDir("..")
	s.reply(200, fmt.Sprintf("OK. %q", s.fs.GetWd()))
}

func (s *session) handlePWD(_ string) {
	s.reply(257, fmt.Sprintf("%q is current directory.", s.fs.GetWd()))
}

func (s *session) handleMKD(arg string) {
	if arg == "" {
		s.reply(501, "Invalid arguments.")
		return
	}
	if err := s.fs.MakeDir(arg); err != nil {
		s.server.logger.Debug("mkdir failed", "session_id", s.sessionID, "path", arg, "error", err)
		s.reply(550, "Directory unavailable.")
		return
	}
	s.reply(257, fmt.Sprintf("Directory %s created.", arg))
}

func (s *session) handleRMD(arg string) {
	info, err := s.fs.GetFileInfo(arg)
	if arg == "" || err != nil || !info.IsDir() {
		s.reply(550, "Directory not found.")
		return
	}
	if err := s.fs.RemoveDir(arg); err != nil {
		s.server.logger.Debug("rmdir failed", "session_id", s.sessionID, "path", arg, "error", err)
		s.reply(550, "Directory unavailable.")
		return
	}
	s.reply(250, fmt.Sprintf("Directory %s removed.", arg))
}

func (s *session) handleDELE(arg string) {
	info, err := s.fs.GetFileInfo(arg)
	if arg == "" || err != nil || info.IsDir() {
		s.reply(550, "File not found.")
		return
	}
	if err := s.fs.DeleteFile(arg); err != nil {
		s.server.logger.Debug("delete failed", "session_id", s.sessionID, "path", arg, "error", err)
		s.reply(450, fmt.Sprintf("File %s unavailable.", arg))
		return
	}
	s.reply(250, fmt.Sprintf("File %s removed.", arg))
}

func (s *session) handleRNFR(arg string) {
	if arg == "" {
		s.reply(501, "Invalid arguments")
		return
	}
	if _, err := s.fs.GetFileInfo(arg); err != nil {
		s.reply(550, "Directory not found.")
		return
	}
	s.renameFrom = s.absPath(arg)
	s.reply(350, "OK. Waiting for RNTO...")
}

// handleRNTO completes a rename staged by RNFR. Whether the target is a
// file or a directory is decided by the extension of the new name, not by
// the filesystem: "clips.old" is treated as a file.
func (s *session) handleRNTO(arg string) {
	if arg == "" {
		s.reply(501, "Invalid arguments")
		return
	}
	if s.renameFrom == "" {
		s.reply(503, "Bad sequence of commands.")
		return
	}
	from := s.renameFrom
	s.renameFrom = ""

	if _, err := s.fs.GetFileInfo(arg); err == nil {
		s.reply(553, "Directory with the same name already exists.")
		return
	}

	isFile := path.Ext(arg) != ""
	if isFile {
		if info, err := s.fs.GetFileInfo(from); err != nil || info.IsDir() {
			s.reply(553, "File unavailable.")
			return
		}
	}

	if err := s.fs.Rename(from, arg); err != nil {
		s.server.logger.Debug("rename failed",
			"session_id", s.sessionID,
			"from", from,
			"to", arg,
			"error", err,
		)
		if isFile {
			s.reply(553, "File unavailable.")
		} else {
			s.reply(553, "Directory unavailable.")
		}
		return
	}
	s.reply(250, "OK.")
}
