package server

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/mrtsync/mrtftp/event"
)

// indexFileName is the file written by CIN.
const indexFileName = "index.txt"

// appAction returns a handler acknowledging a panel lifecycle command.
// The action itself is carried out by whoever subscribes to
// event.AppAction.
func appAction(verb, message string) func(*session, string) {
	return func(s *session, _ string) {
		s.publish(event.AppAction, verb, nil)
		if s.server.metricsCollector != nil {
			s.server.metricsCollector.RecordAppAction(verb)
		}
		s.reply(200, message)
	}
}

func (s *session) handleGTSA(_ string) {
	if s.server.appLocator == nil {
		s.reply(550, "Directory not found.")
		return
	}
	dir, err := s.server.appLocator.StreamingAssets()
	if err != nil {
		s.reply(550, "Directory not found.")
		return
	}
	if err := s.fs.ChangeDir(dir); err != nil {
		s.reply(550, "Directory not found.")
		return
	}
	s.reply(200, "Directory changed to #"+s.fs.GetWd())
}

// cwdFiles returns the regular files of the current directory sorted by
// name.
func (s *session) cwdFiles() ([]os.FileInfo, error) {
	entries, err := s.fs.ListDir(".")
	if err != nil {
		return nil, err
	}
	entries = slices.DeleteFunc(entries, func(fi os.FileInfo) bool {
		return fi.IsDir()
	})
	slices.SortFunc(entries, func(a, b os.FileInfo) int {
		return strings.Compare(a.Name(), b.Name())
	})
	return entries, nil
}

func (s *session) handleRIN(_ string) {
	files, err := s.cwdFiles()
	if err != nil {
		s.reply(450, "-1 Index file unavailable.")
		return
	}
	idx := slices.IndexFunc(files, func(fi os.FileInfo) bool {
		return strings.HasPrefix(fi.Name(), "index")
	})
	if idx < 0 {
		s.reply(550, "0 No index in current directory.")
		return
	}
	if err := s.fs.DeleteFile(files[idx].Name()); err != nil {
		s.server.logger.Debug("index removal failed", "session_id", s.sessionID, "error", err)
		s.reply(450, "-1 Index file unavailable.")
		return
	}
	s.reply(250, "1 First index removed.")
}

// removeMedia returns a handler deleting the first (or every) file of the
// current directory of the given media kind. Replies carry the count.
func removeMedia(kind mediaKind, all bool) func(*session, string) {
	return func(s *session, _ string) {
		texts := mediaReplies[kind]

		files, err := s.cwdFiles()
		if err != nil {
			s.reply(450, "-1 Оne of the files is not available.")
			return
		}

		removed := 0
		for _, fi := range files {
			if !isMedia(fi.Name(), kind) {
				continue
			}
			if err := s.fs.DeleteFile(fi.Name()); err != nil {
				s.server.logger.Debug("media removal failed",
					"session_id", s.sessionID,
					"path", fi.Name(),
					"error", err,
				)
				s.reply(450, "-1 Оne of the files is not available.")
				return
			}
			removed++
			if !all {
				break
			}
		}

		switch {
		case removed == 0:
			s.reply(550, "0 "+texts[2])
		case all:
			s.reply(250, fmt.Sprintf("%d %s", removed, texts[1]))
		default:
			s.reply(250, fmt.Sprintf("%d %s", removed, texts[0]))
		}
	}
}

func (s *session) handleCIN(arg string) {
	f, err := s.fs.OpenFile(indexFileName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		s.replyError(err)
		return
	}
	_, err = f.Write([]byte(arg))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		s.replyError(err)
		return
	}
	s.reply(200, "Index created.")
}

func (s *session) handleCLRD(arg string) {
	dir := arg
	if dir == "" {
		dir = "."
	}
	info, err := s.fs.GetFileInfo(dir)
	if err != nil || !info.IsDir() {
		s.reply(550, "Directory not found.")
		return
	}
	if err := s.fs.ClearDir(dir); err != nil {
		s.server.logger.Debug("clear failed", "session_id", s.sessionID, "path", dir, "error", err)
		s.reply(550, "Directory not found.")
		return
	}
	s.reply(200, "Current directory cleaned.")
}

// handleCFR stages a copy source. A missing path clears the stage.
func (s *session) handleCFR(arg string) {
	if arg == "" {
		s.copyFrom = ""
		s.reply(550, "Path doesn't exists.")
		return
	}
	if _, err := s.fs.GetFileInfo(arg); err != nil {
		s.copyFrom = ""
		s.reply(550, "Path doesn't exists.")
		return
	}
	s.copyFrom = s.absPath(arg)
	s.reply(200, "OK.")
}

// handleCTO copies the staged source into the directory arg. The stage is
// kept so the same source can be pasted repeatedly.
func (s *session) handleCTO(arg string) {
	if s.copyFrom == "" {
		s.reply(550, "Path doesn't exists.")
		return
	}
	dst := arg
	if dst == "" {
		dst = "."
	}
	info, err := s.fs.GetFileInfo(dst)
	if err != nil || !info.IsDir() {
		s.reply(550, "Path doesn't exists.")
		return
	}
	if err := s.fs.Copy(s.copyFrom, dst); err != nil {
		s.server.logger.Debug("copy failed",
			"session_id", s.sessionID,
			"from", s.copyFrom,
			"to", dst,
			"error", err,
		)
		s.reply(550, "Path doesn't exists.")
		return
	}
	s.reply(200, "OK.")
}

func (s *session) handleSDBS(arg string) {
	n, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || n <= 0 {
		s.reply(501, "Invalid arguments.")
		return
	}
	s.bufferSize = n
	s.reply(200, "OK.")
}
