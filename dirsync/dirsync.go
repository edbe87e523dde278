// Package dirsync mirrors a local directory tree onto the remote working
// directory of a panel session.
//
// A pass lists the remote directory, deletes remote entries that no longer
// exist locally, then brings each local file across in whichever direction
// holds the newer copy. Local-only entries are never pruned: a file that
// is newer on the panel is downloaded instead of deleted.
package dirsync

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/mrtsync/mrtftp"
)

// Remote is the part of *mrtftp.Client the engine drives. Paths are
// relative to the remote working directory; downloads land in LocalDir.
type Remote interface {
	ExtendedList(ctx context.Context, path string) ([]*mrtftp.Entry, error)
	ModTime(ctx context.Context, name string) (time.Time, bool, error)
	FileSize(ctx context.Context, name string) (int64, error)
	DeleteFile(ctx context.Context, name string) error
	RemoveDir(ctx context.Context, name string) error
	MakeDir(ctx context.Context, name string) error
	Upload(ctx context.Context, localPath string, resume bool) error
	Download(ctx context.Context, name string, resume bool) error
	UploadDirectory(ctx context.Context, localDir string, recursive bool) error
	ChangeDir(ctx context.Context, path string) error
	ChangeDirUp(ctx context.Context) error
	GoToStreamingAssets(ctx context.Context) error
	RemotePath() string
	LocalDir() string
	SetLocalDir(dir string) error
	LocalDown(name string) error
	LocalUp()
}

var _ Remote = (*mrtftp.Client)(nil)

// Report counts what a pass changed.
type Report struct {
	Uploaded      int
	Downloaded    int
	RemoteDeleted int
	LocalDeleted  int
}

// Changed reports whether the pass touched anything.
func (r Report) Changed() bool {
	return r.Uploaded+r.Downloaded+r.RemoteDeleted+r.LocalDeleted > 0
}

func (r Report) String() string {
	return fmt.Sprintf("uploaded=%d downloaded=%d remote_deleted=%d local_deleted=%d",
		r.Uploaded, r.Downloaded, r.RemoteDeleted, r.LocalDeleted)
}

// Syncer runs sync passes against one Remote. It is not safe for
// concurrent use, since passes move the remote's cursors.
type Syncer struct {
	remote   Remote
	logger   *slog.Logger
	debounce time.Duration
	onPass   func(Report, error)
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Syncer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDebounce sets how long Watch waits for the tree to settle before a
// pass. Defaults to 500ms.
func WithDebounce(d time.Duration) Option {
	return func(s *Syncer) {
		if d > 0 {
			s.debounce = d
		}
	}
}

// WithPassHandler registers a function called after every pass run by
// Watch.
func WithPassHandler(fn func(Report, error)) Option {
	return func(s *Syncer) {
		s.onPass = fn
	}
}

// New returns a Syncer driving remote.
func New(remote Remote, opts ...Option) *Syncer {
	s := &Syncer{
		remote:   remote,
		logger:   slog.New(slog.DiscardHandler),
		debounce: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync mirrors localDir onto the remote working directory. With recursive
// set, subdirectories are mirrored too.
//
// Per-entry failures do not stop the pass; they are returned together as
// a *multierror.Error. Both cursors are back where they started when Sync
// returns.
func (s *Syncer) Sync(ctx context.Context, localDir string, recursive bool) (Report, error) {
	var report Report

	saved := s.remote.LocalDir()
	if err := s.remote.SetLocalDir(localDir); err != nil {
		return report, err
	}
	defer func() {
		if err := s.remote.SetLocalDir(saved); err != nil {
			s.logger.Warn("failed to restore local directory", "path", saved, "error", err)
		}
	}()

	start := time.Now()
	err := s.syncDir(ctx, &report, recursive)
	s.logger.Info("sync_complete",
		"local_dir", localDir,
		"remote_dir", s.remote.RemotePath(),
		"uploaded", report.Uploaded,
		"downloaded", report.Downloaded,
		"remote_deleted", report.RemoteDeleted,
		"local_deleted", report.LocalDeleted,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return report, err
}

// SyncFolder mirrors localDir onto remoteRel, a path relative to the
// remote working directory, or to the panel's streaming assets when
// fromStreamingAssets is set. remoteRel is created when missing.
func (s *Syncer) SyncFolder(ctx context.Context, localDir, remoteRel string, fromStreamingAssets, recursive bool) (Report, error) {
	saved := s.remote.RemotePath()

	restore := func() {
		if err := s.remote.ChangeDir(ctx, saved); err != nil {
			s.logger.Warn("failed to restore remote directory", "path", saved, "error", err)
		}
	}

	if fromStreamingAssets {
		if err := s.remote.GoToStreamingAssets(ctx); err != nil {
			return Report{}, err
		}
	}
	if remoteRel != "" {
		err := s.remote.MakeDir(ctx, remoteRel)
		if err == nil {
			err = s.remote.ChangeDir(ctx, remoteRel)
		}
		if err != nil {
			if fromStreamingAssets {
				restore()
			}
			return Report{}, err
		}
	}
	if fromStreamingAssets || remoteRel != "" {
		defer restore()
	}

	return s.Sync(ctx, localDir, recursive)
}

// SyncFile brings one local file and its namesake in the remote working
// directory in line.
func (s *Syncer) SyncFile(ctx context.Context, localPath string) (Report, error) {
	var report Report

	abs, err := filepath.Abs(localPath)
	if err != nil {
		return report, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return report, err
	}
	if !info.Mode().IsRegular() {
		return report, fmt.Errorf("%s is not a regular file", localPath)
	}

	saved := s.remote.LocalDir()
	if err := s.remote.SetLocalDir(filepath.Dir(abs)); err != nil {
		return report, err
	}
	defer func() {
		if err := s.remote.SetLocalDir(saved); err != nil {
			s.logger.Warn("failed to restore local directory", "path", saved, "error", err)
		}
	}()

	err = s.syncFile(ctx, &report, abs, info)
	return report, err
}

// syncDir runs a pass on the current pair of directories.
func (s *Syncer) syncDir(ctx context.Context, report *Report, recursive bool) error {
	localDir := s.remote.LocalDir()

	remoteEntries, err := s.remote.ExtendedList(ctx, "")
	if err != nil {
		return fmt.Errorf("list %s: %w", s.remote.RemotePath(), err)
	}
	localEntries, err := os.ReadDir(localDir)
	if err != nil {
		return fmt.Errorf("read %s: %w", localDir, err)
	}

	local := make(map[string]fs.DirEntry, len(localEntries))
	for _, e := range localEntries {
		local[e.Name()] = e
	}

	var result *multierror.Error
	remote := make(map[string]bool, len(remoteEntries))
	// names whose remote entry has the other kind and could not be removed
	blocked := make(map[string]bool)

	for _, e := range remoteEntries {
		le, ok := local[e.Name]
		if ok && le.IsDir() == e.IsDir() {
			remote[e.Name] = true
			continue
		}
		if err := s.deleteRemote(ctx, e); err != nil {
			result = multierror.Append(result, err)
			if ok {
				blocked[e.Name] = true
			}
			continue
		}
		report.RemoteDeleted++
	}

	for _, e := range localEntries {
		if err := ctx.Err(); err != nil {
			return multierror.Append(result, err).ErrorOrNil()
		}
		if blocked[e.Name()] {
			continue
		}

		full := filepath.Join(localDir, e.Name())
		switch {
		case e.Type().IsRegular():
			info, err := e.Info()
			if err != nil {
				result = multierror.Append(result, err)
				continue
			}
			if err := s.syncFile(ctx, report, full, info); err != nil {
				result = multierror.Append(result, err)
			}

		case e.IsDir() && recursive:
			if !remote[e.Name()] {
				if err := s.uploadTree(ctx, report, full); err != nil {
					result = multierror.Append(result, err)
				}
				continue
			}
			if err := s.descend(ctx, report, e.Name()); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}

	return result.ErrorOrNil()
}

// descend enters name on both sides, syncs it and comes back.
func (s *Syncer) descend(ctx context.Context, report *Report, name string) (err error) {
	if err := s.remote.ChangeDir(ctx, name); err != nil {
		return err
	}
	defer func() {
		if upErr := s.remote.ChangeDirUp(ctx); upErr != nil {
			err = multierror.Append(err, upErr)
		}
	}()

	if err := s.remote.LocalDown(name); err != nil {
		return err
	}
	defer s.remote.LocalUp()

	return s.syncDir(ctx, report, true)
}

func (s *Syncer) deleteRemote(ctx context.Context, e *mrtftp.Entry) error {
	var err error
	if e.IsDir() {
		err = s.remote.RemoveDir(ctx, e.Name)
	} else {
		err = s.remote.DeleteFile(ctx, e.Name)
	}
	if err != nil {
		return fmt.Errorf("remove remote %s: %w", e.Name, err)
	}
	s.logger.Debug("remote entry removed", "name", e.Name, "dir", e.IsDir())
	return nil
}

// syncFile compares one local file with the remote entry of the same name
// and copies the newer side over the older.
func (s *Syncer) syncFile(ctx context.Context, report *Report, full string, info fs.FileInfo) error {
	name := info.Name()

	remoteTime, ok, err := s.remote.ModTime(ctx, name)
	if err != nil {
		return fmt.Errorf("mtime of %s: %w", name, err)
	}
	if !ok {
		return s.upload(ctx, report, full, false)
	}

	local := info.ModTime().Unix()
	remote := remoteTime.Unix()

	switch {
	case remote == local:
		size, err := s.remote.FileSize(ctx, name)
		if err != nil {
			return fmt.Errorf("size of %s: %w", name, err)
		}
		if size == info.Size() {
			return nil
		}
		return s.upload(ctx, report, full, true)

	case remote < local:
		return s.upload(ctx, report, full, true)

	default:
		if err := os.Remove(full); err != nil {
			return fmt.Errorf("remove local %s: %w", full, err)
		}
		report.LocalDeleted++
		if err := s.remote.Download(ctx, name, false); err != nil {
			return fmt.Errorf("download %s: %w", name, err)
		}
		report.Downloaded++
		s.logger.Debug("file downloaded", "name", name)
		return nil
	}
}

// upload sends full, first deleting the stale remote copy when replace is
// set.
func (s *Syncer) upload(ctx context.Context, report *Report, full string, replace bool) error {
	name := filepath.Base(full)
	if replace {
		if err := s.remote.DeleteFile(ctx, name); err != nil {
			return fmt.Errorf("remove remote %s: %w", name, err)
		}
		report.RemoteDeleted++
	}
	if err := s.remote.Upload(ctx, full, false); err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}
	report.Uploaded++
	s.logger.Debug("file uploaded", "name", name)
	return nil
}

// uploadTree uploads a directory missing on the remote side.
func (s *Syncer) uploadTree(ctx context.Context, report *Report, dir string) error {
	files := 0
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err == nil && d.Type().IsRegular() {
			files++
		}
		return nil
	})

	if err := s.remote.UploadDirectory(ctx, dir, true); err != nil {
		return fmt.Errorf("upload directory %s: %w", dir, err)
	}
	report.Uploaded += files
	s.logger.Debug("directory uploaded", "path", dir, "files", files)
	return nil
}
