package dirsync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
)

func writeLocal(t *testing.T, p, content string, mtime time.Time) {
	t.Helper()
	fatalIfErr(t, os.MkdirAll(filepath.Dir(p), 0o755), "MkdirAll failed")
	fatalIfErr(t, os.WriteFile(p, []byte(content), 0o644), "WriteFile failed")
	fatalIfErr(t, os.Chtimes(p, mtime, mtime), "Chtimes failed")
}

func readLocal(t *testing.T, p string) string {
	t.Helper()
	data, err := os.ReadFile(p)
	fatalIfErr(t, err, "ReadFile failed")
	return string(data)
}

var base = time.Date(2024, time.March, 7, 10, 0, 0, 0, time.Local)

func TestSyncUploadsLocalOnlyFiles(t *testing.T) {
	t.Parallel()
	local := t.TempDir()
	writeLocal(t, filepath.Join(local, "a.mp4"), "aaa", base)

	remote := newFakeRemote(t.TempDir())
	report, err := New(remote).Sync(context.Background(), local, false)
	fatalIfErr(t, err, "Sync failed")

	if report.Uploaded != 1 || report.RemoteDeleted != 0 {
		t.Errorf("Report = %v, want one upload", report)
	}
	if n := remote.nodes["/a.mp4"]; n == nil || n.data != "aaa" {
		t.Errorf("Remote a.mp4 = %+v, want aaa", n)
	}
}

func TestSyncPrunesRemoteOnlyEntries(t *testing.T) {
	t.Parallel()
	local := t.TempDir()
	writeLocal(t, filepath.Join(local, "keep.mp4"), "k", base)

	remote := newFakeRemote(t.TempDir())
	remote.put("/keep.mp4", "k", base)
	remote.put("/old.mp4", "o", base)
	remote.put("/gone/x.png", "x", base)

	report, err := New(remote).Sync(context.Background(), local, true)
	fatalIfErr(t, err, "Sync failed")

	if report.RemoteDeleted != 2 || report.Uploaded != 0 {
		t.Errorf("Report = %v, want two remote deletions", report)
	}
	for _, p := range []string{"/old.mp4", "/gone", "/gone/x.png"} {
		if _, ok := remote.nodes[p]; ok {
			t.Errorf("%s should be pruned", p)
		}
	}
	if remote.called("RMD gone") != 1 {
		t.Errorf("Calls = %v, want RMD gone", remote.calls)
	}
	if _, err := os.Stat(filepath.Join(local, "keep.mp4")); err != nil {
		t.Errorf("Local file should be kept: %v", err)
	}
}

func TestSyncRemoteNewerDownloads(t *testing.T) {
	t.Parallel()
	local := t.TempDir()
	writeLocal(t, filepath.Join(local, "a.mp4"), "old", base)

	remote := newFakeRemote(t.TempDir())
	remote.put("/a.mp4", "newer", base.Add(time.Hour))

	report, err := New(remote).Sync(context.Background(), local, false)
	fatalIfErr(t, err, "Sync failed")

	if report.Downloaded != 1 || report.LocalDeleted != 1 || report.Uploaded != 0 {
		t.Errorf("Report = %v, want one download", report)
	}
	if got := readLocal(t, filepath.Join(local, "a.mp4")); got != "newer" {
		t.Errorf("Local a.mp4 = %q, want newer", got)
	}
}

func TestSyncRemoteOlderReplaced(t *testing.T) {
	t.Parallel()
	local := t.TempDir()
	writeLocal(t, filepath.Join(local, "a.mp4"), "fresh", base.Add(time.Hour))

	remote := newFakeRemote(t.TempDir())
	remote.put("/a.mp4", "stale", base)

	report, err := New(remote).Sync(context.Background(), local, false)
	fatalIfErr(t, err, "Sync failed")

	if report.Uploaded != 1 || report.RemoteDeleted != 1 {
		t.Errorf("Report = %v, want delete and upload", report)
	}
	if got := remote.nodes["/a.mp4"].data; got != "fresh" {
		t.Errorf("Remote a.mp4 = %q, want fresh", got)
	}
}

func TestSyncEqualTimes(t *testing.T) {
	t.Parallel()
	local := t.TempDir()
	writeLocal(t, filepath.Join(local, "same.mp4"), "1234", base)
	writeLocal(t, filepath.Join(local, "resized.mp4"), "123456", base)

	remote := newFakeRemote(t.TempDir())
	remote.put("/same.mp4", "abcd", base)
	remote.put("/resized.mp4", "abc", base)

	report, err := New(remote).Sync(context.Background(), local, false)
	fatalIfErr(t, err, "Sync failed")

	if report.Uploaded != 1 {
		t.Errorf("Report = %v, want one upload", report)
	}
	if remote.called("STOR same.mp4") != 0 {
		t.Error("Equal time and size should not upload")
	}
	if got := remote.nodes["/resized.mp4"].data; got != "123456" {
		t.Errorf("Remote resized.mp4 = %q, want 123456", got)
	}
}

func TestSyncConverges(t *testing.T) {
	t.Parallel()
	local := t.TempDir()
	writeLocal(t, filepath.Join(local, "a.mp4"), "a", base)
	writeLocal(t, filepath.Join(local, "show", "b.png"), "b", base)
	writeLocal(t, filepath.Join(local, "show", "deep", "c.wav"), "c", base)

	remote := newFakeRemote(t.TempDir())
	remote.put("/b.mp4", "remote only", base)

	s := New(remote)
	ctx := context.Background()

	report, err := s.Sync(ctx, local, true)
	fatalIfErr(t, err, "First Sync failed")
	if report.Uploaded != 3 || report.RemoteDeleted != 1 {
		t.Errorf("First report = %v, want 3 uploads and 1 deletion", report)
	}
	if remote.called("UPDIR show") != 1 {
		t.Errorf("Calls = %v, want UPDIR show", remote.calls)
	}

	report, err = s.Sync(ctx, local, true)
	fatalIfErr(t, err, "Second Sync failed")
	if report.Changed() {
		t.Errorf("Second report = %v, want no changes", report)
	}
	if remote.RemotePath() != "/" || remote.LocalDir() == local {
		t.Errorf("Cursors = %q, %q; want restored", remote.RemotePath(), remote.LocalDir())
	}
}

func TestSyncRecursiveDescends(t *testing.T) {
	t.Parallel()
	local := t.TempDir()
	writeLocal(t, filepath.Join(local, "show", "b.png"), "new", base.Add(time.Hour))

	remote := newFakeRemote(t.TempDir())
	remote.put("/show/b.png", "old", base)
	remote.put("/show/extra.png", "x", base)

	report, err := New(remote).Sync(context.Background(), local, true)
	fatalIfErr(t, err, "Sync failed")

	if report.Uploaded != 1 || report.RemoteDeleted != 2 {
		t.Errorf("Report = %v, want 1 upload and 2 deletions", report)
	}
	if got := remote.nodes["/show/b.png"].data; got != "new" {
		t.Errorf("Remote show/b.png = %q, want new", got)
	}
	if _, ok := remote.nodes["/show/extra.png"]; ok {
		t.Error("show/extra.png should be pruned")
	}
	if remote.RemotePath() != "/" {
		t.Errorf("RemotePath = %q, want /", remote.RemotePath())
	}
}

func TestSyncNonRecursiveSkipsDirectories(t *testing.T) {
	t.Parallel()
	local := t.TempDir()
	writeLocal(t, filepath.Join(local, "show", "b.png"), "b", base)

	remote := newFakeRemote(t.TempDir())
	report, err := New(remote).Sync(context.Background(), local, false)
	fatalIfErr(t, err, "Sync failed")

	if report.Changed() {
		t.Errorf("Report = %v, want no changes", report)
	}
}

func TestSyncCollectsErrors(t *testing.T) {
	t.Parallel()
	local := t.TempDir()
	writeLocal(t, filepath.Join(local, "bad.mp4"), "x", base)
	writeLocal(t, filepath.Join(local, "good.mp4"), "y", base)

	remote := newFakeRemote(t.TempDir())
	remote.failName = "bad.mp4"

	report, err := New(remote).Sync(context.Background(), local, false)
	var merr *multierror.Error
	if !errors.As(err, &merr) || len(merr.Errors) != 1 {
		t.Fatalf("Sync error = %v, want one collected error", err)
	}
	if report.Uploaded != 1 {
		t.Errorf("Report = %v, want good.mp4 uploaded", report)
	}
	if _, ok := remote.nodes["/good.mp4"]; !ok {
		t.Error("good.mp4 should be uploaded despite bad.mp4 failing")
	}
}

func TestSyncFolder(t *testing.T) {
	t.Parallel()
	local := t.TempDir()
	writeLocal(t, filepath.Join(local, "a.mp4"), "a", base)

	remote := newFakeRemote(t.TempDir())
	remote.mkdir("/Lobby_Data/StreamingAssets/videos")
	remote.mkdir("/home")
	remote.cwd = "/home"

	report, err := New(remote).SyncFolder(context.Background(), local, "videos", true, false)
	fatalIfErr(t, err, "SyncFolder failed")

	if report.Uploaded != 1 {
		t.Errorf("Report = %v, want one upload", report)
	}
	if _, ok := remote.nodes["/Lobby_Data/StreamingAssets/videos/a.mp4"]; !ok {
		t.Error("a.mp4 should land under streaming assets")
	}
	if remote.RemotePath() != "/home" {
		t.Errorf("RemotePath = %q, want /home", remote.RemotePath())
	}

	report, err = New(remote).SyncFolder(context.Background(), local, "shows/new", true, false)
	fatalIfErr(t, err, "SyncFolder into a new directory failed")
	if report.Uploaded != 1 {
		t.Errorf("Report = %v, want one upload", report)
	}
	if _, ok := remote.nodes["/Lobby_Data/StreamingAssets/shows/new/a.mp4"]; !ok {
		t.Error("shows/new should be created and filled")
	}
	if remote.RemotePath() != "/home" {
		t.Errorf("RemotePath = %q, want /home", remote.RemotePath())
	}

	remote.put("/Lobby_Data/StreamingAssets/taken", "file", base)
	if _, err := New(remote).SyncFolder(context.Background(), local, "taken", true, false); err == nil {
		t.Error("SyncFolder onto a remote file should fail")
	}
	if remote.RemotePath() != "/home" {
		t.Errorf("RemotePath after failure = %q, want /home", remote.RemotePath())
	}
}

func TestSyncKeepsLocalFileWhenKindMismatchPersists(t *testing.T) {
	t.Parallel()
	local := t.TempDir()
	writeLocal(t, filepath.Join(local, "clip"), "local data", base)

	remote := newFakeRemote(t.TempDir())
	remote.put("/clip/inner.mp4", "x", base)
	remote.nodes["/clip"].mtime = base.Add(time.Hour)
	remote.failRMD = true

	report, err := New(remote).Sync(context.Background(), local, true)
	if err == nil {
		t.Fatal("Sync should report the failed removal")
	}
	if report.LocalDeleted != 0 || report.Downloaded != 0 {
		t.Errorf("Report = %v, want no local changes", report)
	}
	if got := readLocal(t, filepath.Join(local, "clip")); got != "local data" {
		t.Errorf("Local clip = %q, want local data", got)
	}
	if remote.called("RETR") != 0 || remote.called("STOR") != 0 {
		t.Errorf("Calls = %v, want no transfers for clip", remote.calls)
	}
}

func TestSyncFile(t *testing.T) {
	t.Parallel()
	local := t.TempDir()
	p := filepath.Join(local, "a.mp4")
	writeLocal(t, p, "old", base)

	remote := newFakeRemote(t.TempDir())
	remote.put("/a.mp4", "new", base.Add(time.Minute))
	saved := remote.LocalDir()

	report, err := New(remote).SyncFile(context.Background(), p)
	fatalIfErr(t, err, "SyncFile failed")

	if report.Downloaded != 1 {
		t.Errorf("Report = %v, want one download", report)
	}
	if got := readLocal(t, p); got != "new" {
		t.Errorf("Local a.mp4 = %q, want new", got)
	}
	if remote.LocalDir() != saved {
		t.Errorf("LocalDir = %q, want %q", remote.LocalDir(), saved)
	}

	if _, err := New(remote).SyncFile(context.Background(), local); err == nil {
		t.Error("SyncFile of a directory should fail")
	}
}

func TestWatch(t *testing.T) {
	t.Parallel()
	local := t.TempDir()
	remote := newFakeRemote(t.TempDir())

	passes := make(chan Report, 16)
	s := New(remote,
		WithDebounce(20*time.Millisecond),
		WithPassHandler(func(r Report, _ error) { passes <- r }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx, local, "", false, true) }()

	select {
	case r := <-passes:
		if r.Changed() {
			t.Errorf("Initial pass = %v, want no changes", r)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Initial pass did not run")
	}

	writeLocal(t, filepath.Join(local, "clip.mp4"), "x", base)

	uploaded := false
	deadline := time.After(5 * time.Second)
	for !uploaded {
		select {
		case r := <-passes:
			uploaded = r.Uploaded > 0
		case <-deadline:
			t.Fatal("Change did not trigger a pass")
		}
	}

	cancel()
	select {
	case err := <-done:
		fatalIfErr(t, err, "Watch failed")
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not stop")
	}

	if _, ok := remote.nodes["/clip.mp4"]; !ok {
		t.Error("clip.mp4 should be uploaded")
	}
}
