package mrtftp

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mrtsync/mrtftp/clipboard"
	"github.com/mrtsync/mrtftp/event"
	"github.com/mrtsync/mrtftp/server"
)

// startServer serves rootDir on a loopback port. The server is shut down
// when the test ends.
func startServer(t *testing.T, rootDir string, opts ...server.Option) (*server.Server, string) {
	t.Helper()

	driver, err := server.NewFSDriver(rootDir)
	fatalIfErr(t, err, "NewFSDriver failed")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	fatalIfErr(t, err, "Listen failed")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]server.Option{
		server.WithDriver(driver),
		server.WithLogger(logger),
		server.WithHeartbeatInterval(20 * time.Millisecond),
	}, opts...)
	s, err := server.NewServer(ln.Addr().String(), opts...)
	fatalIfErr(t, err, "NewServer failed")

	go func() { _ = s.Serve(ln) }()
	t.Cleanup(func() { _ = s.Shutdown() })

	return s, ln.Addr().String()
}

// newClient logs a client into addr with a fresh local directory.
func newClient(t *testing.T, addr string, opts ...Option) (*Client, *eventRecorder) {
	t.Helper()

	rec := &eventRecorder{}
	opts = append([]Option{
		WithEventHandler(rec.handle),
		WithLocalDir(t.TempDir()),
		WithTimeout(5 * time.Second),
		WithRetryInterval(10 * time.Millisecond),
	}, opts...)
	c, err := Dial(addr, opts...)
	fatalIfErr(t, err, "Dial failed")
	t.Cleanup(func() { c.Close() })

	fatalIfErr(t, c.Login(context.Background()), "Login failed")
	return c, rec
}

func writeFile(t *testing.T, p, content string) {
	t.Helper()
	fatalIfErr(t, os.MkdirAll(filepath.Dir(p), 0o755), "MkdirAll failed")
	fatalIfErr(t, os.WriteFile(p, []byte(content), 0o644), "WriteFile failed")
}

func readFile(t *testing.T, p string) string {
	t.Helper()
	data, err := os.ReadFile(p)
	fatalIfErr(t, err, "ReadFile %s failed", p)
	return string(data)
}

func TestLoginAndNavigate(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	_, addr := startServer(t, root)
	c, rec := newClient(t, addr)
	ctx := context.Background()

	if !c.LoggedIn() {
		t.Fatal("LoggedIn should be true after Login")
	}
	if c.RemotePath() != "/" {
		t.Errorf("RemotePath = %q, want /", c.RemotePath())
	}

	fatalIfErr(t, c.MakeDir(ctx, "media/clips"), "MakeDir failed")
	fatalIfErr(t, c.ChangeDir(ctx, "media"), "ChangeDir failed")
	if c.RemotePath() != "/media" {
		t.Errorf("RemotePath = %q, want /media", c.RemotePath())
	}

	names, err := c.NameList(ctx, "")
	fatalIfErr(t, err, "NameList failed")
	if len(names) != 1 || names[0] != "clips" {
		t.Errorf("NameList = %v, want [clips]", names)
	}

	fatalIfErr(t, c.ChangeDirUp(ctx), "ChangeDirUp failed")
	dir, err := c.CurrentDir(ctx)
	fatalIfErr(t, err, "CurrentDir failed")
	if dir != "/" {
		t.Errorf("CurrentDir = %q, want /", dir)
	}

	if !waitFor(t, 2*time.Second, func() bool { return rec.count(event.Connected) == 1 }) {
		t.Error("Connected event not delivered")
	}
}

func TestRemotePathOption(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	fatalIfErr(t, os.MkdirAll(filepath.Join(root, "media"), 0o755), "MkdirAll failed")
	_, addr := startServer(t, root)

	c, _ := newClient(t, addr, WithRemotePath("/media"))
	if c.RemotePath() != "/media" {
		t.Errorf("RemotePath = %q, want /media", c.RemotePath())
	}
}

func TestWrongPassword(t *testing.T) {
	t.Parallel()
	_, addr := startServer(t, t.TempDir())

	rec := &eventRecorder{}
	c, err := Dial(addr, WithCredentials(DefaultUser, "wrong"), WithEventHandler(rec.handle))
	fatalIfErr(t, err, "Dial failed")

	if err := c.Login(context.Background()); err == nil {
		t.Fatal("Login with a wrong password should fail")
	}
	if c.LoggedIn() {
		t.Error("LoggedIn should be false after a failed login")
	}
	c.Close()
	if rec.count(event.Disconnected) != 1 {
		t.Errorf("Disconnected events = %d, want 1", rec.count(event.Disconnected))
	}
}

func TestFileManagement(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	_, addr := startServer(t, root)
	c, _ := newClient(t, addr)
	ctx := context.Background()

	writeFile(t, filepath.Join(root, "a.mp4"), "0123456789")

	size, err := c.FileSize(ctx, "a.mp4")
	fatalIfErr(t, err, "FileSize failed")
	if size != 10 {
		t.Errorf("FileSize = %d, want 10", size)
	}

	fatalIfErr(t, c.Rename(ctx, "a.mp4", "b.mp4"), "Rename failed")
	if _, err := os.Stat(filepath.Join(root, "b.mp4")); err != nil {
		t.Errorf("Renamed file missing: %v", err)
	}

	fatalIfErr(t, c.DeleteFile(ctx, "b.mp4"), "DeleteFile failed")
	if _, err := os.Stat(filepath.Join(root, "b.mp4")); !os.IsNotExist(err) {
		t.Errorf("Deleted file still present: %v", err)
	}

	writeFile(t, filepath.Join(root, "dir", "sub", "x.png"), "x")
	fatalIfErr(t, c.ClearDir(ctx, "dir"), "ClearDir failed")
	entries, err := os.ReadDir(filepath.Join(root, "dir"))
	fatalIfErr(t, err, "ReadDir failed")
	if len(entries) != 0 {
		t.Errorf("ClearDir left %d entries", len(entries))
	}

	fatalIfErr(t, c.RemoveDir(ctx, "dir"), "RemoveDir failed")
	if _, err := os.Stat(filepath.Join(root, "dir")); !os.IsNotExist(err) {
		t.Errorf("Removed directory still present: %v", err)
	}
}

func TestListings(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	_, addr := startServer(t, root)
	c, _ := newClient(t, addr)
	ctx := context.Background()

	writeFile(t, filepath.Join(root, "b.mp4"), "12345")
	writeFile(t, filepath.Join(root, "a.png"), "1")
	fatalIfErr(t, os.Mkdir(filepath.Join(root, "z"), 0o755), "Mkdir failed")

	entries, err := c.ExtendedList(ctx, "")
	fatalIfErr(t, err, "ExtendedList failed")
	if len(entries) != 3 {
		t.Fatalf("ExtendedList returned %d entries, want 3", len(entries))
	}
	if !entries[0].IsDir() || entries[0].Name != "z" {
		t.Errorf("First entry = %+v, want dir z", entries[0])
	}
	if entries[1].Name != "a.png" || entries[2].Name != "b.mp4" {
		t.Errorf("File order = %s, %s; want a.png, b.mp4", entries[1].Name, entries[2].Name)
	}

	list, err := c.List(ctx, "")
	fatalIfErr(t, err, "List failed")
	if len(list) != 3 || list[2].Size != 5 {
		t.Errorf("List = %+v, want b.mp4 of 5 bytes last", list)
	}
}

func TestUploadDownload(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	_, addr := startServer(t, root)
	c, rec := newClient(t, addr, WithBufferSize(4))
	ctx := context.Background()

	local := filepath.Join(c.LocalDir(), "clip.mp4")
	writeFile(t, local, "frames and more frames")
	mtime := time.Now().Add(-time.Hour).Truncate(time.Second)
	fatalIfErr(t, os.Chtimes(local, mtime, mtime), "Chtimes failed")

	fatalIfErr(t, c.Upload(ctx, "clip.mp4", false), "Upload failed")
	if got := readFile(t, filepath.Join(root, "clip.mp4")); got != "frames and more frames" {
		t.Errorf("Uploaded content = %q", got)
	}

	remote, ok, err := c.ModTime(ctx, "clip.mp4")
	fatalIfErr(t, err, "ModTime failed")
	if !ok || !remote.Equal(mtime) {
		t.Errorf("Remote mtime = %v, want %v", remote, mtime)
	}

	fatalIfErr(t, c.SetLocalDir(t.TempDir()), "SetLocalDir failed")
	fatalIfErr(t, c.Download(ctx, "clip.mp4", false), "Download failed")

	downloaded := filepath.Join(c.LocalDir(), "clip.mp4")
	if got := readFile(t, downloaded); got != "frames and more frames" {
		t.Errorf("Downloaded content = %q", got)
	}
	info, err := os.Stat(downloaded)
	fatalIfErr(t, err, "Stat failed")
	if !info.ModTime().Equal(mtime) {
		t.Errorf("Local mtime = %v, want %v", info.ModTime(), mtime)
	}

	c.Close()
	if !rec.find(event.TransferStarted, "clip.mp4") || rec.count(event.TransferFinished) != 2 {
		t.Errorf("Transfer events missing: started=%v finished=%d",
			rec.find(event.TransferStarted, "clip.mp4"), rec.count(event.TransferFinished))
	}
}

func TestResume(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	_, addr := startServer(t, root)
	c, _ := newClient(t, addr)
	ctx := context.Background()

	writeFile(t, filepath.Join(c.LocalDir(), "up.bin"), "0123456789")
	writeFile(t, filepath.Join(root, "up.bin"), "0123")
	fatalIfErr(t, c.Upload(ctx, "up.bin", true), "Upload with resume failed")
	if got := readFile(t, filepath.Join(root, "up.bin")); got != "0123456789" {
		t.Errorf("Resumed upload = %q, want 0123456789", got)
	}

	writeFile(t, filepath.Join(root, "down.bin"), "abcdefghij")
	writeFile(t, filepath.Join(c.LocalDir(), "down.bin"), "abcd")
	fatalIfErr(t, c.Download(ctx, "down.bin", true), "Download with resume failed")
	if got := readFile(t, filepath.Join(c.LocalDir(), "down.bin")); got != "abcdefghij" {
		t.Errorf("Resumed download = %q, want abcdefghij", got)
	}
}

func TestTransferErrors(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	_, addr := startServer(t, root)
	c, rec := newClient(t, addr)
	ctx := context.Background()

	if err := c.Download(ctx, "missing.mp4", false); err == nil {
		t.Error("Download of a missing file should fail")
	}
	if err := c.Upload(ctx, "missing-local.mp4", false); err == nil {
		t.Error("Upload of a missing local file should fail")
	}
	if !c.LoggedIn() {
		t.Error("Transfer failures should not end the session")
	}

	c.Close()
	if rec.count(event.Error) != 2 {
		t.Errorf("Error events = %d, want 2", rec.count(event.Error))
	}
}

func TestDirectoryTransfers(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	_, addr := startServer(t, root)
	c, _ := newClient(t, addr)
	ctx := context.Background()

	src := filepath.Join(c.LocalDir(), "show")
	writeFile(t, filepath.Join(src, "a.mp4"), "a")
	writeFile(t, filepath.Join(src, "scene", "b.png"), "b")

	fatalIfErr(t, c.UploadDirectory(ctx, "show", true), "UploadDirectory failed")
	if got := readFile(t, filepath.Join(root, "show", "scene", "b.png")); got != "b" {
		t.Errorf("Uploaded nested file = %q, want b", got)
	}
	if c.RemotePath() != "/" {
		t.Errorf("RemotePath after upload = %q, want /", c.RemotePath())
	}

	start := t.TempDir()
	fatalIfErr(t, c.SetLocalDir(start), "SetLocalDir failed")
	fatalIfErr(t, c.DownloadDirectory(ctx, "show", true), "DownloadDirectory failed")
	if got := readFile(t, filepath.Join(start, "show", "a.mp4")); got != "a" {
		t.Errorf("Downloaded file = %q, want a", got)
	}
	if got := readFile(t, filepath.Join(start, "show", "scene", "b.png")); got != "b" {
		t.Errorf("Downloaded nested file = %q, want b", got)
	}
	if c.LocalDir() != start || c.RemotePath() != "/" {
		t.Errorf("Cursors after download = %q, %q; want %q, /", c.LocalDir(), c.RemotePath(), start)
	}

	if err := c.DownloadDirectory(ctx, "missing", true); err == nil {
		t.Error("DownloadDirectory of a missing directory should fail")
	}
	if c.LocalDir() != start {
		t.Errorf("LocalDir after failure = %q, want %q", c.LocalDir(), start)
	}
}

func TestPanelCommands(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	fatalIfErr(t, os.MkdirAll(filepath.Join(root, "Lobby_Data", "StreamingAssets"), 0o755), "MkdirAll failed")

	srvRec := &eventRecorder{}
	_, addr := startServer(t, root, server.WithEventHandler(srvRec.handle))
	c, _ := newClient(t, addr)
	ctx := context.Background()

	name, ok, err := c.PanelName(ctx)
	fatalIfErr(t, err, "PanelName failed")
	if !ok || name != "Lobby" {
		t.Errorf("PanelName = %q, %v; want Lobby, true", name, ok)
	}

	fatalIfErr(t, c.GoToStreamingAssets(ctx), "GoToStreamingAssets failed")
	if c.RemotePath() != "/Lobby_Data/StreamingAssets" {
		t.Errorf("RemotePath = %q, want /Lobby_Data/StreamingAssets", c.RemotePath())
	}

	assets := filepath.Join(root, "Lobby_Data", "StreamingAssets")
	writeFile(t, filepath.Join(assets, "a.mp4"), "a")
	writeFile(t, filepath.Join(assets, "b.mp4"), "b")
	writeFile(t, filepath.Join(assets, "c.png"), "c")

	n, err := c.RemoveFirstVideo(ctx)
	fatalIfErr(t, err, "RemoveFirstVideo failed")
	if n != 1 {
		t.Errorf("RemoveFirstVideo = %d, want 1", n)
	}
	if _, err := os.Stat(filepath.Join(assets, "a.mp4")); !os.IsNotExist(err) {
		t.Error("RemoveFirstVideo should remove a.mp4 first")
	}

	n, err = c.RemoveAllImages(ctx)
	fatalIfErr(t, err, "RemoveAllImages failed")
	if n != 1 {
		t.Errorf("RemoveAllImages = %d, want 1", n)
	}

	n, err = c.RemoveFirstAudio(ctx)
	fatalIfErr(t, err, "RemoveFirstAudio failed")
	if n != 0 {
		t.Errorf("RemoveFirstAudio = %d, want 0", n)
	}

	fatalIfErr(t, c.CreateIndex(ctx, "b.mp4"), "CreateIndex failed")
	if got := readFile(t, filepath.Join(assets, "index.txt")); got != "b.mp4" {
		t.Errorf("index.txt = %q, want b.mp4", got)
	}
	n, err = c.RemoveIndex(ctx)
	fatalIfErr(t, err, "RemoveIndex failed")
	if n != 1 {
		t.Errorf("RemoveIndex = %d, want 1", n)
	}

	fatalIfErr(t, c.RestartPanel(ctx), "RestartPanel failed")
	fatalIfErr(t, c.StopLauncher(ctx), "StopLauncher failed")
	if !waitFor(t, 2*time.Second, func() bool { return srvRec.find(event.AppAction, "RSTP") }) {
		t.Error("Server did not raise the RSTP app action")
	}

	fatalIfErr(t, c.SetDataBufferSize(ctx, 1024), "SetDataBufferSize failed")
}

func TestPaste(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	_, addr := startServer(t, root)
	c, _ := newClient(t, addr)
	ctx := context.Background()

	writeFile(t, filepath.Join(root, "a.mp4"), "remote")
	fatalIfErr(t, os.Mkdir(filepath.Join(root, "dst"), 0o755), "Mkdir failed")

	var slot clipboard.Slot
	slot.Copy("a.mp4", clipboard.Remote)
	item, _ := slot.Get()
	fatalIfErr(t, c.Paste(ctx, item, "dst"), "Paste remote failed")
	if got := readFile(t, filepath.Join(root, "dst", "a.mp4")); got != "remote" {
		t.Errorf("Pasted remote file = %q, want remote", got)
	}

	local := filepath.Join(c.LocalDir(), "b.png")
	writeFile(t, local, "local")
	slot.Copy(local, clipboard.Local)
	item, _ = slot.Get()
	fatalIfErr(t, c.Paste(ctx, item, "dst"), "Paste local failed")
	if got := readFile(t, filepath.Join(root, "dst", "b.png")); got != "local" {
		t.Errorf("Pasted local file = %q, want local", got)
	}
	if c.RemotePath() != "/" {
		t.Errorf("RemotePath after paste = %q, want /", c.RemotePath())
	}
}

func TestChannels(t *testing.T) {
	t.Parallel()
	srvRec := &eventRecorder{}
	s, addr := startServer(t, t.TempDir(), server.WithEventHandler(srvRec.handle))
	c, rec := newClient(t, addr)

	if !waitFor(t, 2*time.Second, func() bool { return c.Ping() > 0 }) {
		t.Error("Ping never measured")
	}

	fatalIfErr(t, c.SendSpecialCommand("play intro"), "SendSpecialCommand failed")
	if !waitFor(t, 2*time.Second, func() bool { return srvRec.find(event.SpecialCommand, "play intro") }) {
		t.Error("Server did not receive the special command")
	}

	sessions := s.Sessions()
	if len(sessions) != 1 {
		t.Fatalf("Sessions = %d, want 1", len(sessions))
	}
	id := sessions[0].ID
	if !waitFor(t, 2*time.Second, func() bool { return s.SendSpecial(id, "volume 5") == nil }) {
		t.Fatal("SendSpecial never succeeded")
	}
	if !waitFor(t, 2*time.Second, func() bool { return rec.find(event.SpecialCommand, "volume 5") }) {
		t.Error("Client did not receive the special command")
	}
}

func TestQuitDisconnectsOnce(t *testing.T) {
	t.Parallel()
	_, addr := startServer(t, t.TempDir())
	c, rec := newClient(t, addr)
	ctx := context.Background()

	fatalIfErr(t, c.Quit(ctx), "Quit failed")
	if c.LoggedIn() {
		t.Error("LoggedIn should be false after Quit")
	}

	// Operations log in again on demand.
	_, err := c.CurrentDir(ctx)
	fatalIfErr(t, err, "CurrentDir after Quit failed")
	fatalIfErr(t, c.Quit(ctx), "Second Quit failed")

	c.Close()
	if got := rec.count(event.Disconnected); got != 2 {
		t.Errorf("Disconnected events = %d, want 2", got)
	}
	if got := rec.count(event.Connected); got != 2 {
		t.Errorf("Connected events = %d, want 2", got)
	}
}

func TestBandwidthLimit(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	_, addr := startServer(t, root)
	c, _ := newClient(t, addr, WithBandwidthLimit(4096))

	payload := bytes.Repeat([]byte("x"), 6144)
	fatalIfErr(t, os.WriteFile(filepath.Join(c.LocalDir(), "big.bin"), payload, 0o644), "WriteFile failed")

	start := time.Now()
	fatalIfErr(t, c.Upload(context.Background(), "big.bin", false), "Upload failed")
	if elapsed := time.Since(start); elapsed < 300*time.Millisecond {
		t.Errorf("Limited upload took %v, want at least 300ms", elapsed)
	}
}
