package server

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mrtsync/mrtftp/event"
)

func TestTransfer_StoreAndRetrieve(t *testing.T) {
	t.Parallel()
	rec := &eventRecorder{}
	rootDir := t.TempDir()
	_, addr := startServer(t, rootDir, WithEventHandler(rec.handle))
	c := dialControl(t, addr)
	c.login()

	content := strings.Repeat("panel content ", 2000)
	c.store("upload.txt", content)

	got, err := os.ReadFile(filepath.Join(rootDir, "upload.txt"))
	fatalIfErr(t, err, "ReadFile failed")
	if string(got) != content {
		t.Fatalf("Stored %d bytes, want %d", len(got), len(content))
	}

	if payload := c.retrieve("RETR upload.txt"); payload != content {
		t.Errorf("Retrieved %d bytes, want %d", len(payload), len(content))
	}

	if !waitFor(t, 2*time.Second, func() bool { return rec.count(event.TransferFinished) == 2 }) {
		t.Errorf("TransferFinished events = %d, want 2", rec.count(event.TransferFinished))
	}
}

func TestTransfer_SmallBufferSize(t *testing.T) {
	t.Parallel()
	rootDir := t.TempDir()
	content := strings.Repeat("0123456789", 100)
	if err := os.WriteFile(filepath.Join(rootDir, "data.bin"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	_, addr := startServer(t, rootDir)
	c := dialControl(t, addr)
	c.login()

	c.expect("SDBS 7", 200, "OK.")
	if payload := c.retrieve("RETR data.bin"); payload != content {
		t.Errorf("Retrieved %q, want %q", payload, content)
	}
}

func TestTransfer_Restart(t *testing.T) {
	t.Parallel()
	rootDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(rootDir, "resume.txt"), []byte("0123456789"), 0644); err != nil {
		t.Fatal(err)
	}
	_, addr := startServer(t, rootDir)
	c := dialControl(t, addr)
	c.login()

	c.expect("REST 5", 350, "Restarting at 5. Send STOR or RETR to initiate transfer.")
	if payload := c.retrieve("RETR resume.txt"); payload != "56789" {
		t.Errorf("Expected 56789, got %q", payload)
	}

	// The offset applies to one transfer only.
	if payload := c.retrieve("RETR resume.txt"); payload != "0123456789" {
		t.Errorf("Expected full content, got %q", payload)
	}

	c.expect("REST 4", 350, "Restarting at 4. Send STOR or RETR to initiate transfer.")
	c.store("resume.txt", "abc")
	got, err := os.ReadFile(filepath.Join(rootDir, "resume.txt"))
	fatalIfErr(t, err, "ReadFile failed")
	if string(got) != "0123abc789" {
		t.Errorf("Resumed upload = %q, want %q", got, "0123abc789")
	}
}

func TestTransfer_Errors(t *testing.T) {
	t.Parallel()
	rootDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(rootDir, "f.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	_, addr := startServer(t, rootDir)
	c := dialControl(t, addr)
	c.login()

	c.expect("RETR f.txt", 425, "Use PASV first.")
	c.expect("LIST", 425, "Use PASV first.")
	c.expect("RETR missing.txt", 550, "File not found.")
	c.expect("LIST missing", 550, "Directory not found.")
	c.expect("STOR", 501, "Invalid arguments.")
}

func TestTransfer_ActiveModeIsNoop(t *testing.T) {
	t.Parallel()
	rootDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(rootDir, "f.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	_, addr := startServer(t, rootDir)
	c := dialControl(t, addr)
	c.login()

	c.expect("PORT 127,0,0,1,200,10", 200, "OK.")
	c.expect("RETR f.txt", 226, "Closing data connection, file transfer successful")
	c.expect("LIST", 226, "Transfer complete.")
}

func TestTransfer_SecondPASVClosesFirst(t *testing.T) {
	t.Parallel()
	_, addr := startServer(t, t.TempDir())
	c := dialControl(t, addr)
	c.login()

	first := c.pasv()
	first.Close()

	code, msg := c.cmd("PASV")
	if code != 227 || !strings.HasPrefix(msg, "Entering passive mode (127,0,0,1,") {
		t.Fatalf("PASV: got %d %q", code, msg)
	}
	_, err := net.DialTimeout("tcp", extractAddr(t, msg), time.Second)
	fatalIfErr(t, err, "Dial second listener failed")
}

func TestTransfer_Listings(t *testing.T) {
	t.Parallel()
	rootDir := t.TempDir()
	mtime := time.Date(2023, 7, 4, 15, 30, 0, 0, time.Local)

	for _, name := range []string{"b.mp4", "a.txt"} {
		p := filepath.Join(rootDir, name)
		if err := os.WriteFile(p, []byte("12345"), 0644); err != nil {
			t.Fatal(err)
		}
		if err := os.Chtimes(p, mtime, mtime); err != nil {
			t.Fatal(err)
		}
	}
	dir := filepath.Join(rootDir, "z_dir")
	if err := os.Mkdir(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(dir, mtime, mtime); err != nil {
		t.Fatal(err)
	}

	_, addr := startServer(t, rootDir)
	c := dialControl(t, addr)
	c.login()

	t.Run("EXLI", func(t *testing.T) {
		want := "d*07 04 2023*z_dir\r\nf*07 04 2023*a.txt\r\nf*07 04 2023*b.mp4\r\n"
		if got := c.retrieve("EXLI"); got != want {
			t.Errorf("EXLI = %q, want %q", got, want)
		}
	})

	t.Run("NLST", func(t *testing.T) {
		want := "z_dir\r\na.txt\r\nb.mp4\r\n"
		if got := c.retrieve("NLST"); got != want {
			t.Errorf("NLST = %q, want %q", got, want)
		}
	})

	t.Run("LIST", func(t *testing.T) {
		want := "drwxr-xr-x 1 mrt ftp 4096 07 04 2023 z_dir\r\n" +
			"-rw-r--r-- 1 mrt ftp 5 07 04 2023 a.txt\r\n" +
			"-rw-r--r-- 1 mrt ftp 5 07 04 2023 b.mp4\r\n"
		if got := c.retrieve("LIST /"); got != want {
			t.Errorf("LIST = %q, want %q", got, want)
		}
	})
}

func TestTransfer_BandwidthLimit(t *testing.T) {
	t.Parallel()
	rootDir := t.TempDir()
	content := strings.Repeat("x", 4096)
	if err := os.WriteFile(filepath.Join(rootDir, "f.bin"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	_, addr := startServer(t, rootDir, WithBandwidthLimit(1<<20))
	c := dialControl(t, addr)
	c.login()

	if got := c.retrieve("RETR f.bin"); got != content {
		t.Errorf("Retrieved %d bytes, want %d", len(got), len(content))
	}
}

func extractAddr(t *testing.T, reply string) string {
	t.Helper()
	var a, b, c, d, p1, p2 int
	start := strings.Index(reply, "(")
	if _, err := fmt.Sscanf(reply[start:], "(%d,%d,%d,%d,%d,%d)", &a, &b, &c, &d, &p1, &p2); err != nil {
		t.Fatalf("Sscanf %q failed: %v", reply, err)
	}
	return fmt.Sprintf("%d.%d.%d.%d:%d", a, b, c, d, p1*256+p2)
}
