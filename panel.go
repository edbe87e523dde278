package mrtftp

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mrtsync/mrtftp/clipboard"
)

// PanelName returns the name of the panel application served by the
// server. ok is false when the server cannot locate it.
func (c *Client) PanelName(ctx context.Context) (name string, ok bool, err error) {
	if err := c.ensureLoggedIn(ctx); err != nil {
		return "", false, err
	}
	resp, err := c.sendCommand(ctx, "GPN")
	if err != nil {
		return "", false, err
	}
	if resp.Is5xx() {
		return "", false, nil
	}
	if resp.Code != 200 {
		return "", false, protocolError("GPN", resp)
	}
	return resp.Message, true, nil
}

// GoToStreamingAssets moves to the panel's streaming assets directory and
// refreshes RemotePath.
func (c *Client) GoToStreamingAssets(ctx context.Context) error {
	if err := c.ensureLoggedIn(ctx); err != nil {
		return err
	}
	if _, err := c.expectCode(ctx, codes(200), "GTSA"); err != nil {
		return err
	}
	_, err := c.pwd(ctx)
	return err
}

// CreateIndex writes text to index.txt in the remote working directory.
func (c *Client) CreateIndex(ctx context.Context, text string) error {
	if err := c.ensureLoggedIn(ctx); err != nil {
		return err
	}
	_, err := c.expectCode(ctx, codes(200), "CIN", text)
	return err
}

// removeCount sends one of the removal verbs and returns the count the
// server puts in front of the reply text: the number of files removed,
// 0 when nothing matched, -1 when a file could not be removed.
func (c *Client) removeCount(ctx context.Context, verb string) (int, error) {
	if err := c.ensureLoggedIn(ctx); err != nil {
		return 0, err
	}
	resp, err := c.sendCommand(ctx, verb)
	if err != nil {
		return 0, err
	}
	if resp.Code == 502 {
		return 0, fmt.Errorf("%s: %w", verb, ErrNotSupported)
	}

	first, _, _ := strings.Cut(resp.Message, " ")
	n, err := strconv.Atoi(first)
	if err != nil {
		return 0, fmt.Errorf("%w: %s reply %q", ErrMalformedReply, verb, resp.Message)
	}
	return n, nil
}

// RemoveIndex removes index.txt from the remote working directory.
func (c *Client) RemoveIndex(ctx context.Context) (int, error) {
	return c.removeCount(ctx, "RIN")
}

// RemoveFirstVideo removes the first video file, by name, of the remote
// working directory.
func (c *Client) RemoveFirstVideo(ctx context.Context) (int, error) {
	return c.removeCount(ctx, "RVD")
}

// RemoveFirstImage removes the first image file of the remote working
// directory.
func (c *Client) RemoveFirstImage(ctx context.Context) (int, error) {
	return c.removeCount(ctx, "RIM")
}

// RemoveFirstAudio removes the first audio file of the remote working
// directory.
func (c *Client) RemoveFirstAudio(ctx context.Context) (int, error) {
	return c.removeCount(ctx, "RAU")
}

// RemoveAllVideos removes every video file of the remote working directory.
func (c *Client) RemoveAllVideos(ctx context.Context) (int, error) {
	return c.removeCount(ctx, "RVDS")
}

// RemoveAllImages removes every image file of the remote working directory.
func (c *Client) RemoveAllImages(ctx context.Context) (int, error) {
	return c.removeCount(ctx, "RIMS")
}

// RemoveAllAudios removes every audio file of the remote working directory.
func (c *Client) RemoveAllAudios(ctx context.Context) (int, error) {
	return c.removeCount(ctx, "RAUS")
}

func (c *Client) appAction(ctx context.Context, verb string) error {
	if err := c.ensureLoggedIn(ctx); err != nil {
		return err
	}
	_, err := c.expectCode(ctx, codes(200), verb)
	return err
}

// RestartPanel asks the server to restart the panel application.
func (c *Client) RestartPanel(ctx context.Context) error { return c.appAction(ctx, "RSTP") }

// RestartLauncher asks the server to restart the launcher.
func (c *Client) RestartLauncher(ctx context.Context) error { return c.appAction(ctx, "RSPL") }

// StopPanel asks the server to stop the panel application.
func (c *Client) StopPanel(ctx context.Context) error { return c.appAction(ctx, "STP") }

// StopLauncher asks the server to stop the launcher.
func (c *Client) StopLauncher(ctx context.Context) error { return c.appAction(ctx, "STPL") }

// StartPanel asks the server to start the panel application.
func (c *Client) StartPanel(ctx context.Context) error { return c.appAction(ctx, "STTP") }

// CopyFrom stages a remote path as the source of the next PasteTo.
func (c *Client) CopyFrom(ctx context.Context, path string) error {
	if err := c.ensureLoggedIn(ctx); err != nil {
		return err
	}
	_, err := c.expectCode(ctx, codes(200), "CFR", path)
	return err
}

// PasteTo copies the staged source into the remote directory dir.
// The stage is kept, so the same source can be pasted again.
func (c *Client) PasteTo(ctx context.Context, dir string) error {
	if err := c.ensureLoggedIn(ctx); err != nil {
		return err
	}
	_, err := c.expectCode(ctx, codes(200), "CTO", dir)
	return err
}

// Paste copies a clipboard item into the remote directory dir; an empty
// dir means the working directory. Remote items are copied on the server,
// local items are uploaded.
func (c *Client) Paste(ctx context.Context, item clipboard.Item, dir string) error {
	if item.Scheme == clipboard.Remote {
		if dir == "" {
			dir = "."
		}
		if err := c.CopyFrom(ctx, item.Path); err != nil {
			return err
		}
		return c.PasteTo(ctx, dir)
	}

	info, err := os.Stat(item.Path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", item.Path, err)
	}

	if dir != "" {
		if err := c.ensureLoggedIn(ctx); err != nil {
			return err
		}
		saved := c.remotePath
		if err := c.ChangeDir(ctx, dir); err != nil {
			return err
		}
		defer func() {
			if err := c.ChangeDir(ctx, saved); err != nil {
				c.logger.Warn("failed to restore remote directory", "path", saved, "error", err)
			}
		}()
	}

	if info.IsDir() {
		return c.UploadDirectory(ctx, item.Path, true)
	}
	return c.Upload(ctx, item.Path, false)
}

// SetDataBufferSize sets the transfer chunk size on both ends.
func (c *Client) SetDataBufferSize(ctx context.Context, n int) error {
	if n <= 0 {
		return fmt.Errorf("buffer size must be positive")
	}
	if err := c.ensureLoggedIn(ctx); err != nil {
		return err
	}
	if _, err := c.expectCode(ctx, codes(200), "SDBS", strconv.Itoa(n)); err != nil {
		return err
	}
	c.bufferSize = n
	return nil
}
