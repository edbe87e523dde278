package mrtftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/hashicorp/go-multierror"

	"github.com/mrtsync/mrtftp/event"
	"github.com/mrtsync/mrtftp/internal/transfer"
)

// Store uploads r to the remote file name, starting at offset when it is
// positive. Use Upload for local files.
func (c *Client) Store(ctx context.Context, name string, r io.Reader, offset int64) error {
	if err := c.ensureLoggedIn(ctx); err != nil {
		return err
	}
	if offset > 0 {
		if _, err := c.expectCode(ctx, codes(350), "REST", strconv.FormatInt(offset, 10)); err != nil {
			return err
		}
	}

	dataConn, err := c.cmdDataConn(ctx, "STOR", name)
	if err != nil {
		return err
	}

	_, copyErr := transfer.Copy(ctx, dataConn, r, c.bufferSize, c.limiter)

	// Always finish the data connection (close and read response)
	finishErr := c.finishDataConn(ctx, dataConn)

	if copyErr != nil {
		return fmt.Errorf("upload failed: %w", copyErr)
	}
	return finishErr
}

// Retrieve downloads the remote file name into w, starting at offset when
// it is positive.
func (c *Client) Retrieve(ctx context.Context, name string, w io.Writer, offset int64) error {
	if err := c.ensureLoggedIn(ctx); err != nil {
		return err
	}
	if offset > 0 {
		if _, err := c.expectCode(ctx, codes(350), "REST", strconv.FormatInt(offset, 10)); err != nil {
			return err
		}
	}

	dataConn, err := c.cmdDataConn(ctx, "RETR", name)
	if err != nil {
		return err
	}

	_, copyErr := transfer.Copy(ctx, w, dataConn, c.bufferSize, c.limiter)
	finishErr := c.finishDataConn(ctx, dataConn)

	if copyErr != nil {
		return fmt.Errorf("download failed: %w", copyErr)
	}
	return finishErr
}

// restartOffset asks the server to restart at offset. It returns 0 when
// the server refuses.
func (c *Client) restartOffset(ctx context.Context, offset int64) (int64, error) {
	if offset <= 0 {
		return 0, nil
	}
	resp, err := c.sendCommand(ctx, "REST", strconv.FormatInt(offset, 10))
	if err != nil {
		return 0, err
	}
	if resp.Code != 350 {
		return 0, nil
	}
	return offset, nil
}

// transferFailed publishes event.Error for a failed transfer and returns err.
func (c *Client) transferFailed(name string, err error) error {
	msg := name
	var pe *ProtocolError
	if errors.As(err, &pe) {
		msg = pe.Response
	}
	c.publish(event.Error, msg, err)
	return err
}

// localPath resolves name against the local directory cursor.
func (c *Client) localPath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.localDir, name)
}

// Upload stores a local file in the remote working directory under its
// base name. Relative paths are resolved against LocalDir.
//
// With resume set, the upload continues after the bytes the server
// already holds. After the transfer the remote modification time is set
// to the local one; servers without MFMT are tolerated.
func (c *Client) Upload(ctx context.Context, localPath string, resume bool) error {
	if err := c.ensureLoggedIn(ctx); err != nil {
		return err
	}

	p := c.localPath(localPath)
	name := filepath.Base(p)

	f, err := os.Open(p)
	if err != nil {
		return c.transferFailed(name, fmt.Errorf("failed to open local file: %w", err))
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return c.transferFailed(name, fmt.Errorf("failed to stat local file: %w", err))
	}

	var offset int64
	if resume {
		if size, err := c.FileSize(ctx, name); err == nil && size <= info.Size() {
			if offset, err = c.restartOffset(ctx, size); err != nil {
				return c.transferFailed(name, err)
			}
		}
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return c.transferFailed(name, fmt.Errorf("failed to seek local file: %w", err))
		}
	}

	c.publish(event.TransferStarted, name, nil)
	c.logger.Debug("upload started", "file", name, "offset", offset, "size", info.Size())

	dataConn, err := c.cmdDataConn(ctx, "STOR", name)
	if err != nil {
		return c.transferFailed(name, err)
	}
	_, copyErr := transfer.Copy(ctx, dataConn, f, c.bufferSize, c.limiter)
	finishErr := c.finishDataConn(ctx, dataConn)
	if copyErr != nil {
		return c.transferFailed(name, fmt.Errorf("upload failed: %w", copyErr))
	}
	if finishErr != nil {
		return c.transferFailed(name, finishErr)
	}

	if err := c.SetModTime(ctx, name, info.ModTime()); err != nil && !errors.Is(err, ErrNotSupported) {
		return c.transferFailed(name, err)
	}

	c.publish(event.TransferFinished, name, nil)
	return nil
}

// Download retrieves the remote file name into LocalDir under its base
// name and sets the local modification time to the remote one.
//
// With resume set and a partial local copy present, the download
// continues after the local bytes.
func (c *Client) Download(ctx context.Context, name string, resume bool) error {
	if err := c.ensureLoggedIn(ctx); err != nil {
		return err
	}

	base := path.Base(name)
	p := filepath.Join(c.localDir, base)

	var offset int64
	if resume {
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			var rerr error
			if offset, rerr = c.restartOffset(ctx, info.Size()); rerr != nil {
				return c.transferFailed(base, rerr)
			}
		}
	}

	flags := os.O_WRONLY | os.O_CREATE
	if offset == 0 {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(p, flags, 0o644)
	if err != nil {
		return c.transferFailed(base, fmt.Errorf("failed to open local file: %w", err))
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return c.transferFailed(base, fmt.Errorf("failed to seek local file: %w", err))
		}
	}

	c.publish(event.TransferStarted, base, nil)
	c.logger.Debug("download started", "file", name, "offset", offset)

	dataConn, err := c.cmdDataConn(ctx, "RETR", name)
	if err != nil {
		f.Close()
		return c.transferFailed(base, err)
	}
	_, copyErr := transfer.Copy(ctx, f, dataConn, c.bufferSize, c.limiter)
	finishErr := c.finishDataConn(ctx, dataConn)
	closeErr := f.Close()
	switch {
	case copyErr != nil:
		return c.transferFailed(base, fmt.Errorf("download failed: %w", copyErr))
	case finishErr != nil:
		return c.transferFailed(base, finishErr)
	case closeErr != nil:
		return c.transferFailed(base, fmt.Errorf("failed to close local file: %w", closeErr))
	}

	mtime, ok, err := c.ModTime(ctx, name)
	if err != nil {
		return c.transferFailed(base, err)
	}
	if ok {
		if err := os.Chtimes(p, mtime, mtime); err != nil {
			return c.transferFailed(base, fmt.Errorf("failed to set local mtime: %w", err))
		}
	}

	c.publish(event.TransferFinished, base, nil)
	return nil
}

// UploadDirectory uploads a local directory into the remote working
// directory, creating it when missing. Files are uploaded with resume.
// Per-file failures do not stop the walk; they are returned together.
func (c *Client) UploadDirectory(ctx context.Context, localDir string, recursive bool) (err error) {
	if err := c.ensureLoggedIn(ctx); err != nil {
		return err
	}

	dir := c.localPath(localDir)
	name := filepath.Base(dir)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read local directory: %w", err)
	}

	names, err := c.NameList(ctx, "")
	if err != nil {
		return err
	}
	if !slices.Contains(names, name) {
		if err := c.MakeDir(ctx, name); err != nil {
			return err
		}
	}

	if err := c.ChangeDir(ctx, name); err != nil {
		return err
	}

	var result *multierror.Error
	defer func() {
		if upErr := c.ChangeDirUp(ctx); upErr != nil {
			result = multierror.Append(result, upErr)
		}
		err = result.ErrorOrNil()
	}()

	for _, e := range entries {
		if cerr := ctx.Err(); cerr != nil {
			result = multierror.Append(result, cerr)
			return
		}

		full := filepath.Join(dir, e.Name())
		switch {
		case e.Type().IsRegular():
			if err := c.Upload(ctx, full, true); err != nil {
				result = multierror.Append(result, fmt.Errorf("%s: %w", full, err))
			}
		case e.IsDir() && recursive:
			if err := c.UploadDirectory(ctx, full, true); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	return
}

// DownloadDirectory downloads the remote directory name into LocalDir.
// Both cursors descend into the directory for the walk and come back
// afterwards, also on failure.
func (c *Client) DownloadDirectory(ctx context.Context, name string, recursive bool) (err error) {
	if err := c.ensureLoggedIn(ctx); err != nil {
		return err
	}

	saved := c.remotePath
	if err := c.ChangeDir(ctx, name); err != nil {
		return err
	}

	var result *multierror.Error
	defer func() {
		var upErr error
		if path.Base(name) == name {
			upErr = c.ChangeDirUp(ctx)
		} else {
			upErr = c.ChangeDir(ctx, saved)
		}
		if upErr != nil {
			result = multierror.Append(result, upErr)
		}
		err = result.ErrorOrNil()
	}()

	base := path.Base(name)
	if merr := os.MkdirAll(filepath.Join(c.localDir, base), 0o755); merr != nil {
		result = multierror.Append(result, fmt.Errorf("failed to create local directory: %w", merr))
		return
	}
	if lerr := c.LocalDown(base); lerr != nil {
		result = multierror.Append(result, lerr)
		return
	}
	defer c.LocalUp()

	entries, lerr := c.ExtendedList(ctx, "")
	if lerr != nil {
		result = multierror.Append(result, lerr)
		return
	}

	for _, e := range entries {
		if cerr := ctx.Err(); cerr != nil {
			result = multierror.Append(result, cerr)
			return
		}

		switch {
		case e.Kind == KindFile:
			if err := c.Download(ctx, e.Name, false); err != nil {
				result = multierror.Append(result, fmt.Errorf("%s: %w", e.Name, err))
			}
		case recursive:
			if err := c.DownloadDirectory(ctx, e.Name, true); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	return
}
