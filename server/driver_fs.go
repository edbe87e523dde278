package server

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// FSDriver implements Driver using the local filesystem.
//
// All file operations are confined to the root path using os.Root, so
// path traversal (../) and symlinks pointing outside the root are rejected
// by the kernel-backed root handle.
type FSDriver struct {
	rootPath string
	readOnly bool
}

// FSDriverOption is a functional option for configuring an FSDriver.
type FSDriverOption func(*FSDriver)

// NewFSDriver creates a new filesystem driver rooted at rootPath.
// Returns an error if the root path does not exist or is not a directory.
//
// Basic usage:
//
//	driver, err := server.NewFSDriver("/srv/panel")
//	if err != nil {
//	    log.Fatal(err)
//	}
func NewFSDriver(rootPath string, options ...FSDriverOption) (*FSDriver, error) {
	info, err := os.Stat(rootPath)
	if err != nil {
		return nil, fmt.Errorf("root path validation failed: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path is not a directory: %s", rootPath)
	}

	rootPath, err = filepath.EvalSymlinks(rootPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root path: %w", err)
	}

	d := &FSDriver{
		rootPath: rootPath,
	}

	for _, opt := range options {
		opt(d)
	}

	return d, nil
}

// WithReadOnly rejects every operation that modifies the tree.
func WithReadOnly(readOnly bool) FSDriverOption {
	return func(d *FSDriver) {
		d.readOnly = readOnly
	}
}

// Root returns the canonical root directory of the driver.
func (d *FSDriver) Root() string {
	return d.rootPath
}

// NewContext opens the root directory and returns a context whose working
// directory is "/".
func (d *FSDriver) NewContext() (ClientContext, error) {
	root, err := os.OpenRoot(d.rootPath)
	if err != nil {
		return nil, err
	}

	return &fsContext{
		rootHandle: root,
		cwd:        "/",
		readOnly:   d.readOnly,
	}, nil
}

// fsContext implements ClientContext for the local filesystem.
type fsContext struct {
	rootHandle *os.Root
	cwd        string
	readOnly   bool
}

// Close closes the underlying root directory handle.
func (c *fsContext) Close() error {
	return c.rootHandle.Close()
}

// abs returns the cleaned virtual path for p.
func (c *fsContext) abs(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = path.Join(c.cwd, p)
	}
	return path.Clean("/" + p)
}

// resolve returns the path relative to the root handle.
// "/foo/bar" -> "foo/bar", "/" -> ".".
func (c *fsContext) resolve(p string) string {
	rel := strings.TrimPrefix(c.abs(p), "/")
	if rel == "" {
		return "."
	}
	return filepath.FromSlash(rel)
}

func (c *fsContext) ChangeDir(p string) error {
	info, err := c.rootHandle.Stat(c.resolve(p))
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: %w", p, os.ErrNotExist)
	}
	c.cwd = c.abs(p)
	return nil
}

func (c *fsContext) GetWd() string {
	return c.cwd
}

func (c *fsContext) MakeDir(p string) error {
	if c.readOnly {
		return os.ErrPermission
	}
	return c.rootHandle.MkdirAll(c.resolve(p), 0755)
}

func (c *fsContext) RemoveDir(p string) error {
	if c.readOnly {
		return os.ErrPermission
	}
	rel := c.resolve(p)
	if rel == "." {
		return os.ErrPermission
	}
	info, err := c.rootHandle.Stat(rel)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: %w", p, os.ErrNotExist)
	}
	return c.rootHandle.RemoveAll(rel)
}

func (c *fsContext) DeleteFile(p string) error {
	if c.readOnly {
		return os.ErrPermission
	}
	rel := c.resolve(p)
	info, err := c.rootHandle.Stat(rel)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s: %w", p, os.ErrNotExist)
	}
	return c.rootHandle.Remove(rel)
}

func (c *fsContext) Rename(fromPath, toPath string) error {
	if c.readOnly {
		return os.ErrPermission
	}
	return c.rootHandle.Rename(c.resolve(fromPath), c.resolve(toPath))
}

func (c *fsContext) ListDir(p string) ([]os.FileInfo, error) {
	f, err := c.rootHandle.Open(c.resolve(p))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	entries, err := f.ReadDir(-1)
	if err != nil {
		return nil, err
	}

	infos := make([]os.FileInfo, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err == nil {
			infos = append(infos, info)
		}
	}
	return infos, nil
}

func (c *fsContext) OpenFile(p string, flag int) (File, error) {
	if c.readOnly && flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0 {
		return nil, os.ErrPermission
	}
	return c.rootHandle.OpenFile(c.resolve(p), flag, 0644)
}

func (c *fsContext) GetFileInfo(p string) (os.FileInfo, error) {
	return c.rootHandle.Stat(c.resolve(p))
}

func (c *fsContext) SetTime(p string, t time.Time) error {
	if c.readOnly {
		return os.ErrPermission
	}
	return c.rootHandle.Chtimes(c.resolve(p), t, t)
}

func (c *fsContext) ClearDir(p string) error {
	if c.readOnly {
		return os.ErrPermission
	}
	entries, err := c.ListDir(p)
	if err != nil {
		return err
	}
	dir := c.abs(p)
	for _, e := range entries {
		if err := c.rootHandle.RemoveAll(c.resolve(path.Join(dir, e.Name()))); err != nil {
			return err
		}
	}
	return nil
}

func (c *fsContext) Copy(srcPath, dstDir string) error {
	if c.readOnly {
		return os.ErrPermission
	}

	src := c.abs(srcPath)
	dst := c.abs(dstDir)
	if src == "/" {
		return os.ErrPermission
	}
	if dst == src || strings.HasPrefix(dst, src+"/") {
		return errors.New("cannot copy a directory into itself")
	}

	dstInfo, err := c.rootHandle.Stat(c.resolve(dst))
	if err != nil {
		return err
	}
	if !dstInfo.IsDir() {
		return fmt.Errorf("%s: %w", dstDir, os.ErrNotExist)
	}

	target := path.Join(dst, path.Base(src))
	if _, err := c.rootHandle.Lstat(c.resolve(target)); err == nil {
		return fmt.Errorf("%s: %w", target, os.ErrExist)
	}
	srcRel := c.resolve(src)
	fsys := c.rootHandle.FS()

	return fs.WalkDir(fsys, filepath.ToSlash(srcRel), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(p, filepath.ToSlash(srcRel)), "/")
		out := c.resolve(path.Join(target, rel))
		if d.IsDir() {
			return c.rootHandle.MkdirAll(out, 0755)
		}
		return c.copyFile(c.resolve(path.Join(src, rel)), out)
	})
}

func (c *fsContext) copyFile(from, to string) error {
	in, err := c.rootHandle.Open(from)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := c.rootHandle.OpenFile(to, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
