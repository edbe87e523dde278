package mrtftp

import (
	"fmt"
	"os"
	"path/filepath"
)

// LocalDir returns the local directory cursor. Downloads are written
// there and relative upload paths are resolved against it.
func (c *Client) LocalDir() string {
	return c.localDir
}

// SetLocalDir moves the local cursor to dir, which must exist.
func (c *Client) SetLocalDir(dir string) error {
	abs, err := filepath.Abs(c.localPath(dir))
	if err != nil {
		return fmt.Errorf("invalid local directory: %w", err)
	}
	if err := requireDir(abs); err != nil {
		return err
	}
	c.localDir = abs
	return nil
}

// LocalDown moves the local cursor into the subdirectory name.
func (c *Client) LocalDown(name string) error {
	p := filepath.Join(c.localDir, name)
	if err := requireDir(p); err != nil {
		return err
	}
	c.localDir = p
	return nil
}

// LocalUp moves the local cursor to its parent.
func (c *Client) LocalUp() {
	c.localDir = filepath.Dir(c.localDir)
}

func requireDir(p string) error {
	info, err := os.Stat(p)
	if err != nil {
		return fmt.Errorf("local directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("local directory: %s is not a directory", p)
	}
	return nil
}
