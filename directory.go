package mrtftp

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mrtsync/mrtftp/event"
)

// EntryKind tells files from directories in a listing.
type EntryKind int

const (
	KindFile EntryKind = iota
	KindDir
)

func (k EntryKind) String() string {
	if k == KindDir {
		return "dir"
	}
	return "file"
}

// Entry is one line of a directory listing.
type Entry struct {
	Kind EntryKind
	Name string

	// Size is only known for LIST entries.
	Size int64

	// ModTime has day resolution for LIST and EXLI entries.
	ModTime time.Time
}

// IsDir reports whether the entry is a directory.
func (e *Entry) IsDir() bool {
	return e.Kind == KindDir
}

// listDateLayout is the MM dd yyyy date of LIST and EXLI lines.
const listDateLayout = "01 02 2006"

// parseEXLI parses a "d*MM dd yyyy*name" or "f*MM dd yyyy*name" line.
func parseEXLI(line string) (*Entry, error) {
	parts := strings.SplitN(line, "*", 3)
	if len(parts) != 3 || parts[2] == "" {
		return nil, fmt.Errorf("%w: %q", ErrMalformedEntry, line)
	}

	e := &Entry{Name: parts[2]}
	switch parts[0] {
	case "d":
		e.Kind = KindDir
	case "f":
		e.Kind = KindFile
	default:
		return nil, fmt.Errorf("%w: unknown kind in %q", ErrMalformedEntry, line)
	}

	t, err := time.ParseInLocation(listDateLayout, parts[1], time.Local)
	if err != nil {
		return nil, fmt.Errorf("%w: bad date in %q", ErrMalformedEntry, line)
	}
	e.ModTime = t
	return e, nil
}

// parseLIST parses a Unix style line of the form
// "drwxr-xr-x 1 mrt ftp 4096 MM dd yyyy name".
func parseLIST(line string) (*Entry, error) {
	fields, name := splitFields(line, 8)
	if fields == nil || name == "" {
		return nil, fmt.Errorf("%w: %q", ErrMalformedEntry, line)
	}

	e := &Entry{Name: name, Kind: KindFile}
	if strings.HasPrefix(fields[0], "d") {
		e.Kind = KindDir
	}

	size, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad size in %q", ErrMalformedEntry, line)
	}
	e.Size = size

	t, err := time.ParseInLocation(listDateLayout, strings.Join(fields[5:8], " "), time.Local)
	if err != nil {
		return nil, fmt.Errorf("%w: bad date in %q", ErrMalformedEntry, line)
	}
	e.ModTime = t
	return e, nil
}

// splitFields returns the first n space-separated fields of line and the
// rest, which keeps its inner spaces. fields is nil when line is short.
func splitFields(line string, n int) (fields []string, rest string) {
	rest = strings.TrimLeft(line, " ")
	for range n {
		f, r, ok := strings.Cut(rest, " ")
		if !ok || f == "" {
			return nil, ""
		}
		fields = append(fields, f)
		rest = strings.TrimLeft(r, " ")
	}
	return fields, rest
}

// readLines runs a listing command and returns the non-empty payload lines.
func (c *Client) readLines(ctx context.Context, cmd, path string) ([]string, error) {
	args := []string{}
	if path != "" {
		args = append(args, path)
	}

	dataConn, err := c.cmdDataConn(ctx, cmd, args...)
	if err != nil {
		return nil, err
	}

	var lines []string
	scanner := bufio.NewScanner(dataConn)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line != "" {
			lines = append(lines, line)
		}
	}

	if err := scanner.Err(); err != nil {
		dataConn.Close()
		return nil, fmt.Errorf("failed to read directory listing: %w", err)
	}

	if err := c.finishDataConn(ctx, dataConn); err != nil {
		return nil, err
	}
	return lines, nil
}

// NameList returns the names in path, or in the current directory when
// path is empty. Directories come first.
func (c *Client) NameList(ctx context.Context, path string) ([]string, error) {
	return c.readLines(ctx, "NLST", path)
}

// List returns the parsed LIST output of path.
func (c *Client) List(ctx context.Context, path string) ([]*Entry, error) {
	lines, err := c.readLines(ctx, "LIST", path)
	if err != nil {
		return nil, err
	}
	return c.parseEntries(lines, parseLIST)
}

// ExtendedList returns the EXLI listing of path: kind, date and name of
// each entry.
//
// Example:
//
//	entries, err := client.ExtendedList(ctx, "")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, e := range entries {
//	    fmt.Println(e.Kind, e.ModTime.Format(time.DateOnly), e.Name)
//	}
func (c *Client) ExtendedList(ctx context.Context, path string) ([]*Entry, error) {
	lines, err := c.readLines(ctx, "EXLI", path)
	if err != nil {
		return nil, err
	}
	return c.parseEntries(lines, parseEXLI)
}

func (c *Client) parseEntries(lines []string, parse func(string) (*Entry, error)) ([]*Entry, error) {
	entries := make([]*Entry, 0, len(lines))
	for _, line := range lines {
		e, err := parse(line)
		if err != nil {
			c.publish(event.Error, line, err)
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// ChangeDir changes the remote working directory and refreshes RemotePath.
func (c *Client) ChangeDir(ctx context.Context, path string) error {
	if err := c.ensureLoggedIn(ctx); err != nil {
		return err
	}
	if _, err := c.expectCode(ctx, codes(200, 250), "CWD", path); err != nil {
		return err
	}
	_, err := c.pwd(ctx)
	return err
}

// ChangeDirUp moves to the parent directory and refreshes RemotePath.
func (c *Client) ChangeDirUp(ctx context.Context) error {
	if err := c.ensureLoggedIn(ctx); err != nil {
		return err
	}
	if _, err := c.expectCode(ctx, codes(200, 250), "CDUP"); err != nil {
		return err
	}
	_, err := c.pwd(ctx)
	return err
}

// CurrentDir returns the remote working directory.
func (c *Client) CurrentDir(ctx context.Context) (string, error) {
	if err := c.ensureLoggedIn(ctx); err != nil {
		return "", err
	}
	return c.pwd(ctx)
}

// MakeDir creates a remote directory, with any missing parents.
func (c *Client) MakeDir(ctx context.Context, name string) error {
	if err := c.ensureLoggedIn(ctx); err != nil {
		return err
	}
	_, err := c.expectCode(ctx, codes(250, 257), "MKD", name)
	return err
}

// RemoveDir removes a remote directory and its contents.
func (c *Client) RemoveDir(ctx context.Context, name string) error {
	if err := c.ensureLoggedIn(ctx); err != nil {
		return err
	}
	_, err := c.expectCode(ctx, codes(250), "RMD", name)
	return err
}

// DeleteFile deletes a remote file.
func (c *Client) DeleteFile(ctx context.Context, name string) error {
	if err := c.ensureLoggedIn(ctx); err != nil {
		return err
	}
	_, err := c.expectCode(ctx, codes(250), "DELE", name)
	return err
}

// Rename renames a remote file or directory.
//
// The server decides whether the new name is a file or a directory from
// its extension, so a directory cannot be renamed to a name with a dot.
func (c *Client) Rename(ctx context.Context, from, to string) error {
	if err := c.ensureLoggedIn(ctx); err != nil {
		return err
	}
	if _, err := c.expectCode(ctx, codes(350), "RNFR", from); err != nil {
		return err
	}
	_, err := c.expectCode(ctx, codes(250), "RNTO", to)
	return err
}

// FileSize returns the size of a remote file in bytes.
func (c *Client) FileSize(ctx context.Context, name string) (int64, error) {
	if err := c.ensureLoggedIn(ctx); err != nil {
		return 0, err
	}
	resp, err := c.expectCode(ctx, codes(213), "SIZE", name)
	if err != nil {
		return 0, err
	}

	size, err := strconv.ParseInt(strings.TrimSpace(resp.Message), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid SIZE response %q", ErrMalformedReply, resp.Message)
	}
	return size, nil
}

// ModTime returns the modification time of a remote path using GDT.
// ok is false when the path does not exist.
func (c *Client) ModTime(ctx context.Context, name string) (t time.Time, ok bool, err error) {
	if err := c.ensureLoggedIn(ctx); err != nil {
		return time.Time{}, false, err
	}
	resp, err := c.sendCommand(ctx, "GDT", name)
	if err != nil {
		return time.Time{}, false, err
	}
	if resp.Is5xx() {
		return time.Time{}, false, nil
	}
	if resp.Code != 200 {
		return time.Time{}, false, protocolError("GDT", resp)
	}

	t, err = parseGDT(resp.Message)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// parseGDT parses "M D YYYY h m s" in local time.
func parseGDT(msg string) (time.Time, error) {
	var month, day, year, hour, minute, second int
	n, err := fmt.Sscanf(msg, "%d %d %d %d %d %d", &month, &day, &year, &hour, &minute, &second)
	if err != nil || n != 6 {
		return time.Time{}, fmt.Errorf("%w: invalid GDT response %q", ErrMalformedReply, msg)
	}
	return time.Date(year, time.Month(month), day, hour, minute, second, 0, time.Local), nil
}

// SetModTime sets the modification time of a remote path using MFMT.
// The time is sent in UTC. ErrNotSupported is returned when the server
// lacks MFMT.
func (c *Client) SetModTime(ctx context.Context, name string, t time.Time) error {
	if err := c.ensureLoggedIn(ctx); err != nil {
		return err
	}
	_, err := c.expectCode(ctx, codes(213), "MFMT", t.UTC().Format("20060102150405"), name)
	return err
}

// ClearDir removes everything inside a remote directory; an empty path
// clears the current directory.
func (c *Client) ClearDir(ctx context.Context, path string) error {
	if err := c.ensureLoggedIn(ctx); err != nil {
		return err
	}
	args := []string{}
	if path != "" {
		args = append(args, path)
	}
	_, err := c.expectCode(ctx, codes(200), "CLRD", args...)
	return err
}
