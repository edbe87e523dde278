package dirsync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/mrtsync/mrtftp"
)

func fatalIfErr(t *testing.T, err error, format string, args ...any) {
	t.Helper()
	if err != nil {
		t.Fatalf(format+": %v", append(args, err)...)
	}
}

type fakeNode struct {
	dir   bool
	data  string
	mtime time.Time
}

// fakeRemote is an in-memory panel. Paths are absolute and slash
// separated.
type fakeRemote struct {
	nodes    map[string]*fakeNode
	cwd      string
	local    string
	failName string
	failRMD  bool
	calls    []string
}

func newFakeRemote(local string) *fakeRemote {
	return &fakeRemote{
		nodes: map[string]*fakeNode{"/": {dir: true}},
		cwd:   "/",
		local: local,
	}
}

func (f *fakeRemote) abs(name string) string {
	if path.IsAbs(name) {
		return path.Clean(name)
	}
	return path.Join(f.cwd, name)
}

func (f *fakeRemote) put(p, data string, mtime time.Time) {
	p = path.Clean(p)
	for dir := path.Dir(p); ; dir = path.Dir(dir) {
		f.nodes[dir] = &fakeNode{dir: true}
		if dir == "/" {
			break
		}
	}
	f.nodes[p] = &fakeNode{data: data, mtime: mtime.Truncate(time.Second)}
}

func (f *fakeRemote) mkdir(p string) {
	for dir := path.Clean(p); ; dir = path.Dir(dir) {
		f.nodes[dir] = &fakeNode{dir: true}
		if dir == "/" {
			break
		}
	}
}

func (f *fakeRemote) called(prefix string) int {
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeRemote) ExtendedList(_ context.Context, p string) ([]*mrtftp.Entry, error) {
	dir := f.abs(p)
	var entries []*mrtftp.Entry
	for k, n := range f.nodes {
		if k == dir || path.Dir(k) != dir {
			continue
		}
		e := &mrtftp.Entry{Name: path.Base(k), ModTime: n.mtime}
		if n.dir {
			e.Kind = mrtftp.KindDir
		}
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b *mrtftp.Entry) int {
		if a.IsDir() != b.IsDir() {
			if a.IsDir() {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Name, b.Name)
	})
	return entries, nil
}

func (f *fakeRemote) ModTime(_ context.Context, name string) (time.Time, bool, error) {
	n, ok := f.nodes[f.abs(name)]
	if !ok {
		return time.Time{}, false, nil
	}
	return n.mtime, true, nil
}

func (f *fakeRemote) FileSize(_ context.Context, name string) (int64, error) {
	n, ok := f.nodes[f.abs(name)]
	if !ok || n.dir {
		return 0, errors.New("550 File not found.")
	}
	return int64(len(n.data)), nil
}

func (f *fakeRemote) DeleteFile(_ context.Context, name string) error {
	f.calls = append(f.calls, "DELE "+name)
	p := f.abs(name)
	if n, ok := f.nodes[p]; !ok || n.dir {
		return errors.New("550 File not found.")
	}
	delete(f.nodes, p)
	return nil
}

func (f *fakeRemote) RemoveDir(_ context.Context, name string) error {
	f.calls = append(f.calls, "RMD "+name)
	if f.failRMD {
		return errors.New("550 Directory unavailable.")
	}
	p := f.abs(name)
	for k := range f.nodes {
		if k == p || strings.HasPrefix(k, p+"/") {
			delete(f.nodes, k)
		}
	}
	return nil
}

func (f *fakeRemote) MakeDir(_ context.Context, name string) error {
	f.calls = append(f.calls, "MKD "+name)
	p := f.abs(name)
	for dir := p; dir != "/"; dir = path.Dir(dir) {
		if n, ok := f.nodes[dir]; ok && !n.dir {
			return errors.New("550 Directory unavailable.")
		}
	}
	f.mkdir(p)
	return nil
}

func (f *fakeRemote) Upload(_ context.Context, localPath string, _ bool) error {
	name := filepath.Base(localPath)
	f.calls = append(f.calls, "STOR "+name)
	if name == f.failName {
		return errors.New("451 Transfer aborted.")
	}
	info, err := os.Stat(localPath)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	f.put(f.abs(name), string(data), info.ModTime())
	return nil
}

func (f *fakeRemote) Download(_ context.Context, name string, _ bool) error {
	f.calls = append(f.calls, "RETR "+name)
	n, ok := f.nodes[f.abs(name)]
	if !ok || n.dir {
		return errors.New("550 File not found.")
	}
	p := filepath.Join(f.local, path.Base(name))
	if err := os.WriteFile(p, []byte(n.data), 0o644); err != nil {
		return err
	}
	return os.Chtimes(p, n.mtime, n.mtime)
}

func (f *fakeRemote) UploadDirectory(_ context.Context, localDir string, _ bool) error {
	f.calls = append(f.calls, "UPDIR "+filepath.Base(localDir))
	base := f.abs(filepath.Base(localDir))
	return filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(localDir, p)
		target := path.Join(base, filepath.ToSlash(rel))
		if d.IsDir() {
			f.mkdir(target)
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		f.put(target, string(data), info.ModTime())
		return nil
	})
}

func (f *fakeRemote) ChangeDir(_ context.Context, p string) error {
	target := f.abs(p)
	if n, ok := f.nodes[target]; !ok || !n.dir {
		return fmt.Errorf("550 Directory not found: %s", target)
	}
	f.cwd = target
	return nil
}

func (f *fakeRemote) ChangeDirUp(_ context.Context) error {
	f.cwd = path.Dir(f.cwd)
	return nil
}

func (f *fakeRemote) GoToStreamingAssets(ctx context.Context) error {
	return f.ChangeDir(ctx, "/Lobby_Data/StreamingAssets")
}

func (f *fakeRemote) RemotePath() string { return f.cwd }
func (f *fakeRemote) LocalDir() string   { return f.local }

func (f *fakeRemote) SetLocalDir(dir string) error {
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return fmt.Errorf("not a directory: %s", dir)
	}
	f.local = dir
	return nil
}

func (f *fakeRemote) LocalDown(name string) error {
	return f.SetLocalDir(filepath.Join(f.local, name))
}

func (f *fakeRemote) LocalUp() {
	f.local = filepath.Dir(f.local)
}
