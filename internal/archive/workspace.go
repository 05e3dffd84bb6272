package archive

import (
	"os"
	"path"
	"path/filepath"
	"strings"
)

// SanitizePath turns an archive entry name into a slash-separated relative
// path that cannot climb out of the directory it is joined to.
func SanitizePath(name string) string {
	s := strings.ReplaceAll(name, "\\", "/")
	if len(s) > 1 && s[1] == ':' {
		s = s[2:]
	}
	s = strings.TrimLeft(path.Clean("/"+s), "/")
	if s == "" || s == "." {
		return "entry"
	}
	return s
}

// workspace is the temp directory entries are materialized into when they
// cannot be decoded in memory. One workspace lives per loaded archive.
type workspace struct {
	dir string
}

func newWorkspace(parent string) (*workspace, error) {
	if parent != "" {
		if err := os.MkdirAll(parent, 0o700); err != nil {
			return nil, err
		}
	}
	dir, err := os.MkdirTemp(parent, "pr-viewer-*")
	if err != nil {
		return nil, err
	}
	return &workspace{dir: dir}, nil
}

func (w *workspace) location(name string) string {
	return filepath.Join(w.dir, filepath.FromSlash(SanitizePath(name)))
}

func (w *workspace) remove() error {
	return os.RemoveAll(w.dir)
}
