package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
)

var (
	errMultipleIndex = errors.New("more than one index document")
	errNotRegular    = errors.New("not a regular file")
	errExtension     = errors.New("expected a .zip or .tar.gz archive")
)

// Format identifies the container type of an archive.
type Format int

const (
	FormatUnknown Format = iota
	FormatZip
	FormatTarGz
)

func (f Format) String() string {
	switch f {
	case FormatZip:
		return "zip"
	case FormatTarGz:
		return "tar.gz"
	default:
		return "unknown"
	}
}

// DetectFormat maps a file name to its container format by extension.
func DetectFormat(name string) Format {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return FormatZip
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return FormatTarGz
	default:
		return FormatUnknown
	}
}

// container is the decoder behind a Store. Open is not safe for concurrent
// use; the Store serializes it.
type container interface {
	Names() []string
	Has(name string) bool
	Open(name string) (io.ReadCloser, error)
	// InMemory is false when entries can only be reached by streaming the
	// whole container, in which case reads go through the workspace.
	InMemory() bool
	Close() error
}

func openContainer(p string, format Format) (container, error) {
	switch format {
	case FormatZip:
		return openZip(p)
	case FormatTarGz:
		return openTarGz(p)
	default:
		return nil, errExtension
	}
}

type zipContainer struct {
	file   *os.File
	reader *zip.Reader
	names  []string
	byName map[string]*zip.File
}

func openZip(p string) (*zipContainer, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	r, err := zip.NewReader(f, info.Size())
	// Entry names are sanitized on extraction, so non-local names are
	// accepted here.
	if err != nil && !(errors.Is(err, zip.ErrInsecurePath) && r != nil) {
		f.Close()
		return nil, fmt.Errorf("zip: %w", err)
	}

	z := &zipContainer{
		file:   f,
		reader: r,
		names:  make([]string, 0, len(r.File)),
		byName: make(map[string]*zip.File, len(r.File)),
	}
	for _, zf := range r.File {
		z.names = append(z.names, zf.Name)
		if _, dup := z.byName[zf.Name]; !dup {
			z.byName[zf.Name] = zf
		}
	}
	return z, nil
}

func (z *zipContainer) Names() []string { return z.names }

func (z *zipContainer) Has(name string) bool {
	_, ok := z.byName[name]
	return ok
}

func (z *zipContainer) Open(name string) (io.ReadCloser, error) {
	zf, ok := z.byName[name]
	if !ok || zf.FileInfo().IsDir() {
		return nil, fs.ErrNotExist
	}
	return zf.Open()
}

func (z *zipContainer) InMemory() bool { return true }

func (z *zipContainer) Close() error { return z.file.Close() }

// tarGzContainer indexes entry names once at open time. Every Open re-reads
// the compressed stream from the start up to the requested entry.
type tarGzContainer struct {
	path  string
	names []string
	set   map[string]struct{}
}

func normalizeTarName(name string) string {
	return strings.TrimPrefix(name, "./")
}

func openTarGz(p string) (*tarGzContainer, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	defer gz.Close()

	t := &tarGzContainer{path: p, set: make(map[string]struct{})}
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("tar: %w", err)
		}
		name := normalizeTarName(hdr.Name)
		if name == "" || name == "." || name == "./" {
			continue
		}
		if hdr.Typeflag == tar.TypeDir && !strings.HasSuffix(name, "/") {
			name += "/"
		}
		t.names = append(t.names, name)
		if hdr.FileInfo().Mode().IsRegular() {
			t.set[name] = struct{}{}
		}
	}
	return t, nil
}

func (t *tarGzContainer) Names() []string { return t.names }

func (t *tarGzContainer) Has(name string) bool {
	_, ok := t.set[name]
	return ok
}

type tarEntryReader struct {
	io.Reader
	closers []io.Closer
}

func (r *tarEntryReader) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (t *tarGzContainer) Open(name string) (io.ReadCloser, error) {
	if !t.Has(name) {
		return nil, fs.ErrNotExist
	}
	f, err := os.Open(t.path)
	if err != nil {
		return nil, err
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("gzip: %w", err)
	}
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err != nil {
			gz.Close()
			f.Close()
			if errors.Is(err, io.EOF) {
				return nil, fs.ErrNotExist
			}
			return nil, fmt.Errorf("tar: %w", err)
		}
		if normalizeTarName(hdr.Name) == name {
			return &tarEntryReader{Reader: tr, closers: []io.Closer{gz, f}}, nil
		}
	}
}

func (t *tarGzContainer) InMemory() bool { return false }

func (t *tarGzContainer) Close() error { return nil }
