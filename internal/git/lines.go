package git

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/asheshgoplani/pr-viewer/internal/apperr"
)

// maxLineBytes is the longest line FileLinesAtRevision can return.
const maxLineBytes = 4 << 20

// LineRange is a 1-based inclusive span of lines.
type LineRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (lr LineRange) String() string {
	return fmt.Sprintf("%d-%d", lr.Start, lr.End)
}

// Validate rejects ranges with Start < 1 or Start > End.
func (lr LineRange) Validate() error {
	if lr.Start < 1 || lr.Start > lr.End {
		return ErrInvalidRange
	}
	return nil
}

// Contains reports whether line n falls inside the range.
func (lr LineRange) Contains(n int) bool {
	return n >= lr.Start && n <= lr.End
}

// FileLinesAtRevision returns lines lr.Start..lr.End of path as of rev. The
// blob is read only as far as lr.End. A range that starts past the end of
// the file fails with ErrInvalidRange.
func (r *Repo) FileLinesAtRevision(path, rev string, lr LineRange) ([]string, error) {
	const op = "file lines"
	subject := fmt.Sprintf("%s@%s:%s", path, rev, lr)
	if err := lr.Validate(); err != nil {
		return nil, apperr.New(ErrInvalidRange, op, subject, nil)
	}
	start := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	tree, err := r.resolveTree(op, rev)
	if err != nil {
		return nil, err
	}
	f, err := tree.File(path)
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) || errors.Is(err, object.ErrDirectoryNotFound) {
			return nil, apperr.New(ErrFileNotFound, op, subject, nil)
		}
		return nil, apperr.New(ErrFileNotFound, op, subject, err)
	}

	rc, err := f.Reader()
	if err != nil {
		return nil, apperr.Corrupt(op, subject, err)
	}
	defer rc.Close()

	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)

	var out []string
	n := 0
	for sc.Scan() {
		n++
		if n > lr.End {
			break
		}
		// Lines before the window are checked too: a file is text or it is not.
		if !utf8.Valid(sc.Bytes()) {
			return nil, apperr.New(ErrInvalidUtf8, op, subject, fmt.Errorf("line %d", n))
		}
		if n < lr.Start {
			continue
		}
		out = append(out, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, apperr.Corrupt(op, subject, err)
	}
	if len(out) == 0 {
		return nil, apperr.New(ErrInvalidRange, op, subject, fmt.Errorf("file has %d lines", n))
	}

	gitLog.Debug("file_lines",
		slog.String("path", path),
		slog.String("revision", rev),
		slog.Int("lines", len(out)),
		slog.Duration("elapsed", time.Since(start)))
	return out, nil
}
