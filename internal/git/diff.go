package git

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"

	"github.com/asheshgoplani/pr-viewer/internal/apperr"
)

// Status is the one-letter change status of a file in a tree diff.
type Status byte

const (
	StatusUnmodified Status = ' '
	StatusAdded      Status = 'A'
	StatusDeleted    Status = 'D'
	StatusModified   Status = 'M'
	StatusRenamed    Status = 'R'
	StatusCopied     Status = 'C'
	StatusIgnored    Status = 'I'
	StatusUntracked  Status = 'U'
	StatusTypechange Status = 'T'
	StatusUnreadable Status = 'X'
	StatusUnknown    Status = '?'
)

func (s Status) String() string { return string(rune(s)) }

// MarshalText renders the status as its letter.
func (s Status) MarshalText() ([]byte, error) { return []byte{byte(s)}, nil }

// StatusCode maps a status name to its letter. Unrecognized names map to
// StatusUnknown.
func StatusCode(name string) Status {
	switch strings.ToLower(name) {
	case "added":
		return StatusAdded
	case "deleted":
		return StatusDeleted
	case "modified":
		return StatusModified
	case "renamed":
		return StatusRenamed
	case "copied":
		return StatusCopied
	case "ignored":
		return StatusIgnored
	case "untracked":
		return StatusUntracked
	case "typechange":
		return StatusTypechange
	case "unreadable":
		return StatusUnreadable
	case "unmodified":
		return StatusUnmodified
	default:
		return StatusUnknown
	}
}

// FileDiff is one changed path in a tree diff. Lines is empty for binary
// files.
type FileDiff struct {
	OldPath string     `json:"old_file"`
	NewPath string     `json:"new_file"`
	Status  Status     `json:"status"`
	Binary  bool       `json:"binary"`
	Lines   []DiffLine `json:"lines"`
}

// ExtendedWindow widens lr by ContextLines on both sides, clamped at 1.
func ExtendedWindow(lr LineRange) LineRange {
	return LineRange{Start: max(1, lr.Start-ContextLines), End: lr.End + ContextLines}
}

// FileDiffBetweenRevisions returns the diff lines of path between from and
// to that fall near lr. Context and added lines are kept when their new-side
// number is inside the extended window; deleted lines are kept when their
// hunk's new-side span overlaps it. An empty result for a path missing from
// either revision fails with ErrFileNotFound.
func (r *Repo) FileDiffBetweenRevisions(p, from, to string, lr LineRange) ([]DiffLine, error) {
	const op = "file diff"
	subject := fmt.Sprintf("%s %s..%s:%s", p, from, to, lr)
	if err := lr.Validate(); err != nil {
		return nil, apperr.New(ErrInvalidRange, op, subject, nil)
	}
	start := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	fromTree, err := r.resolveTree(op, from)
	if err != nil {
		return nil, err
	}
	toTree, err := r.resolveTree(op, to)
	if err != nil {
		return nil, err
	}

	oldText, oldBinary, err := blobText(fromTree, p)
	if err != nil {
		return nil, apperr.Corrupt(op, subject, err)
	}
	newText, newBinary, err := blobText(toTree, p)
	if err != nil {
		return nil, apperr.Corrupt(op, subject, err)
	}

	var out []DiffLine
	if !oldBinary && !newBinary {
		out = windowLines(computeHunks(oldText, newText, ContextLines), ExtendedWindow(lr))
	}

	if len(out) == 0 && (!hasPath(fromTree, p) || !hasPath(toTree, p)) {
		return nil, apperr.New(ErrFileNotFound, op, subject, nil)
	}

	gitLog.Debug("file_diff",
		slog.String("path", p),
		slog.String("from", from),
		slog.String("to", to),
		slog.Int("lines", len(out)),
		slog.Duration("elapsed", time.Since(start)))
	if out == nil {
		out = []DiffLine{}
	}
	return out, nil
}

// windowLines applies the inclusion rules against the extended window w.
func windowLines(hunks []Hunk, w LineRange) []DiffLine {
	var out []DiffLine
	for _, h := range hunks {
		lo, hi := h.newSpan()
		overlaps := lo <= w.End && hi >= w.Start
		for _, l := range h.Lines {
			switch l.Origin {
			case OriginContext, OriginAdded:
				if w.Contains(l.NewLine) {
					out = append(out, l)
				}
			case OriginDeleted:
				if overlaps {
					out = append(out, l)
				}
			}
		}
	}
	return out
}

// blobText returns the content of p in t, or "" when p is absent.
func blobText(t *object.Tree, p string) (text string, binary bool, err error) {
	f, err := t.File(p)
	if err != nil {
		return "", false, nil
	}
	return fileText(f)
}

func fileText(f *object.File) (string, bool, error) {
	if f == nil {
		return "", false, nil
	}
	if f.Mode == filemode.Submodule {
		return "", true, nil
	}
	binary, err := f.IsBinary()
	if err != nil {
		return "", false, err
	}
	if binary {
		return "", true, nil
	}
	text, err := f.Contents()
	if err != nil {
		return "", false, err
	}
	return text, false, nil
}

// TreeDiffBetweenRevisions lists every path that changed between from and
// to, with full patch lines for text files. A non-empty pattern keeps only
// paths that match it as a glob or sit under it as a directory.
func (r *Repo) TreeDiffBetweenRevisions(ctx context.Context, from, to, pattern string) ([]FileDiff, error) {
	const op = "tree diff"
	subject := from + ".." + to
	if pattern != "" {
		if _, err := path.Match(pattern, ""); err != nil {
			return nil, apperr.InvalidInput(op, pattern, err)
		}
	}
	start := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	fromTree, err := r.resolveTree(op, from)
	if err != nil {
		return nil, err
	}
	toTree, err := r.resolveTree(op, to)
	if err != nil {
		return nil, err
	}

	changes, err := object.DiffTreeWithOptions(ctx, fromTree, toTree, &object.DiffTreeOptions{
		DetectRenames:    true,
		RenameScore:      60,
		RenameLimit:      1000,
		OnlyExactRenames: false,
	})
	if err != nil {
		return nil, apperr.Corrupt(op, subject, err)
	}

	out := make([]FileDiff, 0, len(changes))
	for _, ch := range changes {
		if pattern != "" && !matchesPattern(pattern, ch.From.Name) && !matchesPattern(pattern, ch.To.Name) {
			continue
		}
		fd, err := fileDiff(ch)
		if err != nil {
			return nil, apperr.Corrupt(op, subject, err)
		}
		out = append(out, fd)
	}

	gitLog.Debug("tree_diff",
		slog.String("from", from),
		slog.String("to", to),
		slog.String("pattern", pattern),
		slog.Int("files", len(out)),
		slog.Duration("elapsed", time.Since(start)))
	return out, nil
}

func fileDiff(ch *object.Change) (FileDiff, error) {
	fd := FileDiff{
		OldPath: ch.From.Name,
		NewPath: ch.To.Name,
		Status:  changeStatus(ch),
		Lines:   []DiffLine{},
	}
	if fd.OldPath == "" {
		fd.OldPath = fd.NewPath
	}
	if fd.NewPath == "" {
		fd.NewPath = fd.OldPath
	}

	fromFile, toFile, err := ch.Files()
	if err != nil {
		fd.Status = StatusUnreadable
		return fd, nil
	}
	oldText, oldBinary, err := fileText(fromFile)
	if err != nil {
		return fd, err
	}
	newText, newBinary, err := fileText(toFile)
	if err != nil {
		return fd, err
	}
	fd.Binary = oldBinary || newBinary
	if !fd.Binary {
		if lines := patchLines(computeHunks(oldText, newText, ContextLines)); lines != nil {
			fd.Lines = lines
		}
	}
	return fd, nil
}

func changeStatus(ch *object.Change) Status {
	action, err := ch.Action()
	if err != nil {
		return StatusUnknown
	}
	switch action {
	case merkletrie.Insert:
		return StatusAdded
	case merkletrie.Delete:
		return StatusDeleted
	case merkletrie.Modify:
		if ch.From.Name != ch.To.Name {
			return StatusRenamed
		}
		if modeKind(ch.From.TreeEntry.Mode) != modeKind(ch.To.TreeEntry.Mode) {
			return StatusTypechange
		}
		return StatusModified
	default:
		return StatusUnknown
	}
}

// modeKind collapses the executable bit so chmod is not a type change.
func modeKind(m filemode.FileMode) filemode.FileMode {
	if m == filemode.Executable {
		return filemode.Regular
	}
	return m
}

// matchesPattern reports whether p matches pattern as a glob or lies under
// it as a directory prefix.
func matchesPattern(pattern, p string) bool {
	if p == "" {
		return false
	}
	if ok, _ := path.Match(pattern, p); ok {
		return true
	}
	dir := strings.TrimSuffix(pattern, "/")
	return p == dir || strings.HasPrefix(p, dir+"/")
}
