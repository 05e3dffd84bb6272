// Package git reads commit metadata, file line windows and revision diffs
// from a repository's object store.
package git

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"unicode"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/asheshgoplani/pr-viewer/internal/apperr"
	"github.com/asheshgoplani/pr-viewer/internal/logging"
)

var gitLog = logging.ForComponent(logging.CompGit)

// maxPeel bounds tag-to-tag chains.
const maxPeel = 16

// Repo is an opened repository. Only one call is inside the object store at
// a time.
type Repo struct {
	path string

	mu sync.Mutex
	r  *gogit.Repository
}

// Open opens the repository at dir. dir must be the work tree root or the
// git directory itself.
func Open(dir string) (*Repo, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, apperr.New(ErrRepoNotFound, "open repository", dir, err)
	}
	r, err := gogit.PlainOpen(dir)
	if err != nil {
		if errors.Is(err, gogit.ErrRepositoryNotExists) {
			return nil, apperr.New(ErrNotRepository, "open repository", dir, nil)
		}
		return nil, apperr.New(ErrNotRepository, "open repository", dir, err)
	}
	gitLog.Info("repository_opened", slog.String("path", dir))
	return &Repo{path: dir, r: r}, nil
}

// Path returns the directory the repository was opened from.
func (r *Repo) Path() string { return r.path }

// ValidateRevision rejects strings that cannot name a single revision.
func ValidateRevision(rev string) error {
	if rev == "" {
		return errors.New("revision cannot be empty")
	}
	if strings.TrimSpace(rev) != rev {
		return errors.New("revision cannot have leading or trailing spaces")
	}
	if strings.Contains(rev, "..") {
		return errors.New("revision cannot be a range")
	}
	for _, c := range rev {
		if unicode.IsControl(c) || c == ' ' {
			return fmt.Errorf("revision cannot contain %q", c)
		}
	}
	return nil
}

// resolveCommit turns rev into a commit, peeling annotated tags. Callers
// hold r.mu.
func (r *Repo) resolveCommit(op, rev string) (*object.Commit, error) {
	if err := ValidateRevision(rev); err != nil {
		return nil, apperr.New(ErrInvalidRevision, op, rev, err)
	}

	var obj object.Object
	if plumbing.IsHash(rev) {
		o, err := r.r.Object(plumbing.AnyObject, plumbing.NewHash(rev))
		if err != nil {
			return nil, apperr.New(ErrRevisionNotFound, op, rev, err)
		}
		obj = o
	} else {
		h, err := r.r.ResolveRevision(plumbing.Revision(rev))
		if err != nil {
			return nil, apperr.New(ErrRevisionNotFound, op, rev, err)
		}
		o, err := r.r.Object(plumbing.AnyObject, *h)
		if err != nil {
			return nil, apperr.New(ErrRevisionNotFound, op, rev, err)
		}
		obj = o
	}

	c, err := peelToCommit(obj)
	if err != nil {
		return nil, apperr.New(ErrRevisionNotFound, op, rev, err)
	}
	return c, nil
}

func peelToCommit(obj object.Object) (*object.Commit, error) {
	for i := 0; i < maxPeel; i++ {
		switch o := obj.(type) {
		case *object.Commit:
			return o, nil
		case *object.Tag:
			next, err := o.Object()
			if err != nil {
				return nil, err
			}
			obj = next
		default:
			return nil, fmt.Errorf("%s %s is not a commit", obj.Type(), obj.ID())
		}
	}
	return nil, errors.New("tag chain too deep")
}

func (r *Repo) resolveTree(op, rev string) (*object.Tree, error) {
	c, err := r.resolveCommit(op, rev)
	if err != nil {
		return nil, err
	}
	t, err := c.Tree()
	if err != nil {
		return nil, apperr.New(ErrRevisionNotFound, op, rev, err)
	}
	return t, nil
}

// hasPath reports whether p names a file in t.
func hasPath(t *object.Tree, p string) bool {
	_, err := t.File(p)
	return err == nil
}
