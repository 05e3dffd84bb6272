package git

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/asheshgoplani/pr-viewer/internal/apperr"
)

// Signature is an author or committer identity with a local-time timestamp.
type Signature struct {
	Name  string    `json:"name"`
	Email string    `json:"email"`
	When  time.Time `json:"when"`
}

// CommitMetadata describes one commit.
type CommitMetadata struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Summary   string    `json:"summary"`
	Author    Signature `json:"author"`
	Committer Signature `json:"committer"`
	Parents   []string  `json:"parents,omitempty"`
}

// CommitMetadata resolves rev (hash, branch, tag or revision expression) and
// describes the commit it names. Annotated tags are peeled.
func (r *Repo) CommitMetadata(rev string) (*CommitMetadata, error) {
	const op = "commit metadata"
	start := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.resolveCommit(op, rev)
	if err != nil {
		return nil, err
	}

	for _, f := range []struct{ name, value string }{
		{"message", c.Message},
		{"author name", c.Author.Name},
		{"author email", c.Author.Email},
		{"committer name", c.Committer.Name},
		{"committer email", c.Committer.Email},
	} {
		if !utf8.ValidString(f.value) {
			return nil, apperr.New(ErrInvalidUtf8, op, rev, errors.New(f.name))
		}
	}

	author, err := signature(c.Author)
	if err != nil {
		return nil, apperr.New(ErrTimeConversion, op, rev, fmt.Errorf("author: %w", err))
	}
	committer, err := signature(c.Committer)
	if err != nil {
		return nil, apperr.New(ErrTimeConversion, op, rev, fmt.Errorf("committer: %w", err))
	}

	meta := &CommitMetadata{
		ID:        c.Hash.String(),
		Message:   c.Message,
		Summary:   summary(c.Message),
		Author:    author,
		Committer: committer,
	}
	for _, p := range c.ParentHashes {
		meta.Parents = append(meta.Parents, p.String())
	}

	gitLog.Debug("commit_metadata",
		slog.String("revision", rev),
		slog.String("id", meta.ID),
		slog.Duration("elapsed", time.Since(start)))
	return meta, nil
}

func signature(s object.Signature) (Signature, error) {
	if s.When.IsZero() {
		return Signature{}, errors.New("missing timestamp")
	}
	return Signature{Name: s.Name, Email: s.Email, When: s.When.Local()}, nil
}

// summary is the first line of a commit message.
func summary(msg string) string {
	msg = strings.TrimLeft(msg, "\n")
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	return strings.TrimRight(msg, "\r ")
}
