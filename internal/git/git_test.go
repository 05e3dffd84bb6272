package git

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asheshgoplani/pr-viewer/internal/apperr"
)

// testRepo builds history through go-git so tests do not need a git binary.
type testRepo struct {
	t    *testing.T
	dir  string
	repo *gogit.Repository
	wt   *gogit.Worktree
	when time.Time
}

func newTestRepo(t *testing.T) *testRepo {
	t.Helper()
	dir := t.TempDir()
	r, err := gogit.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := r.Worktree()
	require.NoError(t, err)
	return &testRepo{t: t, dir: dir, repo: r, wt: wt, when: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (tr *testRepo) write(name, content string) {
	tr.t.Helper()
	full := filepath.Join(tr.dir, filepath.FromSlash(name))
	require.NoError(tr.t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(tr.t, os.WriteFile(full, []byte(content), 0o644))
	_, err := tr.wt.Add(name)
	require.NoError(tr.t, err)
}

func (tr *testRepo) remove(name string) {
	tr.t.Helper()
	_, err := tr.wt.Remove(name)
	require.NoError(tr.t, err)
}

func (tr *testRepo) move(from, to string) {
	tr.t.Helper()
	_, err := tr.wt.Move(from, to)
	require.NoError(tr.t, err)
}

func (tr *testRepo) signature() *object.Signature {
	return &object.Signature{Name: "Test User", Email: "test@test.com", When: tr.when}
}

func (tr *testRepo) commit(msg string) string {
	tr.t.Helper()
	tr.when = tr.when.Add(time.Minute)
	h, err := tr.wt.Commit(msg, &gogit.CommitOptions{Author: tr.signature()})
	require.NoError(tr.t, err)
	return h.String()
}

func (tr *testRepo) tag(name, commit string, annotated bool) {
	tr.t.Helper()
	var opts *gogit.CreateTagOptions
	if annotated {
		opts = &gogit.CreateTagOptions{Tagger: tr.signature(), Message: "release " + name}
	}
	_, err := tr.repo.CreateTag(name, plumbing.NewHash(commit), opts)
	require.NoError(tr.t, err)
}

func (tr *testRepo) open() *Repo {
	tr.t.Helper()
	r, err := Open(tr.dir)
	require.NoError(tr.t, err)
	return r
}

func numberedLines(n int, override map[int]string) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		if s, ok := override[i]; ok {
			b.WriteString(s)
		} else {
			fmt.Fprintf(&b, "line %d", i)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func TestOpen(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.ErrorIs(t, err, ErrRepoNotFound)

	_, err = Open(t.TempDir())
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	assert.ErrorIs(t, err, ErrNotRepository)

	tr := newTestRepo(t)
	tr.write("README.md", "# Test Repo\n")
	tr.commit("Initial commit")
	r := tr.open()
	assert.Equal(t, tr.dir, r.Path())
}

func TestValidateRevision(t *testing.T) {
	tests := []struct {
		rev     string
		wantErr bool
	}{
		{"main", false},
		{"HEAD~1", false},
		{"v1.0^{commit}", false},
		{"", true},
		{" main", true},
		{"main..feature", true},
		{"ma in", true},
		{"main\x00", true},
	}
	for _, tt := range tests {
		t.Run(tt.rev, func(t *testing.T) {
			err := ValidateRevision(tt.rev)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCommitMetadata(t *testing.T) {
	tr := newTestRepo(t)
	tr.write("a.txt", "one\n")
	first := tr.commit("Add a\n\nLonger body text.\n")
	tr.write("a.txt", "two\n")
	second := tr.commit("Change a")
	tr.tag("v1", first, true)
	tr.tag("light", second, false)
	r := tr.open()

	meta, err := r.CommitMetadata(first)
	require.NoError(t, err)
	assert.Equal(t, first, meta.ID)
	assert.Equal(t, "Add a", meta.Summary)
	assert.Equal(t, "Add a\n\nLonger body text.\n", meta.Message)
	assert.Equal(t, "Test User", meta.Author.Name)
	assert.Equal(t, "test@test.com", meta.Committer.Email)
	assert.True(t, meta.Author.When.Equal(time.Date(2024, 3, 1, 12, 1, 0, 0, time.UTC)))
	assert.Equal(t, time.Local, meta.Author.When.Location())
	assert.Empty(t, meta.Parents)

	head, err := r.CommitMetadata("HEAD")
	require.NoError(t, err)
	assert.Equal(t, second, head.ID)
	assert.Equal(t, []string{first}, head.Parents)

	parent, err := r.CommitMetadata("HEAD~1")
	require.NoError(t, err)
	assert.Equal(t, first, parent.ID)

	annotated, err := r.CommitMetadata("v1")
	require.NoError(t, err)
	assert.Equal(t, first, annotated.ID, "annotated tag peels to its commit")

	light, err := r.CommitMetadata("light")
	require.NoError(t, err)
	assert.Equal(t, second, light.ID)

	_, err = r.CommitMetadata("no-such-branch")
	assert.ErrorIs(t, err, ErrRevisionNotFound)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = r.CommitMetadata(strings.Repeat("ab", 20))
	assert.ErrorIs(t, err, ErrRevisionNotFound)

	_, err = r.CommitMetadata("HEAD..main")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestCommitMetadata_TreeIsNotACommit(t *testing.T) {
	tr := newTestRepo(t)
	tr.write("a.txt", "one\n")
	h := tr.commit("Add a")
	c, err := tr.repo.CommitObject(plumbing.NewHash(h))
	require.NoError(t, err)

	r := tr.open()
	_, err = r.CommitMetadata(c.TreeHash.String())
	assert.ErrorIs(t, err, ErrRevisionNotFound)
}

func TestSummary(t *testing.T) {
	assert.Equal(t, "subject", summary("subject\nbody"))
	assert.Equal(t, "subject", summary("\n\nsubject\r\n"))
	assert.Equal(t, "", summary(""))
}

func TestFileLinesAtRevision_EverySlice(t *testing.T) {
	content := numberedLines(6, nil)
	want := splitLines(content)

	tr := newTestRepo(t)
	tr.write("src/file.txt", content)
	rev := tr.commit("Add file")
	r := tr.open()

	for start := 1; start <= len(want); start++ {
		for end := start; end <= len(want); end++ {
			got, err := r.FileLinesAtRevision("src/file.txt", rev, LineRange{Start: start, End: end})
			require.NoError(t, err, "range %d-%d", start, end)
			assert.Len(t, got, end-start+1)
			assert.Equal(t, want[start-1:end], got)
		}
	}

	// A range running past the end returns what exists.
	got, err := r.FileLinesAtRevision("src/file.txt", rev, LineRange{Start: 5, End: 100})
	require.NoError(t, err)
	assert.Equal(t, []string{"line 5", "line 6"}, got)
}

func TestFileLinesAtRevision_Errors(t *testing.T) {
	tr := newTestRepo(t)
	tr.write("file.txt", numberedLines(3, nil))
	tr.write("bad.txt", "ok\n\xff\xfe\n")
	tr.write("badhead.txt", "\xff\xfe\nok\n")
	rev := tr.commit("Add files")
	r := tr.open()

	tests := []struct {
		name string
		path string
		rev  string
		lr   LineRange
		want error
	}{
		{"zero start", "file.txt", rev, LineRange{0, 2}, ErrInvalidRange},
		{"start after end", "file.txt", rev, LineRange{3, 2}, ErrInvalidRange},
		{"zero start bad rev", "file.txt", "nope", LineRange{0, 0}, ErrInvalidRange},
		{"past end of file", "file.txt", rev, LineRange{4, 10}, ErrInvalidRange},
		{"missing file", "nope.txt", rev, LineRange{1, 1}, ErrFileNotFound},
		{"missing revision", "file.txt", "nope", LineRange{1, 1}, ErrRevisionNotFound},
		{"invalid utf8", "bad.txt", rev, LineRange{1, 2}, ErrInvalidUtf8},
		{"invalid utf8 before range", "badhead.txt", rev, LineRange{2, 2}, ErrInvalidUtf8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.FileLinesAtRevision(tt.path, tt.rev, tt.lr)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	ok, err := r.FileLinesAtRevision("bad.txt", rev, LineRange{1, 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, ok)
}

func TestExtendedWindow(t *testing.T) {
	assert.Equal(t, LineRange{1, 5}, ExtendedWindow(LineRange{1, 2}))
	assert.Equal(t, LineRange{7, 15}, ExtendedWindow(LineRange{10, 12}))
}

func threeHunkRepo(t *testing.T) (*Repo, string, string) {
	t.Helper()
	tr := newTestRepo(t)
	tr.write("main.go", numberedLines(40, nil))
	from := tr.commit("Base")
	tr.write("main.go", numberedLines(40, map[int]string{
		5:  "changed 5",
		20: "changed 20",
		35: "changed 35",
	}))
	to := tr.commit("Change three lines")
	return tr.open(), from, to
}

func TestFileDiffBetweenRevisions_Window(t *testing.T) {
	r, from, to := threeHunkRepo(t)

	got, err := r.FileDiffBetweenRevisions("main.go", from, to, LineRange{20, 20})
	require.NoError(t, err)

	want := []DiffLine{
		{OldLine: 17, NewLine: 17, Content: "line 17", Origin: OriginContext},
		{OldLine: 18, NewLine: 18, Content: "line 18", Origin: OriginContext},
		{OldLine: 19, NewLine: 19, Content: "line 19", Origin: OriginContext},
		{OldLine: 20, Content: "line 20", Origin: OriginDeleted},
		{NewLine: 20, Content: "changed 20", Origin: OriginAdded},
		{OldLine: 21, NewLine: 21, Content: "line 21", Origin: OriginContext},
		{OldLine: 22, NewLine: 22, Content: "line 22", Origin: OriginContext},
		{OldLine: 23, NewLine: 23, Content: "line 23", Origin: OriginContext},
	}
	assert.Equal(t, want, got)

	for _, l := range got {
		if l.Origin != OriginDeleted {
			assert.True(t, l.NewLine >= 17 && l.NewLine <= 23, "line %d outside window", l.NewLine)
		}
	}
}

func TestFileDiffBetweenRevisions_WindowClampsAtOne(t *testing.T) {
	r, from, to := threeHunkRepo(t)

	got, err := r.FileDiffBetweenRevisions("main.go", from, to, LineRange{1, 1})
	require.NoError(t, err)
	assert.Equal(t, []DiffLine{
		{OldLine: 2, NewLine: 2, Content: "line 2", Origin: OriginContext},
		{OldLine: 3, NewLine: 3, Content: "line 3", Origin: OriginContext},
		{OldLine: 4, NewLine: 4, Content: "line 4", Origin: OriginContext},
		{OldLine: 5, Content: "line 5", Origin: OriginDeleted},
	}, got)
}

func TestFileDiffBetweenRevisions_NoChangeInWindow(t *testing.T) {
	r, from, to := threeHunkRepo(t)

	got, err := r.FileDiffBetweenRevisions("main.go", from, to, LineRange{12, 12})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFileDiffBetweenRevisions_KeepsTrailingWhitespace(t *testing.T) {
	tr := newTestRepo(t)
	tr.write("a.txt", "one\nfoo\nthree\r\n")
	from := tr.commit("Base")
	tr.write("a.txt", "one\nfoo   \nthree\r\n")
	to := tr.commit("Trailing blanks")
	r := tr.open()

	got, err := r.FileDiffBetweenRevisions("a.txt", from, to, LineRange{2, 2})
	require.NoError(t, err)
	assert.Equal(t, []DiffLine{
		{OldLine: 1, NewLine: 1, Content: "one", Origin: OriginContext},
		{OldLine: 2, Content: "foo", Origin: OriginDeleted},
		{NewLine: 2, Content: "foo   ", Origin: OriginAdded},
		{OldLine: 3, NewLine: 3, Content: "three", Origin: OriginContext},
	}, got)
}

func TestFileDiffBetweenRevisions_Errors(t *testing.T) {
	tr := newTestRepo(t)
	tr.write("keep.txt", "same\n")
	from := tr.commit("Base")
	tr.write("new.txt", "fresh\n")
	to := tr.commit("Add new")
	r := tr.open()

	_, err := r.FileDiffBetweenRevisions("missing.txt", from, to, LineRange{1, 1})
	assert.ErrorIs(t, err, ErrFileNotFound)

	// Added file: lines are produced, so no presence check applies.
	got, err := r.FileDiffBetweenRevisions("new.txt", from, to, LineRange{1, 1})
	require.NoError(t, err)
	assert.Equal(t, []DiffLine{{NewLine: 1, Content: "fresh", Origin: OriginAdded}}, got)

	// Added file with nothing in the window is absent from one side.
	_, err = r.FileDiffBetweenRevisions("new.txt", from, to, LineRange{50, 60})
	assert.ErrorIs(t, err, ErrFileNotFound)

	_, err = r.FileDiffBetweenRevisions("keep.txt", "nope", to, LineRange{1, 1})
	assert.ErrorIs(t, err, ErrRevisionNotFound)

	_, err = r.FileDiffBetweenRevisions("keep.txt", from, to, LineRange{2, 1})
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestTreeDiffBetweenRevisions(t *testing.T) {
	tr := newTestRepo(t)
	tr.write("a.txt", "alpha\n")
	tr.write("b.txt", "bravo\n")
	tr.write("dir/c.txt", "charlie\n")
	tr.write("old.txt", numberedLines(20, nil))
	tr.write("bin.dat", "\x00\x01\x02")
	from := tr.commit("Base")

	tr.write("a.txt", "alpha\nalpha two\n")
	tr.remove("b.txt")
	tr.write("d.txt", "delta\n")
	tr.write("dir/c.txt", "charlie changed\n")
	tr.move("old.txt", "new.txt")
	tr.write("bin.dat", "\x00\x03")
	to := tr.commit("Mixed changes")
	r := tr.open()

	files, err := r.TreeDiffBetweenRevisions(context.Background(), from, to, "")
	require.NoError(t, err)

	byPath := make(map[string]FileDiff)
	for _, f := range files {
		byPath[f.NewPath] = f
	}
	require.Len(t, byPath, 6)

	assert.Equal(t, StatusModified, byPath["a.txt"].Status)
	assert.Equal(t, []DiffLine{
		{OldLine: 1, NewLine: 1, Content: "alpha", Origin: OriginContext},
		{NewLine: 2, Content: "alpha two", Origin: OriginAdded},
	}, byPath["a.txt"].Lines)

	assert.Equal(t, StatusDeleted, byPath["b.txt"].Status)
	assert.Equal(t, "b.txt", byPath["b.txt"].OldPath)
	assert.Equal(t, []DiffLine{{OldLine: 1, Content: "bravo", Origin: OriginDeleted}}, byPath["b.txt"].Lines)

	assert.Equal(t, StatusAdded, byPath["d.txt"].Status)

	renamed := byPath["new.txt"]
	assert.Equal(t, StatusRenamed, renamed.Status)
	assert.Equal(t, "old.txt", renamed.OldPath)
	assert.Empty(t, renamed.Lines)

	assert.True(t, byPath["bin.dat"].Binary)
	assert.Empty(t, byPath["bin.dat"].Lines)
	assert.False(t, byPath["a.txt"].Binary)

	dirOnly, err := r.TreeDiffBetweenRevisions(context.Background(), from, to, "dir")
	require.NoError(t, err)
	require.Len(t, dirOnly, 1)
	assert.Equal(t, "dir/c.txt", dirOnly[0].NewPath)

	globbed, err := r.TreeDiffBetweenRevisions(context.Background(), from, to, "*.dat")
	require.NoError(t, err)
	require.Len(t, globbed, 1)
	assert.Equal(t, "bin.dat", globbed[0].NewPath)

	_, err = r.TreeDiffBetweenRevisions(context.Background(), from, to, "[")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = r.TreeDiffBetweenRevisions(context.Background(), from, "nope", "")
	assert.ErrorIs(t, err, ErrRevisionNotFound)
}

func TestStatusCode(t *testing.T) {
	tests := map[string]Status{
		"Added":      'A',
		"deleted":    'D',
		"Modified":   'M',
		"renamed":    'R',
		"copied":     'C',
		"ignored":    'I',
		"untracked":  'U',
		"typechange": 'T',
		"unreadable": 'X',
		"unmodified": ' ',
		"conflicted": '?',
	}
	for name, want := range tests {
		assert.Equal(t, want, StatusCode(name), name)
	}
	assert.Equal(t, "M", StatusModified.String())
}

func TestComputeHunks(t *testing.T) {
	assert.Nil(t, computeHunks("same\n", "same\n", ContextLines))

	hunks := computeHunks(numberedLines(10, nil), numberedLines(9, nil), ContextLines)
	require.Len(t, hunks, 1)
	h := hunks[0]
	assert.Equal(t, 7, h.OldStart)
	assert.Equal(t, 4, h.OldLines)
	assert.Equal(t, 7, h.NewStart)
	assert.Equal(t, 3, h.NewLines)

	lo, hi := h.newSpan()
	assert.Equal(t, 7, lo)
	assert.Equal(t, 9, hi)

	pureDelete := computeHunks("a\nb\n", "", ContextLines)
	require.Len(t, pureDelete, 1)
	assert.Equal(t, 0, pureDelete[0].NewLines)
	lo, hi = pureDelete[0].newSpan()
	assert.Equal(t, 1, lo)
	assert.Equal(t, 1, hi)
}
