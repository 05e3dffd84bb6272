package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asheshgoplani/pr-viewer/internal/apperr"
)

type fixtureFile struct {
	name string
	body string
}

func indexJSON(t *testing.T, entries ...PrIndexEntry) string {
	t.Helper()
	if entries == nil {
		entries = []PrIndexEntry{}
	}
	data, err := json.Marshal(entries)
	require.NoError(t, err)
	return string(data)
}

func writeZip(t *testing.T, dir, name string, files ...fixtureFile) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		w, err := zw.Create(f.name)
		require.NoError(t, err)
		_, err = w.Write([]byte(f.body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, buf.Bytes(), 0o644))
	return p
}

func writeTarGz(t *testing.T, dir, name string, files ...fixtureFile) string {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, f := range files {
		if strings.HasSuffix(f.name, "/") {
			require.NoError(t, tw.WriteHeader(&tar.Header{Name: f.name, Typeflag: tar.TypeDir, Mode: 0o755}))
			continue
		}
		hdr := &tar.Header{Name: f.name, Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(f.body))}
		require.NoError(t, tw.WriteHeader(hdr))
		_, err := tw.Write([]byte(f.body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, buf.Bytes(), 0o644))
	return p
}

func sampleEntry() PrIndexEntry {
	return PrIndexEntry{
		ID:           42,
		Title:        "Fix login",
		CreatedBy:    "alice",
		CreationDate: "2024-01-02T03:04:05Z",
		Status:       "completed",
		SourceBranch: "refs/heads/fix-login",
		TargetBranch: "refs/heads/main",
		Filename:     "42.diff",
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(t.TempDir())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSetArchive_ZipExample(t *testing.T) {
	dir := t.TempDir()
	p := writeZip(t, dir, "prs.zip",
		fixtureFile{"pr_index_2024.json", indexJSON(t, sampleEntry())},
		fixtureFile{"prs/42.diff", "hello\nworld\n"},
	)

	s := newTestStore(t)
	entries, err := s.SetArchive(p)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(42), entries[0].ID)
	assert.Equal(t, "Fix login", entries[0].Title)
	assert.Equal(t, p, s.Path())
	assert.Equal(t, FormatZip, s.Format())

	text, err := s.ReadText("prs/42.diff")
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld\n", text)
	assert.Equal(t, "prs/42.diff", s.ContentPath(entries[0]))

	names, err := s.ListEntries()
	require.NoError(t, err)
	assert.Equal(t, []string{"pr_index_2024.json", "prs/42.diff"}, names)
}

func TestReadText_CachesAndCounts(t *testing.T) {
	p := writeZip(t, t.TempDir(), "a.zip",
		fixtureFile{"pr_index_1.json", indexJSON(t)},
		fixtureFile{"prs/1.diff", "one"},
	)
	s := newTestStore(t)
	_, err := s.SetArchive(p)
	require.NoError(t, err)

	before := s.Stats()
	first, err := s.ReadText("prs/1.diff")
	require.NoError(t, err)
	afterFirst := s.Stats()
	assert.Equal(t, before.Decodes+1, afterFirst.Decodes)
	assert.Equal(t, before.CacheMisses+1, afterFirst.CacheMisses)
	assert.True(t, s.Cached("prs/1.diff"))

	second, err := s.ReadText("prs/1.diff")
	require.NoError(t, err)
	afterSecond := s.Stats()
	assert.Equal(t, first, second)
	assert.Equal(t, afterFirst.Decodes, afterSecond.Decodes, "cache hit must not decode")
	assert.Equal(t, afterFirst.CacheHits+1, afterSecond.CacheHits)
}

func TestReadText_IndexPreCached(t *testing.T) {
	p := writeZip(t, t.TempDir(), "a.zip",
		fixtureFile{"pr_index_1.json", indexJSON(t, sampleEntry())},
	)
	s := newTestStore(t)
	_, err := s.SetArchive(p)
	require.NoError(t, err)

	decodes := s.Stats().Decodes
	entries, err := s.IndexDocument()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, decodes, s.Stats().Decodes)
}

func TestLoadText_BypassesCache(t *testing.T) {
	p := writeZip(t, t.TempDir(), "a.zip",
		fixtureFile{"pr_index_1.json", indexJSON(t)},
		fixtureFile{"prs/1.diff", "one"},
	)
	s := newTestStore(t)
	_, err := s.SetArchive(p)
	require.NoError(t, err)

	text, err := s.LoadText("prs/1.diff")
	require.NoError(t, err)
	assert.Equal(t, "one", text)
	assert.False(t, s.Cached("prs/1.diff"))
}

func TestReadText_Errors(t *testing.T) {
	p := writeZip(t, t.TempDir(), "a.zip",
		fixtureFile{"pr_index_1.json", indexJSON(t)},
		fixtureFile{"prs/", ""},
		fixtureFile{"prs/bin.dat", string([]byte{0xff, 0xfe, 0x00})},
	)
	s := newTestStore(t)

	_, err := s.ReadText("prs/1.diff")
	assert.ErrorIs(t, err, apperr.ErrState)

	_, err = s.SetArchive(p)
	require.NoError(t, err)

	tests := []struct {
		name string
		path string
		kind error
	}{
		{"missing entry", "prs/missing.diff", apperr.ErrNotFound},
		{"directory entry", "prs/", apperr.ErrNotFound},
		{"invalid utf8", "prs/bin.dat", apperr.ErrCorrupt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.ReadText(tt.path)
			assert.ErrorIs(t, err, tt.kind)
		})
	}

	data, err := s.ReadBinary("prs/bin.dat")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xfe, 0x00}, data)
}

func TestSetArchive_FailureKeepsPreviousArchive(t *testing.T) {
	dir := t.TempDir()
	good := writeZip(t, dir, "good.zip",
		fixtureFile{"pr_index_1.json", indexJSON(t, sampleEntry())},
		fixtureFile{"prs/42.diff", "hello\nworld\n"},
	)
	noIndex := writeZip(t, dir, "noindex.zip", fixtureFile{"prs/1.diff", "x"})
	twoIndex := writeZip(t, dir, "two.zip",
		fixtureFile{"pr_index_1.json", "[]"},
		fixtureFile{"pr_index_2.json", "[]"},
	)
	badJSON := writeZip(t, dir, "bad.zip", fixtureFile{"pr_index_1.json", "{not json"})
	notZip := filepath.Join(dir, "garbage.zip")
	require.NoError(t, os.WriteFile(notZip, []byte("not a zip"), 0o644))
	wrongExt := filepath.Join(dir, "archive.rar")
	require.NoError(t, os.WriteFile(wrongExt, []byte("x"), 0o644))

	s := newTestStore(t)
	_, err := s.SetArchive(good)
	require.NoError(t, err)
	_, err = s.ReadText("prs/42.diff")
	require.NoError(t, err)

	tests := []struct {
		name string
		path string
		kind error
	}{
		{"missing file", filepath.Join(dir, "nope.zip"), apperr.ErrInvalidInput},
		{"directory", dir, apperr.ErrInvalidInput},
		{"wrong extension", wrongExt, apperr.ErrInvalidInput},
		{"not a zip", notZip, apperr.ErrCorrupt},
		{"no index", noIndex, apperr.ErrNotFound},
		{"two indexes", twoIndex, apperr.ErrCorrupt},
		{"bad json", badJSON, apperr.ErrCorrupt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.SetArchive(tt.path)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)

			assert.Equal(t, good, s.Path())
			assert.True(t, s.Cached("prs/42.diff"))
			text, err := s.ReadText("prs/42.diff")
			require.NoError(t, err)
			assert.Equal(t, "hello\nworld\n", text)
		})
	}
}

func TestSetArchive_SwapClearsCache(t *testing.T) {
	dir := t.TempDir()
	a := writeZip(t, dir, "a.zip",
		fixtureFile{"pr_index_1.json", "[]"},
		fixtureFile{"prs/1.diff", "from a"},
	)
	b := writeZip(t, dir, "b.zip",
		fixtureFile{"pr_index_1.json", "[]"},
		fixtureFile{"prs/1.diff", "from b"},
	)

	s := newTestStore(t)
	_, err := s.SetArchive(a)
	require.NoError(t, err)
	text, err := s.ReadText("prs/1.diff")
	require.NoError(t, err)
	assert.Equal(t, "from a", text)

	_, err = s.SetArchive(b)
	require.NoError(t, err)
	assert.False(t, s.Cached("prs/1.diff"))
	text, err = s.ReadText("prs/1.diff")
	require.NoError(t, err)
	assert.Equal(t, "from b", text)
}

func TestSetArchive_NestedRoot(t *testing.T) {
	p := writeZip(t, t.TempDir(), "nested.zip",
		fixtureFile{"export/pr_index_1.json", indexJSON(t, sampleEntry())},
		fixtureFile{"export/prs/42.diff", "nested"},
	)
	s := newTestStore(t)
	entries, err := s.SetArchive(p)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "export/", s.Root())
	assert.Equal(t, "export/prs/42.diff", s.ContentPath(entries[0]))
}

func TestTarGz_ReadThroughWorkspace(t *testing.T) {
	p := writeTarGz(t, t.TempDir(), "prs.tar.gz",
		fixtureFile{"./", ""},
		fixtureFile{"./pr_index_1.json", indexJSON(t, sampleEntry())},
		fixtureFile{"./prs/", ""},
		fixtureFile{"./prs/42.diff", "hello\nworld\n"},
	)

	s := newTestStore(t)
	entries, err := s.SetArchive(p)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, FormatTarGz, s.Format())

	names, err := s.ListEntries()
	require.NoError(t, err)
	assert.Contains(t, names, "prs/")
	assert.Contains(t, names, "prs/42.diff")

	text, err := s.ReadText("prs/42.diff")
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld\n", text)
	assert.Equal(t, int64(1), s.Stats().Extractions)

	_, err = s.ReadText("prs/nope.diff")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestExtractToWorkspace_Idempotent(t *testing.T) {
	p := writeZip(t, t.TempDir(), "a.zip",
		fixtureFile{"pr_index_1.json", "[]"},
		fixtureFile{"prs/1.diff", "payload"},
	)
	s := newTestStore(t)
	_, err := s.SetArchive(p)
	require.NoError(t, err)

	first, err := s.ExtractToWorkspace("prs/1.diff")
	require.NoError(t, err)
	data, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	second, err := s.ExtractToWorkspace("prs/1.diff")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), s.Stats().Extractions)

	require.NoError(t, os.Remove(first))
	third, err := s.ExtractToWorkspace("prs/1.diff")
	require.NoError(t, err)
	assert.Equal(t, first, third)
	assert.Equal(t, int64(2), s.Stats().Extractions)

	_, err = s.SetArchive(p)
	require.NoError(t, err)
	_, err = os.Stat(first)
	assert.True(t, errors.Is(err, os.ErrNotExist), "workspace removed on archive swap")
}

func TestExtractToWorkspace_StaysInsideWorkspace(t *testing.T) {
	parent := t.TempDir()
	p := writeZip(t, t.TempDir(), "slip.zip",
		fixtureFile{"pr_index_1.json", "[]"},
		fixtureFile{"../../escape.txt", "evil"},
	)
	s := NewStore(parent)
	defer s.Close()
	_, err := s.SetArchive(p)
	require.NoError(t, err)

	loc, err := s.ExtractToWorkspace("../../escape.txt")
	require.NoError(t, err)
	rel, err := filepath.Rel(parent, loc)
	require.NoError(t, err)
	assert.False(t, strings.HasPrefix(rel, ".."), "extracted outside workspace: %s", loc)
}

func TestPrepare_DiscardKeepsCurrentArchive(t *testing.T) {
	dir := t.TempDir()
	a := writeZip(t, dir, "a.zip",
		fixtureFile{"pr_index_1.json", "[]"},
		fixtureFile{"prs/1.diff", "from a"},
	)
	b := writeZip(t, dir, "b.zip",
		fixtureFile{"pr_index_1.json", indexJSON(t, sampleEntry())},
		fixtureFile{"prs/1.diff", "from b"},
	)

	s := newTestStore(t)
	_, err := s.SetArchive(a)
	require.NoError(t, err)
	_, err = s.ReadText("prs/1.diff")
	require.NoError(t, err)

	pd, err := s.Prepare(b)
	require.NoError(t, err)
	assert.Equal(t, b, pd.Path())
	require.Len(t, pd.Entries(), 1)
	assert.Equal(t, a, s.Path(), "prepare must not switch archives")

	pd.Discard()
	pd.Discard()
	s.Install(pd)
	assert.Equal(t, a, s.Path(), "a discarded archive is never installed")
	assert.True(t, s.Cached("prs/1.diff"))
	text, err := s.ReadText("prs/1.diff")
	require.NoError(t, err)
	assert.Equal(t, "from a", text)

	pd, err = s.Prepare(b)
	require.NoError(t, err)
	s.Install(pd)
	assert.Equal(t, b, s.Path())
	assert.False(t, s.Cached("prs/1.diff"))
	text, err = s.ReadText("prs/1.diff")
	require.NoError(t, err)
	assert.Equal(t, "from b", text)
}

func TestTarGz_ReadsDuringSwapsMatchArchive(t *testing.T) {
	dir := t.TempDir()
	a := writeTarGz(t, dir, "a.tar.gz",
		fixtureFile{"pr_index_1.json", "[]"},
		fixtureFile{"prs/1.diff", "from a"},
	)
	b := writeTarGz(t, dir, "b.tar.gz",
		fixtureFile{"pr_index_1.json", "[]"},
		fixtureFile{"prs/1.diff", "from b"},
	)

	s := newTestStore(t)
	_, err := s.SetArchive(a)
	require.NoError(t, err)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				text, err := s.ReadText("prs/1.diff")
				if err != nil {
					continue
				}
				assert.Contains(t, []string{"from a", "from b"}, text)
			}
		}()
	}
	for i := 0; i < 20; i++ {
		p := a
		if i%2 == 0 {
			p = b
		}
		_, err := s.SetArchive(p)
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()

	require.Equal(t, a, s.Path())
	text, err := s.ReadText("prs/1.diff")
	require.NoError(t, err)
	assert.Equal(t, "from a", text, "cache must only hold entries of the current archive")

	loc, err := s.ExtractToWorkspace("prs/1.diff")
	require.NoError(t, err)
	data, err := os.ReadFile(loc)
	require.NoError(t, err)
	assert.Equal(t, "from a", string(data))
}

func TestReadText_ConcurrentReaders(t *testing.T) {
	p := writeZip(t, t.TempDir(), "a.zip",
		fixtureFile{"pr_index_1.json", "[]"},
		fixtureFile{"prs/1.diff", "one"},
		fixtureFile{"prs/2.diff", "two"},
	)
	s := newTestStore(t)
	_, err := s.SetArchive(p)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name, want := "prs/1.diff", "one"
			if i%2 == 0 {
				name, want = "prs/2.diff", "two"
			}
			text, err := s.ReadText(name)
			assert.NoError(t, err)
			assert.Equal(t, want, text)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 3, s.Stats().CachedEntries)
}

func TestSanitizePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"prs/1.diff", "prs/1.diff"},
		{"../../etc/passwd", "etc/passwd"},
		{"/abs/file", "abs/file"},
		{`C:\windows\file`, "windows/file"},
		{"a/./b/../c", "a/c"},
		{"..", "entry"},
		{"", "entry"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizePath(tt.in))
		})
	}
}

func TestIsIndexName(t *testing.T) {
	assert.True(t, IsIndexName("pr_index_2024.json"))
	assert.True(t, IsIndexName("export/pr_index_2024.json"))
	assert.False(t, IsIndexName("a/b/pr_index_2024.json"))
	assert.False(t, IsIndexName("pr_index_dir.json/"))
	assert.False(t, IsIndexName("index.json"))
}

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, FormatZip, DetectFormat("x.ZIP"))
	assert.Equal(t, FormatTarGz, DetectFormat("x.tar.gz"))
	assert.Equal(t, FormatTarGz, DetectFormat("x.tgz"))
	assert.Equal(t, FormatUnknown, DetectFormat("x.tar"))
}
