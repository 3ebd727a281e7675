package churn

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	commits []Commit
	err     error
	since   time.Time
	path    string
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Log(_ context.Context, since time.Time, path string) ([]Commit, error) {
	f.since, f.path = since, path
	if f.err != nil {
		return nil, f.err
	}
	var out []Commit
	for _, c := range f.commits {
		if path == "" {
			out = append(out, c)
			continue
		}
		for _, file := range c.Files {
			if file == path {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}

func sampleCommits() []Commit {
	now := time.Now()
	return []Commit{
		{Hash: "c3", Author: "bob", When: now.Add(-1 * time.Hour), Files: []string{"a.js", "b.js"}},
		{Hash: "c2", Author: "alice", When: now.Add(-2 * time.Hour), Files: []string{"a.js"}},
		{Hash: "c1", Author: "alice", When: now.Add(-3 * time.Hour), Files: []string{"a.js", "c.py"}},
	}
}

func TestChurnRate(t *testing.T) {
	src := &fakeSource{commits: sampleCommits()}
	m := NewMiner("/repo", WithSource(src))

	rec := m.ChurnRate(context.Background(), "a.js", 0)
	assert.Equal(t, "a.js", rec.FileID)
	assert.Equal(t, 3, rec.CommitCountInWindow)
	assert.Equal(t, DefaultWindowDays, rec.WindowDays)
	assert.Equal(t, "alice", rec.PrimaryAuthor)
	assert.Equal(t, map[string]int{"alice": 2, "bob": 1}, rec.Authors)
	assert.Equal(t, "a.js", src.path)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, -90), src.since, time.Minute)
}

func TestAllFilesChurn(t *testing.T) {
	m := NewMiner("/repo", WithSource(&fakeSource{commits: sampleCommits()}))

	counts := m.AllFilesChurn(context.Background(), 30)
	assert.Equal(t, map[string]int{"a.js": 3, "b.js": 1, "c.py": 1}, counts)

	records := m.AllFilesRecords(context.Background(), 30)
	require.Contains(t, records, "b.js")
	assert.Equal(t, "bob", records["b.js"].PrimaryAuthor)
	assert.Equal(t, 30, records["b.js"].WindowDays)
}

func TestModificationPattern(t *testing.T) {
	src := &fakeSource{commits: sampleCommits()}
	m := NewMiner("/repo", WithSource(src))

	p := m.ModificationPattern(context.Background(), "a.js")
	require.Len(t, p.Timeline, 3)
	assert.Equal(t, "c1", p.Timeline[0].Hash)
	assert.Equal(t, "c3", p.Timeline[2].Hash)
	assert.Equal(t, 2, p.Authors["alice"])
	assert.True(t, src.since.IsZero())
}

func TestFailuresYieldEmptyResults(t *testing.T) {
	m := NewMiner("/repo", WithSource(&fakeSource{err: fmt.Errorf("not a repository")}))
	ctx := context.Background()

	rec := m.ChurnRate(ctx, "a.js", 90)
	assert.Equal(t, 0, rec.CommitCountInWindow)
	assert.Empty(t, rec.PrimaryAuthor)
	assert.Empty(t, m.AllFilesChurn(ctx, 90))
	assert.Empty(t, m.ModificationPattern(ctx, "a.js").Timeline)
}

func TestParseLog(t *testing.T) {
	header := func(fields ...string) string { return commitMarker + strings.Join(fields, fieldSep) + "\n" }
	out := header("abc", "Alice", "2024-05-01T10:00:00Z") + "\nsrc/a.js\nsrc/b.js\n" +
		header("def", "Bob Smith", "2024-04-30T09:00:00+02:00") + "\nsrc/a.js\n" +
		header("f00", "ops | deploy bot", "2024-04-29T08:00:00Z") + "\nsrc/c.js\n" +
		commitMarker + "broken\n"

	commits := parseLog(out)
	require.Len(t, commits, 3)
	assert.Equal(t, "abc", commits[0].Hash)
	assert.Equal(t, []string{"src/a.js", "src/b.js"}, commits[0].Files)
	assert.Equal(t, "Bob Smith", commits[1].Author)
	assert.Equal(t, 2024, commits[1].When.Year())
	assert.Equal(t, "ops | deploy bot", commits[2].Author)
	assert.Equal(t, 29, commits[2].When.Day())
	assert.Equal(t, []string{"src/c.js"}, commits[2].Files)
}

func TestIdentifyHotspots(t *testing.T) {
	churn := map[string]int{"a": 10, "b": 20, "c": 2, "d": 30}
	complexity := map[string]int{"a": 30, "b": 30, "c": 100, "d": 5}

	hs := IdentifyHotspots(churn, complexity, 5, 10)
	require.Len(t, hs, 2)
	assert.Equal(t, "b", hs[0].Path)
	assert.Equal(t, 600, hs[0].Score)
	assert.Equal(t, "a", hs[1].Path)
}

func commitFile(t *testing.T, repo *git.Repository, dir, name, content, author string) {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add(name)
	require.NoError(t, err)
	_, err = wt.Commit("update "+name, &git.CommitOptions{
		Author: &object.Signature{Name: author, Email: author + "@example.com", When: time.Now()},
	})
	require.NoError(t, err)
}

func TestGoGitSource(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	commitFile(t, repo, dir, "a.js", "let a = 1;\n", "alice")
	commitFile(t, repo, dir, "b.js", "let b = 1;\n", "bob")
	commitFile(t, repo, dir, "a.js", "let a = 2;\n", "alice")

	m := NewMiner(dir, WithSource(NewGoGit(dir)))
	ctx := context.Background()

	counts := m.AllFilesChurn(ctx, 90)
	assert.Equal(t, 2, counts["a.js"])
	assert.Equal(t, 1, counts["b.js"])

	rec := m.ChurnRate(ctx, "a.js", 90)
	assert.Equal(t, 2, rec.CommitCountInWindow)
	assert.Equal(t, "alice", rec.PrimaryAuthor)
}

func TestSubdirectoryChurnIsRelative(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	commitFile(t, repo, dir, "src/a.js", "let a = 1;\n", "alice")
	commitFile(t, repo, dir, "src/lib/b.js", "let b = 1;\n", "bob")
	commitFile(t, repo, dir, "src/a.js", "let a = 2;\n", "alice")
	commitFile(t, repo, dir, "README.md", "readme\n", "carol")

	sub := filepath.Join(dir, "src")
	sources := map[string]Source{"go-git": NewGoGit(sub)}
	if _, err := exec.LookPath("git"); err == nil {
		sources["git"] = NewGitCLI(sub)
	}
	for name, src := range sources {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			m := NewMiner(sub, WithSource(src))

			counts := m.AllFilesChurn(ctx, 90)
			assert.Equal(t, map[string]int{"a.js": 2, "lib/b.js": 1}, counts)

			rec := m.ChurnRate(ctx, "a.js", 90)
			assert.Equal(t, 2, rec.CommitCountInWindow)
			assert.Equal(t, "alice", rec.PrimaryAuthor)
		})
	}
}

func TestGitCLIAuthorWithSeparator(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not on PATH")
	}
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	commitFile(t, repo, dir, "a.js", "let a = 1;\n", "ops|bot")

	commits, err := NewGitCLI(dir).Log(context.Background(), time.Time{}, "")
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.Equal(t, "ops|bot", commits[0].Author)
	assert.False(t, commits[0].When.IsZero())
	assert.Equal(t, []string{"a.js"}, commits[0].Files)
}
