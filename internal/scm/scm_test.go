package scm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/google/go-github/v62/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatekeeper/internal/config"
	"gatekeeper/internal/errors"
	"gatekeeper/internal/pipeline"
)

func TestAddedLines(t *testing.T) {
	patch := "@@ -1,2 +1,3 @@\n context\n-old\n+new one\n+new two\n+++ not a header?\n"
	assert.Equal(t, "new one\nnew two\n", AddedLines(patch))
	assert.Empty(t, AddedLines(""))
}

func TestCommitState(t *testing.T) {
	assert.Equal(t, "failure", CommitState(pipeline.StatusBlock))
	assert.Equal(t, "success", CommitState(pipeline.StatusWarn))
	assert.Equal(t, "success", CommitState(pipeline.StatusOverridden))
	assert.Equal(t, "pending", CommitState(pipeline.StatusPending))
}

func TestSplitRepoID(t *testing.T) {
	tests := []struct {
		in    string
		owner string
		name  string
		ok    bool
	}{
		{"acme/api", "acme", "api", true},
		{"acme", "", "", false},
		{"/api", "", "", false},
		{"a/b/c", "", "", false},
	}
	for _, tt := range tests {
		o, n, ok := SplitRepoID(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.owner, o)
		assert.Equal(t, tt.name, n)
	}
}

// testRepo builds a repository whose main branch holds base.go and whose
// pull request 7 modifies it and adds new.go.
func testRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	commit := func(msg string, files map[string]string) plumbing.Hash {
		for name, content := range files {
			require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
			_, err := wt.Add(name)
			require.NoError(t, err)
		}
		h, err := wt.Commit(msg, &git.CommitOptions{
			Author: &object.Signature{Name: "dev", Email: "dev@example.com", When: time.Now()},
		})
		require.NoError(t, err)
		return h
	}

	base := commit("initial", map[string]string{"base.go": "package x\n\nfunc A() {}\n"})
	head := commit("Add B helper\n\nFixes the thing.", map[string]string{
		"base.go": "package x\n\nfunc A() {}\n\nfunc B() {}\n",
		"new.go":  "package x\n",
	})
	require.NoError(t, repo.Storer.SetReference(plumbing.NewHashReference("refs/heads/main", base)))
	require.NoError(t, repo.Storer.SetReference(plumbing.NewHashReference("refs/pull/7/head", head)))
	return dir
}

func TestLocalProvider(t *testing.T) {
	ctx := context.Background()
	p, err := NewLocalProvider(testRepo(t), nil)
	require.NoError(t, err)
	assert.Equal(t, "local", p.Name())

	t.Run("tree", func(t *testing.T) {
		entries, err := p.ListRepositoryTree(ctx, "refs/heads/main")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "base.go", entries[0].Path)

		entries, err = p.ListRepositoryTree(ctx, "")
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})

	t.Run("pull request", func(t *testing.T) {
		pr, err := p.GetPullRequest(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, "Add B helper", pr.Title)
		assert.Equal(t, "Fixes the thing.", pr.Body)
		assert.Equal(t, "refs/pull/7/head", pr.HeadRef)
		assert.Equal(t, "refs/heads/main", pr.BaseRef)
		assert.Len(t, pr.HeadSHA, 40)

		_, err = p.GetPullRequest(ctx, 8)
		assert.True(t, errors.HasCode(err, errors.NotFound))
	})

	t.Run("changed files", func(t *testing.T) {
		files, err := p.ListChangedFiles(ctx, 7)
		require.NoError(t, err)
		require.Len(t, files, 2)
		byPath := map[string]ChangedFile{}
		for _, f := range files {
			byPath[f.Path] = f
		}
		assert.Equal(t, StatusModified, byPath["base.go"].Status)
		assert.Equal(t, 2, byPath["base.go"].Additions)
		assert.Equal(t, 0, byPath["base.go"].Deletions)
		assert.Equal(t, "\nfunc B() {}\n", AddedLines(byPath["base.go"].Patch))
		assert.Equal(t, StatusAdded, byPath["new.go"].Status)
	})

	t.Run("content", func(t *testing.T) {
		data, err := p.GetFileContent(ctx, "base.go", "refs/heads/main")
		require.NoError(t, err)
		assert.Equal(t, "package x\n\nfunc A() {}\n", string(data))

		_, err = p.GetFileContent(ctx, "new.go", "refs/heads/main")
		assert.True(t, errors.HasCode(err, errors.NotFound))
	})

	t.Run("writes are no-ops", func(t *testing.T) {
		assert.NoError(t, p.PostCommitStatus(ctx, "abc", pipeline.StatusPass, "ok"))
		assert.NoError(t, p.PostReviewComment(ctx, 7, "body", "COMMENT"))
	})
}

func TestNewLocalProviderRejectsNonRepo(t *testing.T) {
	_, err := NewLocalProvider(t.TempDir(), nil)
	assert.True(t, errors.HasCode(err, errors.Configuration))
}

func newGitHubTest(t *testing.T, mux *http.ServeMux) *GitHubProvider {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	client := github.NewClient(srv.Client())
	u, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	client.BaseURL = u
	return NewGitHubProviderWithClient(client, "acme", "api", nil)
}

func TestGitHubListChangedFilesPaginates(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/api/pulls/3/files", func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		if page == "" || page == "1" {
			w.Header().Set("Link", fmt.Sprintf(`<http://%s%s?page=2>; rel="next"`, r.Host, r.URL.Path))
			fmt.Fprint(w, `[{"filename":"a.go","status":"modified","additions":2,"deletions":1,"patch":"+x"}]`)
			return
		}
		fmt.Fprint(w, `[{"filename":"b.go","previous_filename":"old.go","status":"renamed"}]`)
	})
	p := newGitHubTest(t, mux)

	files, err := p.ListChangedFiles(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, ChangedFile{Path: "a.go", Status: "modified", Additions: 2, Deletions: 1, Patch: "+x"}, files[0])
	assert.Equal(t, "old.go", files[1].PreviousPath)
}

func TestGitHubReads(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/api/pulls/5", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"number":5,"title":"PROJ-1 fix","body":"b","head":{"sha":"abc","ref":"feat"},"base":{"ref":"main"}}`)
	})
	mux.HandleFunc("/repos/acme/api/git/trees/main", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("recursive"))
		fmt.Fprint(w, `{"sha":"t","tree":[{"path":"src","type":"tree"},{"path":"src/a.js","type":"blob","size":12,"sha":"s1"}]}`)
	})
	mux.HandleFunc("/repos/acme/api/contents/src/a.js", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "abc", r.URL.Query().Get("ref"))
		enc := base64.StdEncoding.EncodeToString([]byte("let a = 1;\n"))
		fmt.Fprintf(w, `{"type":"file","encoding":"base64","size":11,"sha":"s1","content":%q}`, enc)
	})
	p := newGitHubTest(t, mux)
	ctx := context.Background()

	pr, err := p.GetPullRequest(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, &PullRequest{Number: 5, Title: "PROJ-1 fix", Body: "b", HeadSHA: "abc", HeadRef: "feat", BaseRef: "main"}, pr)

	tree, err := p.ListRepositoryTree(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, []TreeEntry{{Path: "src/a.js", Size: 12, SHA: "s1"}}, tree)

	data, err := p.GetFileContent(ctx, "src/a.js", "abc")
	require.NoError(t, err)
	assert.Equal(t, "let a = 1;\n", string(data))
}

func TestGitHubWrites(t *testing.T) {
	var status, review map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/api/statuses/abc", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&status))
		fmt.Fprint(w, `{}`)
	})
	mux.HandleFunc("/repos/acme/api/pulls/5/reviews", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&review))
		fmt.Fprint(w, `{}`)
	})
	p := newGitHubTest(t, mux)
	ctx := context.Background()

	require.NoError(t, p.PostCommitStatus(ctx, "abc", pipeline.StatusBlock, "blocked: lint"))
	assert.Equal(t, "failure", status["state"])
	assert.Equal(t, StatusContext, status["context"])
	assert.Equal(t, "blocked: lint", status["description"])

	require.NoError(t, p.PostReviewComment(ctx, 5, "body", "REQUEST_CHANGES"))
	assert.Equal(t, "REQUEST_CHANGES", review["event"])
}

func TestGitHubErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		code    errors.ErrorCode
	}{
		{"rate limit", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", fmt.Sprint(time.Now().Add(time.Hour).Unix()))
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"message":"API rate limit exceeded"}`)
		}, errors.RecoverableProvider},
		{"too many requests", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"message":"slow down"}`)
		}, errors.RecoverableProvider},
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}, errors.RecoverableProvider},
		{"not found", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"message":"Not Found"}`)
		}, errors.NotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/repos/acme/api/pulls/1", tt.handler)
			p := newGitHubTest(t, mux)
			_, err := p.GetPullRequest(context.Background(), 1)
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.CodeOf(err))
		})
	}
}

func TestNewGitHubProviderValidatesRepoID(t *testing.T) {
	_, err := NewGitHubProvider("not-a-repo", "", "", nil)
	assert.True(t, errors.HasCode(err, errors.Validation))
}

type stubProvider struct {
	name   string
	err    error
	files  []ChangedFile
	writes int
}

func (s *stubProvider) Name() string { return s.name }
func (s *stubProvider) ListRepositoryTree(context.Context, string) ([]TreeEntry, error) {
	return []TreeEntry{{Path: s.name}}, s.err
}
func (s *stubProvider) GetPullRequest(_ context.Context, n int) (*PullRequest, error) {
	return &PullRequest{Number: n, Title: s.name}, s.err
}
func (s *stubProvider) ListChangedFiles(context.Context, int) ([]ChangedFile, error) {
	return s.files, s.err
}
func (s *stubProvider) GetFileContent(context.Context, string, string) ([]byte, error) {
	return []byte(s.name), s.err
}
func (s *stubProvider) PostCommitStatus(context.Context, string, pipeline.Status, string) error {
	s.writes++
	return s.err
}
func (s *stubProvider) PostReviewComment(context.Context, int, string, string) error {
	s.writes++
	return s.err
}

func TestFallbackProvider(t *testing.T) {
	ctx := context.Background()

	t.Run("recoverable reads fall back", func(t *testing.T) {
		primary := &stubProvider{name: "github", err: errors.NewRecoverableProviderError("rate limited", nil)}
		secondary := &stubProvider{name: "local", files: []ChangedFile{{Path: "a.go"}}}
		f := NewFallbackProvider(primary, secondary, nil)
		assert.Equal(t, "github+local", f.Name())

		files, err := f.ListChangedFiles(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "a.go", files[0].Path)

		data, err := f.GetFileContent(ctx, "x", "HEAD")
		require.NoError(t, err)
		assert.Equal(t, "local", string(data))

		pr, err := f.GetPullRequest(ctx, 4)
		require.NoError(t, err)
		assert.Equal(t, "local", pr.Title)

		tree, err := f.ListRepositoryTree(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, "local", tree[0].Path)
	})

	t.Run("other errors do not fall back", func(t *testing.T) {
		primary := &stubProvider{name: "github", err: errors.New(errors.NotFound, "gone", nil)}
		secondary := &stubProvider{name: "local"}
		f := NewFallbackProvider(primary, secondary, nil)
		_, err := f.GetFileContent(ctx, "x", "HEAD")
		assert.True(t, errors.HasCode(err, errors.NotFound))
	})

	t.Run("writes go to primary only", func(t *testing.T) {
		primary := &stubProvider{name: "github"}
		secondary := &stubProvider{name: "local"}
		f := NewFallbackProvider(primary, secondary, nil)
		require.NoError(t, f.PostCommitStatus(ctx, "abc", pipeline.StatusPass, "ok"))
		require.NoError(t, f.PostReviewComment(ctx, 1, "b", "COMMENT"))
		assert.Equal(t, 2, primary.writes)
		assert.Equal(t, 0, secondary.writes)
	})
}

func TestOpen(t *testing.T) {
	dir := testRepo(t)

	cfg := config.DefaultConfig()
	cfg.RepoRoot = dir
	p, err := Open(cfg, "acme/api", nil)
	require.NoError(t, err)
	assert.Equal(t, "local", p.Name())

	t.Run("github without a clone root reads through the API only", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.RepoRoot = dir
		cfg.Provider.Kind = "github"
		p, err := Open(cfg, "acme/api", nil)
		require.NoError(t, err)
		assert.Equal(t, "github", p.Name())
		_, local := LocalRoot(p)
		assert.False(t, local)
	})

	t.Run("github with the repository's clone", func(t *testing.T) {
		cloneRoot := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(cloneRoot, "acme"), 0o755))
		require.NoError(t, os.Rename(testRepo(t), filepath.Join(cloneRoot, "acme", "api")))

		cfg := config.DefaultConfig()
		cfg.Provider.Kind = "github"
		cfg.Provider.CloneRoot = cloneRoot
		p, err := Open(cfg, "acme/api", nil)
		require.NoError(t, err)
		assert.Equal(t, "github+local", p.Name())
		root, local := LocalRoot(p)
		assert.True(t, local)
		assert.Equal(t, filepath.Join(cloneRoot, "acme", "api"), root)

		p, err = Open(cfg, "acme/other", nil)
		require.NoError(t, err)
		assert.Equal(t, "github", p.Name())
	})

	t.Run("a directory inside another checkout is not a clone", func(t *testing.T) {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "acme", "api"), 0o755))
		cfg := config.DefaultConfig()
		cfg.Provider.Kind = "github"
		cfg.Provider.CloneRoot = dir
		p, err := Open(cfg, "acme/api", nil)
		require.NoError(t, err)
		assert.Equal(t, "github", p.Name())
	})

	cfg.Provider.Kind = "gitlab"
	_, err = Open(cfg, "acme/api", nil)
	assert.True(t, errors.HasCode(err, errors.Configuration))
}
