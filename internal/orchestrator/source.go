package orchestrator

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gatekeeper/internal/complexity"
	"gatekeeper/internal/scm"
)

// candidate is a file selected for analysis.
type candidate struct {
	path string
	size int64
}

// fileSource lists and reads the files of one revision.
type fileSource interface {
	list(ctx context.Context) ([]candidate, error)
	read(ctx context.Context, path string) ([]byte, error)
}

// diskSource walks a working copy.
type diskSource struct {
	root    string
	exclude map[string]bool
}

func (d *diskSource) list(ctx context.Context) ([]candidate, error) {
	var out []candidate
	err := filepath.WalkDir(d.root, func(p string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.IsDir() {
			if p != d.root && d.exclude[e.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !e.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(d.root, p)
		if err != nil {
			return err
		}
		info, err := e.Info()
		if err != nil {
			return nil
		}
		out = append(out, candidate{path: filepath.ToSlash(rel), size: info.Size()})
		return nil
	})
	return out, err
}

func (d *diskSource) read(_ context.Context, path string) ([]byte, error) {
	return os.ReadFile(filepath.Join(d.root, filepath.FromSlash(path)))
}

// providerSource reads a revision through a provider.
type providerSource struct {
	provider scm.Provider
	ref      string
}

func (s *providerSource) list(ctx context.Context) ([]candidate, error) {
	entries, err := s.provider.ListRepositoryTree(ctx, s.ref)
	if err != nil {
		return nil, err
	}
	out := make([]candidate, len(entries))
	for i, e := range entries {
		out[i] = candidate{path: e.Path, size: e.Size}
	}
	return out, nil
}

func (s *providerSource) read(ctx context.Context, path string) ([]byte, error) {
	return s.provider.GetFileContent(ctx, path, s.ref)
}

// selectFiles keeps analyzable files outside excluded directories and
// within the size limit, sorted by path.
func selectFiles(all []candidate, exclude map[string]bool, maxBytes int64) []candidate {
	var out []candidate
	for _, c := range all {
		if !complexity.IsAnalyzable(c.path) || inExcludedDir(c.path, exclude) {
			continue
		}
		if maxBytes > 0 && c.size > maxBytes {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out
}

func inExcludedDir(path string, exclude map[string]bool) bool {
	parts := strings.Split(path, "/")
	for _, dir := range parts[:len(parts)-1] {
		if exclude[dir] {
			return true
		}
	}
	return false
}

func excludeSet(dirs []string) map[string]bool {
	m := make(map[string]bool, len(dirs))
	for _, d := range dirs {
		m[d] = true
	}
	return m
}
