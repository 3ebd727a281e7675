// Package churn mines version-control history for per-file change
// frequency and authorship.
package churn

import (
	"context"
	"log/slog"
	"os/exec"
	"sort"
	"time"

	"gatekeeper/internal/slogutil"
)

const (
	// DefaultWindowDays is the trailing window used when none is given.
	DefaultWindowDays = 90

	// DefaultQueryTimeout bounds each history query.
	DefaultQueryTimeout = 30 * time.Second
)

// Commit is one history entry and the files it touched.
type Commit struct {
	Hash   string
	Author string
	When   time.Time
	Files  []string
}

// Source queries history. path narrows the log to a single file when set.
type Source interface {
	Name() string
	Log(ctx context.Context, since time.Time, path string) ([]Commit, error)
}

// Record is the churn of one file over a trailing window.
type Record struct {
	FileID              string         `json:"fileId"`
	CommitCountInWindow int            `json:"commitCountInWindow"`
	WindowDays          int            `json:"windowDays"`
	PrimaryAuthor       string         `json:"primaryAuthor"`
	Authors             map[string]int `json:"authors"`
}

// Event is one commit in a file's modification timeline.
type Event struct {
	Hash   string    `json:"hash"`
	Author string    `json:"author"`
	When   time.Time `json:"when"`
}

// Pattern is the full modification history of one file.
type Pattern struct {
	Path     string         `json:"path"`
	Timeline []Event        `json:"timeline"`
	Authors  map[string]int `json:"authors"`
}

// Miner answers churn queries for one working copy. Query failures are
// logged and reported as empty results.
type Miner struct {
	repoRoot string
	source   Source
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Miner.
type Option func(*Miner)

// WithSource overrides history access.
func WithSource(s Source) Option {
	return func(m *Miner) { m.source = s }
}

// WithTimeout sets the per-query timeout.
func WithTimeout(d time.Duration) Option {
	return func(m *Miner) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Miner) { m.logger = slogutil.OrDiscard(l) }
}

// NewMiner creates a miner for the working copy at repoRoot. The git binary
// is used when it is on PATH; otherwise history is read with go-git.
func NewMiner(repoRoot string, opts ...Option) *Miner {
	m := &Miner{
		repoRoot: repoRoot,
		timeout:  DefaultQueryTimeout,
		logger:   slogutil.NewDiscardLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.source == nil {
		if _, err := exec.LookPath("git"); err == nil {
			m.source = NewGitCLI(repoRoot)
		} else {
			m.source = NewGoGit(repoRoot)
		}
	}
	return m
}

// RepoRoot returns the working copy path.
func (m *Miner) RepoRoot() string { return m.repoRoot }

func (m *Miner) log(ctx context.Context, windowDays int, path string) []Commit {
	var since time.Time
	if windowDays > 0 {
		since = m.now().AddDate(0, 0, -windowDays)
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	commits, err := m.source.Log(ctx, since, path)
	if err != nil {
		m.logger.Warn("churn query failed",
			"source", m.source.Name(),
			"repo", m.repoRoot,
			"path", path,
			"error", err.Error(),
		)
		return nil
	}
	return commits
}

// ChurnRate returns the commit count and author histogram for path within
// the trailing window.
func (m *Miner) ChurnRate(ctx context.Context, path string, windowDays int) Record {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	rec := Record{FileID: path, WindowDays: windowDays, Authors: map[string]int{}}
	for _, c := range m.log(ctx, windowDays, path) {
		rec.CommitCountInWindow++
		rec.Authors[c.Author]++
	}
	rec.PrimaryAuthor = primaryAuthor(rec.Authors)
	return rec
}

// AllFilesChurn counts, with a single history query, how many commits in
// the window touched each file.
func (m *Miner) AllFilesChurn(ctx context.Context, windowDays int) map[string]int {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	counts := make(map[string]int)
	for _, c := range m.log(ctx, windowDays, "") {
		for _, f := range c.Files {
			counts[f]++
		}
	}
	return counts
}

// AllFilesRecords is AllFilesChurn with authorship, keyed by path.
func (m *Miner) AllFilesRecords(ctx context.Context, windowDays int) map[string]Record {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	out := make(map[string]Record)
	for _, c := range m.log(ctx, windowDays, "") {
		for _, f := range c.Files {
			rec, ok := out[f]
			if !ok {
				rec = Record{FileID: f, WindowDays: windowDays, Authors: map[string]int{}}
			}
			rec.CommitCountInWindow++
			rec.Authors[c.Author]++
			out[f] = rec
		}
	}
	for f, rec := range out {
		rec.PrimaryAuthor = primaryAuthor(rec.Authors)
		out[f] = rec
	}
	return out
}

// ModificationPattern returns the whole-history timeline of path, oldest
// first, with per-author counts.
func (m *Miner) ModificationPattern(ctx context.Context, path string) Pattern {
	p := Pattern{Path: path, Timeline: []Event{}, Authors: map[string]int{}}
	for _, c := range m.log(ctx, 0, path) {
		p.Timeline = append(p.Timeline, Event{Hash: c.Hash, Author: c.Author, When: c.When})
		p.Authors[c.Author]++
	}
	sort.SliceStable(p.Timeline, func(i, j int) bool {
		return p.Timeline[i].When.Before(p.Timeline[j].When)
	})
	return p
}

// primaryAuthor picks the most frequent author, ties broken by name.
func primaryAuthor(authors map[string]int) string {
	best, bestN := "", 0
	for name, n := range authors {
		if n > bestN || (n == bestN && name < best) {
			best, bestN = name, n
		}
	}
	return best
}
