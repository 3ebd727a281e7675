package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

type fileKey struct{ repo, path string }

type prKey struct {
	repo   string
	number int
}

// MemoryStore keeps everything in process memory. Records are deep-copied
// on the way in and out.
type MemoryStore struct {
	mu           sync.RWMutex
	historyLimit int
	files        map[fileKey]*FileRecord
	prs          map[prKey]*PullRequestRecord
	metrics      []MetricsSnapshot
	nextMetricID int64
	now          func() time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore(historyLimit int) *MemoryStore {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &MemoryStore{
		historyLimit: historyLimit,
		files:        make(map[fileKey]*FileRecord),
		prs:          make(map[prKey]*PullRequestRecord),
		now:          time.Now,
	}
}

func (s *MemoryStore) UpsertFile(_ context.Context, rec *FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := cloneFile(rec)
	if next.UpdatedAt.IsZero() {
		next.UpdatedAt = s.now().UTC()
	}
	key := fileKey{rec.RepoID, rec.Path}
	next.History = []Snapshot{}
	if prev, ok := s.files[key]; ok {
		next.History = prev.History
		if prev.ContentHash != next.ContentHash {
			next.History = pushHistory(prev, s.historyLimit)
		}
	}
	s.files[key] = next
	return nil
}

func (s *MemoryStore) GetFile(_ context.Context, repoID, path string) (*FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.files[fileKey{repoID, path}]
	if !ok {
		return nil, notFound("file " + path)
	}
	return cloneFile(rec), nil
}

func (s *MemoryStore) ListFiles(_ context.Context, repoID string) ([]*FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*FileRecord, 0)
	for k, rec := range s.files {
		if k.repo == repoID {
			out = append(out, cloneFile(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (s *MemoryStore) DeleteFile(_ context.Context, repoID, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, fileKey{repoID, path})
	return nil
}

func (s *MemoryStore) UpsertPullRequest(_ context.Context, rec *PullRequestRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := clonePR(rec)
	now := s.now().UTC()
	key := prKey{rec.RepoID, rec.PRNumber}
	if prev, ok := s.prs[key]; ok {
		next.CreatedAt = prev.CreatedAt
	} else if next.CreatedAt.IsZero() {
		next.CreatedAt = now
	}
	if next.UpdatedAt.IsZero() {
		next.UpdatedAt = now
	}
	s.prs[key] = next
	return nil
}

func (s *MemoryStore) GetPullRequest(_ context.Context, repoID string, number int) (*PullRequestRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.prs[prKey{repoID, number}]
	if !ok {
		return nil, notFound("pull request")
	}
	return clonePR(rec), nil
}

func (s *MemoryStore) ListPullRequests(_ context.Context, repoID string, since time.Time) ([]*PullRequestRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*PullRequestRecord, 0)
	for k, rec := range s.prs {
		if repoID != "" && k.repo != repoID {
			continue
		}
		if rec.UpdatedAt.Before(since) {
			continue
		}
		out = append(out, clonePR(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].PRNumber > out[j].PRNumber
	})
	return out, nil
}

func (s *MemoryStore) AppendMetric(_ context.Context, snap *MetricsSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMetricID++
	snap.ID = s.nextMetricID
	if snap.CalculatedAt.IsZero() {
		snap.CalculatedAt = s.now().UTC()
	}
	s.metrics = append(s.metrics, *snap)
	return nil
}

func (s *MemoryStore) ListMetrics(_ context.Context, repoID string, metric MetricType, limit int) ([]MetricsSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []MetricsSnapshot
	for _, m := range s.metrics {
		if m.RepoID == repoID && m.Type == metric {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return append([]MetricsSnapshot{}, out...), nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func cloneFile(rec *FileRecord) *FileRecord {
	var out FileRecord
	deepCopy(rec, &out)
	return &out
}

func clonePR(rec *PullRequestRecord) *PullRequestRecord {
	var out PullRequestRecord
	deepCopy(rec, &out)
	return &out
}

// deepCopy round-trips through JSON; every record type is JSON-clean.
func deepCopy(src, dst any) {
	data, err := json.Marshal(src)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		panic(err)
	}
}
