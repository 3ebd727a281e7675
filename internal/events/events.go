// Package events fans analysis progress and completion events out to
// per-repository subscribers. Publishing never blocks: a subscriber whose
// buffer is full misses the event.
package events

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"gatekeeper/internal/slogutil"
)

// Type is the kind of an event.
type Type string

const (
	// TypeScanProgress reports full-scan progress.
	TypeScanProgress Type = "scan.progress"
	// TypeScanCompleted signals the end of a full scan.
	TypeScanCompleted Type = "scan.completed"
	// TypePRCompleted carries a pull request verdict.
	TypePRCompleted Type = "pr.completed"
	// TypeJobFailed reports an analysis job that exhausted its attempts.
	TypeJobFailed Type = "job.failed"
	// TypeHeartbeat keeps idle connections alive.
	TypeHeartbeat Type = "heartbeat"
)

// Event is one message on the bus.
type Event struct {
	ID     string    `json:"id"`
	Type   Type      `json:"type"`
	RepoID string    `json:"repoId"`
	Time   time.Time `json:"time"`
	Data   any       `json:"data,omitempty"`
}

// Progress is the payload of TypeScanProgress.
type Progress struct {
	ProcessedCount int     `json:"processedCount"`
	TotalCount     int     `json:"totalCount"`
	Percentage     float64 `json:"percentage"`
	CurrentPath    string  `json:"currentPath"`
}

// NewProgress computes the percentage of processed over total.
func NewProgress(processed, total int, current string) Progress {
	p := Progress{ProcessedCount: processed, TotalCount: total, CurrentPath: current}
	if total > 0 {
		p.Percentage = float64(int(float64(processed)/float64(total)*10000)) / 100
	}
	return p
}

// ScanCompleted is the payload of TypeScanCompleted.
type ScanCompleted struct {
	JobID     string  `json:"jobId,omitempty"`
	Files     int     `json:"files"`
	Analyzed  int     `json:"analyzed"`
	Skipped   int     `json:"skipped"`
	Failed    int     `json:"failed"`
	DebtRatio float64 `json:"debtRatio"`
	Hotspots  int     `json:"hotspots"`
	Cycles    int     `json:"cycles"`
	ElapsedMs int64   `json:"elapsedMs"`
}

// PRCompleted is the payload of TypePRCompleted.
type PRCompleted struct {
	PRNumber     int      `json:"prNumber"`
	HeadSHA      string   `json:"headSha"`
	Status       string   `json:"status"`
	HealthScore  float64  `json:"healthScore"`
	RiskScore    float64  `json:"riskScore"`
	BlockReasons []string `json:"blockReasons"`
}

// Encode renders the event as JSON.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher is the producer side of the bus.
type Publisher interface {
	Publish(repoID string, typ Type, data any)
}

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 64

// Bus is an in-process publish/subscribe hub keyed by repository.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[string]*Subscription
	buffer int
	logger *slog.Logger
	now    func() time.Time
}

// NewBus returns an empty bus. buffer <= 0 uses DefaultBuffer.
func NewBus(buffer int, logger *slog.Logger) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{
		subs:   make(map[string]map[string]*Subscription),
		buffer: buffer,
		logger: slogutil.OrDiscard(logger),
		now:    time.Now,
	}
}

// Subscription receives the events of one repository.
type Subscription struct {
	ID     string
	RepoID string
	ch     chan Event
	bus    *Bus
	once   sync.Once
}

// Events returns the delivery channel. It is closed by Close.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Close unsubscribes and closes the channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		if m := s.bus.subs[s.RepoID]; m != nil {
			delete(m, s.ID)
			if len(m) == 0 {
				delete(s.bus.subs, s.RepoID)
			}
		}
		close(s.ch)
		s.bus.mu.Unlock()
	})
}

// Subscribe registers a subscriber for repoID. An empty repoID receives
// every repository's events.
func (b *Bus) Subscribe(repoID string) *Subscription {
	sub := &Subscription{
		ID:     uuid.NewString(),
		RepoID: repoID,
		ch:     make(chan Event, b.buffer),
		bus:    b,
	}
	b.mu.Lock()
	if b.subs[repoID] == nil {
		b.subs[repoID] = make(map[string]*Subscription)
	}
	b.subs[repoID][sub.ID] = sub
	b.mu.Unlock()
	return sub
}

// Publish delivers an event to the repository's subscribers and to the
// wildcard subscribers.
func (b *Bus) Publish(repoID string, typ Type, data any) {
	ev := Event{ID: uuid.NewString(), Type: typ, RepoID: repoID, Time: b.now().UTC(), Data: data}

	b.mu.RLock()
	defer b.mu.RUnlock()
	deliver := func(subs map[string]*Subscription) {
		for _, sub := range subs {
			select {
			case sub.ch <- ev:
			default:
				b.logger.Debug("event dropped for slow subscriber",
					"subscription", sub.ID,
					"type", string(typ),
				)
			}
		}
	}
	deliver(b.subs[repoID])
	if repoID != "" {
		deliver(b.subs[""])
	}
}

// Subscribers returns the number of subscribers to repoID.
func (b *Bus) Subscribers(repoID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[repoID])
}

// Discard is a Publisher that drops everything.
type Discard struct{}

// Publish does nothing.
func (Discard) Publish(string, Type, any) {}
