package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesRepoAndWildcardSubscribers(t *testing.T) {
	bus := NewBus(4, nil)
	repo := bus.Subscribe("acme/web")
	other := bus.Subscribe("acme/api")
	all := bus.Subscribe("")
	defer repo.Close()
	defer other.Close()
	defer all.Close()

	bus.Publish("acme/web", TypeScanProgress, NewProgress(1, 4, "a.ts"))

	ev := <-repo.Events()
	assert.Equal(t, TypeScanProgress, ev.Type)
	assert.Equal(t, "acme/web", ev.RepoID)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, 25.0, ev.Data.(Progress).Percentage)

	wild := <-all.Events()
	assert.Equal(t, ev.ID, wild.ID)
	assert.Empty(t, other.Events())
}

func TestPublishNeverBlocks(t *testing.T) {
	bus := NewBus(2, nil)
	sub := bus.Subscribe("r")
	defer sub.Close()

	for i := 0; i < 10; i++ {
		bus.Publish("r", TypeScanProgress, NewProgress(i, 10, ""))
	}
	assert.Len(t, sub.Events(), 2)
}

func TestCloseUnsubscribes(t *testing.T) {
	bus := NewBus(1, nil)
	sub := bus.Subscribe("r")
	require.Equal(t, 1, bus.Subscribers("r"))

	sub.Close()
	sub.Close()
	assert.Zero(t, bus.Subscribers("r"))
	_, open := <-sub.Events()
	assert.False(t, open)

	bus.Publish("r", TypeScanCompleted, ScanCompleted{Files: 1})
}

func TestNewProgress(t *testing.T) {
	tests := []struct {
		processed, total int
		want             float64
	}{
		{0, 0, 0},
		{1, 3, 33.33},
		{3, 3, 100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NewProgress(tt.processed, tt.total, "x").Percentage)
	}
}

func TestEncode(t *testing.T) {
	data, err := Event{ID: "1", Type: TypePRCompleted, RepoID: "r", Data: PRCompleted{PRNumber: 3, Status: "BLOCK"}}.Encode()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"pr.completed"`)
	assert.Contains(t, string(data), `"status":"BLOCK"`)
}
