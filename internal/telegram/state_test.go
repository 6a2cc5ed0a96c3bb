package telegram

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateManager_SnapshotIsCopy(t *testing.T) {
	m := NewStateManager()
	m.AppendReference(1, "https://cdn/a.jpg", 4)

	snap := m.Snapshot(1)
	snap.ReferenceURLs[0] = "mutated"
	snap.State = StateAwaitingPrompt

	fresh := m.Snapshot(1)
	assert.Equal(t, []string{"https://cdn/a.jpg"}, fresh.ReferenceURLs)
	assert.Equal(t, StateIdle, fresh.State)
}

func TestStateManager_AppendKeepsNewest(t *testing.T) {
	m := NewStateManager()
	for i := 0; i < 6; i++ {
		m.AppendReference(1, fmt.Sprintf("https://cdn/ref-%d.jpg", i), 4)
	}

	snap := m.Snapshot(1)
	assert.Len(t, snap.ReferenceURLs, 4)
	assert.Equal(t, "https://cdn/ref-5.jpg", snap.ReferenceURLs[3])
}

// A photo album arrives as separate near-simultaneous messages, each handled
// in its own goroutine, so appends must be safe against concurrent snapshots
// of the same chat.
func TestStateManager_ConcurrentChatTraffic(t *testing.T) {
	m := NewStateManager()
	m.SetState(7, StateAwaitingPrompt)

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			m.AppendReference(7, fmt.Sprintf("https://cdn/ref-%d.jpg", i), 4)
		}(i)
		go func() {
			defer wg.Done()
			snap := m.Snapshot(7)
			_ = append(snap.ReferenceURLs, "https://cdn/extra.jpg")
		}()
	}
	wg.Wait()

	snap := m.Snapshot(7)
	assert.Len(t, snap.ReferenceURLs, 4)
	assert.Equal(t, StateAwaitingPrompt, snap.State)
}

func TestStateManager_ResetAndClear(t *testing.T) {
	m := NewStateManager()
	m.SetState(1, StateAwaitingPrompt)
	m.AppendReference(1, "https://cdn/a.jpg", 4)

	m.ClearReferences(1)
	snap := m.Snapshot(1)
	assert.Empty(t, snap.ReferenceURLs)
	assert.Equal(t, StateAwaitingPrompt, snap.State)

	m.Reset(1)
	snap = m.Snapshot(1)
	assert.Equal(t, StateIdle, snap.State)
}
