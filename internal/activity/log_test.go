package activity

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 9, 14, 5, 7, 600_000_000, time.UTC)}
}

func TestAppendStampsAndTrims(t *testing.T) {
	t.Parallel()

	clock := newClock()
	log := New(Options{Clock: clock})

	entry, ok := log.Append("  Exporting database 'Sales'...  ")
	require.True(t, ok)
	require.Equal(t, "Exporting database 'Sales'...", entry.Text)
	require.Equal(t, time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC), entry.At)
	require.Equal(t, "14:05:07  Exporting database 'Sales'...", entry.String())
	require.WithinDuration(t, clock.Now(), log.LastMutation(), 0)
}

func TestAppendIgnoresBlankMessages(t *testing.T) {
	t.Parallel()

	clock := newClock()
	log := New(Options{Clock: clock})
	before := log.LastMutation()
	clock.Advance(time.Second)

	_, ok := log.Append("   \t ")
	require.False(t, ok)
	require.Zero(t, log.Len())
	require.True(t, before.Equal(log.LastMutation()), "blank messages are not activity")
}

func TestCapacityEvictsOldestFirst(t *testing.T) {
	t.Parallel()

	log := New(Options{Capacity: 3, Clock: newClock()})
	for i := range 5 {
		log.Append(fmt.Sprintf("line %d", i))
		require.LessOrEqual(t, log.Len(), 3)
	}
	entries := log.Entries()
	require.Len(t, entries, 3)
	require.Equal(t, "line 2", entries[0].Text)
	require.Equal(t, "line 4", entries[2].Text)
	require.Equal(t, uint64(5), log.Appended())
}

func TestDefaultCapacity(t *testing.T) {
	t.Parallel()

	log := New(Options{Clock: newClock()})
	for i := range DefaultCapacity + 25 {
		log.Append(fmt.Sprint(i))
	}
	require.Equal(t, DefaultCapacity, log.Len())
	require.Equal(t, "25", log.Entries()[0].Text)
}

func TestDedupeAdjacentRefreshesActivity(t *testing.T) {
	t.Parallel()

	clock := newClock()
	log := New(Options{DedupeAdjacent: true, Clock: clock})
	log.Append("Processing Table '[dbo].[Orders]'.")
	clock.Advance(2 * time.Second)

	_, ok := log.Append("Processing Table '[dbo].[Orders]'.")
	require.False(t, ok)
	require.Equal(t, 1, log.Len())
	require.WithinDuration(t, clock.Now(), log.LastMutation(), 0)

	_, ok = log.Append("Processing Table '[dbo].[Customers]'.")
	require.True(t, ok)
	require.Equal(t, 2, log.Len())
}

func TestDuplicatesKeptWithoutDedupe(t *testing.T) {
	t.Parallel()

	log := New(Options{Clock: newClock()})
	log.Append("same")
	log.Append("same")
	require.Equal(t, 2, log.Len())
}

func TestTranscriptAndClear(t *testing.T) {
	t.Parallel()

	clock := newClock()
	log := New(Options{Clock: clock})
	log.Append("first")
	clock.Advance(61 * time.Second)
	log.Append("second")

	require.Equal(t, "14:05:07  first\n14:06:08  second", log.Transcript())

	clock.Advance(time.Second)
	log.Clear()
	require.Zero(t, log.Len())
	require.Empty(t, log.Transcript())
	require.WithinDuration(t, clock.Now(), log.LastMutation(), 0)
}

func TestEntriesReturnsCopy(t *testing.T) {
	t.Parallel()

	log := New(Options{Clock: newClock()})
	log.Append("original")
	entries := log.Entries()
	entries[0].Text = "modified"
	require.Equal(t, "original", log.Entries()[0].Text)
}
