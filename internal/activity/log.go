// Package activity keeps the bounded, timestamped transcript of one
// operation's diagnostic messages.
//
// A Log is written only from the consumer loop. LastMutation is the one
// accessor safe from any goroutine; the quiescence detector polls it while the
// operation goroutine waits for the engine's trailing output to settle.
package activity

import (
	"strings"
	"sync/atomic"
	"time"
)

// DefaultCapacity is the number of entries retained when Options.Capacity is unset.
const DefaultCapacity = 300

const stampLayout = "15:04:05"

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Entry is one immutable transcript line.
type Entry struct {
	At   time.Time `json:"at"`
	Text string    `json:"text"`
}

// String renders the entry as "HH:MM:SS  text".
func (e Entry) String() string {
	return e.At.Format(stampLayout) + "  " + e.Text
}

// Options configures a Log.
type Options struct {
	// Capacity bounds the number of retained entries; oldest are evicted first.
	Capacity int
	// DedupeAdjacent suppresses a message identical to the newest entry. The
	// suppressed message still counts as activity.
	DedupeAdjacent bool
	Clock          Clock
}

// Log is a capacity-bounded FIFO of entries.
type Log struct {
	capacity int
	dedupe   bool
	clock    Clock

	entries  []Entry
	appended uint64

	lastMutation atomic.Int64
}

// New constructs an empty Log whose last-mutation time is now.
func New(opts Options) *Log {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Clock == nil {
		opts.Clock = wallClock{}
	}
	l := &Log{
		capacity: opts.Capacity,
		dedupe:   opts.DedupeAdjacent,
		clock:    opts.Clock,
		entries:  make([]Entry, 0, min(opts.Capacity, 64)),
	}
	l.touch(l.clock.Now())
	return l
}

// Append records msg. Blank messages are ignored entirely. It returns the new
// entry and whether one was created.
func (l *Log) Append(msg string) (Entry, bool) {
	text := strings.TrimSpace(msg)
	if text == "" {
		return Entry{}, false
	}
	now := l.clock.Now()
	l.touch(now)
	if l.dedupe && len(l.entries) > 0 && l.entries[len(l.entries)-1].Text == text {
		return Entry{}, false
	}
	entry := Entry{At: now.Truncate(time.Second), Text: text}
	if len(l.entries) >= l.capacity {
		copy(l.entries, l.entries[1:])
		l.entries[len(l.entries)-1] = entry
	} else {
		l.entries = append(l.entries, entry)
	}
	l.appended++
	return entry, true
}

// Entries returns a copy of the retained entries, oldest first.
func (l *Log) Entries() []Entry {
	return append([]Entry(nil), l.entries...)
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	return len(l.entries)
}

// Appended returns the number of entries ever created, including evicted ones.
func (l *Log) Appended() uint64 {
	return l.appended
}

// Transcript joins the retained entries with newlines.
func (l *Log) Transcript() string {
	return Transcript(l.entries)
}

// Clear drops all entries and counts as a mutation.
func (l *Log) Clear() {
	clear(l.entries)
	l.entries = l.entries[:0]
	l.touch(l.clock.Now())
}

// LastMutation returns when the log last changed. Safe from any goroutine.
func (l *Log) LastMutation() time.Time {
	return time.Unix(0, l.lastMutation.Load())
}

func (l *Log) touch(t time.Time) {
	l.lastMutation.Store(t.UnixNano())
}

// Transcript renders entries in the clipboard format.
func Transcript(entries []Entry) string {
	var sb strings.Builder
	for i, e := range entries {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(e.String())
	}
	return sb.String()
}
