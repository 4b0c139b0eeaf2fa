package progress

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		line    string
		ok      bool
		percent float64
		phase   string
	}{
		{"export fraction", "Processing Export. 42.5% done.", true, 42.5, "Processing Export..."},
		{"import with code", "SQL73201: Processing Import. 100% done.", true, 99.5, "Processing Import..."},
		{"hundred with zeros", "Processing Export. 100.00% done.", true, 99.5, "Processing Export..."},
		{"single digit", "Processing Import. 7% done.", true, 7, "Processing Import..."},
		{"case insensitive", "processing export. 12.25% DONE.", true, 12.25, "Processing Export..."},
		{"extra whitespace", "Processing   Export.   3.5%   done.", true, 3.5, "Processing Export..."},
		{"embedded in text", "[12:00] SQL73109: Processing Export. 60% done. (tables)", true, 60, "Processing Export..."},
		{"three digits not hundred", "Processing Export. 150% done.", false, 0, ""},
		{"table-level progress", "Processing Table '[dbo].[Orders]'.", false, 0, ""},
		{"missing done", "Processing Export. 42%", false, 0, ""},
		{"other operation", "Processing Deploy. 42% done.", false, 0, ""},
		{"empty", "", false, 0, ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			reading, ok := Classify(tc.line)
			require.Equal(t, tc.ok, ok)
			if !tc.ok {
				return
			}
			require.InDelta(t, tc.percent, reading.Percent, 1e-9)
			require.Equal(t, tc.phase, reading.Phase())
		})
	}
}

func TestSnapshotRatchet(t *testing.T) {
	t.Parallel()

	snap := NewSnapshot("Preparing backup...")
	require.True(t, snap.Indeterminate)
	require.Zero(t, snap.Percent)

	sequence := []float64{5, 42.5, 30, 42.5, 99.5, 10}
	last := 0.0
	for _, pct := range sequence {
		snap.Apply(Reading{Percent: pct, Operation: "Export"})
		require.GreaterOrEqual(t, snap.Percent, last)
		last = snap.Percent
	}
	require.InDelta(t, 99.5, snap.Percent, 1e-9)
	require.False(t, snap.Indeterminate)
	require.Equal(t, "Processing Export...", snap.Phase)
}

func TestSnapshotApplyReportsMovement(t *testing.T) {
	t.Parallel()

	snap := NewSnapshot(PhaseWaiting)
	require.True(t, snap.Apply(Reading{Percent: 10, Operation: "Import"}))
	require.False(t, snap.Apply(Reading{Percent: 10, Operation: "Import"}))
	require.False(t, snap.Apply(Reading{Percent: 4, Operation: "Export"}))
	require.Equal(t, "Processing Export...", snap.Phase, "phase follows every reading")
	require.InDelta(t, 10, snap.Percent, 1e-9)
}

func TestSnapshotCompleteAndSettle(t *testing.T) {
	t.Parallel()

	snap := NewSnapshot(PhaseWaiting)
	snap.Apply(Reading{Percent: 99.5, Operation: "Import"})
	snap.Complete()
	require.InDelta(t, 100, snap.Percent, 1e-9)
	require.Equal(t, PhaseCompleted, snap.Phase)

	other := NewSnapshot(PhaseWaiting)
	other.Settle(PhaseCanceled)
	require.False(t, other.Indeterminate)
	require.Zero(t, other.Percent)
	require.Equal(t, PhaseCanceled, other.Phase)
}
