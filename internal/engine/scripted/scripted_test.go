package scripted

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/bacpac-orchestrator/internal/engine"
)

func collect() (*[]string, engine.ProgressFunc) {
	var mu sync.Mutex
	lines := []string{}
	return &lines, func(line string) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, line)
	}
}

func TestExportReplaysLines(t *testing.T) {
	t.Parallel()

	eng := New(Script{Lines: []string{"a", "b"}, Result: engine.Result{Database: "Sales"}}, Script{})
	lines, fn := collect()

	res, err := eng.Export(context.Background(), "conn", "/tmp/out.bacpac", fn)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, *lines)
	require.Equal(t, "/tmp/out.bacpac", res.Path)
	require.Equal(t, "Sales", res.Database)
	require.Equal(t, []Call{{Action: "Export", Connection: "conn", Path: "/tmp/out.bacpac"}}, eng.Calls())
}

func TestImportReturnsScriptedError(t *testing.T) {
	t.Parallel()

	boom := errors.New("login failed")
	eng := New(Script{}, Script{Lines: []string{"x"}, Err: boom})

	_, err := eng.Import(context.Background(), "/in.bacpac", "conn", nil)
	require.ErrorIs(t, err, boom)
	require.False(t, engine.IsCanceled(err))
}

func TestWaitForCancel(t *testing.T) {
	t.Parallel()

	eng := New(Script{WaitForCancel: true}, Script{})
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := eng.Export(ctx, "conn", "out", nil)
	require.ErrorIs(t, err, engine.ErrCanceled)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCancelDuringInterval(t *testing.T) {
	t.Parallel()

	eng := New(Script{Lines: []string{"a", "b"}, Interval: time.Minute}, Script{})
	ctx, cancel := context.WithCancel(context.Background())
	lines, fn := collect()
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := eng.Export(ctx, "conn", "out", fn)
	require.True(t, engine.IsCanceled(err))
	require.Equal(t, []string{"a"}, *lines)
}

func TestTailArrivesAfterReturn(t *testing.T) {
	t.Parallel()

	eng := New(Script{Lines: []string{"a"}, Tail: []string{"late"}, TailDelay: 10 * time.Millisecond}, Script{})
	var mu sync.Mutex
	var lines []string
	fn := func(line string) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, line)
	}

	_, err := eng.Export(context.Background(), "conn", "out", fn)
	require.NoError(t, err)
	eng.WaitTails()
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"a", "late"}, lines)
}

func TestDemoScripts(t *testing.T) {
	t.Parallel()

	lines, fn := collect()
	_, err := Demo(0).Import(context.Background(), "in", "conn", fn)
	require.NoError(t, err)
	require.Contains(t, *lines, "Processing Import. 60% done.")
	require.Equal(t, "Successfully imported.", (*lines)[len(*lines)-1])
}
