package sqlpackage

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/bacpac-orchestrator/internal/connstr"
	"github.com/JakeFAU/bacpac-orchestrator/internal/engine"
)

// TestHelperProcess stands in for the SqlPackage binary.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for i, arg := range args {
		if arg == "--" {
			args = args[i+1:]
			break
		}
	}
	switch os.Getenv("HELPER_MODE") {
	case "fail":
		fmt.Fprintln(os.Stderr, "*** Error exporting database: Login failed for user 'sa'.")
		os.Exit(3)
	case "hang":
		fmt.Println("Connecting to database 'Sales' on server 'sql01'.")
		time.Sleep(time.Minute)
		os.Exit(0)
	}
	fmt.Println("Arguments: " + strings.Join(args, "|"))
	fmt.Println("Processing Export. 10% done.")
	fmt.Fprintln(os.Stderr, "SQL73201: Processing Export. 55.5% done.")
	fmt.Println("Successfully exported database.")
	os.Exit(0)
}

func helperEngine(mode string) *Engine {
	return New(Config{
		Binary:     os.Args[0],
		PrefixArgs: []string{"-test.run=TestHelperProcess", "--"},
		Env:        []string{"GO_WANT_HELPER_PROCESS=1", "HELPER_MODE=" + mode},
		WaitDelay:  time.Second,
	}, nil)
}

type lineRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *lineRecorder) record(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
}

func (r *lineRecorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

var salesConn = connstr.Build(connstr.Credentials{Server: "sql01", User: "sa", Password: "x"}, "Sales")

func TestExportStreamsBothPipes(t *testing.T) {
	t.Parallel()

	eng := helperEngine("ok")
	eng.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 0, 0, time.UTC) }
	dir := t.TempDir()
	rec := &lineRecorder{}

	res, err := eng.Export(context.Background(), salesConn, dir, rec.record)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "Sales-20240102-0304.bacpac"), res.Path)
	require.Equal(t, "Sales", res.Database)

	lines := rec.Lines()
	require.Equal(t, "Exporting database 'Sales'...", lines[0])
	require.Contains(t, lines, "Processing Export. 10% done.")
	require.Contains(t, lines, "SQL73201: Processing Export. 55.5% done.")
	require.Contains(t, lines, "Successfully exported database.")

	var argsLine string
	for _, l := range lines {
		if strings.HasPrefix(l, "Arguments: ") {
			argsLine = l
		}
	}
	require.Contains(t, argsLine, "/Action:Export")
	require.Contains(t, argsLine, "/TargetFile:"+res.Path)
}

func TestImportRequiresExistingSource(t *testing.T) {
	t.Parallel()

	eng := helperEngine("ok")
	_, err := eng.Import(context.Background(), filepath.Join(t.TempDir(), "missing.bacpac"), salesConn, nil)
	require.Error(t, err)
	require.False(t, engine.IsCanceled(err))
}

func TestImportReportsTargetFirst(t *testing.T) {
	t.Parallel()

	src := filepath.Join(t.TempDir(), "in.bacpac")
	require.NoError(t, os.WriteFile(src, []byte("zip"), 0o600))
	rec := &lineRecorder{}

	res, err := helperEngine("ok").Import(context.Background(), src, salesConn, rec.record)
	require.NoError(t, err)
	require.Equal(t, src, res.Path)
	require.Equal(t, "Importing bacpac into 'Sales'...", rec.Lines()[0])
}

func TestExportFailureCarriesExitCode(t *testing.T) {
	t.Parallel()

	rec := &lineRecorder{}
	_, err := helperEngine("fail").Export(context.Background(), salesConn, t.TempDir(), rec.record)
	require.Error(t, err)
	require.Contains(t, err.Error(), "exited with code 3")
	require.False(t, engine.IsCanceled(err))
	require.Contains(t, rec.Lines(), "*** Error exporting database: Login failed for user 'sa'.")
}

func TestExportCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	rec := &lineRecorder{}
	go func() {
		defer cancel()
		deadline := time.Now().Add(10 * time.Second)
		for len(rec.Lines()) < 2 && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
	}()

	_, err := helperEngine("hang").Export(ctx, salesConn, t.TempDir(), rec.record)
	require.ErrorIs(t, err, engine.ErrCanceled)
	require.True(t, engine.IsCanceled(err))
}

func TestExportRequiresDatabase(t *testing.T) {
	t.Parallel()

	_, err := helperEngine("ok").Export(context.Background(), "Data Source=sql01;User ID=sa;Password=x", t.TempDir(), nil)
	require.ErrorIs(t, err, connstr.ErrNoDatabase)
}

func TestScanLinesDrainsAfterOverlongLine(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()
	written := make(chan error, 1)
	go func() {
		_, err := io.WriteString(pw, "Processing Export. 10% done.\n"+strings.Repeat("x", maxLineBytes+1)+"\n")
		if err == nil {
			_, err = io.WriteString(pw, strings.Repeat("trailing output\n", 4096))
		}
		written <- err
		_ = pw.Close()
	}()

	rec := &lineRecorder{}
	err := scanLines(pr, rec.record)
	require.ErrorIs(t, err, bufio.ErrTooLong)
	require.Equal(t, []string{"Processing Export. 10% done."}, rec.Lines())

	select {
	case err := <-written:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("writer blocked after the scanner gave up")
	}
}
