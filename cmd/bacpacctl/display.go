package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/pterm/pterm"

	"github.com/JakeFAU/bacpac-orchestrator/internal/activity"
	"github.com/JakeFAU/bacpac-orchestrator/internal/operation"
)

// terminalDisplay prints new activity entries and the final outcome of a
// run. Render is called on the consumer loop, so it only writes.
type terminalDisplay struct {
	mu      sync.Mutex
	info    *pterm.PrefixPrinter
	success *pterm.PrefixPrinter
	warning *pterm.PrefixPrinter
	failure *pterm.PrefixPrinter

	appended uint64
	state    operation.State
	progress int
}

var _ operation.Display = (*terminalDisplay)(nil)

func newTerminalDisplay(w io.Writer) *terminalDisplay {
	return &terminalDisplay{
		info:     pterm.Info.WithWriter(w),
		success:  pterm.Success.WithWriter(w),
		warning:  pterm.Warning.WithWriter(w),
		failure:  pterm.Error.WithWriter(w),
		state:    operation.StateIdle,
		progress: -1,
	}
}

// Render implements operation.Display.
func (d *terminalDisplay) Render(v operation.View) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, e := range d.fresh(v) {
		d.info.Println(e.Text)
	}
	changed := v.State != d.state
	d.state = v.State
	if changed && v.State == operation.StateRunning {
		d.progress = -1
	}
	if v.State == operation.StateRunning && !v.Progress.Indeterminate {
		// Print at most once per ten points.
		if bucket := int(v.Progress.Percent) / 10; bucket > d.progress {
			d.progress = bucket
			d.info.Println(fmt.Sprintf("%5.1f%%  %s", v.Progress.Percent, v.Progress.Phase))
		}
	}
	if !changed {
		return
	}
	switch v.State {
	case operation.StateCompleted:
		d.success.Println(v.CompletionMessage)
	case operation.StateCanceled:
		d.warning.Println(v.Status)
	case operation.StateFailed:
		d.failure.Println(v.Status + ": " + v.Error)
	}
}

// fresh returns the entries appended since the previous render. The view's
// Appended count only grows, so entries evicted from the log before they were
// seen are skipped.
func (d *terminalDisplay) fresh(v operation.View) []activity.Entry {
	n := v.Appended - d.appended
	if v.Appended < d.appended {
		n = v.Appended
	}
	d.appended = v.Appended
	if n > uint64(len(v.Entries)) {
		n = uint64(len(v.Entries))
	}
	return v.Entries[len(v.Entries)-int(n):]
}
