// Package events carries operation lifecycle events from controllers to
// pluggable sinks. A non-blocking Hub batches events on a background goroutine
// so a slow metrics backend or database never stalls the consumer loop that
// drives the operations.
package events
