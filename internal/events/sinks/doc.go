// Package sinks implements lifecycle event consumers: structured logs,
// Prometheus collectors, run history, completion notifications and artifact
// upload. Each sink satisfies events.Sink.
package sinks
