// Package progress turns the engine's unstructured, high-frequency diagnostic
// stream into something a single consumer can display.
//
// A Buffer accepts messages from any number of producer goroutines without
// blocking them, and a pump goroutine forwards coalesced batches to the
// consumer loop on a fixed cadence. Close drains every accepted message
// before returning, so a finished operation never loses its tail.
//
// Classify extracts the engine's overall percentage from lines such as
// "Processing Export. 42.5% done." and Snapshot ratchets that value so the
// displayed percent never moves backwards during one operation.
package progress
