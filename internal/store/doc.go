// Package store defines interfaces for persistence dependencies such as the
// operation run history. Implementations live in internal/storage; this
// package must not import database drivers or concrete clients.
package store
