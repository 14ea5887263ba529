// Package kv is the key-value capability the registry and message store are
// built on. Keys are opaque strings grouped by prefix ("agent/", "msg/",
// "idx/"); values are CBOR-encoded records.
//
// Three backends satisfy Store: an in-process map (default), SQLite
// (modernc.org/sqlite, pure Go) and PostgreSQL (pgx). All of them preserve
// first-insertion order in Scan, which is the order list endpoints expose.
package kv

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get and Delete when the key does not exist.
var ErrNotFound = errors.New("kv: not found")

// Tx is the read/write view inside an atomic Update. The same methods on a
// Store run as single-operation transactions.
type Tx interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Store is a key-value store with prefix scans and atomic multi-key updates.
// Implementations must be safe for concurrent use.
type Store interface {
	Tx

	// Scan calls fn for every key starting with prefix, in first-insertion
	// order. Entries are snapshotted before fn runs, so fn may call back into
	// the store. Returning an error from fn stops the scan and returns it.
	Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error

	// Update runs fn atomically: either every write made through tx is
	// applied or none is. An error from fn aborts the transaction and is
	// returned unchanged.
	Update(ctx context.Context, fn func(tx Tx) error) error

	// Backend names the implementation for health output.
	Backend() string

	Close() error
}
