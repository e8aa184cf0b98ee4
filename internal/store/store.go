// Package store defines the key-value persistence contract the broker
// builds on: get/put/delete/list plus compare-and-swap on writes.
// The store's atomicity is the only concurrency primitive the broker
// relies on; no component holds an in-process lock across external I/O.
package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when the key does not exist.
	ErrNotFound = errors.New("store: key not found")

	// ErrCASMismatch is returned when the caller's version does not match
	// the current record version. The caller re-reads and retries.
	ErrCASMismatch = errors.New("store: compare-and-swap version mismatch")

	// ErrSealed is returned while the barrier has not been unsealed.
	ErrSealed = errors.New("store: barrier is sealed")
)

// Entry is a versioned key-value record.
type Entry struct {
	Key     string
	Value   []byte
	Version uint64
}

// Store is the durable persistence contract.
//
// Put semantics: cas is the version the caller last observed. cas == 0
// requires the key to not exist (create). A mismatch fails with
// ErrCASMismatch and writes nothing.
//
// Delete semantics: cas must match the current version, or be
// VersionAny for an unconditional delete. Deleting an absent key
// returns ErrNotFound.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Put(ctx context.Context, key string, value []byte, cas uint64) (uint64, error)
	Delete(ctx context.Context, key string, cas uint64) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// VersionAny disables the version check on Delete.
const VersionAny = ^uint64(0)
