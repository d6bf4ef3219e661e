// Package storage provides the persistence abstraction for operator history
// such as the audit journal. Records are opaque byte payloads addressed by
// (namespace, record type, record ID).
package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrNamespaceNotFound is returned when a namespace holds no records.
	ErrNamespaceNotFound = errors.New("namespace not found")
	// ErrCASFailed is returned when a compare-and-swap version check fails.
	ErrCASFailed = errors.New("CAS version mismatch")
)

// BatchTx provides writes within an atomic transaction. The namespace is
// scoped to the batch, so methods don't require it.
type BatchTx interface {
	Put(recordType, recordID string, rec *Record) error
	PutCAS(recordType, recordID string, expectedVersion uint64, rec *Record) error
	Delete(recordType, recordID string) error
}

// Repository defines the interface for record storage.
//
// List returns record IDs in ascending byte order. PutCAS with an
// expectedVersion of 0 succeeds only when the record does not exist yet.
type Repository interface {
	Put(ctx context.Context, namespace, recordType, recordID string, rec *Record) error
	Get(ctx context.Context, namespace, recordType, recordID string) (*Record, error)
	List(ctx context.Context, namespace, recordType string) ([]string, error)
	Delete(ctx context.Context, namespace, recordType, recordID string) error
	PutCAS(ctx context.Context, namespace, recordType, recordID string, expectedVersion uint64, rec *Record) error
	Batch(ctx context.Context, namespace string, fn func(tx BatchTx) error) error
}
