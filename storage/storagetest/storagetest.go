// Package storagetest holds a conformance suite every storage.Repository
// implementation must pass.
package storagetest

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/jmcleod/ovpnadmin/storage"
)

// Run exercises repo against the storage.Repository contract. The
// repository must be empty.
func Run(t *testing.T, repo storage.Repository) {
	t.Helper()
	ctx := context.Background()
	const ns = "ns1"
	rec := &storage.Record{Ver: 1, Scheme: storage.SchemeJSON, Data: []byte(`{"a":1}`), Version: 1}

	t.Run("PutGet", func(t *testing.T) {
		if err := repo.Put(ctx, ns, "ENTRY", "id1", rec); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		got, err := repo.Get(ctx, ns, "ENTRY", "id1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Ver != rec.Ver || got.Scheme != rec.Scheme || !bytes.Equal(got.Data, rec.Data) || got.Version != rec.Version {
			t.Errorf("Get returned wrong record: %+v", got)
		}

		got.Data[0] = 'X'
		again, _ := repo.Get(ctx, ns, "ENTRY", "id1")
		if again.Data[0] == 'X' {
			t.Error("repository returned shared record data")
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		_, err := repo.Get(ctx, "missing-ns", "ENTRY", "id1")
		if !errors.Is(err, storage.ErrNamespaceNotFound) {
			t.Errorf("expected ErrNamespaceNotFound, got %v", err)
		}
		_, err = repo.Get(ctx, ns, "ENTRY", "missing")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("ListSorted", func(t *testing.T) {
		for _, id := range []string{"id3", "id0", "id2"} {
			if err := repo.Put(ctx, ns, "ENTRY", id, rec); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
		}
		if err := repo.Put(ctx, ns, "OTHER", "id9", rec); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		ids, err := repo.List(ctx, ns, "ENTRY")
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		want := []string{"id0", "id1", "id2", "id3"}
		if !slices.Equal(ids, want) {
			t.Errorf("List = %v, want %v", ids, want)
		}

		ids, err = repo.List(ctx, "missing-ns", "ENTRY")
		if err != nil || len(ids) != 0 {
			t.Errorf("List on missing namespace = %v, %v", ids, err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := repo.Delete(ctx, ns, "ENTRY", "id0"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := repo.Get(ctx, ns, "ENTRY", "id0"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		if err := repo.Delete(ctx, ns, "ENTRY", "id0"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound deleting twice, got %v", err)
		}
	})

	t.Run("PutCAS", func(t *testing.T) {
		v1 := &storage.Record{Ver: 1, Scheme: storage.SchemeJSON, Data: []byte("1"), Version: 1}
		v2 := &storage.Record{Ver: 1, Scheme: storage.SchemeJSON, Data: []byte("2"), Version: 2}

		if err := repo.PutCAS(ctx, ns, "HEAD", "h", 0, v1); err != nil {
			t.Fatalf("PutCAS create failed: %v", err)
		}
		if err := repo.PutCAS(ctx, ns, "HEAD", "h", 0, v1); !errors.Is(err, storage.ErrCASFailed) {
			t.Errorf("expected ErrCASFailed creating twice, got %v", err)
		}
		if err := repo.PutCAS(ctx, ns, "HEAD", "h", 5, v2); !errors.Is(err, storage.ErrCASFailed) {
			t.Errorf("expected ErrCASFailed on stale version, got %v", err)
		}
		if err := repo.PutCAS(ctx, ns, "HEAD", "h", 1, v2); err != nil {
			t.Fatalf("PutCAS update failed: %v", err)
		}
		got, _ := repo.Get(ctx, ns, "HEAD", "h")
		if got.Version != 2 {
			t.Errorf("expected version 2, got %d", got.Version)
		}
		if err := repo.PutCAS(ctx, ns, "HEAD", "absent", 1, v2); !errors.Is(err, storage.ErrCASFailed) {
			t.Errorf("expected ErrCASFailed on missing record, got %v", err)
		}
	})

	t.Run("BatchCommit", func(t *testing.T) {
		err := repo.Batch(ctx, "ns2", func(tx storage.BatchTx) error {
			if err := tx.Put("ENTRY", "a", rec); err != nil {
				return err
			}
			return tx.PutCAS("HEAD", "h", 0, rec)
		})
		if err != nil {
			t.Fatalf("Batch failed: %v", err)
		}
		ids, _ := repo.List(ctx, "ns2", "ENTRY")
		if len(ids) != 1 {
			t.Errorf("expected 1 entry after batch, got %v", ids)
		}
	})

	t.Run("BatchRollback", func(t *testing.T) {
		err := repo.Batch(ctx, "ns2", func(tx storage.BatchTx) error {
			if err := tx.Put("ENTRY", "b", rec); err != nil {
				return err
			}
			if err := tx.Delete("ENTRY", "a"); err != nil {
				return err
			}
			return tx.PutCAS("HEAD", "h", 0, rec)
		})
		if !errors.Is(err, storage.ErrCASFailed) {
			t.Fatalf("expected ErrCASFailed, got %v", err)
		}
		ids, _ := repo.List(ctx, "ns2", "ENTRY")
		if !slices.Equal(ids, []string{"a"}) {
			t.Errorf("batch not rolled back: %v", ids)
		}
	})
}
