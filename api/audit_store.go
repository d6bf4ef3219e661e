package api

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/jmcleod/ovpnadmin/internal/util"
	"github.com/jmcleod/ovpnadmin/internal/uuid"
	"github.com/jmcleod/ovpnadmin/storage"
)

const (
	journalNamespace = "journal"
	auditRecordType  = "AUDIT"
	auditHeadType    = "AUDIT_HEAD"
	auditHeadID      = "head"

	// genesisHash is the prev_hash of the first entry ever appended.
	genesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

	// maxAppendAttempts bounds retries when another writer moved the head.
	maxAppendAttempts = 3
	// maxPrunePerAppend bounds the retention work done by a single append.
	maxPrunePerAppend = 64
)

type auditAction string

const (
	auditActionClientIssued         auditAction = "client_issued"
	auditActionClientIssueFailed    auditAction = "client_issue_failed"
	auditActionClientRevoked        auditAction = "client_revoked"
	auditActionRevocationIncomplete auditAction = "revocation_incomplete"
	auditActionClientRevokeFailed   auditAction = "client_revoke_failed"
	auditActionBundleDownloaded     auditAction = "bundle_downloaded"
)

type auditEntry struct {
	Seq        uint64      `json:"seq"`
	ID         string      `json:"id"`
	Journal    string      `json:"journal"`
	Action     auditAction `json:"action"`
	Subject    string      `json:"subject"`
	Operator   string      `json:"operator,omitempty"`
	RemoteAddr string      `json:"remote_addr,omitempty"`
	Detail     string      `json:"detail,omitempty"`
	CreatedAt  string      `json:"created_at"`
	PrevHash   string      `json:"prev_hash"`
}

// auditHead tracks the end of the chain. It is rewritten with PutCAS on
// every append so concurrent writers sharing a repository cannot fork the
// chain.
type auditHead struct {
	// Seq is the sequence number of the newest entry, 0 when empty.
	Seq uint64 `json:"seq"`
	// Oldest is the sequence number of the oldest retained entry.
	Oldest uint64 `json:"oldest"`
	// Hash is the chain hash of the newest entry.
	Hash string `json:"hash"`
	// Anchor is the prev_hash of the oldest retained entry.
	Anchor string `json:"anchor"`
}

// chainHash computes the link to the next entry.
// hash = SHA-256( entryID || prevHash || createdAt )
func chainHash(entryID, prevHash, createdAt string) string {
	h := sha256.Sum256([]byte(entryID + prevHash + createdAt))
	return util.HexEncode(h[:])
}

func entryKey(seq uint64) string {
	return fmt.Sprintf("%020d", seq)
}

// journal is the hash-chained operator history kept in a storage.Repository.
type journal struct {
	repo       storage.Repository
	ns         string
	maxEntries int
	maxAge     time.Duration
	now        func() time.Time

	mu sync.Mutex
}

func newJournal(repo storage.Repository, ns string, maxEntries int, maxAge time.Duration) *journal {
	return &journal{
		repo:       repo,
		ns:         ns,
		maxEntries: maxEntries,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

func (j *journal) readHead(ctx context.Context) (auditHead, uint64, error) {
	rec, err := j.repo.Get(ctx, j.ns, auditHeadType, auditHeadID)
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrNamespaceNotFound) {
		return auditHead{Hash: genesisHash, Anchor: genesisHash}, 0, nil
	}
	if err != nil {
		return auditHead{}, 0, fmt.Errorf("reading journal head: %w", err)
	}
	var head auditHead
	if err := storage.DecodeJSON(rec, &head); err != nil {
		return auditHead{}, 0, fmt.Errorf("decoding journal head: %w", err)
	}
	return head, rec.Version, nil
}

func (j *journal) get(ctx context.Context, seq uint64) (auditEntry, error) {
	rec, err := j.repo.Get(ctx, j.ns, auditRecordType, entryKey(seq))
	if err != nil {
		return auditEntry{}, err
	}
	var e auditEntry
	if err := storage.DecodeJSON(rec, &e); err != nil {
		return auditEntry{}, fmt.Errorf("decoding journal entry %d: %w", seq, err)
	}
	return e, nil
}

// append links e to the chain and stores it. ID and CreatedAt are filled in
// when empty.
func (j *journal) append(ctx context.Context, e auditEntry) (auditEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.New()
	}
	if e.CreatedAt == "" {
		e.CreatedAt = j.now().UTC().Format(time.RFC3339Nano)
	}

	var err error
	for range maxAppendAttempts {
		var out auditEntry
		out, err = j.tryAppend(ctx, e)
		if !errors.Is(err, storage.ErrCASFailed) {
			return out, err
		}
	}
	return auditEntry{}, fmt.Errorf("appending journal entry: %w", err)
}

func (j *journal) tryAppend(ctx context.Context, e auditEntry) (auditEntry, error) {
	head, version, err := j.readHead(ctx)
	if err != nil {
		return auditEntry{}, err
	}

	e.Seq = head.Seq + 1
	e.Journal = j.ns
	e.PrevHash = head.Hash

	next := head
	next.Seq = e.Seq
	next.Hash = chainHash(e.ID, e.PrevHash, e.CreatedAt)
	if next.Oldest == 0 {
		next.Oldest = e.Seq
		next.Anchor = e.PrevHash
	}

	drop, err := j.prune(ctx, &next)
	if err != nil {
		return auditEntry{}, err
	}

	entryRec, err := storage.EncodeJSON(e, 0)
	if err != nil {
		return auditEntry{}, err
	}
	headRec, err := storage.EncodeJSON(next, version+1)
	if err != nil {
		return auditEntry{}, err
	}

	err = j.repo.Batch(ctx, j.ns, func(tx storage.BatchTx) error {
		if err := tx.PutCAS(auditHeadType, auditHeadID, version, headRec); err != nil {
			return err
		}
		if err := tx.Put(auditRecordType, entryKey(e.Seq), entryRec); err != nil {
			return err
		}
		for _, seq := range drop {
			if err := tx.Delete(auditRecordType, entryKey(seq)); err != nil && !errors.Is(err, storage.ErrNotFound) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return auditEntry{}, err
	}
	return e, nil
}

// prune advances next past entries that fall outside the retention limits
// and returns their sequence numbers. The newest entry is always kept.
func (j *journal) prune(ctx context.Context, next *auditHead) ([]uint64, error) {
	if j.maxEntries <= 0 && j.maxAge <= 0 {
		return nil, nil
	}
	var drop []uint64
	cutoff := j.now().Add(-j.maxAge)
	for next.Oldest < next.Seq && len(drop) < maxPrunePerAppend {
		overCount := j.maxEntries > 0 && next.Seq-next.Oldest+1 > uint64(j.maxEntries)
		if !overCount && j.maxAge <= 0 {
			break
		}
		old, err := j.get(ctx, next.Oldest)
		if errors.Is(err, storage.ErrNotFound) {
			next.Oldest++
			continue
		}
		if err != nil {
			return nil, err
		}
		if !overCount {
			created, err := time.Parse(time.RFC3339Nano, old.CreatedAt)
			if err != nil || !created.Before(cutoff) {
				break
			}
		}
		drop = append(drop, old.Seq)
		next.Anchor = chainHash(old.ID, old.PrevHash, old.CreatedAt)
		next.Oldest++
	}
	return drop, nil
}

// entries returns every retained entry oldest first, with the head.
func (j *journal) entries(ctx context.Context) ([]auditEntry, auditHead, error) {
	head, _, err := j.readHead(ctx)
	if err != nil {
		return nil, auditHead{}, err
	}
	ids, err := j.repo.List(ctx, j.ns, auditRecordType)
	if err != nil {
		return nil, auditHead{}, fmt.Errorf("listing journal: %w", err)
	}
	out := make([]auditEntry, 0, len(ids))
	for _, id := range ids {
		rec, err := j.repo.Get(ctx, j.ns, auditRecordType, id)
		if err != nil {
			return nil, auditHead{}, fmt.Errorf("reading journal entry %s: %w", id, err)
		}
		var e auditEntry
		if err := storage.DecodeJSON(rec, &e); err != nil {
			return nil, auditHead{}, fmt.Errorf("decoding journal entry %s: %w", id, err)
		}
		out = append(out, e)
	}
	return out, head, nil
}

// page returns entries newest first. Only the requested page is read.
func (j *journal) page(ctx context.Context, limit, offset int) ([]auditEntry, PaginationMeta, error) {
	ids, err := j.repo.List(ctx, j.ns, auditRecordType)
	if err != nil {
		return nil, PaginationMeta{}, fmt.Errorf("listing journal: %w", err)
	}
	slices.Reverse(ids)
	pageIDs, meta := paginate(ids, limit, offset)

	out := make([]auditEntry, 0, len(pageIDs))
	for _, id := range pageIDs {
		rec, err := j.repo.Get(ctx, j.ns, auditRecordType, id)
		if errors.Is(err, storage.ErrNotFound) {
			// Pruned by a concurrent append.
			continue
		}
		if err != nil {
			return nil, PaginationMeta{}, fmt.Errorf("reading journal entry %s: %w", id, err)
		}
		var e auditEntry
		if err := storage.DecodeJSON(rec, &e); err != nil {
			return nil, PaginationMeta{}, fmt.Errorf("decoding journal entry %s: %w", id, err)
		}
		out = append(out, e)
	}
	return out, meta, nil
}

// record appends an entry describing the request. Journal failures are
// logged and never fail the request.
func (a *API) record(r *http.Request, action auditAction, subject, detail string) {
	if a.journal == nil {
		return
	}
	e := auditEntry{
		Action:     action,
		Subject:    subject,
		Operator:   operatorFromContext(r.Context()),
		RemoteAddr: a.extractClientIP(r),
		Detail:     detail,
	}
	if _, err := a.journal.append(context.WithoutCancel(r.Context()), e); err != nil {
		a.logger.Error("journal append failed", "action", action, "subject", subject, "error", err)
	}
}
