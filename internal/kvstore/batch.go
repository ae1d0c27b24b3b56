package kvstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/outbackwave/cdxindex/internal/apierr"
	"github.com/outbackwave/cdxindex/internal/record"
)

// MaxBatchMutations bounds the number of staged mutations in a single
// batch. Once a batch holds this many, further Put*/Delete* calls fail with
// a bad-request error and stage nothing; mutations already staged are kept.
const MaxBatchMutations = 200_000

// mutation is one staged put or delete, and also the wire shape of the
// opaque write-batch blob a secondary applies via ApplyRawBatch.
type mutation struct {
	Op    string `json:"op"` // "put" or "delete"
	Key   []byte `json:"key"`
	Value []byte `json:"value,omitempty"`
}

// Batch is a scoped write handle returned by Index.BeginUpdate. Mutations
// accumulate in memory and on the underlying transaction; Commit installs
// them atomically under one new sequence number. Discarding a Batch without
// committing rolls back every staged mutation.
type Batch struct {
	idx  *Index
	tx   *sql.Tx
	muts []mutation
	done bool
}

// PutCapture stages an upsert of a capture record.
func (b *Batch) PutCapture(c record.Capture) error {
	key, value := record.EncodeCapture(c)
	return b.put(key, value)
}

// DeleteCapture stages removal of the capture identified by its primary key
// tuple (urlkey, timestamp, filename, offset).
func (b *Batch) DeleteCapture(c record.Capture) error {
	return b.delete(record.EncodeCaptureKey(c))
}

// PutAlias stages an upsert of an alias mapping.
func (b *Batch) PutAlias(a record.Alias) error {
	key, value := record.EncodeAlias(a)
	return b.put(key, value)
}

// DeleteAlias stages removal of an alias by its SURT.
func (b *Batch) DeleteAlias(a record.Alias) error {
	return b.delete(record.EncodeAliasKey(a))
}

// PutRule stages an upsert of an access rule.
func (b *Batch) PutRule(r record.AccessRule) error {
	key, value := record.EncodeRule(r)
	return b.put(key, value)
}

// DeleteRule stages removal of an access rule by ID.
func (b *Batch) DeleteRule(id string) error {
	return b.delete(record.EncodeRuleKey(record.AccessRule{ID: id}))
}

// PutPolicy stages an upsert of an access policy.
func (b *Batch) PutPolicy(p record.AccessPolicy) error {
	key, value := record.EncodePolicy(p)
	return b.put(key, value)
}

// DeletePolicy stages removal of an access policy by ID.
func (b *Batch) DeletePolicy(id string) error {
	return b.delete(record.EncodePolicyKey(record.AccessPolicy{ID: id}))
}

func (b *Batch) put(key, value []byte) error {
	if b.done {
		return errBatchClosed
	}
	if len(b.muts) >= MaxBatchMutations {
		return apierr.BadRequest("batch exceeds %d mutations", MaxBatchMutations)
	}
	if _, err := b.tx.Exec(
		`INSERT INTO kv(key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value); err != nil {
		return apierr.Storage("batch put", err)
	}
	b.muts = append(b.muts, mutation{Op: "put", Key: key, Value: value})
	return nil
}

func (b *Batch) delete(key []byte) error {
	if b.done {
		return errBatchClosed
	}
	if len(b.muts) >= MaxBatchMutations {
		return apierr.BadRequest("batch exceeds %d mutations", MaxBatchMutations)
	}
	if _, err := b.tx.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return apierr.Storage("batch delete", err)
	}
	b.muts = append(b.muts, mutation{Op: "delete", Key: key})
	return nil
}

// Commit atomically installs every staged mutation and assigns the batch
// one sequence number, returned on success. A batch with no staged
// mutations still commits and consumes a sequence number, keeping "commit
// happened" and "commit changed something" distinguishable in the change
// feed.
func (b *Batch) Commit(ctx context.Context) (uint64, error) {
	if b.done {
		return 0, errBatchClosed
	}
	b.done = true

	blob, err := json.Marshal(b.muts)
	if err != nil {
		b.tx.Rollback()
		return 0, apierr.Storage("marshal write batch", err)
	}
	res, err := b.tx.ExecContext(ctx,
		`INSERT INTO wal(batch, created_at) VALUES (?, ?)`, blob, time.Now().Unix())
	if err != nil {
		b.tx.Rollback()
		return 0, apierr.Storage("wal append", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		b.tx.Rollback()
		return 0, apierr.Storage("wal sequence", err)
	}
	if err := b.tx.Commit(); err != nil {
		return 0, apierr.Storage("commit batch", err)
	}
	return uint64(seq), nil
}

// Discard abandons the batch, rolling back every staged mutation. Safe to
// call after Commit, in which case it is a no-op; callers should defer it
// unconditionally right after BeginUpdate.
func (b *Batch) Discard() error {
	if b.done {
		return nil
	}
	b.done = true
	return b.tx.Rollback()
}

// ApplyRawBatch replays an opaque write-batch blob produced by Commit on a
// secondary, under a fresh sequence number local to that secondary.
func (idx *Index) ApplyRawBatch(ctx context.Context, blob []byte) (uint64, error) {
	var muts []mutation
	if err := json.Unmarshal(blob, &muts); err != nil {
		return 0, apierr.Storage("decode write batch", err)
	}
	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apierr.Storage("apply raw batch", err)
	}
	for _, m := range muts {
		switch m.Op {
		case "put":
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO kv(key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
				m.Key, m.Value); err != nil {
				tx.Rollback()
				return 0, apierr.Storage("apply raw batch put", err)
			}
		case "delete":
			if _, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, m.Key); err != nil {
				tx.Rollback()
				return 0, apierr.Storage("apply raw batch delete", err)
			}
		default:
			tx.Rollback()
			return 0, apierr.Storage("apply raw batch", nil)
		}
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO wal(batch, created_at) VALUES (?, ?)`, blob, time.Now().Unix())
	if err != nil {
		tx.Rollback()
		return 0, apierr.Storage("apply raw batch wal append", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		tx.Rollback()
		return 0, apierr.Storage("apply raw batch sequence", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, apierr.Storage("apply raw batch commit", err)
	}
	return uint64(seq), nil
}
