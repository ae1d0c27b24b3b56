// Package changefeed implements Component F: the primary-side half of the
// change feed a secondary polls to replicate a collection. It tails the
// kvstore write-ahead log and hands back opaque write-batch blobs, base64
// wrapped, in the order they committed.
package changefeed

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strconv"

	"github.com/outbackwave/cdxindex/internal/apierr"
	"github.com/outbackwave/cdxindex/internal/kvstore"
)

// DefaultSizeLimit is the cumulative base64 byte budget per GetUpdatesSince
// call when the caller does not specify one.
const DefaultSizeLimit = 10 << 20 // 10 MiB

// Entry is one change-feed record: a committed batch and the sequence
// number it was assigned. WriteBatch is already base64-encoded, matching
// the wire shape secondaries expect.
//
// SequenceNumber marshals as a JSON string, not a number: a uint64 can
// exceed Number.MAX_SAFE_INTEGER, and a secondary parsing the feed with a
// JS JSON parser would silently lose precision on the raw number.
type Entry struct {
	SequenceNumber uint64
	WriteBatch     string
}

type entryWire struct {
	SequenceNumber string `json:"sequenceNumber"`
	WriteBatch     string `json:"writeBatch"`
}

func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(entryWire{
		SequenceNumber: strconv.FormatUint(e.SequenceNumber, 10),
		WriteBatch:     e.WriteBatch,
	})
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var w entryWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	seq, err := strconv.ParseUint(w.SequenceNumber, 10, 64)
	if err != nil {
		return err
	}
	e.SequenceNumber = seq
	e.WriteBatch = w.WriteBatch
	return nil
}

// GetUpdatesSince returns every committed batch with sequence number
// greater than since, up to size cumulative base64 bytes, stopping after
// at least one entry has been emitted even if that entry alone exceeds
// size. size <= 0 selects DefaultSizeLimit.
//
// It fails with apierr.ErrSequenceTruncated if since predates the oldest
// WAL record still retained, since the gap between them can no longer be
// reconstructed.
func GetUpdatesSince(ctx context.Context, idx *kvstore.Index, since uint64, size int) ([]Entry, error) {
	if size <= 0 {
		size = DefaultSizeLimit
	}

	oldest, err := idx.OldestRetainedSequence(ctx)
	if err != nil {
		return nil, err
	}
	if oldest > 0 && since+1 < oldest {
		return nil, apierr.ErrSequenceTruncated
	}

	rows, err := idx.QueryWal(ctx, since)
	if err != nil {
		return nil, apierr.Storage("get updates since", err)
	}
	defer rows.Close()

	var entries []Entry
	total := 0
	for rows.Next() {
		var seq uint64
		var batch []byte
		if err := rows.Scan(&seq, &batch); err != nil {
			return nil, apierr.Storage("scan wal row", err)
		}
		encoded := base64.StdEncoding.EncodeToString(batch)
		entries = append(entries, Entry{SequenceNumber: seq, WriteBatch: encoded})
		total += len(encoded)
		if len(entries) > 0 && total >= size {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, apierr.Storage("iterate wal", err)
	}
	return entries, nil
}
