package changefeed_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/outbackwave/cdxindex/internal/apierr"
	"github.com/outbackwave/cdxindex/internal/changefeed"
	"github.com/outbackwave/cdxindex/internal/kvstore"
	"github.com/outbackwave/cdxindex/internal/record"
)

func commitCapture(t *testing.T, idx *kvstore.Index, urlkey string, ts int64) uint64 {
	t.Helper()
	ctx := context.Background()
	b, err := idx.BeginUpdate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Discard()
	if err := b.PutCapture(record.Capture{URLKey: urlkey, Timestamp: ts, Filename: "f.warc.gz", MimeType: "text/html", Status: 200}); err != nil {
		t.Fatal(err)
	}
	seq, err := b.Commit(ctx)
	if err != nil {
		t.Fatal(err)
	}
	return seq
}

func TestGetUpdatesSinceReturnsInOrder(t *testing.T) {
	idx := kvstore.OpenMemory(t, "test")
	ctx := context.Background()

	seq1 := commitCapture(t, idx, "com,a)/", 1)
	seq2 := commitCapture(t, idx, "com,b)/", 1)
	seq3 := commitCapture(t, idx, "com,c)/", 1)

	entries, err := changefeed.GetUpdatesSince(ctx, idx, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if entries[0].SequenceNumber != seq1 || entries[1].SequenceNumber != seq2 || entries[2].SequenceNumber != seq3 {
		t.Fatalf("entries out of order: %+v", entries)
	}
}

func TestGetUpdatesSinceResumesFromCursor(t *testing.T) {
	idx := kvstore.OpenMemory(t, "test")
	ctx := context.Background()

	seq1 := commitCapture(t, idx, "com,a)/", 1)
	seq2 := commitCapture(t, idx, "com,b)/", 1)

	entries, err := changefeed.GetUpdatesSince(ctx, idx, seq1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].SequenceNumber != seq2 {
		t.Fatalf("got %+v, want single entry at seq %d", entries, seq2)
	}
}

func TestGetUpdatesSinceAlwaysEmitsAtLeastOneEntry(t *testing.T) {
	idx := kvstore.OpenMemory(t, "test")
	ctx := context.Background()

	commitCapture(t, idx, "com,a)/", 1)
	commitCapture(t, idx, "com,b)/", 1)

	entries, err := changefeed.GetUpdatesSince(ctx, idx, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want exactly 1 despite tiny size budget", len(entries))
	}
}

func TestGetUpdatesSinceEmptyFeed(t *testing.T) {
	idx := kvstore.OpenMemory(t, "test")
	entries, err := changefeed.GetUpdatesSince(context.Background(), idx, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("got %d entries, want 0 on empty feed", len(entries))
	}
}

func TestGetUpdatesSinceFeedsSecondaryToByteEquivalence(t *testing.T) {
	primary := kvstore.OpenMemory(t, "primary")
	secondary := kvstore.OpenMemory(t, "secondary")
	ctx := context.Background()

	commitCapture(t, primary, "com,a)/", 1)
	commitCapture(t, primary, "com,b)/", 1)
	commitCapture(t, primary, "com,a)/", 2)

	entries, err := changefeed.GetUpdatesSince(ctx, primary, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		raw, err := base64.StdEncoding.DecodeString(e.WriteBatch)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := secondary.ApplyRawBatch(ctx, raw); err != nil {
			t.Fatal(err)
		}
	}

	lower := record.EncodeCaptureKey(record.Capture{})
	it, err := secondary.CapturesAfter(ctx, lower, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer it.Close()
	var got []string
	for it.Next() {
		c := it.Capture()
		got = append(got, c.URLKey)
	}
	if len(got) != 3 {
		t.Fatalf("got %d captures on secondary, want 3: %v", len(got), got)
	}
}

func TestEntrySequenceNumberMarshalsAsString(t *testing.T) {
	e := changefeed.Entry{SequenceNumber: 1 << 62, WriteBatch: "YWJj"}
	raw, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"sequenceNumber":"4611686018427387904","writeBatch":"YWJj"}`
	if string(raw) != want {
		t.Fatalf("got %s, want %s", raw, want)
	}

	var got changefeed.Entry
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatal(err)
	}
	if got != e {
		t.Fatalf("got %+v, want %+v", got, e)
	}
}

func TestGetUpdatesSinceTruncated(t *testing.T) {
	idx := kvstore.OpenMemory(t, "test")
	ctx := context.Background()

	commitCapture(t, idx, "com,a)/", 1)
	commitCapture(t, idx, "com,b)/", 1)
	if err := idx.FlushWal(ctx, -time.Second); err != nil { // force-expire everything but the tail
		t.Fatal(err)
	}

	_, err := changefeed.GetUpdatesSince(ctx, idx, 0, 0)
	if !errors.Is(err, apierr.ErrSequenceTruncated) {
		t.Fatalf("GetUpdatesSince() error = %v, want ErrSequenceTruncated", err)
	}
}
