// Package datastore implements Component G: the collection registry a
// running server holds one of, mapping collection names to lazily-opened
// kvstore.Index handles. Every collection's SQLite file lives directly
// under one data directory, discovered from the directory listing so a
// restarted server picks back up every collection an admin created
// earlier without a separate manifest file.
package datastore

import (
	"context"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/outbackwave/cdxindex/internal/apierr"
	"github.com/outbackwave/cdxindex/internal/kvstore"
	"github.com/outbackwave/cdxindex/safety"
)

// DataStore is the registry of open collections for one server process.
// Many readers, single writer on open/close: RLock covers a lookup of an
// already-open handle, Lock covers opening or closing one.
type DataStore struct {
	dataDir string
	mu      sync.RWMutex
	open    map[string]*kvstore.Index
}

// New returns a DataStore rooted at dataDir. dataDir is created if absent.
func New(dataDir string) (*DataStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, apierr.Storage("create data dir", err)
	}
	return &DataStore{dataDir: dataDir, open: make(map[string]*kvstore.Index)}, nil
}

// Get returns the open handle for name, opening it from disk (or creating
// it, if create is true and no file exists yet) if it is not already open.
// At most one handle per name is ever live; concurrent callers requesting
// the same absent collection race on the write lock, and only one of them
// opens the file.
func (ds *DataStore) Get(ctx context.Context, name string, create bool) (*kvstore.Index, error) {
	if err := safety.ValidCollectionName(name); err != nil {
		return nil, apierr.BadRequest("invalid collection name %q: %v", name, err)
	}

	ds.mu.RLock()
	idx, ok := ds.open[name]
	ds.mu.RUnlock()
	if ok {
		return idx, nil
	}

	ds.mu.Lock()
	defer ds.mu.Unlock()
	if idx, ok := ds.open[name]; ok {
		return idx, nil
	}

	dbPath, err := ds.dbPath(name)
	if err != nil {
		return nil, apierr.BadRequest("invalid collection name %q: %v", name, err)
	}

	if !create {
		if _, err := os.Stat(dbPath); err != nil {
			return nil, apierr.NotFound("collection %q", name)
		}
	}

	idx, err = kvstore.Open(ds.dataDir, name)
	if err != nil {
		return nil, err
	}
	ds.open[name] = idx
	return idx, nil
}

// List enumerates every collection with a database file under dataDir,
// including ones never opened this process, in sorted order.
func (ds *DataStore) List() ([]string, error) {
	entries, err := os.ReadDir(ds.dataDir)
	if err != nil {
		return nil, apierr.Storage("list data dir", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if name, ok := strings.CutSuffix(e.Name(), ".db"); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Close closes every open handle. Safe to call once at server shutdown.
func (ds *DataStore) Close() error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	var firstErr error
	for name, idx := range ds.open {
		if err := idx.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(ds.open, name)
	}
	return firstErr
}

// dbPath resolves name to its SQLite file path under dataDir, rejecting
// anything that would escape it. ValidCollectionName already rejects the
// character classes that make traversal possible, but SafePath is the
// shared guard for every path built from user input in this server, so
// collection names go through it too rather than a second, ad hoc check.
func (ds *DataStore) dbPath(name string) (string, error) {
	return safety.SafePath(ds.dataDir, name+".db")
}
