// Package serverboot wires a resolved config.Config into a runnable HTTP
// handler: it opens the collection registry and the shared metadata
// database, builds the security middleware stack, and returns
// httpapi.NewRouter's handler along with everything the caller must close
// on shutdown.
package serverboot

import (
	"crypto/sha256"
	"database/sql"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/outbackwave/cdxindex/dbopen"
	"github.com/outbackwave/cdxindex/idgen"
	"github.com/outbackwave/cdxindex/internal/canon"
	"github.com/outbackwave/cdxindex/internal/config"
	"github.com/outbackwave/cdxindex/internal/datastore"
	"github.com/outbackwave/cdxindex/internal/httpapi"
	"github.com/outbackwave/cdxindex/observability"
	"github.com/outbackwave/cdxindex/shield"
)

const metaSchema = `
CREATE TABLE IF NOT EXISTS rate_limits (
    endpoint TEXT PRIMARY KEY,
    max_requests INTEGER NOT NULL DEFAULT 60,
    window_seconds INTEGER NOT NULL DEFAULT 60,
    enabled INTEGER NOT NULL DEFAULT 1
);
`

// Server bundles the running pieces a CLI entrypoint needs to serve
// traffic and shut down cleanly.
type Server struct {
	Handler http.Handler
	Store   *datastore.DataStore
	MetaDB  *sql.DB
	Events  *observability.EventLogger
}

// Close releases every resource Boot opened, in reverse acquisition order.
// The event logger holds no resources of its own beyond MetaDB, so it
// needs no separate close step.
func (s *Server) Close() error {
	var firstErr error
	if err := s.Store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.MetaDB.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Boot opens the collection registry and metadata database under
// cfg.DataDir and assembles the HTTP router. jwtSecret and
// adminPasswordHash may be nil to run with admin auth disabled (useful
// for a read-only secondary with no write endpoints to gate).
func Boot(cfg config.Config, jwtSecret, adminPasswordHash []byte) (*Server, error) {
	store, err := datastore.New(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open collection registry: %w", err)
	}

	metaPath := filepath.Join(cfg.DataDir, "_meta.db")
	metaDB, err := dbopen.Open(metaPath, dbopen.WithMkdirAll(), dbopen.WithSchema(metaSchema))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open metadata db: %w", err)
	}
	if err := observability.Init(metaDB); err != nil {
		metaDB.Close()
		store.Close()
		return nil, fmt.Errorf("init observability schema: %w", err)
	}

	// "evt_" matches NewEventLogger's own default; spelled out here so an
	// operator who wants a different event-ID scheme has a single place to
	// change it without touching the observability package.
	events := observability.NewEventLogger(metaDB, observability.WithEventIDGenerator(idgen.Prefixed("evt_", idgen.Default)))

	deps := httpapi.Deps{
		Store:             store,
		Config:            cfg,
		Canon:             canon.New(canon.DefaultConfig()),
		JWTSecret:         jwtSecret,
		AdminPasswordHash: adminPasswordHash,
		Events:            events,
		Shield:            shield.DefaultStack(metaDB),
	}

	return &Server{
		Handler: httpapi.NewRouter(deps),
		Store:   store,
		MetaDB:  metaDB,
		Events:  events,
	}, nil
}

// DeriveJWTSecret hashes an operator-supplied passphrase into a
// fixed-length secret suitable for auth.GenerateToken/RequireAdmin, the
// same way a raw environment-variable secret is stretched to a safe
// length elsewhere in the stack.
func DeriveJWTSecret(passphrase string) []byte {
	sum := sha256.Sum256([]byte(passphrase))
	return sum[:]
}
