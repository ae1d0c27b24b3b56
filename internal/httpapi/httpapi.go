// Package httpapi implements the HTTP surface described by the server's
// route table: collection listing, query, ingest, delete, raw dumps, the
// change feed, and access rule/policy CRUD, wired behind the shared
// security middleware stack and admin bearer auth on every mutating route.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/outbackwave/cdxindex/auth"
	"github.com/outbackwave/cdxindex/internal/canon"
	"github.com/outbackwave/cdxindex/internal/config"
	"github.com/outbackwave/cdxindex/internal/datastore"
	"github.com/outbackwave/cdxindex/internal/kvstore"
	"github.com/outbackwave/cdxindex/internal/query"
	"github.com/outbackwave/cdxindex/observability"
	"github.com/outbackwave/cdxindex/shield"
)

// Deps are the dependencies the router needs, gathered by the CLI
// entrypoint at startup.
type Deps struct {
	Store             *datastore.DataStore
	Config            config.Config
	Canon             *canon.Canonicalizer
	JWTSecret         []byte
	AdminPasswordHash []byte
	Events            *observability.EventLogger
	Shield            []func(http.Handler) http.Handler
	// PluginFilters is the host application's explicit filter= plugin
	// list, passed to query.Parse verbatim. Empty by default.
	PluginFilters []query.PluginFilterFactory
}

// NewRouter builds the full chi router: the shared security stack applied
// to every request, then routes grouped by whether they mutate state.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	for _, mw := range d.Shield {
		r.Use(mw)
	}
	r.Use(corsHeader)

	h := &handler{deps: d}

	r.Get("/api/collections", h.listCollections)
	r.Post("/api/admin/login", h.login)

	r.Route("/{coll}", func(r chi.Router) {
		r.Get("/", h.queryOrStats)
		r.Get("/stats", h.stats)
		r.Get("/captures", h.dumpCaptures)
		r.Get("/aliases", h.dumpAliases)
		r.Get("/changes", h.changes)
		r.Get("/sequence", h.sequence)

		r.Get("/access/rules", h.listRules)
		r.Get("/access/rules/{id}", h.getRule)
		r.Get("/access/policies", h.listPolicies)
		r.Get("/access/policies/{id}", h.getPolicy)
		r.Get("/access/check", h.checkAccess)

		r.Group(func(r chi.Router) {
			if len(d.JWTSecret) > 0 {
				r.Use(auth.RequireAdmin(d.JWTSecret))
			}
			r.Post("/", h.ingest)
			r.Post("/delete", h.bulkDelete)
			r.Post("/truncate_replication", h.truncateReplication)
			r.Post("/compact", h.compact)
			r.Post("/upgrade", h.upgrade)
			r.Put("/access/rules/{id}", h.putRule)
			r.Post("/access/rules", h.putRule)
			r.Delete("/access/rules/{id}", h.deleteRule)
			r.Put("/access/policies/{id}", h.putPolicy)
			r.Post("/access/policies", h.putPolicy)
		})
	})

	return r
}

type handler struct {
	deps Deps
}

func corsHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

// getIndex resolves the {coll} URL parameter to an open collection,
// creating it lazily only for the mutating ingest path.
func (h *handler) getIndex(r *http.Request, create bool) (*kvstore.Index, string, error) {
	name := chi.URLParam(r, "coll")
	idx, err := h.deps.Store.Get(r.Context(), name, create)
	return idx, name, err
}

// logEvent records a business event for a mutating request, attributing it
// to the admin principal that authorized it when the request went through
// auth.RequireAdmin (auth.GetClaims returns nil on an ungated server).
func (h *handler) logEvent(r *http.Request, action, entityID string, success bool) {
	if h.deps.Events == nil {
		return
	}
	event := observability.BusinessEvent{
		EventType:   "cdxindex",
		ServiceName: "httpapi",
		EntityType:  "collection",
		EntityID:    entityID,
		Action:      action,
		Success:     success,
	}
	if claims := auth.GetClaims(r.Context()); claims != nil {
		if details, err := json.Marshal(map[string]string{"role": claims.Role, "subject": claims.Subject}); err == nil {
			event.Details = string(details)
		}
	}
	h.deps.Events.LogEvent(r.Context(), event)
}

func (h *handler) logger(r *http.Request) *slog.Logger {
	return shield.GetLogger(r.Context())
}
