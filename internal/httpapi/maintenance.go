package httpapi

import (
	"net/http"
	"time"

	"github.com/outbackwave/cdxindex/internal/apierr"
)

// walRetention is how long committed batches stay in the write-ahead log
// after truncate_replication runs, giving a lagging secondary a grace
// window before its next poll hits apierr.ErrSequenceTruncated.
const walRetention = 24 * time.Hour

func (h *handler) truncateReplication(w http.ResponseWriter, r *http.Request) {
	if h.deps.Config.SecondaryMode {
		writeError(w, apierr.Forbidden("write on read-only secondary"))
		return
	}
	idx, name, err := h.getIndex(r, false)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := idx.FlushWal(r.Context(), walRetention); err != nil {
		writeError(w, err)
		return
	}
	h.logEvent(r, "truncate-replication", name, true)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) compact(w http.ResponseWriter, r *http.Request) {
	if h.deps.Config.SecondaryMode {
		writeError(w, apierr.Forbidden("write on read-only secondary"))
		return
	}
	idx, name, err := h.getIndex(r, false)
	if err != nil {
		writeError(w, err)
		return
	}
	started := idx.CompactInBackground()
	if !started {
		writeError(w, apierr.BadRequest("compaction already running for %q", name))
		return
	}
	h.logEvent(r, "compact", name, true)
	writeJSON(w, http.StatusAccepted, map[string]bool{"started": started})
}

func (h *handler) upgrade(w http.ResponseWriter, r *http.Request) {
	if h.deps.Config.SecondaryMode {
		writeError(w, apierr.Forbidden("write on read-only secondary"))
		return
	}
	idx, name, err := h.getIndex(r, false)
	if err != nil {
		writeError(w, err)
		return
	}
	started := idx.UpgradeInBackground()
	if !started {
		writeError(w, apierr.BadRequest("upgrade already running for %q", name))
		return
	}
	h.logEvent(r, "upgrade", name, true)
	writeJSON(w, http.StatusAccepted, map[string]bool{"started": started})
}
