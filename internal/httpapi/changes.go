package httpapi

import (
	"net/http"
	"strconv"

	"github.com/outbackwave/cdxindex/internal/apierr"
	"github.com/outbackwave/cdxindex/internal/changefeed"
)

// changes implements "GET /<coll>/changes": the secondary-side poll for
// new write batches since a given sequence number.
func (h *handler) changes(w http.ResponseWriter, r *http.Request) {
	idx, _, err := h.getIndex(r, false)
	if err != nil {
		writeError(w, err)
		return
	}

	q := r.URL.Query()
	var since uint64
	if s := q.Get("since"); s != "" {
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			writeError(w, apierr.BadRequest("invalid since %q", s))
			return
		}
		since = n
	}
	size := 0
	if s := q.Get("size"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, apierr.BadRequest("invalid size %q", s))
			return
		}
		size = n
	}

	entries, err := changefeed.GetUpdatesSince(r.Context(), idx, since, size)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
