package httpapi

import (
	"net/http"
	"strconv"

	"github.com/outbackwave/cdxindex/internal/apierr"
	"github.com/outbackwave/cdxindex/internal/query"
)

// queryOrStats implements "GET /<coll>": a query if url or urlkey is
// present, collection stats otherwise.
func (h *handler) queryOrStats(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query()
	if v.Get("url") == "" && v.Get("urlkey") == "" {
		h.stats(w, r)
		return
	}
	h.runQuery(w, r)
}

func (h *handler) runQuery(w http.ResponseWriter, r *http.Request) {
	idx, _, err := h.getIndex(r, false)
	if err != nil {
		writeError(w, err)
		return
	}

	params := query.ParamsFromValues(r.URL.Query())
	q, err := query.Parse(params, h.deps.PluginFilters...)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := query.Execute(r.Context(), idx, h.deps.Canon, q, h.deps.Config.CDXPlusWorkaround)
	if err != nil {
		writeError(w, err)
		return
	}

	fields := query.FieldsFor(q.Fl, h.deps.Config.CDX14)
	switch q.Output {
	case query.OutputJSON:
		body, err := query.RenderJSON(res.Captures, fields)
		if err != nil {
			writeError(w, apierr.Storage("render json", err))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	default:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		for _, c := range res.Captures {
			w.Write([]byte(query.RenderCDXLine(c, fields)))
			w.Write([]byte("\n"))
		}
	}
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	idx, name, err := h.getIndex(r, false)
	if err != nil {
		writeError(w, err)
		return
	}
	count, err := idx.EstimatedRecordCount(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	seq, err := idx.LatestSequenceNumber(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":                 name,
		"estimatedRecordCount": count,
		"latestSequenceNumber": seq,
	})
}

func (h *handler) listCollections(w http.ResponseWriter, r *http.Request) {
	names, err := h.deps.Store.List()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func (h *handler) sequence(w http.ResponseWriter, r *http.Request) {
	idx, _, err := h.getIndex(r, false)
	if err != nil {
		writeError(w, err)
		return
	}
	seq, err := idx.LatestSequenceNumber(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(strconv.FormatUint(seq, 10)))
}
