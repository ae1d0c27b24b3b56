package httpapi

import (
	"net/http"
	"strconv"

	"github.com/outbackwave/cdxindex/internal/apierr"
	"github.com/outbackwave/cdxindex/internal/kvstore"
	"github.com/outbackwave/cdxindex/internal/query"
	"github.com/outbackwave/cdxindex/internal/record"
)

const defaultDumpLimit = 10000

func dumpLimit(r *http.Request) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return defaultDumpLimit, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, apierr.BadRequest("invalid limit %q", s)
	}
	return n, nil
}

// dumpCaptures implements "GET /<coll>/captures": a raw scan over the
// capture keyspace, for backup/restore and secondary bootstrapping rather
// than lookup by url.
func (h *handler) dumpCaptures(w http.ResponseWriter, r *http.Request) {
	idx, _, err := h.getIndex(r, false)
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := dumpLimit(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var lower []byte
	if key := r.URL.Query().Get("key"); key != "" {
		lower = record.CaptureURLKeyBound(key)
	} else {
		lower = []byte{record.NamespaceCapture}
	}
	upper := kvstore.PrefixUpperBound([]byte{record.NamespaceCapture})

	iter, err := idx.CapturesAfter(r.Context(), lower, upper)
	if err != nil {
		writeError(w, err)
		return
	}
	defer iter.Close()

	fields := query.FieldsFor(nil, h.deps.Config.CDX14)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	n := 0
	for n < limit && iter.Next() {
		w.Write([]byte(query.RenderCDXLine(iter.Capture(), fields)))
		w.Write([]byte("\n"))
		n++
	}
	if err := iter.Err(); err != nil {
		writeError(w, err)
	}
}

// dumpAliases implements "GET /<coll>/aliases": every alias whose SURT
// starts with the key parameter, or every alias if key is absent.
func (h *handler) dumpAliases(w http.ResponseWriter, r *http.Request) {
	idx, _, err := h.getIndex(r, false)
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := dumpLimit(r)
	if err != nil {
		writeError(w, err)
		return
	}

	prefix := []byte(r.URL.Query().Get("key"))
	iter, err := idx.ListAliases(r.Context(), prefix)
	if err != nil {
		writeError(w, err)
		return
	}
	defer iter.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	n := 0
	for n < limit && iter.Next() {
		a := iter.Alias()
		aliasURL, err := h.deps.Canon.SurtToURL(a.AliasSURT)
		if err != nil {
			aliasURL = a.AliasSURT
		}
		targetURL, err := h.deps.Canon.SurtToURL(a.TargetSURT)
		if err != nil {
			targetURL = a.TargetSURT
		}
		w.Write([]byte("@alias " + aliasURL + " " + targetURL + "\n"))
		n++
	}
	if err := iter.Err(); err != nil {
		writeError(w, err)
	}
}
