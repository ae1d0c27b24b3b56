package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/outbackwave/cdxindex/internal/access"
	"github.com/outbackwave/cdxindex/internal/apierr"
	"github.com/outbackwave/cdxindex/internal/record"
)

func (h *handler) accessStore(r *http.Request) (*access.Store, string, error) {
	idx, name, err := h.getIndex(r, false)
	if err != nil {
		return nil, name, err
	}
	return access.New(idx, h.deps.Canon), name, nil
}

func (h *handler) listRules(w http.ResponseWriter, r *http.Request) {
	s, _, err := h.accessStore(r)
	if err != nil {
		writeError(w, err)
		return
	}
	rules, err := s.ListRules(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

func (h *handler) getRule(w http.ResponseWriter, r *http.Request) {
	s, _, err := h.accessStore(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	rule, ok, err := s.Rule(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, apierr.NotFound("access rule %q", id))
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *handler) putRule(w http.ResponseWriter, r *http.Request) {
	if h.deps.Config.SecondaryMode {
		writeError(w, apierr.Forbidden("write on read-only secondary"))
		return
	}
	s, name, err := h.accessStore(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var rule record.AccessRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, apierr.BadRequest("decode access rule: %v", err))
		return
	}
	if id := chi.URLParam(r, "id"); id != "" {
		rule.ID = id
	}

	id, err := s.PutRule(r.Context(), rule)
	if err != nil {
		writeError(w, err)
		return
	}
	h.logEvent(r, "put-rule", name, true)
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (h *handler) deleteRule(w http.ResponseWriter, r *http.Request) {
	if h.deps.Config.SecondaryMode {
		writeError(w, apierr.Forbidden("write on read-only secondary"))
		return
	}
	s, name, err := h.accessStore(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	ok, err := s.DeleteRule(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, apierr.NotFound("access rule %q", id))
		return
	}
	h.logEvent(r, "delete-rule", name, true)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listPolicies(w http.ResponseWriter, r *http.Request) {
	s, _, err := h.accessStore(r)
	if err != nil {
		writeError(w, err)
		return
	}
	policies, err := s.ListPolicies(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policies)
}

func (h *handler) getPolicy(w http.ResponseWriter, r *http.Request) {
	s, _, err := h.accessStore(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	policy, ok, err := s.Policy(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, apierr.NotFound("access policy %q", id))
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

func (h *handler) putPolicy(w http.ResponseWriter, r *http.Request) {
	if h.deps.Config.SecondaryMode {
		writeError(w, apierr.Forbidden("write on read-only secondary"))
		return
	}
	s, name, err := h.accessStore(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var policy record.AccessPolicy
	if err := json.NewDecoder(r.Body).Decode(&policy); err != nil {
		writeError(w, apierr.BadRequest("decode access policy: %v", err))
		return
	}
	if id := chi.URLParam(r, "id"); id != "" {
		policy.ID = id
	}

	id, err := s.PutPolicy(r.Context(), policy)
	if err != nil {
		writeError(w, err)
		return
	}
	h.logEvent(r, "put-policy", name, true)
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

// checkAccess implements "GET /<coll>/access/check": one check_access
// evaluation against the collection's current rules and policies.
func (h *handler) checkAccess(w http.ResponseWriter, r *http.Request) {
	s, _, err := h.accessStore(r)
	if err != nil {
		writeError(w, err)
		return
	}

	v := r.URL.Query()
	q := access.Query{
		AccessPoint: v.Get("accesspoint"),
		URL:         v.Get("url"),
	}
	if ts := v.Get("timestamp"); ts != "" {
		n, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			writeError(w, apierr.BadRequest("invalid timestamp %q", ts))
			return
		}
		q.CaptureTime = n
	}
	q.AccessTime = time.Now().Unix()
	if at := v.Get("accesstime"); at != "" {
		n, err := strconv.ParseInt(at, 10, 64)
		if err != nil {
			writeError(w, apierr.BadRequest("invalid accesstime %q", at))
			return
		}
		q.AccessTime = n
	}

	decision, err := s.CheckAccess(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}
