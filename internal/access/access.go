// Package access implements Component E: access rules and policies that
// gate whether a given access point may see a capture. Rules and policies
// live in the same ordered store as captures (Component C), under their
// own namespace bytes, so a collection's access-control state travels with
// it on backup/restore and through the same write-batch/change-feed path
// as everything else.
package access

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/outbackwave/cdxindex/idgen"
	"github.com/outbackwave/cdxindex/internal/apierr"
	"github.com/outbackwave/cdxindex/internal/canon"
	"github.com/outbackwave/cdxindex/internal/kvstore"
	"github.com/outbackwave/cdxindex/internal/record"
)

// Store provides CRUD over access rules and policies and evaluates
// check_access against them for one collection.
type Store struct {
	idx   *kvstore.Index
	canon *canon.Canonicalizer
	gen   idgen.Generator
}

// New returns a Store backed by idx, using c to compute SURT keys for
// check_access and idgen.UUIDv7 for rule/policy IDs.
func New(idx *kvstore.Index, c *canon.Canonicalizer) *Store {
	return &Store{idx: idx, canon: c, gen: idgen.UUIDv7()}
}

// Decision is the outcome of check_access for one (access point, url,
// capture time, access time) query.
type Decision struct {
	Allowed       bool
	RuleID        string
	PolicyID      string
	PublicComment string
}

// Query bundles one check_access_bulk input.
type Query struct {
	AccessPoint string
	URL         string
	CaptureTime int64
	AccessTime  int64
}

// ListRules returns every access rule in the collection.
func (s *Store) ListRules(ctx context.Context) ([]record.AccessRule, error) {
	return s.idx.ListRules(ctx)
}

// Rule looks up a single access rule by ID.
func (s *Store) Rule(ctx context.Context, id string) (record.AccessRule, bool, error) {
	return s.idx.Rule(ctx, id)
}

// PutRule validates r, assigns an ID and audit timestamps if new, and
// commits it. Returns every violation found rather than stopping at the
// first, so a client can fix a rule in one round trip.
func (s *Store) PutRule(ctx context.Context, r record.AccessRule) (string, error) {
	violations, err := s.validateRule(ctx, r)
	if err != nil {
		return "", err
	}
	if len(violations) > 0 {
		return "", &apierr.ValidationError{Violations: violations}
	}

	now := time.Now().Unix()
	if r.ID == "" {
		r.ID = s.gen()
		r.Created = now
	} else if existing, ok, err := s.idx.Rule(ctx, r.ID); err != nil {
		return "", err
	} else if ok {
		r.Created = existing.Created
	} else {
		r.Created = now
	}
	r.Modified = now

	b, err := s.idx.BeginUpdate(ctx)
	if err != nil {
		return "", err
	}
	defer b.Discard()
	if err := b.PutRule(r); err != nil {
		return "", err
	}
	if _, err := b.Commit(ctx); err != nil {
		return "", err
	}
	return r.ID, nil
}

// DeleteRule removes an access rule by ID, reporting whether one existed.
func (s *Store) DeleteRule(ctx context.Context, id string) (bool, error) {
	_, ok, err := s.idx.Rule(ctx, id)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	b, err := s.idx.BeginUpdate(ctx)
	if err != nil {
		return false, err
	}
	defer b.Discard()
	if err := b.DeleteRule(id); err != nil {
		return false, err
	}
	_, err = b.Commit(ctx)
	return err == nil, err
}

// ListPolicies returns every access policy in the collection.
func (s *Store) ListPolicies(ctx context.Context) ([]record.AccessPolicy, error) {
	return s.idx.ListPolicies(ctx)
}

// Policy looks up a single access policy by ID.
func (s *Store) Policy(ctx context.Context, id string) (record.AccessPolicy, bool, error) {
	return s.idx.Policy(ctx, id)
}

// PutPolicy upserts a policy, assigning an ID if new.
func (s *Store) PutPolicy(ctx context.Context, p record.AccessPolicy) (string, error) {
	if p.ID == "" {
		p.ID = s.gen()
	}
	b, err := s.idx.BeginUpdate(ctx)
	if err != nil {
		return "", err
	}
	defer b.Discard()
	if err := b.PutPolicy(p); err != nil {
		return "", err
	}
	if _, err := b.Commit(ctx); err != nil {
		return "", err
	}
	return p.ID, nil
}

// validateRule collects every violation in r without short-circuiting:
// malformed SURT prefixes, an inverted period or access_period, and a
// policy_id that names no stored policy.
func (s *Store) validateRule(ctx context.Context, r record.AccessRule) ([]string, error) {
	var violations []string

	if r.PolicyID == "" {
		violations = append(violations, "policy_id is required")
	} else {
		_, ok, err := s.idx.Policy(ctx, r.PolicyID)
		if err != nil {
			return nil, err
		}
		if !ok {
			violations = append(violations, "policy_id references a policy that does not exist: "+r.PolicyID)
		}
	}

	for _, surt := range r.Surts {
		if !validSurtPrefix(surt) {
			violations = append(violations, "malformed surt prefix: "+surt)
		}
	}

	if invertedPeriod(r.PeriodStart, r.PeriodEnd) {
		violations = append(violations, "period is inverted: start is after end")
	}
	if invertedPeriod(r.AccessPeriodStart, r.AccessPeriodEnd) {
		violations = append(violations, "access_period is inverted: start is after end")
	}

	return violations, nil
}

func invertedPeriod(start, end *int64) bool {
	return start != nil && end != nil && *start > *end
}

// validSurtPrefix rejects control characters and whitespace; an empty
// string is a valid prefix (matches everything), but garbage bytes that
// could never appear in a canonicalized SURT are not.
func validSurtPrefix(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x20 || c == 0x7f {
			return false
		}
	}
	return !strings.ContainsAny(s, " \t\n\r")
}

// CheckAccess resolves the decision for one (access point, url, capture
// time, access time) tuple: find every rule whose surts prefix-matches the
// url's SURT key and whose windows contain the two times, take the most
// specific (pinned, then longest prefix, then lowest id) match, and
// resolve its policy. A url matching no rule is allowed.
func (s *Store) CheckAccess(ctx context.Context, q Query) (Decision, error) {
	key, err := s.canon.Surt(q.URL)
	if err != nil {
		return Decision{}, err
	}
	rules, err := s.idx.ListRules(ctx)
	if err != nil {
		return Decision{}, err
	}

	type candidate struct {
		rule      record.AccessRule
		prefixLen int
	}
	var matches []candidate
	for _, r := range rules {
		prefixLen, ok := matchSurts(r.Surts, key)
		if !ok {
			continue
		}
		if r.PeriodStart != nil && q.CaptureTime < *r.PeriodStart {
			continue
		}
		if r.PeriodEnd != nil && q.CaptureTime > *r.PeriodEnd {
			continue
		}
		if r.AccessPeriodStart != nil && q.AccessTime < *r.AccessPeriodStart {
			continue
		}
		if r.AccessPeriodEnd != nil && q.AccessTime > *r.AccessPeriodEnd {
			continue
		}
		matches = append(matches, candidate{rule: r, prefixLen: prefixLen})
	}
	if len(matches) == 0 {
		return Decision{Allowed: true}, nil
	}

	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.rule.Pinned != b.rule.Pinned {
			return a.rule.Pinned
		}
		if a.prefixLen != b.prefixLen {
			return a.prefixLen > b.prefixLen
		}
		return a.rule.ID < b.rule.ID
	})

	winner := matches[0].rule
	policy, ok, err := s.idx.Policy(ctx, winner.PolicyID)
	if err != nil {
		return Decision{}, err
	}
	allowed := false
	if ok {
		allowed = policy.AccessPoints[q.AccessPoint]
	}
	return Decision{
		Allowed:       allowed,
		RuleID:        winner.ID,
		PolicyID:      winner.PolicyID,
		PublicComment: winner.PublicComment,
	}, nil
}

// CheckAccessBulk applies CheckAccess to every query, preserving input
// order in the result.
func (s *Store) CheckAccessBulk(ctx context.Context, queries []Query) ([]Decision, error) {
	decisions := make([]Decision, len(queries))
	for i, q := range queries {
		d, err := s.CheckAccess(ctx, q)
		if err != nil {
			return nil, err
		}
		decisions[i] = d
	}
	return decisions, nil
}

// matchSurts reports whether key matches rule's surts list (or the list is
// empty, matching everything) and the length of the longest matching
// prefix, used to rank specificity.
func matchSurts(surts []string, key string) (prefixLen int, ok bool) {
	if len(surts) == 0 {
		return 0, true
	}
	best := -1
	for _, prefix := range surts {
		if strings.HasPrefix(key, prefix) && len(prefix) > best {
			best = len(prefix)
		}
	}
	if best < 0 {
		return 0, false
	}
	return best, true
}
