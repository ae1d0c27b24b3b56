package query

import (
	"context"

	"github.com/outbackwave/cdxindex/internal/canon"
	"github.com/outbackwave/cdxindex/internal/kvstore"
	"github.com/outbackwave/cdxindex/internal/record"
)

// Plan is the concrete scan this query compiles to: a key range, an
// iteration order, and the effective urlkey the response should report
// back to the client (which may differ from the requested one after
// alias substitution).
type Plan struct {
	Lower           []byte
	Upper           []byte
	Reverse         bool
	Closest         bool // merge a forward and a reverse scan around Closest
	ClosestAnchor   []byte
	RequestedURLKey string
	EffectiveURLKey string
	AliasRewrite    bool
}

// resolveURLKey computes the urlkey to scan on. A client-supplied urlkey
// is used verbatim and never re-canonicalized: if it was produced by a
// different canonicalizer version than this server's, records may
// silently fail to match, which is accepted as documented behaviour
// rather than something the server can safely second-guess.
func (q *Query) resolveURLKey(c *canon.Canonicalizer) (string, error) {
	if q.URLKey != "" {
		return q.URLKey, nil
	}
	switch q.MatchType {
	case MatchHost:
		return c.SurtHost(q.URL)
	case MatchDomain:
		return c.SurtDomain(q.URL)
	default:
		return c.SurtForCapture(q.URL, q.Method, q.RequestBody)
	}
}

// Build compiles the query into a Plan, resolving aliases along the way:
// if the requested urlkey (or a RANGE query's from-url) has a registered
// alias, the plan scans the alias target and the response should rewrite
// results back to the requested key before they reach the client.
func (q *Query) Build(ctx context.Context, idx *kvstore.Index, c *canon.Canonicalizer) (*Plan, error) {
	if q.MatchType == MatchRange {
		return q.buildRange(ctx, idx, c)
	}

	requested, err := q.resolveURLKey(c)
	if err != nil {
		return nil, err
	}
	effective, rewrite, err := resolveAlias(ctx, idx, requested)
	if err != nil {
		return nil, err
	}

	plan := &Plan{RequestedURLKey: requested, EffectiveURLKey: effective, AliasRewrite: rewrite}

	switch q.MatchType {
	case MatchExact:
		lower := append(record.CaptureURLKeyBound(effective), 0x00)
		plan.Lower = lower
		plan.Upper = kvstore.PrefixUpperBound(lower)
		if q.Sort == SortClosest {
			plan.Closest = true
			plan.ClosestAnchor = record.EncodeCaptureKey(record.Capture{URLKey: effective, Timestamp: q.Closest})
		}
		plan.Reverse = q.Sort == SortReverse
	case MatchPrefix:
		lower := record.CaptureURLKeyBound(effective)
		plan.Lower = lower
		plan.Upper = kvstore.PrefixUpperBound(lower)
	case MatchHost:
		lower := record.CaptureURLKeyBound(effective + ")")
		plan.Lower = lower
		plan.Upper = kvstore.PrefixUpperBound(lower)
	case MatchDomain:
		// A domain match covers the apex (urlkey prefix "example)") and
		// every subdomain (urlkey prefix "example,"); the two prefixes
		// are adjacent under this encoding, so the scan starts at the
		// apex and runs to the upper bound of the subdomain range.
		plan.Lower = record.CaptureURLKeyBound(effective + ")")
		plan.Upper = kvstore.PrefixUpperBound(record.CaptureURLKeyBound(effective + ","))
	}
	return plan, nil
}

func (q *Query) buildRange(ctx context.Context, idx *kvstore.Index, c *canon.Canonicalizer) (*Plan, error) {
	fromKey, err := c.Surt(q.RangeFromURL)
	if err != nil {
		return nil, err
	}
	toKey, err := c.Surt(q.RangeToURL)
	if err != nil {
		return nil, err
	}
	effective, rewrite, err := resolveAlias(ctx, idx, fromKey)
	if err != nil {
		return nil, err
	}
	return &Plan{
		Lower:           record.CaptureURLKeyBound(effective),
		Upper:           record.CaptureURLKeyBound(toKey),
		RequestedURLKey: fromKey,
		EffectiveURLKey: effective,
		AliasRewrite:    rewrite,
	}, nil
}

// resolveAlias follows at most one hop, per the alias invariant.
func resolveAlias(ctx context.Context, idx *kvstore.Index, urlkey string) (effective string, rewrite bool, err error) {
	target, ok, err := idx.ResolveAlias(ctx, urlkey)
	if err != nil {
		return "", false, err
	}
	if !ok {
		return urlkey, false, nil
	}
	return target, true, nil
}
