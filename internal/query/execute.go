// execute.go implements the query pipeline: raw_iter -> timestamp_window ->
// user_filters -> omit_self_redirects -> collapse -> limit -> serialize.
// Collapse sits just before limit; everything upstream of it is a
// stateless per-capture check so it can be evaluated while streaming off
// the kvstore iterator, without materializing the whole match set for a
// big prefix/domain query.
package query

import (
	"context"
	"strings"

	"github.com/outbackwave/cdxindex/internal/canon"
	"github.com/outbackwave/cdxindex/internal/kvstore"
	"github.com/outbackwave/cdxindex/internal/record"
)

// Result is the outcome of Execute: the matched captures in final order,
// and the urlkey the response should report for them (after alias
// rewrite, if any).
type Result struct {
	Captures        []record.Capture
	EffectiveURLKey string
	Retried         bool
}

// Execute runs q against idx, resolving aliases and applying the full
// filter/collapse/limit pipeline. cdxPlusWorkaround gates the %20->+
// self-retry on an otherwise-empty result; it recurses into Execute at
// most once.
func Execute(ctx context.Context, idx *kvstore.Index, c *canon.Canonicalizer, q *Query, cdxPlusWorkaround bool) (*Result, error) {
	return execute(ctx, idx, c, q, cdxPlusWorkaround, false)
}

func execute(ctx context.Context, idx *kvstore.Index, c *canon.Canonicalizer, q *Query, cdxPlusWorkaround, retried bool) (*Result, error) {
	plan, err := q.Build(ctx, idx, c)
	if err != nil {
		return nil, err
	}

	src, err := openSource(ctx, idx, q, plan)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	collapse := newCollapser(q)
	var out []record.Capture

	emit := func(cap record.Capture) bool {
		out = append(out, cap)
		return q.Limit > 0 && len(out) >= q.Limit
	}

	done := false
	for !done && src.Next() {
		cap := src.Capture()

		if q.HasFrom && cap.Timestamp < q.From {
			continue
		}
		if q.HasTo && cap.Timestamp > q.To {
			continue
		}
		if !matchesAllFilters(q.Filters, cap) {
			continue
		}
		if !matchesAllPredicates(q.Predicates, cap) {
			continue
		}
		if q.OmitSelfRedirects && isSelfRedirect(c, cap) {
			continue
		}
		if plan.AliasRewrite {
			cap.URLKey = plan.RequestedURLKey
		}

		if collapse == nil {
			if emit(cap) {
				done = true
			}
			continue
		}
		if emitted, ok := collapse.Step(cap); ok {
			if emit(emitted) {
				done = true
			}
		}
	}
	if err := src.Err(); err != nil {
		return nil, err
	}
	if !done && collapse != nil {
		if emitted, ok := collapse.Flush(); ok {
			emit(emitted)
		}
	}

	needsSpaceWorkaround := strings.Contains(q.URL, "%20") || strings.Contains(q.URL, " ")
	if len(out) == 0 && !retried && cdxPlusWorkaround && q.URL != "" && needsSpaceWorkaround {
		retryQ := *q
		retryQ.URL = strings.NewReplacer("%20", "+", " ", "+").Replace(q.URL)
		res, err := execute(ctx, idx, c, &retryQ, cdxPlusWorkaround, true)
		if err != nil {
			return nil, err
		}
		res.Retried = true
		return res, nil
	}

	return &Result{Captures: out, EffectiveURLKey: plan.EffectiveURLKey}, nil
}

func openSource(ctx context.Context, idx *kvstore.Index, q *Query, plan *Plan) (captureSource, error) {
	if plan.Closest {
		fwd, err := idx.CapturesAfter(ctx, plan.ClosestAnchor, plan.Upper)
		if err != nil {
			return nil, err
		}
		rev, err := idx.CapturesAfterReverse(ctx, plan.Lower, plan.ClosestAnchor)
		if err != nil {
			fwd.Close()
			return nil, err
		}
		return newClosestMerger(fwd, rev, q.Closest), nil
	}
	if q.Sort == SortReverse {
		return idx.CapturesAfterReverse(ctx, plan.Lower, plan.Upper)
	}
	return idx.CapturesAfter(ctx, plan.Lower, plan.Upper)
}

func matchesAllFilters(filters []Filter, c record.Capture) bool {
	for _, f := range filters {
		if !f.Match(c) {
			return false
		}
	}
	return true
}

func matchesAllPredicates(preds []Predicate, c record.Capture) bool {
	for _, p := range preds {
		if !p(c) {
			return false
		}
	}
	return true
}

// isSelfRedirect reports whether c's redirecturl canonicalizes to c's own
// urlkey, meaning the capture is a redirect to itself and carries no
// useful information for a replay client.
func isSelfRedirect(c *canon.Canonicalizer, cap record.Capture) bool {
	if cap.RedirectURL == "" || cap.RedirectURL == "-" {
		return false
	}
	target, err := c.Surt(cap.RedirectURL)
	if err != nil {
		return false
	}
	return target == cap.URLKey
}
