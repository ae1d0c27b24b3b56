package kvstore

import (
	"context"
	"database/sql"

	"github.com/outbackwave/cdxindex/internal/apierr"
	"github.com/outbackwave/cdxindex/internal/record"
)

// CaptureIter is a snapshot-consistent, forward-or-reverse iterator over
// capture records in a key range. It must be closed on every exit path;
// the underlying *sql.Rows already holds a read snapshot as of the query,
// so writes committed after the iterator opens are never observed.
type CaptureIter struct {
	rows *sql.Rows
	cur  record.Capture
	err  error
}

// CapturesAfter scans captures with key >= lower, and key < upper if upper
// is non-nil, in ascending key order.
func (idx *Index) CapturesAfter(ctx context.Context, lower, upper []byte) (*CaptureIter, error) {
	return idx.scanCaptures(ctx, lower, upper, false)
}

// CapturesAfterReverse scans the same range as CapturesAfter but in
// descending key order, for sort=reverse queries.
func (idx *Index) CapturesAfterReverse(ctx context.Context, lower, upper []byte) (*CaptureIter, error) {
	return idx.scanCaptures(ctx, lower, upper, true)
}

func (idx *Index) scanCaptures(ctx context.Context, lower, upper []byte, reverse bool) (*CaptureIter, error) {
	q := `SELECT key, value FROM kv WHERE key >= ?`
	args := []any{lower}
	if upper != nil {
		q += ` AND key < ?`
		args = append(args, upper)
	}
	if reverse {
		q += ` ORDER BY key DESC`
	} else {
		q += ` ORDER BY key ASC`
	}
	rows, err := idx.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, apierr.Storage("scan captures", err)
	}
	return &CaptureIter{rows: rows}, nil
}

// Next advances the iterator, returning false at end of range or on error;
// callers must check Err after a false return.
func (it *CaptureIter) Next() bool {
	if !it.rows.Next() {
		it.err = it.rows.Err()
		return false
	}
	var key, value []byte
	if err := it.rows.Scan(&key, &value); err != nil {
		it.err = apierr.Storage("scan capture row", err)
		return false
	}
	c, err := record.DecodeCapture(key, value)
	if err != nil {
		it.err = err
		return false
	}
	it.cur = c
	return true
}

// Capture returns the capture at the current iterator position.
func (it *CaptureIter) Capture() record.Capture { return it.cur }

// Err returns the first error encountered, if any.
func (it *CaptureIter) Err() error { return it.err }

// Close releases the iterator's engine resources. Safe to call multiple
// times and on every exit path, including after an error or a client
// disconnect that stopped consumption early.
func (it *CaptureIter) Close() error { return it.rows.Close() }

// AliasIter iterates aliases sharing a SURT prefix.
type AliasIter struct {
	rows *sql.Rows
	cur  record.Alias
	err  error
}

// ListAliases scans aliases whose SURT starts with prefix.
func (idx *Index) ListAliases(ctx context.Context, prefix []byte) (*AliasIter, error) {
	lower := make([]byte, 0, len(prefix)+1)
	lower = append(lower, record.NamespaceAlias)
	lower = append(lower, prefix...)
	var upper []byte
	if b := prefixUpperBound(lower); b != nil {
		upper = b
	}
	q := `SELECT key, value FROM kv WHERE key >= ?`
	args := []any{lower}
	if upper != nil {
		q += ` AND key < ?`
		args = append(args, upper)
	}
	q += ` ORDER BY key ASC`
	rows, err := idx.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, apierr.Storage("list aliases", err)
	}
	return &AliasIter{rows: rows}, nil
}

// Next advances the alias iterator.
func (it *AliasIter) Next() bool {
	if !it.rows.Next() {
		it.err = it.rows.Err()
		return false
	}
	var key, value []byte
	if err := it.rows.Scan(&key, &value); err != nil {
		it.err = apierr.Storage("scan alias row", err)
		return false
	}
	a, err := record.DecodeAlias(key, value)
	if err != nil {
		it.err = err
		return false
	}
	it.cur = a
	return true
}

// Alias returns the alias at the current iterator position.
func (it *AliasIter) Alias() record.Alias { return it.cur }

// Err returns the first error encountered, if any.
func (it *AliasIter) Err() error { return it.err }

// Close releases the iterator's engine resources.
func (it *AliasIter) Close() error { return it.rows.Close() }

// ResolveAlias looks up an alias by its exact SURT, returning ok=false if
// none is registered. Only one hop is resolved; chained aliases are not
// followed, matching the one-hop invariant.
func (idx *Index) ResolveAlias(ctx context.Context, aliasSURT string) (target string, ok bool, err error) {
	key := record.EncodeAliasKey(record.Alias{AliasSURT: aliasSURT})
	var value []byte
	err = idx.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, apierr.Storage("resolve alias", err)
	}
	return string(value), true, nil
}

// ListRules returns every access rule in the collection. Collections hold
// orders of magnitude fewer rules than captures, so callers scan the whole
// set and match SURT prefixes in memory rather than consulting a secondary
// prefix index.
func (idx *Index) ListRules(ctx context.Context) ([]record.AccessRule, error) {
	lower := []byte{record.NamespaceRule}
	upper := prefixUpperBound(lower)
	rows, err := idx.rangeScan(ctx, lower, upper)
	if err != nil {
		return nil, apierr.Storage("list rules", err)
	}
	defer rows.Close()

	var rules []record.AccessRule
	for rows.Next() {
		var key, value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, apierr.Storage("scan rule row", err)
		}
		r, err := record.DecodeRule(key, value)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// Rule looks up a single access rule by ID.
func (idx *Index) Rule(ctx context.Context, id string) (record.AccessRule, bool, error) {
	key := record.EncodeRuleKey(record.AccessRule{ID: id})
	var value []byte
	err := idx.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return record.AccessRule{}, false, nil
	}
	if err != nil {
		return record.AccessRule{}, false, apierr.Storage("get rule", err)
	}
	r, err := record.DecodeRule(key, value)
	return r, true, err
}

// ListPolicies returns every access policy in the collection.
func (idx *Index) ListPolicies(ctx context.Context) ([]record.AccessPolicy, error) {
	lower := []byte{record.NamespacePolicy}
	upper := prefixUpperBound(lower)
	rows, err := idx.rangeScan(ctx, lower, upper)
	if err != nil {
		return nil, apierr.Storage("list policies", err)
	}
	defer rows.Close()

	var policies []record.AccessPolicy
	for rows.Next() {
		var key, value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, apierr.Storage("scan policy row", err)
		}
		p, err := record.DecodePolicy(key, value)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// Policy looks up a single access policy by ID.
func (idx *Index) Policy(ctx context.Context, id string) (record.AccessPolicy, bool, error) {
	key := record.EncodePolicyKey(record.AccessPolicy{ID: id})
	var value []byte
	err := idx.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return record.AccessPolicy{}, false, nil
	}
	if err != nil {
		return record.AccessPolicy{}, false, apierr.Storage("get policy", err)
	}
	p, err := record.DecodePolicy(key, value)
	return p, true, err
}

func (idx *Index) rangeScan(ctx context.Context, lower, upper []byte) (*sql.Rows, error) {
	q := `SELECT key, value FROM kv WHERE key >= ?`
	args := []any{lower}
	if upper != nil {
		q += ` AND key < ?`
		args = append(args, upper)
	}
	q += ` ORDER BY key ASC`
	return idx.db.QueryContext(ctx, q, args...)
}
