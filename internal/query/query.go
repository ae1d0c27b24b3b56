// Package query implements Component D: the query planner and executor
// that turns request parameters into an ordered capture iterator. Parsing
// runs compatibilityHacks, then expandWildcards, then validation, in that
// fixed order; execution composes the timestamp window -> filter ->
// omit-self-redirect -> collapse -> limit pipeline.
package query

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/outbackwave/cdxindex/internal/apierr"
)

// MatchType selects how url/urlkey is matched against the index.
type MatchType int

const (
	MatchDefault MatchType = iota
	MatchExact
	MatchPrefix
	MatchHost
	MatchDomain
	MatchRange
)

func parseMatchType(s string) (MatchType, error) {
	switch strings.ToLower(s) {
	case "", "default":
		return MatchDefault, nil
	case "exact":
		return MatchExact, nil
	case "prefix":
		return MatchPrefix, nil
	case "host":
		return MatchHost, nil
	case "domain":
		return MatchDomain, nil
	case "range":
		return MatchRange, nil
	default:
		return MatchDefault, apierr.BadRequest("unrecognized matchType: %s", s)
	}
}

// SortOrder selects result ordering.
type SortOrder int

const (
	SortDefault SortOrder = iota
	SortClosest
	SortReverse
)

func parseSortOrder(s string) (SortOrder, error) {
	switch strings.ToLower(s) {
	case "", "default":
		return SortDefault, nil
	case "closest":
		return SortClosest, nil
	case "reverse":
		return SortReverse, nil
	default:
		return SortDefault, apierr.BadRequest("unrecognized sort: %s", s)
	}
}

// OutputFormat selects response serialization.
type OutputFormat int

const (
	OutputCDX OutputFormat = iota
	OutputJSON
)

func parseOutputFormat(s string) (OutputFormat, error) {
	switch strings.ToLower(s) {
	case "", "cdx":
		return OutputCDX, nil
	case "json":
		return OutputJSON, nil
	default:
		return OutputCDX, apierr.BadRequest("unrecognized output: %s", s)
	}
}

// Params is the raw, unvalidated set of recognized request parameters.
type Params struct {
	URL               string
	URLKey            string
	MatchType         string
	Sort              string
	Closest           string
	From              string
	To                string
	Limit             int
	Filters           []string
	Collapse          string
	CollapseToLast    string
	Fl                string
	Output            string
	OmitSelfRedirects bool
	AccessPoint       string
	Method            string
	RequestBody       string
	Raw               url.Values // full parameter map, for PluginFilterFactory
}

// ParamsFromValues reads Params out of a url.Values, the shape an HTTP
// handler gets from r.URL.Query().
func ParamsFromValues(v url.Values) Params {
	p := Params{
		Raw:               v,
		URL:               v.Get("url"),
		URLKey:            v.Get("urlkey"),
		MatchType:         v.Get("matchType"),
		Sort:              v.Get("sort"),
		Closest:           v.Get("closest"),
		From:              v.Get("from"),
		To:                v.Get("to"),
		Filters:           v["filter"],
		Collapse:          firstNonEmpty(v.Get("collapse"), v.Get("collapseToFirst")),
		CollapseToLast:    v.Get("collapseToLast"),
		Fl:                v.Get("fl"),
		Output:            v.Get("output"),
		OmitSelfRedirects: v.Get("omitSelfRedirects") == "1" || v.Get("omitSelfRedirects") == "true",
		AccessPoint:       v.Get("accesspoint"),
		Method:            v.Get("method"),
		RequestBody:       v.Get("requestBody"),
	}
	if lim := v.Get("limit"); lim != "" {
		if n, err := strconv.Atoi(lim); err == nil {
			p.Limit = n
		}
	}
	return p
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Query is a parsed, validated set of parameters ready for planning.
type Query struct {
	URL               string
	URLKey            string
	MatchType         MatchType
	Sort              SortOrder
	Closest           int64
	From              int64
	HasFrom           bool
	To                int64
	HasTo             bool
	RangeFromURL      string // matchType=RANGE only: scan start is surt(RangeFromURL)
	RangeToURL        string // matchType=RANGE only: scan end is surt(RangeToURL), exclusive
	Limit             int
	Filters           []Filter
	Predicates        []Predicate
	CollapseField     string
	CollapseLen       int
	CollapseToLast    bool
	Fl                []string
	Output            OutputFormat
	OmitSelfRedirects bool
	AccessPoint       string
	Method            string
	RequestBody       string
}

// compatibilityHacks downgrades sort=closest with an empty closest value
// to sort=default, tolerating clients that always send a sort parameter
// even when they have no closest timestamp to offer. It must run before
// expandWildcards/validate so a trailing "*" in url is still expanded
// after the downgrade.
func compatibilityHacks(p *Params) {
	if strings.EqualFold(p.Sort, "closest") && p.Closest == "" {
		p.Sort = "default"
	}
}

// expandWildcards derives matchType=DEFAULT's effective type from wildcard
// syntax in url: a trailing "*" means PREFIX, a leading "*." means DOMAIN.
func expandWildcards(p *Params) {
	if p.MatchType != "" && !strings.EqualFold(p.MatchType, "default") {
		return
	}
	switch {
	case strings.HasPrefix(p.URL, "*."):
		p.URL = p.URL[2:]
		// "*.example.com" carries no scheme; give it one so it canonicalizes.
		if !strings.Contains(p.URL, "://") {
			p.URL = "http://" + p.URL
		}
		p.MatchType = "domain"
	case strings.HasSuffix(p.URL, "*"):
		p.URL = p.URL[:len(p.URL)-1]
		p.MatchType = "prefix"
	default:
		p.MatchType = "exact"
	}
}

// Parse runs compatibilityHacks, expandWildcards, and validation in that
// order, returning a Query ready for planning. plugins is the host
// application's explicit plugin filter list, evaluated after all built-in
// filters in the order given.
func Parse(p Params, plugins ...PluginFilterFactory) (*Query, error) {
	compatibilityHacks(&p)

	if (p.URL == "") == (p.URLKey == "") {
		return nil, apierr.BadRequest("exactly one of url or urlkey must be present")
	}

	// expandWildcards only derives a matchType out of url's own syntax; a
	// client that queried by urlkey directly picks an explicit matchType
	// or gets EXACT.
	if p.URL != "" {
		expandWildcards(&p)
	} else if p.MatchType == "" {
		p.MatchType = "exact"
	}

	matchType, err := parseMatchType(p.MatchType)
	if err != nil {
		return nil, err
	}
	if matchType == MatchDefault {
		// Only reachable when the client queried by urlkey and sent an
		// explicit matchType=default; url-driven DEFAULT is always
		// resolved to exact/prefix/domain by expandWildcards above.
		matchType = MatchExact
	}
	sortOrder, err := parseSortOrder(p.Sort)
	if err != nil {
		return nil, err
	}
	outputFormat, err := parseOutputFormat(p.Output)
	if err != nil {
		return nil, err
	}

	q := &Query{
		URL:               p.URL,
		URLKey:            p.URLKey,
		MatchType:         matchType,
		Sort:              sortOrder,
		Limit:             p.Limit,
		Output:            outputFormat,
		OmitSelfRedirects: p.OmitSelfRedirects,
		AccessPoint:       p.AccessPoint,
		Method:            p.Method,
		RequestBody:       p.RequestBody,
	}

	if sortOrder == SortClosest {
		if matchType != MatchExact {
			return nil, apierr.BadRequest("sort=closest requires matchType=exact")
		}
		if p.Closest == "" {
			return nil, apierr.BadRequest("sort=closest requires a non-empty closest value")
		}
		closest, err := parseTimestamp(p.Closest, '0')
		if err != nil {
			return nil, err
		}
		q.Closest = closest
	}
	if sortOrder == SortReverse && matchType != MatchExact {
		return nil, apierr.BadRequest("sort=reverse requires matchType=exact")
	}

	if matchType == MatchRange {
		// RANGE overloads from/to as scan-bound URLs rather than
		// timestamps; the key range itself is the filter, so there is no
		// separate timestamp window to validate.
		q.RangeFromURL, q.RangeToURL = p.From, p.To
	} else {
		if p.From != "" {
			if matchType != MatchExact || sortOrder == SortClosest {
				return nil, apierr.BadRequest("from is only supported with matchType=exact and not with sort=closest")
			}
			from, err := parseTimestamp(p.From, '0')
			if err != nil {
				return nil, err
			}
			q.From, q.HasFrom = from, true
		}
		if p.To != "" {
			if matchType != MatchExact || sortOrder == SortClosest {
				return nil, apierr.BadRequest("to is only supported with matchType=exact and not with sort=closest")
			}
			to, err := parseTimestamp(p.To, '9')
			if err != nil {
				return nil, err
			}
			q.To, q.HasTo = to, true
		}
	}

	for _, raw := range p.Filters {
		f, err := ParseFilter(raw)
		if err != nil {
			return nil, err
		}
		q.Filters = append(q.Filters, f)
	}

	for _, factory := range plugins {
		pred, err := factory(p.Raw)
		if err != nil {
			return nil, err
		}
		if pred != nil {
			q.Predicates = append(q.Predicates, pred)
		}
	}

	if p.Collapse != "" {
		field, n, err := parseCollapseSpec(p.Collapse)
		if err != nil {
			return nil, err
		}
		q.CollapseField, q.CollapseLen = field, n
	}
	if p.CollapseToLast != "" {
		if q.CollapseField != "" {
			return nil, apierr.BadRequest("collapse and collapseToLast are mutually exclusive")
		}
		field, n, err := parseCollapseSpec(p.CollapseToLast)
		if err != nil {
			return nil, err
		}
		q.CollapseField, q.CollapseLen, q.CollapseToLast = field, n, true
	}

	if p.Fl != "" {
		q.Fl = strings.Split(p.Fl, ",")
	}

	return q, nil
}

// parseCollapseSpec parses "field" or "field:N" out of a collapse value.
// A bare field name is required; collapse with no field has no defined
// meaning and is rejected rather than guessed at.
func parseCollapseSpec(spec string) (field string, n int, err error) {
	parts := strings.SplitN(spec, ":", 2)
	field = parts[0]
	if field == "" {
		return "", 0, apierr.BadRequest("collapse requires a field name")
	}
	if len(parts) == 2 {
		n, err = strconv.Atoi(parts[1])
		if err != nil || n <= 0 {
			return "", 0, apierr.BadRequest("invalid collapse truncation length: %s", parts[1])
		}
	}
	return field, n, nil
}

// parseTimestamp pads a from/to timestamp to 14 digits with pad, or
// truncates it if longer.
func parseTimestamp(s string, pad byte) (int64, error) {
	if len(s) > 14 {
		s = s[:14]
	} else if len(s) < 14 {
		s = s + strings.Repeat(string(pad), 14-len(s))
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, apierr.BadRequest("invalid timestamp: %s", s)
	}
	return n, nil
}
