// Package canon implements the SURT (Sort-friendly URI Reordering Transform)
// canonicalization used to key every capture and alias. Canonicalization is
// pure and deterministic for a fixed Config: the same URL under the same
// config always yields the same key, and lexicographic order over keys
// matches domain/subdomain/path grouping, which is what makes range scans
// over the index equivalent to URL matching.
package canon

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/outbackwave/cdxindex/internal/apierr"
)

// ErrInvalidURL is returned for input that is not an absolute URL, or whose
// percent-encoding cannot be parsed.
var ErrInvalidURL = fmt.Errorf("%w: invalid url", apierr.ErrBadRequest)

// Config controls canonicalization behaviour. Changing it invalidates
// previously computed keys, so treat any change as a data migration.
type Config struct {
	StripWWW               bool
	LowercasePath          bool
	StripSessionIDs        bool
	TrackingParamBlocklist map[string]bool
}

// DefaultConfig matches the behaviour of the reference CDX server: strip
// "www.", leave path case alone, keep session IDs, and drop the common
// analytics tracking parameters.
func DefaultConfig() Config {
	blocklist := make(map[string]bool, len(defaultTrackingParams))
	for _, p := range defaultTrackingParams {
		blocklist[p] = true
	}
	return Config{
		StripWWW:               true,
		LowercasePath:          false,
		StripSessionIDs:        false,
		TrackingParamBlocklist: blocklist,
	}
}

var defaultTrackingParams = []string{
	"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
	"gclid", "fbclid", "msclkid",
}

var sessionIDParams = map[string]bool{
	"jsessionid": true, "phpsessid": true, "aspsessionid": true, "sid": true,
}

// Canonicalizer turns URLs into SURT keys under a fixed Config.
type Canonicalizer struct {
	cfg Config
}

// New returns a Canonicalizer using cfg.
func New(cfg Config) *Canonicalizer { return &Canonicalizer{cfg: cfg} }

// Surt canonicalizes rawURL into its SURT form, e.g.
// "http://www.example.com/p?b=2&a=1" -> "com,example)/p?a=1&b=2".
func (c *Canonicalizer) Surt(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	hostKey := c.hostKey(u)

	path := normalizePath(u.Path, c.cfg.LowercasePath)
	pathKey := percentEncode(path, "/")

	query := c.canonicalQuery(u.RawQuery)

	var b strings.Builder
	b.WriteString(hostKey)
	b.WriteByte(')')
	b.WriteString(pathKey)
	if query != "" {
		b.WriteByte('?')
		b.WriteString(query)
	}
	return b.String(), nil
}

// SurtForCapture canonicalizes a capture's URL, augmenting non-GET requests
// with the request method and body per spec step 7 so that a POST capture
// keys adjacent to, but distinct from, GETs of the same URL.
func (c *Canonicalizer) SurtForCapture(rawURL, method, requestBody string) (string, error) {
	if method == "" || strings.EqualFold(method, "GET") {
		return c.Surt(rawURL)
	}
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	augmented := rawURL + sep + "__wb_method=" + url.QueryEscape(strings.ToUpper(method))
	if requestBody != "" {
		augmented += "&" + requestBody
	}
	return c.Surt(augmented)
}

// SurtHost returns the reversed-label host key with no trailing ")" or
// path, e.g. "http://www.example.com/x" -> "com,example". Callers matching
// matchType=HOST append ")" themselves to form the scan prefix.
func (c *Canonicalizer) SurtHost(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	host := c.canonicalHostname(u)
	labels := strings.Split(host, ".")
	reverse(labels)
	return strings.Join(labels, ","), nil
}

// SurtDomain returns the reversed registrable-domain key with no trailing
// "," or ")", e.g. "http://sub.example.com/x" -> "com,example". A domain
// match needs both the apex, whose urlkey prefix is this string plus ")",
// and every subdomain, whose urlkey prefix is this string plus ",": callers
// combine the two the same way MatchHost's caller appends ")" itself. It
// approximates the registrable domain as the last two labels of the host;
// this repository does not ship a public-suffix list.
func (c *Canonicalizer) SurtDomain(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	host := c.canonicalHostname(u)
	labels := strings.Split(host, ".")
	if len(labels) > 2 {
		labels = labels[len(labels)-2:]
	}
	reverse(labels)
	return strings.Join(labels, ","), nil
}

// SurtToURL reconstructs a URL from a SURT key well enough that
// re-canonicalizing it reproduces the same key. It is the right inverse
// needed by the SURT idempotency property, not a general un-canonicalizer.
func (c *Canonicalizer) SurtToURL(surt string) (string, error) {
	idx := strings.IndexByte(surt, ')')
	if idx < 0 {
		return "", fmt.Errorf("%w: %q is not a surt key", ErrInvalidURL, surt)
	}
	labels := strings.Split(surt[:idx], ",")
	port := ""
	if len(labels) > 0 {
		if i := strings.IndexByte(labels[0], ':'); i >= 0 {
			port = labels[0][i+1:]
			labels[0] = labels[0][:i]
		}
	}
	reverse(labels)
	host := strings.Join(labels, ".")
	if host == "" {
		return "", fmt.Errorf("%w: %q has an empty host", ErrInvalidURL, surt)
	}
	if port != "" {
		host += ":" + port
	}
	return "http://" + host + surt[idx+1:], nil
}

// hostKey builds the reversed, comma-joined host portion of a SURT key,
// with a non-default port (if any) attached to the reversed TLD label, e.g.
// "example.com:8080" -> "com:8080,example".
func (c *Canonicalizer) hostKey(u *url.URL) string {
	host := c.canonicalHostname(u)
	labels := strings.Split(host, ".")
	reverse(labels)
	if port := u.Port(); port != "" && !isDefaultPort(strings.ToLower(u.Scheme), port) {
		labels[0] = labels[0] + ":" + port
	}
	return strings.Join(labels, ",")
}

// canonicalHostname lowercases the host and strips the "www." prefix by
// policy. It does not include the port.
func (c *Canonicalizer) canonicalHostname(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	if c.cfg.StripWWW && strings.HasPrefix(host, "www.") {
		host = host[len("www."):]
	}
	return host
}

func isDefaultPort(scheme, port string) bool {
	return (scheme == "http" && port == "80") || (scheme == "https" && port == "443")
}

func (c *Canonicalizer) canonicalQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	type pair struct{ key, val string }
	var pairs []pair
	for _, kv := range strings.Split(rawQuery, "&") {
		if kv == "" {
			continue
		}
		key, val, _ := strings.Cut(kv, "=")
		dk, err1 := url.QueryUnescape(key)
		dv, err2 := url.QueryUnescape(val)
		if err1 != nil {
			dk = key
		}
		if err2 != nil {
			dv = val
		}
		lk := strings.ToLower(dk)
		if c.cfg.TrackingParamBlocklist[lk] {
			continue
		}
		if c.cfg.StripSessionIDs && sessionIDParams[lk] {
			continue
		}
		pairs = append(pairs, pair{dk, dv})
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		if pairs[i].key != pairs[j].key {
			return pairs[i].key < pairs[j].key
		}
		return pairs[i].val < pairs[j].val
	})
	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = percentEncode(p.key, "") + "=" + percentEncode(p.val, "")
	}
	return strings.Join(parts, "&")
}

// normalizePath resolves "." and ".." segments and collapses repeated
// slashes, preserving whether the input ended in "/".
func normalizePath(p string, lowercase bool) string {
	if p == "" {
		return "/"
	}
	if lowercase {
		p = strings.ToLower(p)
	}
	trailingSlash := strings.HasSuffix(p, "/")
	segments := strings.Split(p, "/")
	var out []string
	for _, seg := range segments {
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, seg)
		}
	}
	result := "/" + strings.Join(out, "/")
	if trailingSlash && result != "/" {
		result += "/"
	}
	return result
}

func percentEncode(s, safe string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) || strings.IndexByte(safe, c) >= 0 {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') ||
		c == '-' || c == '.' || c == '_' || c == '~'
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// ParseTrackingParams parses a comma-separated list of query parameter
// names into the blocklist shape Config expects.
func ParseTrackingParams(csv string) map[string]bool {
	out := make(map[string]bool)
	for _, p := range strings.Split(csv, ",") {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out[p] = true
		}
	}
	return out
}
