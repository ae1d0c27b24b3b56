package query

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/outbackwave/cdxindex/internal/apierr"
	"github.com/outbackwave/cdxindex/internal/record"
)

// Filter is one parsed "[!]<field>:<regex>" predicate.
type Filter struct {
	Field    string
	Negate   bool
	Pattern  *regexp.Regexp
	original string
}

// ParseFilter parses a filter= value. The grammar is "[!]<field>:<regex>";
// leading "!" negates the match.
func ParseFilter(spec string) (Filter, error) {
	f := Filter{original: spec}
	s := spec
	if strings.HasPrefix(s, "!") {
		f.Negate = true
		s = s[1:]
	}
	idx := strings.Index(s, ":")
	if idx < 0 {
		return Filter{}, apierr.BadRequest("malformed filter (want field:regex): %s", spec)
	}
	f.Field = s[:idx]
	re, err := regexp.Compile(s[idx+1:])
	if err != nil {
		return Filter{}, apierr.BadRequest("invalid filter regex %q: %v", s[idx+1:], err)
	}
	f.Pattern = re
	return f, nil
}

// Match reports whether c satisfies the filter.
func (f Filter) Match(c record.Capture) bool {
	val, _ := FieldValue(c, f.Field)
	matched := f.Pattern.MatchString(val)
	if f.Negate {
		return !matched
	}
	return matched
}

// Predicate is an opaque capture predicate, the shape plugin filters
// implement. Built-in filters and plugin filters share this type so the
// executor evaluates both the same way, plugins strictly after built-ins.
type Predicate func(record.Capture) bool

// PluginFilterFactory builds a Predicate from the full raw query parameter
// map, or returns a nil Predicate if the plugin has nothing to contribute
// to this particular query. The host application passes its plugin list
// to Parse explicitly; there is no ambient global registry, so a query
// package running with no plugins configured behaves exactly as if
// plugins did not exist.
type PluginFilterFactory func(raw url.Values) (Predicate, error)

// FieldValue renders a capture attribute as the text output format would,
// used by both filters and the "-" for missing field serializer.
func FieldValue(c record.Capture, field string) (string, bool) {
	switch strings.ToLower(field) {
	case "urlkey":
		return c.URLKey, true
	case "timestamp":
		return fmt.Sprintf("%014d", c.Timestamp), true
	case "url", "original", "originalurl":
		return c.OriginalURL, true
	case "mime", "mimetype":
		return c.MimeType, true
	case "status", "statuscode":
		return strconv.Itoa(c.Status), true
	case "digest":
		return c.Digest, true
	case "redirect", "redirecturl":
		return c.RedirectURL, true
	case "robotflags":
		return c.RobotFlags, true
	case "length":
		return strconv.FormatInt(c.Length, 10), true
	case "offset":
		return strconv.FormatInt(c.Offset, 10), true
	case "filename":
		return c.Filename, true
	case "originallength":
		if !c.HasOriginal {
			return "", false
		}
		return strconv.FormatInt(c.OriginalLength, 10), true
	case "originaloffset":
		if !c.HasOriginal {
			return "", false
		}
		return strconv.FormatInt(c.OriginalOffset, 10), true
	case "originalfilename":
		if !c.HasOriginal {
			return "", false
		}
		return c.OriginalFilename, true
	default:
		return "", false
	}
}
