// Package record implements the binary encoding of captures and aliases
// stored in the index. Keys are packed so that byte order over the key
// equals (urlkey, timestamp, filename, offset) order, which is what lets a
// plain range scan implement URL matching; values carry a version byte so
// the layout can evolve without breaking old readers.
package record

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/outbackwave/cdxindex/internal/apierr"
)

// Namespace bytes discriminate keyspaces within one shared ordered store,
// per the persisted state layout: captures, aliases, access rules, access
// policies, and sequence/config live under distinct leading bytes so a
// single SQLite table can hold all of a collection's state.
const (
	NamespaceCapture = 0x01
	NamespaceAlias   = 0x02
	NamespaceRule    = 0x03
	NamespacePolicy  = 0x04
	NamespaceMeta    = 0x05
)

// CaptureVersion1 is the only value layout this build understands.
const CaptureVersion1 = 1

// sep separates the urlkey, timestamp, and filename components of a capture
// key. It must never appear inside urlkey or filename, so both are escaped
// on the way in.
const sep = 0x00
const escByte = 0x01
const escEsc = 0x01
const escSep = 0x02

// Capture is one archived HTTP response record.
type Capture struct {
	URLKey      string
	Timestamp   int64 // 14-digit YYYYMMDDhhmmss, range [0, 99999999999999]
	OriginalURL string
	MimeType    string
	Status      int
	Digest      string
	RedirectURL string
	RobotFlags  string
	Length      int64
	Offset      int64
	Filename    string

	// CDX14 extension fields, used when the record describes a
	// compressed/rewritten variant of a capture stored elsewhere.
	HasOriginal      bool
	OriginalLength   int64
	OriginalOffset   int64
	OriginalFilename string
}

// Alias maps a SURT prefix (or exact key) to the SURT it should be resolved
// to on lookup. Only one hop is ever followed; chasing chains of aliases is
// deliberately not implemented.
type Alias struct {
	AliasSURT  string
	TargetSURT string
}

// RuleVersion1 is the only access-rule value layout this build understands.
const RuleVersion1 = 1

// PolicyVersion1 is the only access-policy value layout this build
// understands.
const PolicyVersion1 = 1

// AccessRule gates a capture's visibility behind a SURT-prefix match, a
// capture-time window, and an access-time window. A nil window bound is
// unbounded on that side.
type AccessRule struct {
	ID                string
	PolicyID          string
	Surts             []string
	PeriodStart       *int64 // capture timestamp, 14-digit form
	PeriodEnd         *int64
	AccessPeriodStart *int64 // unix seconds
	AccessPeriodEnd   *int64
	Pinned            bool
	PrivateComment    string
	PublicComment     string
	Created           int64 // unix seconds
	Modified          int64
}

// AccessPolicy names a set of access points and whether each one is allowed
// to see captures governed by rules that reference this policy.
type AccessPolicy struct {
	ID           string
	Name         string
	AccessPoints map[string]bool
}

func escape(s string) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case escByte:
			out = append(out, escByte, escEsc)
		case sep:
			out = append(out, escByte, escSep)
		default:
			out = append(out, c)
		}
	}
	return out
}

func unescape(b []byte) (string, error) {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		c := b[i]
		if c == escByte {
			i++
			if i >= len(b) {
				return "", fmt.Errorf("%w: truncated escape sequence", apierr.ErrStorage)
			}
			switch b[i] {
			case escEsc:
				out = append(out, escByte)
			case escSep:
				out = append(out, sep)
			default:
				return "", fmt.Errorf("%w: invalid escape byte 0x%02x", apierr.ErrStorage, b[i])
			}
			continue
		}
		out = append(out, c)
	}
	return string(out), nil
}

// EncodeCaptureKey builds the sortable key for a capture: namespace byte,
// escaped urlkey, separator, big-endian timestamp, separator, escaped
// filename, big-endian offset. Byte order over this encoding equals
// (urlkey, timestamp, filename, offset) tuple order.
func EncodeCaptureKey(c Capture) []byte {
	var buf bytes.Buffer
	buf.WriteByte(NamespaceCapture)
	buf.Write(escape(c.URLKey))
	buf.WriteByte(sep)
	binary.Write(&buf, binary.BigEndian, uint64(c.Timestamp))
	buf.WriteByte(sep)
	buf.Write(escape(c.Filename))
	buf.WriteByte(sep)
	binary.Write(&buf, binary.BigEndian, uint64(c.Offset))
	return buf.Bytes()
}

// CaptureURLKeyBound builds the namespace-prefixed, escaped encoding of a
// bare urlkey with no trailing separator or timestamp. Range-scan callers
// use it directly as a prefix-match lower bound (for PREFIX/HOST/DOMAIN
// matching), or pair it with a trailing sep byte for an EXACT match's
// lower bound, or use two of them verbatim as a RANGE query's literal
// bounds.
func CaptureURLKeyBound(urlkey string) []byte {
	var buf bytes.Buffer
	buf.WriteByte(NamespaceCapture)
	buf.Write(escape(urlkey))
	return buf.Bytes()
}

// EncodeCaptureValue packs every non-key field, versioned so future layouts
// can be added without breaking decoders built against this one.
func EncodeCaptureValue(c Capture) []byte {
	var buf bytes.Buffer
	buf.WriteByte(CaptureVersion1)
	writeString(&buf, c.OriginalURL)
	writeString(&buf, c.MimeType)
	binary.Write(&buf, binary.BigEndian, int32(c.Status))
	writeString(&buf, c.Digest)
	writeString(&buf, c.RedirectURL)
	writeString(&buf, c.RobotFlags)
	binary.Write(&buf, binary.BigEndian, c.Length)
	binary.Write(&buf, binary.BigEndian, c.Offset)
	if c.HasOriginal {
		buf.WriteByte(1)
		binary.Write(&buf, binary.BigEndian, c.OriginalLength)
		binary.Write(&buf, binary.BigEndian, c.OriginalOffset)
		writeString(&buf, c.OriginalFilename)
	} else {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

// EncodeCapture returns the (key, value) pair for c.
func EncodeCapture(c Capture) (key, value []byte) {
	return EncodeCaptureKey(c), EncodeCaptureValue(c)
}

// DecodeCapture reverses EncodeCapture. It returns ErrUnknownRecordVersion
// if value carries a version byte newer than this build understands.
func DecodeCapture(key, value []byte) (Capture, error) {
	var c Capture
	if len(key) == 0 || key[0] != NamespaceCapture {
		return c, fmt.Errorf("%w: not a capture key", apierr.ErrStorage)
	}
	rest := key[1:]

	urlkeyEnd, err := findUnescapedSep(rest)
	if err != nil {
		return c, err
	}
	urlkey, err := unescape(rest[:urlkeyEnd])
	if err != nil {
		return c, err
	}
	c.URLKey = urlkey
	rest = rest[urlkeyEnd+1:]

	if len(rest) < 8 {
		return c, fmt.Errorf("%w: truncated timestamp", apierr.ErrStorage)
	}
	c.Timestamp = int64(binary.BigEndian.Uint64(rest[:8]))
	rest = rest[8:]

	if len(rest) < 1 || rest[0] != sep {
		return c, fmt.Errorf("%w: missing filename separator", apierr.ErrStorage)
	}
	rest = rest[1:]

	if len(rest) < 9 {
		return c, fmt.Errorf("%w: truncated offset", apierr.ErrStorage)
	}
	offsetBytes := rest[len(rest)-8:]
	sepAndFilename := rest[:len(rest)-8]
	if sepAndFilename[len(sepAndFilename)-1] != sep {
		return c, fmt.Errorf("%w: missing offset separator", apierr.ErrStorage)
	}
	filenameBytes := sepAndFilename[:len(sepAndFilename)-1]
	filename, err := unescape(filenameBytes)
	if err != nil {
		return c, err
	}
	c.Filename = filename
	c.Offset = int64(binary.BigEndian.Uint64(offsetBytes))

	if err := decodeCaptureValue(value, &c); err != nil {
		return c, err
	}
	return c, nil
}

func decodeCaptureValue(value []byte, c *Capture) error {
	if len(value) == 0 {
		return fmt.Errorf("%w: empty capture value", apierr.ErrStorage)
	}
	version := value[0]
	if version != CaptureVersion1 {
		return fmt.Errorf("%w: version %d", apierr.ErrUnknownRecordVersion, version)
	}
	r := bytes.NewReader(value[1:])

	var err error
	if c.OriginalURL, err = readString(r); err != nil {
		return err
	}
	if c.MimeType, err = readString(r); err != nil {
		return err
	}
	var status int32
	if err := binary.Read(r, binary.BigEndian, &status); err != nil {
		return fmt.Errorf("%w: status: %v", apierr.ErrStorage, err)
	}
	c.Status = int(status)
	if c.Digest, err = readString(r); err != nil {
		return err
	}
	if c.RedirectURL, err = readString(r); err != nil {
		return err
	}
	if c.RobotFlags, err = readString(r); err != nil {
		return err
	}
	if err := binary.Read(r, binary.BigEndian, &c.Length); err != nil {
		return fmt.Errorf("%w: length: %v", apierr.ErrStorage, err)
	}
	if err := binary.Read(r, binary.BigEndian, &c.Offset); err != nil {
		return fmt.Errorf("%w: offset: %v", apierr.ErrStorage, err)
	}
	var hasOriginal byte
	if err := binary.Read(r, binary.BigEndian, &hasOriginal); err != nil {
		return fmt.Errorf("%w: has-original flag: %v", apierr.ErrStorage, err)
	}
	if hasOriginal == 1 {
		c.HasOriginal = true
		if err := binary.Read(r, binary.BigEndian, &c.OriginalLength); err != nil {
			return fmt.Errorf("%w: original length: %v", apierr.ErrStorage, err)
		}
		if err := binary.Read(r, binary.BigEndian, &c.OriginalOffset); err != nil {
			return fmt.Errorf("%w: original offset: %v", apierr.ErrStorage, err)
		}
		if c.OriginalFilename, err = readString(r); err != nil {
			return err
		}
	}
	return nil
}

// EncodeAliasKey builds the sortable key for an alias: namespace byte plus
// the escaped alias SURT. Aliases live in their own keyspace prefix, kept
// distinct from captures sharing the same ordered store.
func EncodeAliasKey(a Alias) []byte {
	var buf bytes.Buffer
	buf.WriteByte(NamespaceAlias)
	buf.Write(escape(a.AliasSURT))
	return buf.Bytes()
}

// EncodeAliasValue packs the target SURT.
func EncodeAliasValue(a Alias) []byte {
	return []byte(a.TargetSURT)
}

// EncodeAlias returns the (key, value) pair for a.
func EncodeAlias(a Alias) (key, value []byte) {
	return EncodeAliasKey(a), EncodeAliasValue(a)
}

// DecodeAlias reverses EncodeAlias.
func DecodeAlias(key, value []byte) (Alias, error) {
	var a Alias
	if len(key) == 0 || key[0] != NamespaceAlias {
		return a, fmt.Errorf("%w: not an alias key", apierr.ErrStorage)
	}
	aliasSURT, err := unescape(key[1:])
	if err != nil {
		return a, err
	}
	a.AliasSURT = aliasSURT
	a.TargetSURT = string(value)
	return a, nil
}

func findUnescapedSep(b []byte) (int, error) {
	for i := 0; i < len(b); i++ {
		switch b[i] {
		case escByte:
			i++
			if i >= len(b) {
				return 0, fmt.Errorf("%w: truncated escape sequence", apierr.ErrStorage)
			}
		case sep:
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: missing urlkey separator", apierr.ErrStorage)
}

// EncodeRuleKey builds the key an access rule is stored under: namespace
// byte plus the escaped rule ID. Rules are looked up and listed by ID;
// SURT-prefix matching during access checks is done in memory over the
// (small) set of rules a collection holds.
func EncodeRuleKey(r AccessRule) []byte {
	var buf bytes.Buffer
	buf.WriteByte(NamespaceRule)
	buf.Write(escape(r.ID))
	return buf.Bytes()
}

// EncodeRuleValue packs every rule field but the ID, versioned.
func EncodeRuleValue(r AccessRule) []byte {
	var buf bytes.Buffer
	buf.WriteByte(RuleVersion1)
	writeString(&buf, r.PolicyID)
	binary.Write(&buf, binary.BigEndian, uint32(len(r.Surts)))
	for _, s := range r.Surts {
		writeString(&buf, s)
	}
	writeOptInt64(&buf, r.PeriodStart)
	writeOptInt64(&buf, r.PeriodEnd)
	writeOptInt64(&buf, r.AccessPeriodStart)
	writeOptInt64(&buf, r.AccessPeriodEnd)
	if r.Pinned {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	writeString(&buf, r.PrivateComment)
	writeString(&buf, r.PublicComment)
	binary.Write(&buf, binary.BigEndian, r.Created)
	binary.Write(&buf, binary.BigEndian, r.Modified)
	return buf.Bytes()
}

// EncodeRule returns the (key, value) pair for r.
func EncodeRule(r AccessRule) (key, value []byte) {
	return EncodeRuleKey(r), EncodeRuleValue(r)
}

// DecodeRule reverses EncodeRule.
func DecodeRule(key, value []byte) (AccessRule, error) {
	var r AccessRule
	if len(key) == 0 || key[0] != NamespaceRule {
		return r, fmt.Errorf("%w: not a rule key", apierr.ErrStorage)
	}
	id, err := unescape(key[1:])
	if err != nil {
		return r, err
	}
	r.ID = id

	if len(value) == 0 {
		return r, fmt.Errorf("%w: empty rule value", apierr.ErrStorage)
	}
	if value[0] != RuleVersion1 {
		return r, fmt.Errorf("%w: version %d", apierr.ErrUnknownRecordVersion, value[0])
	}
	rd := bytes.NewReader(value[1:])
	if r.PolicyID, err = readString(rd); err != nil {
		return r, err
	}
	var n uint32
	if err := binary.Read(rd, binary.BigEndian, &n); err != nil {
		return r, fmt.Errorf("%w: surts count: %v", apierr.ErrStorage, err)
	}
	r.Surts = make([]string, n)
	for i := range r.Surts {
		if r.Surts[i], err = readString(rd); err != nil {
			return r, err
		}
	}
	if r.PeriodStart, err = readOptInt64(rd); err != nil {
		return r, err
	}
	if r.PeriodEnd, err = readOptInt64(rd); err != nil {
		return r, err
	}
	if r.AccessPeriodStart, err = readOptInt64(rd); err != nil {
		return r, err
	}
	if r.AccessPeriodEnd, err = readOptInt64(rd); err != nil {
		return r, err
	}
	var pinned byte
	if err := binary.Read(rd, binary.BigEndian, &pinned); err != nil {
		return r, fmt.Errorf("%w: pinned flag: %v", apierr.ErrStorage, err)
	}
	r.Pinned = pinned == 1
	if r.PrivateComment, err = readString(rd); err != nil {
		return r, err
	}
	if r.PublicComment, err = readString(rd); err != nil {
		return r, err
	}
	if err := binary.Read(rd, binary.BigEndian, &r.Created); err != nil {
		return r, fmt.Errorf("%w: created: %v", apierr.ErrStorage, err)
	}
	if err := binary.Read(rd, binary.BigEndian, &r.Modified); err != nil {
		return r, fmt.Errorf("%w: modified: %v", apierr.ErrStorage, err)
	}
	return r, nil
}

// EncodePolicyKey builds the key an access policy is stored under.
func EncodePolicyKey(p AccessPolicy) []byte {
	var buf bytes.Buffer
	buf.WriteByte(NamespacePolicy)
	buf.Write(escape(p.ID))
	return buf.Bytes()
}

// EncodePolicyValue packs every policy field but the ID, versioned.
func EncodePolicyValue(p AccessPolicy) []byte {
	var buf bytes.Buffer
	buf.WriteByte(PolicyVersion1)
	writeString(&buf, p.Name)
	binary.Write(&buf, binary.BigEndian, uint32(len(p.AccessPoints)))
	names := make([]string, 0, len(p.AccessPoints))
	for name := range p.AccessPoints {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		writeString(&buf, name)
		if p.AccessPoints[name] {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	}
	return buf.Bytes()
}

// EncodePolicy returns the (key, value) pair for p.
func EncodePolicy(p AccessPolicy) (key, value []byte) {
	return EncodePolicyKey(p), EncodePolicyValue(p)
}

// DecodePolicy reverses EncodePolicy.
func DecodePolicy(key, value []byte) (AccessPolicy, error) {
	var p AccessPolicy
	if len(key) == 0 || key[0] != NamespacePolicy {
		return p, fmt.Errorf("%w: not a policy key", apierr.ErrStorage)
	}
	id, err := unescape(key[1:])
	if err != nil {
		return p, err
	}
	p.ID = id

	if len(value) == 0 {
		return p, fmt.Errorf("%w: empty policy value", apierr.ErrStorage)
	}
	if value[0] != PolicyVersion1 {
		return p, fmt.Errorf("%w: version %d", apierr.ErrUnknownRecordVersion, value[0])
	}
	rd := bytes.NewReader(value[1:])
	if p.Name, err = readString(rd); err != nil {
		return p, err
	}
	var n uint32
	if err := binary.Read(rd, binary.BigEndian, &n); err != nil {
		return p, fmt.Errorf("%w: access points count: %v", apierr.ErrStorage, err)
	}
	p.AccessPoints = make(map[string]bool, n)
	for i := uint32(0); i < n; i++ {
		name, err := readString(rd)
		if err != nil {
			return p, err
		}
		var allowed byte
		if err := binary.Read(rd, binary.BigEndian, &allowed); err != nil {
			return p, fmt.Errorf("%w: access point flag: %v", apierr.ErrStorage, err)
		}
		p.AccessPoints[name] = allowed == 1
	}
	return p, nil
}

func writeOptInt64(buf *bytes.Buffer, v *int64) {
	if v == nil {
		buf.WriteByte(0)
		return
	}
	buf.WriteByte(1)
	binary.Write(buf, binary.BigEndian, *v)
}

func readOptInt64(r *bytes.Reader) (*int64, error) {
	var present byte
	if err := binary.Read(r, binary.BigEndian, &present); err != nil {
		return nil, fmt.Errorf("%w: optional int64 presence: %v", apierr.ErrStorage, err)
	}
	if present == 0 {
		return nil, nil
	}
	var v int64
	if err := binary.Read(r, binary.BigEndian, &v); err != nil {
		return nil, fmt.Errorf("%w: optional int64 value: %v", apierr.ErrStorage, err)
	}
	return &v, nil
}

func writeString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.BigEndian, uint32(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", fmt.Errorf("%w: string length: %v", apierr.ErrStorage, err)
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil && n > 0 {
		return "", fmt.Errorf("%w: string bytes: %v", apierr.ErrStorage, err)
	}
	return string(b), nil
}
