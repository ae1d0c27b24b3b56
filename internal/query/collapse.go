package query

import "github.com/outbackwave/cdxindex/internal/record"

// collapser implements collapse/collapseToFirst (a stateless-looking
// streaming predicate: keep a capture iff its key differs from the
// previous kept capture's) and collapseToLast (which needs one capture of
// lookahead, since the decision to keep a run's last member can only be
// made once the run ends).
type collapser struct {
	field      string
	length     int
	toLast     bool
	haveLast   bool
	lastKey    string
	buffered   record.Capture
	haveBuffer bool
}

func newCollapser(q *Query) *collapser {
	if q.CollapseField == "" {
		return nil
	}
	return &collapser{field: q.CollapseField, length: q.CollapseLen, toLast: q.CollapseToLast}
}

func (c *collapser) key(cap record.Capture) string {
	v, _ := FieldValue(cap, c.field)
	if c.length > 0 && len(v) > c.length {
		v = v[:c.length]
	}
	return v
}

// Step feeds one capture through the collapser. ok reports whether a
// capture should be emitted now; when toLast buffers, ok is false until
// the run ends (detected by the next call with a different key) or Flush
// is called at end of stream.
func (c *collapser) Step(cap record.Capture) (record.Capture, bool) {
	key := c.key(cap)
	if !c.toLast {
		if c.haveLast && key == c.lastKey {
			return record.Capture{}, false
		}
		c.haveLast, c.lastKey = true, key
		return cap, true
	}

	if !c.haveBuffer {
		c.buffered, c.lastKey, c.haveBuffer = cap, key, true
		return record.Capture{}, false
	}
	if key == c.lastKey {
		c.buffered = cap // keep the latest member of the run
		return record.Capture{}, false
	}
	out := c.buffered
	c.buffered, c.lastKey = cap, key
	return out, true
}

// Flush returns the last run's buffered capture for collapseToLast, once
// the stream has ended. It is a no-op for collapseToFirst.
func (c *collapser) Flush() (record.Capture, bool) {
	if !c.toLast || !c.haveBuffer {
		return record.Capture{}, false
	}
	c.haveBuffer = false
	return c.buffered, true
}
