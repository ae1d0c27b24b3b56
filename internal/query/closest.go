package query

import (
	"fmt"
	"time"

	"github.com/outbackwave/cdxindex/internal/record"
)

// captureSource is the common shape of kvstore.CaptureIter and the
// closest-in-time merger built on top of two of them, letting Execute
// treat both the same way.
type captureSource interface {
	Next() bool
	Capture() record.Capture
	Err() error
	Close() error
}

// closestMerger merges a forward scan (from the closest anchor onward)
// and a reverse scan (from the anchor backward) into timestamp-distance
// order: at each step it yields whichever side's next candidate has the
// smaller |timestamp - closest|, breaking ties toward the earlier
// timestamp, which is always the reverse side's candidate when the
// distances are equal.
type closestMerger struct {
	fwd, rev       captureSource
	closest        int64
	fwdOK, revOK   bool
	fwdCur, revCur record.Capture
	cur            record.Capture
}

func newClosestMerger(fwd, rev captureSource, closest int64) *closestMerger {
	m := &closestMerger{fwd: fwd, rev: rev, closest: closest}
	if m.fwdOK = fwd.Next(); m.fwdOK {
		m.fwdCur = fwd.Capture()
	}
	if m.revOK = rev.Next(); m.revOK {
		m.revCur = rev.Capture()
	}
	return m
}

var zeroCapture record.Capture

func (m *closestMerger) Next() bool {
	switch {
	case m.fwdOK && m.revOK:
		if timeDiff(m.revCur.Timestamp, m.closest) <= timeDiff(m.fwdCur.Timestamp, m.closest) {
			m.cur = m.popRev()
		} else {
			m.cur = m.popFwd()
		}
	case m.revOK:
		m.cur = m.popRev()
	case m.fwdOK:
		m.cur = m.popFwd()
	default:
		return false
	}
	return true
}

func (m *closestMerger) Capture() record.Capture { return m.cur }

func (m *closestMerger) popFwd() record.Capture {
	c := m.fwdCur
	if m.fwdOK = m.fwd.Next(); m.fwdOK {
		m.fwdCur = m.fwd.Capture()
	} else {
		m.fwdCur = zeroCapture
	}
	return c
}

func (m *closestMerger) popRev() record.Capture {
	c := m.revCur
	if m.revOK = m.rev.Next(); m.revOK {
		m.revCur = m.rev.Capture()
	} else {
		m.revCur = zeroCapture
	}
	return c
}

func (m *closestMerger) Err() error {
	if err := m.fwd.Err(); err != nil {
		return err
	}
	return m.rev.Err()
}

func (m *closestMerger) Close() error {
	err := m.fwd.Close()
	if rerr := m.rev.Close(); err == nil {
		err = rerr
	}
	return err
}

// timeDiff compares two 14-digit capture timestamps by actual elapsed
// time, not by their digit string's numeric value: a day boundary means
// raw integer subtraction does not track wall-clock distance (e.g.
// 20200102000000 is numerically much closer to 20200102120000 than
// 20200103000000 is, 120000 against 880000, even though both are exactly
// 12 hours away).
// Timestamps that fail to parse as calendar dates fall back to the raw
// numeric difference.
func timeDiff(a, closest int64) int64 {
	ta, errA := parseCaptureTime(a)
	tb, errB := parseCaptureTime(closest)
	if errA != nil || errB != nil {
		return absDiff(a, closest)
	}
	d := ta.Sub(tb)
	if d < 0 {
		d = -d
	}
	return int64(d)
}

func parseCaptureTime(ts int64) (time.Time, error) {
	return time.Parse("20060102150405", fmt.Sprintf("%014d", ts))
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
