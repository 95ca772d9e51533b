package fillforward

import (
	"time"

	"github.com/feed-sync/internal/hours"
	"github.com/feed-sync/internal/source"
	"github.com/feed-sync/pkg/models"
)

// Enumerator densifies a sparse, time-ordered record stream to a target
// cadence, bounded by tradable hours. Raw records pass through unchanged;
// gaps larger than the cadence are filled with value-copies of the last real
// record, shifted in time and tagged FillForward. Boundaries that fall outside
// tradable hours are skipped entirely: the stream lands on the next session
// open instead of emitting one record per elapsed cadence step.
//
// The synthetic records carry the subscription's native increment, not the
// fill-forward cadence; daily data filled at an hourly cadence still reports a
// full-day period on every synthetic emission.
type Enumerator struct {
	inner     source.Enumerator
	hours     *hours.Exchange
	interval  *Interval
	extended  bool
	endTime   time.Time
	increment time.Duration

	prev      *models.Record
	pending   *models.Record
	cur       *models.Record
	innerDone bool
	err       error
}

// New wraps a raw enumerator with fill-forward. endTime bounds emission: the
// stream stops once it is reached, with a final boundary at exactly endTime
// emitted when tradable.
func New(inner source.Enumerator, hrs *hours.Exchange, interval *Interval, extended bool, endTime time.Time, increment time.Duration) *Enumerator {
	return &Enumerator{
		inner:     inner,
		hours:     hrs,
		interval:  interval,
		extended:  extended,
		endTime:   endTime,
		increment: increment,
	}
}

// Next implements source.Enumerator.
func (e *Enumerator) Next() bool {
	if e.err != nil {
		return false
	}

	// The first raw record passes straight through; there is nothing to fill
	// from yet, even when it arrives pre-market.
	if e.prev == nil {
		if !e.inner.Next() {
			e.err = e.inner.Err()
			return false
		}
		e.cur = e.inner.Current()
		e.prev = e.cur
		return true
	}

	if e.pending == nil && !e.innerDone {
		if e.inner.Next() {
			e.pending = e.inner.Current()
		} else {
			if err := e.inner.Err(); err != nil {
				e.err = err
				return false
			}
			e.innerDone = true
		}
	}

	if e.pending != nil {
		if t, ok := e.nextBoundary(); ok && t.Before(e.pending.Time) && !t.After(e.endTime) {
			e.cur = e.synthetic(t)
			e.prev = e.cur
			return true
		}

		if e.pending.Time.After(e.endTime) {
			return false
		}

		e.cur = e.pending
		e.prev = e.pending
		e.pending = nil
		return true
	}

	// Raw stream exhausted: keep filling until the subscription end time.
	if t, ok := e.nextBoundary(); ok && !t.After(e.endTime) {
		e.cur = e.synthetic(t)
		e.prev = e.cur
		return true
	}

	return false
}

// nextBoundary computes the next tradable cadence boundary after the last
// emitted record. When the naive step lands outside tradable hours the
// boundary snaps forward to the next session open, which also aligns the
// first post-gap emission to the official open whenever the previous record
// ended pre-open.
func (e *Enumerator) nextBoundary() (time.Time, bool) {
	d := e.interval.Get()
	if d <= 0 {
		return time.Time{}, false
	}

	c := e.prev.Time.Add(d)
	if e.hours.IsOpen(c, e.extended) {
		// A gap that started before the session fills from the official open,
		// not from the previous timestamp plus one cadence step: the naive
		// step can land mid-session past the open.
		if !e.hours.IsOpen(e.prev.Time, e.extended) {
			open := e.hours.NextOpen(e.prev.Time, e.extended)
			if open.After(e.prev.Time) && open.Before(c) {
				return open, true
			}
		}
		return c, true
	}
	return e.hours.NextOpen(c, e.extended), true
}

func (e *Enumerator) synthetic(t time.Time) *models.Record {
	rec := e.prev.Clone(t)
	rec.Period = e.increment
	return rec
}

// Poll implements source.Poller so the wrapper never hides a live inner
// cursor's readiness from the merge. A buffered lookahead record or an
// exhausted inner stream means Next cannot block; otherwise readiness is
// whatever the inner cursor reports.
func (e *Enumerator) Poll() bool {
	if e.err != nil {
		return true
	}
	if e.pending != nil || e.innerDone {
		return true
	}
	if p, ok := e.inner.(source.Poller); ok {
		return p.Poll()
	}
	return true
}

// Current implements source.Enumerator.
func (e *Enumerator) Current() *models.Record { return e.cur }

// Err implements source.Enumerator.
func (e *Enumerator) Err() error { return e.err }

// Close implements source.Enumerator.
func (e *Enumerator) Close() error { return e.inner.Close() }
