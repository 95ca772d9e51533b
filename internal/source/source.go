package source

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/feed-sync/pkg/models"
)

// ErrNotFound indicates no data exists for the requested date. Callers must
// treat it as an empty day, not a failure: markets close.
var ErrNotFound = errors.New("source: no data for date")

// ErrCorruptData indicates the underlying bytes for a date are unreadable.
// Callers log it once per offending file and treat the day as empty.
var ErrCorruptData = errors.New("source: corrupt data")

// Enumerator is a pull cursor over records. Next advances and reports whether
// a record is available; Current is valid until the next call to Next. A false
// Next with a nil Err means clean exhaustion.
type Enumerator interface {
	Next() bool
	Current() *models.Record
	Err() error
	Close() error
}

// Poller is implemented by enumerators that can report whether a record is
// immediately available without blocking. Live feeds implement it so the
// synchronizer never stalls on a quiet stream.
type Poller interface {
	Poll() bool
}

// Source yields a lazy, finite, restartable-per-day sequence of raw records
// for one configuration and date.
type Source interface {
	Open(cfg models.SubscriptionConfig, date time.Time) (Enumerator, error)
}

// sliceEnumerator walks an in-memory record slice.
type sliceEnumerator struct {
	records []*models.Record
	idx     int
}

// Slice returns an enumerator over an in-memory record slice.
func Slice(records []*models.Record) Enumerator {
	return &sliceEnumerator{records: records, idx: -1}
}

func (s *sliceEnumerator) Next() bool {
	if s.idx+1 >= len(s.records) {
		return false
	}
	s.idx++
	return true
}

func (s *sliceEnumerator) Current() *models.Record {
	if s.idx < 0 || s.idx >= len(s.records) {
		return nil
	}
	return s.records[s.idx]
}

func (s *sliceEnumerator) Err() error   { return nil }
func (s *sliceEnumerator) Close() error { return nil }

// rangeEnumerator chains per-day enumerators across a date range, re-opening
// the source for each day. Missing days are skipped silently, corrupt days are
// logged once and skipped; any other open error is fatal for the stream.
type rangeEnumerator struct {
	src    Source
	cfg    models.SubscriptionConfig
	loc    *time.Location
	day    time.Time
	end    time.Time
	inner  Enumerator
	cur    *models.Record
	err    error
	log    *logrus.Entry
	closed bool
}

// OverRange returns an enumerator that replays the source day by day from
// start through end (inclusive), in the configuration's data time zone.
func OverRange(src Source, cfg models.SubscriptionConfig, start, end time.Time, log *logrus.Entry) Enumerator {
	loc, err := cfg.DataLocation()
	if err != nil {
		return &rangeEnumerator{err: err}
	}

	s := start.In(loc)
	first := time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, loc)

	return &rangeEnumerator{
		src: src,
		cfg: cfg,
		loc: loc,
		day: first,
		end: end,
		log: log,
	}
}

func (r *rangeEnumerator) Next() bool {
	if r.err != nil || r.closed {
		return false
	}

	for {
		if r.inner != nil {
			if r.inner.Next() {
				r.cur = r.inner.Current()
				return true
			}
			if err := r.inner.Err(); err != nil {
				r.err = err
				return false
			}
			r.inner.Close()
			r.inner = nil
			r.day = r.day.AddDate(0, 0, 1)
		}

		if r.day.After(r.end) {
			return false
		}

		enum, err := r.src.Open(r.cfg, r.day)
		switch {
		case errors.Is(err, ErrNotFound):
			r.day = r.day.AddDate(0, 0, 1)
			continue
		case errors.Is(err, ErrCorruptData):
			if r.log != nil {
				r.log.WithFields(logrus.Fields{
					"symbol": r.cfg.Symbol,
					"date":   r.day.Format("2006-01-02"),
				}).Warn("Corrupt data file, treating day as empty")
			}
			r.day = r.day.AddDate(0, 0, 1)
			continue
		case err != nil:
			r.err = err
			return false
		}
		r.inner = enum
	}
}

func (r *rangeEnumerator) Current() *models.Record { return r.cur }
func (r *rangeEnumerator) Err() error              { return r.err }

func (r *rangeEnumerator) Close() error {
	r.closed = true
	if r.inner != nil {
		return r.inner.Close()
	}
	return nil
}
