package feed

import (
	"time"

	"github.com/feed-sync/pkg/models"
)

// TimeSlice is one synchronized snapshot: every record across all active,
// non-internal subscriptions whose time bucket matched the frontier, plus the
// universe selection decisions resolved at this step. The view is immutable
// once handed to the consumer.
type TimeSlice struct {
	// Time is the frontier instant in UTC.
	Time time.Time

	// Data maps symbol to the records it contributed, in consumption order.
	Data map[string][]*models.Record

	// Selections surfaces what each universe decided at this step.
	Selections []*models.SelectionDecision

	// Count is the number of records in Data.
	Count int
}

func newTimeSlice(t time.Time) *TimeSlice {
	return &TimeSlice{
		Time: t,
		Data: make(map[string][]*models.Record),
	}
}

func (ts *TimeSlice) add(rec *models.Record) {
	ts.Data[rec.Symbol] = append(ts.Data[rec.Symbol], rec)
	ts.Count++
}

// Records returns all records for a symbol, or nil.
func (ts *TimeSlice) Records(symbol string) []*models.Record {
	return ts.Data[symbol]
}

// Bars returns the trade bars in the slice keyed by symbol.
func (ts *TimeSlice) Bars() map[string]*models.Record {
	out := make(map[string]*models.Record)
	for sym, recs := range ts.Data {
		for _, rec := range recs {
			if rec.Kind == models.KindTradeBar {
				out[sym] = rec
			}
		}
	}
	return out
}
