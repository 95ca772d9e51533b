package feed

import (
	"time"

	"github.com/feed-sync/pkg/models"
)

// Consolidator accepts each raw record from a subscription and may emit
// derived records asynchronously relative to the raw cadence. Implementations
// declare the record kind they accept; compatibility is checked when the
// consolidator is attached, not per record.
type Consolidator interface {
	InputKind() models.Kind
	Update(rec *models.Record)
	// Scan gives time-driven consolidators a chance to close out a period
	// that elapsed without new data.
	Scan(t time.Time)
}

// BarConsolidator builds trade bars of a fixed period from trade ticks.
type BarConsolidator struct {
	period  time.Duration
	working *models.Record
	handler func(*models.Record)
}

// NewBarConsolidator creates a tick-to-bar consolidator. handler receives each
// completed bar.
func NewBarConsolidator(period time.Duration, handler func(*models.Record)) *BarConsolidator {
	return &BarConsolidator{period: period, handler: handler}
}

// InputKind implements Consolidator.
func (c *BarConsolidator) InputKind() models.Kind { return models.KindTick }

// Update implements Consolidator.
func (c *BarConsolidator) Update(rec *models.Record) {
	start := rec.Time.Truncate(c.period)

	if c.working != nil && !c.working.Time.Equal(start) {
		c.emit()
	}

	if c.working == nil {
		c.working = &models.Record{
			Symbol: rec.Symbol,
			Kind:   models.KindTradeBar,
			Time:   start,
			Period: c.period,
			Open:   rec.Price,
			High:   rec.Price,
			Low:    rec.Price,
			Close:  rec.Price,
			Volume: rec.Size,
		}
		return
	}

	if rec.Price > c.working.High {
		c.working.High = rec.Price
	}
	if rec.Price < c.working.Low {
		c.working.Low = rec.Price
	}
	c.working.Close = rec.Price
	c.working.Volume += rec.Size
}

// Scan implements Consolidator: emits the working bar once its period ends.
func (c *BarConsolidator) Scan(t time.Time) {
	if c.working != nil && !t.Before(c.working.EndTime()) {
		c.emit()
	}
}

func (c *BarConsolidator) emit() {
	if c.handler != nil {
		c.handler(c.working)
	}
	c.working = nil
}

// BarAggregator combines trade bars into larger trade bars, e.g. minute bars
// into hourly bars.
type BarAggregator struct {
	period  time.Duration
	working *models.Record
	handler func(*models.Record)
}

// NewBarAggregator creates a bar-to-bar aggregator for the target period.
func NewBarAggregator(period time.Duration, handler func(*models.Record)) *BarAggregator {
	return &BarAggregator{period: period, handler: handler}
}

// InputKind implements Consolidator.
func (a *BarAggregator) InputKind() models.Kind { return models.KindTradeBar }

// Update implements Consolidator.
func (a *BarAggregator) Update(rec *models.Record) {
	start := rec.Time.Truncate(a.period)

	if a.working != nil && !a.working.Time.Equal(start) {
		a.emit()
	}

	if a.working == nil {
		bar := *rec
		bar.Time = start
		bar.Period = a.period
		bar.FillForward = false
		a.working = &bar
		return
	}

	if rec.High > a.working.High {
		a.working.High = rec.High
	}
	if rec.Low < a.working.Low {
		a.working.Low = rec.Low
	}
	a.working.Close = rec.Close
	a.working.Volume += rec.Volume
}

// Scan implements Consolidator.
func (a *BarAggregator) Scan(t time.Time) {
	if a.working != nil && !t.Before(a.working.EndTime()) {
		a.emit()
	}
}

func (a *BarAggregator) emit() {
	if a.handler != nil {
		a.handler(a.working)
	}
	a.working = nil
}
