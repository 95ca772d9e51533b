package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feed-sync/pkg/models"
)

func tick(ts time.Time, price, size float64) *models.Record {
	return &models.Record{
		Symbol: "BTCUSDT",
		Kind:   models.KindTick,
		Time:   ts,
		Price:  price,
		Size:   size,
	}
}

func TestBarConsolidatorBuildsBarsFromTicks(t *testing.T) {
	var bars []*models.Record
	c := NewBarConsolidator(time.Minute, func(bar *models.Record) {
		bars = append(bars, bar)
	})

	base := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	c.Update(tick(base.Add(5*time.Second), 100, 1))
	c.Update(tick(base.Add(20*time.Second), 105, 2))
	c.Update(tick(base.Add(40*time.Second), 98, 1))
	// First tick of the next minute flushes the working bar.
	c.Update(tick(base.Add(65*time.Second), 99, 1))

	require.Len(t, bars, 1)
	bar := bars[0]
	assert.Equal(t, models.KindTradeBar, bar.Kind)
	assert.Equal(t, base, bar.Time)
	assert.Equal(t, time.Minute, bar.Period)
	assert.Equal(t, 100.0, bar.Open)
	assert.Equal(t, 105.0, bar.High)
	assert.Equal(t, 98.0, bar.Low)
	assert.Equal(t, 98.0, bar.Close)
	assert.Equal(t, 4.0, bar.Volume)
}

func TestBarConsolidatorScanClosesElapsedPeriod(t *testing.T) {
	var bars []*models.Record
	c := NewBarConsolidator(time.Minute, func(bar *models.Record) {
		bars = append(bars, bar)
	})

	base := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	c.Update(tick(base.Add(5*time.Second), 100, 1))

	// Time passes with no new ticks; the scan emits the working bar.
	c.Scan(base.Add(30 * time.Second))
	assert.Empty(t, bars)
	c.Scan(base.Add(time.Minute))
	require.Len(t, bars, 1)
	assert.Equal(t, 100.0, bars[0].Close)
}

func TestBarConsolidatorRejectsWrongKind(t *testing.T) {
	cfg := barConfig("AAPL") // trade bars, not ticks
	sub := newSubscription(cfg, nil, nil, time.Time{}, time.Time{}, testLogger().WithField("t", "t"))

	err := sub.AttachConsolidator(NewBarConsolidator(time.Minute, nil))
	assert.ErrorIs(t, err, ErrIncompatibleConsolidator)
}

func TestBarAggregatorCombinesBars(t *testing.T) {
	var out []*models.Record
	a := NewBarAggregator(5*time.Minute, func(bar *models.Record) {
		out = append(out, bar)
	})

	base := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		rec := bar("AAPL", base.Add(time.Duration(i)*time.Minute), 100+float64(i))
		rec.Open = 100 + float64(i)
		rec.High = 101 + float64(i)
		rec.Low = 99 + float64(i)
		a.Update(rec)
	}
	a.Scan(base.Add(5 * time.Minute))

	require.Len(t, out, 1)
	combined := out[0]
	assert.Equal(t, base, combined.Time)
	assert.Equal(t, 5*time.Minute, combined.Period)
	assert.Equal(t, 100.0, combined.Open)
	assert.Equal(t, 105.0, combined.High)
	assert.Equal(t, 99.0, combined.Low)
	assert.Equal(t, 104.0, combined.Close)
	assert.Equal(t, 5.0, combined.Volume)
}

func TestSubscriptionFeedsConsolidatorsSkippingSynthetics(t *testing.T) {
	cfg := barConfig("AAPL")
	sub := newSubscription(cfg, nil, nil, time.Time{}, time.Time{}, testLogger().WithField("t", "t"))

	var seen []*models.Record
	agg := NewBarAggregator(time.Hour, func(bar *models.Record) {})
	require.NoError(t, sub.AttachConsolidator(agg))

	countingUpdate := 0
	counter := &countingConsolidator{kind: models.KindTradeBar, onUpdate: func(rec *models.Record) {
		countingUpdate++
		seen = append(seen, rec)
	}}
	require.NoError(t, sub.AttachConsolidator(counter))

	real := bar("AAPL", ny(t, 10, 9, 30), 100)
	synthetic := real.Clone(ny(t, 10, 9, 31))

	sub.next = real
	sub.take()
	sub.next = synthetic
	sub.take()

	assert.Equal(t, 1, countingUpdate)
	assert.Equal(t, real, seen[0])

	assert.True(t, sub.DetachConsolidator(counter))
	assert.False(t, sub.DetachConsolidator(counter))
}

type countingConsolidator struct {
	kind     models.Kind
	onUpdate func(*models.Record)
}

func (c *countingConsolidator) InputKind() models.Kind { return c.kind }
func (c *countingConsolidator) Update(rec *models.Record) {
	if c.onUpdate != nil {
		c.onUpdate(rec)
	}
}
func (c *countingConsolidator) Scan(time.Time) {}
