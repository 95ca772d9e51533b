package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordEndTime(t *testing.T) {
	ts := time.Date(2024, 1, 10, 9, 30, 0, 0, time.UTC)

	bar := &Record{Kind: KindTradeBar, Time: ts, Period: time.Minute}
	assert.Equal(t, ts.Add(time.Minute), bar.EndTime())

	tick := &Record{Kind: KindTick, Time: ts}
	assert.Equal(t, ts, tick.EndTime())
}

func TestRecordClone(t *testing.T) {
	ts := time.Date(2024, 1, 10, 9, 30, 0, 0, time.UTC)
	bar := &Record{Symbol: "AAPL", Kind: KindTradeBar, Time: ts, Period: time.Minute, Close: 100, Volume: 500}

	c := bar.Clone(ts.Add(time.Minute))
	assert.Equal(t, ts.Add(time.Minute), c.Time)
	assert.True(t, c.FillForward)
	assert.Equal(t, 100.0, c.Close)
	assert.Equal(t, time.Minute, c.Period)

	// The original is untouched.
	assert.False(t, bar.FillForward)
	assert.Equal(t, ts, bar.Time)
}

func TestRecordValue(t *testing.T) {
	assert.Equal(t, 100.0, (&Record{Kind: KindTradeBar, Close: 100}).Value())
	assert.Equal(t, 100.5, (&Record{Kind: KindQuoteBar, BidPrice: 100, AskPrice: 101}).Value())
	assert.Equal(t, 99.0, (&Record{Kind: KindTick, Price: 99}).Value())
	assert.Equal(t, 100.5, (&Record{Kind: KindTick, BidPrice: 100, AskPrice: 101}).Value())
}

func TestParseResolution(t *testing.T) {
	r, err := ParseResolution("minute")
	require.NoError(t, err)
	assert.Equal(t, ResolutionMinute, r)
	assert.Equal(t, time.Minute, r.Increment())

	_, err = ParseResolution("fortnight")
	assert.Error(t, err)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("trade_bar")
	require.NoError(t, err)
	assert.Equal(t, KindTradeBar, k)

	_, err = ParseKind("nope")
	assert.Error(t, err)
}

func TestSubscriptionKeyIdentity(t *testing.T) {
	a := SubscriptionConfig{Symbol: "AAPL", Kind: KindTradeBar, Resolution: ResolutionMinute}
	b := a
	b.FillForward = true
	b.Exchange = "nasdaq"

	// Key ignores non-identity fields.
	assert.Equal(t, a.Key(), b.Key())

	c := a
	c.IsInternal = true
	assert.NotEqual(t, a.Key(), c.Key())

	d := a
	d.Resolution = ResolutionDaily
	assert.NotEqual(t, a.Key(), d.Key())
}
