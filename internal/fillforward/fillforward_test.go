package fillforward

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feed-sync/internal/hours"
	"github.com/feed-sync/internal/source"
	"github.com/feed-sync/pkg/models"
)

func nyTime(t *testing.T, year int, month time.Month, day, hour, min int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return time.Date(year, month, day, hour, min, 0, 0, loc)
}

func minuteBar(ts time.Time, close float64) *models.Record {
	return &models.Record{
		Symbol: "AAPL",
		Kind:   models.KindTradeBar,
		Time:   ts,
		Period: time.Minute,
		Open:   close,
		High:   close,
		Low:    close,
		Close:  close,
		Volume: 100,
	}
}

func nyse(t *testing.T) *hours.Exchange {
	t.Helper()
	hrs, err := hours.Get("nyse")
	require.NoError(t, err)
	return hrs
}

func drain(e *Enumerator) []*models.Record {
	var out []*models.Record
	for e.Next() {
		out = append(out, e.Current())
	}
	return out
}

func TestFillForwardFillsIntradayGap(t *testing.T) {
	// Wednesday session. Bars at 09:30 and 09:33 at a one minute cadence
	// must produce synthetics at 09:31 and 09:32.
	open := nyTime(t, 2024, time.January, 10, 9, 30)
	raw := []*models.Record{
		minuteBar(open, 100),
		minuteBar(nyTime(t, 2024, time.January, 10, 9, 33), 103),
	}

	e := New(source.Slice(raw), nyse(t), NewInterval(time.Minute), false,
		nyTime(t, 2024, time.January, 10, 9, 33), time.Minute)

	got := drain(e)
	require.Len(t, got, 4)

	assert.False(t, got[0].FillForward)
	assert.Equal(t, open, got[0].Time)

	assert.True(t, got[1].FillForward)
	assert.Equal(t, open.Add(time.Minute), got[1].Time)
	assert.Equal(t, 100.0, got[1].Close)

	assert.True(t, got[2].FillForward)
	assert.Equal(t, open.Add(2*time.Minute), got[2].Time)

	assert.False(t, got[3].FillForward)
	assert.Equal(t, 103.0, got[3].Close)
	require.NoError(t, e.Err())
}

func TestFillForwardNeverFillsClosedHours(t *testing.T) {
	// Last bar of Tuesday, first bar of Wednesday. No synthetics may appear
	// between the close and the next open.
	raw := []*models.Record{
		minuteBar(nyTime(t, 2024, time.January, 9, 15, 59), 100),
		minuteBar(nyTime(t, 2024, time.January, 10, 9, 30), 101),
	}

	e := New(source.Slice(raw), nyse(t), NewInterval(time.Minute), false,
		nyTime(t, 2024, time.January, 10, 16, 0), time.Minute)

	require.True(t, e.Next())
	assert.False(t, e.Current().FillForward)

	require.True(t, e.Next())
	assert.False(t, e.Current().FillForward)
	assert.Equal(t, nyTime(t, 2024, time.January, 10, 9, 30), e.Current().Time)
}

func TestFillForwardSnapsToNextOpenAcrossWeekend(t *testing.T) {
	// Friday 15:59 to Monday 09:31. The first post-gap boundary snaps to the
	// Monday official open rather than stepping minute by minute through the
	// weekend.
	raw := []*models.Record{
		minuteBar(nyTime(t, 2024, time.January, 5, 15, 59), 100),
		minuteBar(nyTime(t, 2024, time.January, 8, 9, 31), 102),
	}

	e := New(source.Slice(raw), nyse(t), NewInterval(time.Minute), false,
		nyTime(t, 2024, time.January, 8, 16, 0), time.Minute)

	require.True(t, e.Next())
	require.True(t, e.Next())

	synthetic := e.Current()
	assert.True(t, synthetic.FillForward)
	assert.Equal(t, nyTime(t, 2024, time.January, 8, 9, 30), synthetic.Time)
	assert.Equal(t, 100.0, synthetic.Close)

	require.True(t, e.Next())
	assert.False(t, e.Current().FillForward)
	assert.Equal(t, 102.0, e.Current().Close)
}

func TestFillForwardFirstRecordPassesThroughPreMarket(t *testing.T) {
	// The first record passes through unchanged even outside regular hours;
	// the first synthetic after it aligns to the official open.
	raw := []*models.Record{
		minuteBar(nyTime(t, 2024, time.January, 10, 8, 0), 99),
		minuteBar(nyTime(t, 2024, time.January, 10, 9, 45), 101),
	}

	e := New(source.Slice(raw), nyse(t), NewInterval(time.Minute), false,
		nyTime(t, 2024, time.January, 10, 16, 0), time.Minute)

	require.True(t, e.Next())
	assert.False(t, e.Current().FillForward)
	assert.Equal(t, nyTime(t, 2024, time.January, 10, 8, 0), e.Current().Time)

	require.True(t, e.Next())
	assert.True(t, e.Current().FillForward)
	assert.Equal(t, nyTime(t, 2024, time.January, 10, 9, 30), e.Current().Time)
}

func TestFillForwardFillsToEndTimeAfterExhaustion(t *testing.T) {
	raw := []*models.Record{
		minuteBar(nyTime(t, 2024, time.January, 10, 9, 30), 100),
	}

	e := New(source.Slice(raw), nyse(t), NewInterval(time.Minute), false,
		nyTime(t, 2024, time.January, 10, 9, 33), time.Minute)

	got := drain(e)
	require.Len(t, got, 4)
	for _, rec := range got[1:] {
		assert.True(t, rec.FillForward)
		assert.Equal(t, 100.0, rec.Close)
	}
	assert.Equal(t, nyTime(t, 2024, time.January, 10, 9, 33), got[3].Time)
}

func TestFillForwardCadenceChangesMidStream(t *testing.T) {
	interval := NewInterval(5 * time.Minute)
	raw := []*models.Record{
		minuteBar(nyTime(t, 2024, time.January, 10, 9, 30), 100),
		minuteBar(nyTime(t, 2024, time.January, 10, 9, 40), 101),
	}

	e := New(source.Slice(raw), nyse(t), interval, false,
		nyTime(t, 2024, time.January, 10, 9, 46), time.Minute)

	require.True(t, e.Next()) // 09:30 real
	require.True(t, e.Next()) // 09:35 synthetic
	assert.Equal(t, nyTime(t, 2024, time.January, 10, 9, 35), e.Current().Time)
	require.True(t, e.Next()) // 09:40 real
	assert.False(t, e.Current().FillForward)

	// The cell is re-read on every boundary decision; subsequent fills step
	// at the new cadence.
	interval.Set(2 * time.Minute)

	var times []time.Time
	for e.Next() {
		times = append(times, e.Current().Time)
	}
	require.Len(t, times, 3)
	assert.Equal(t, nyTime(t, 2024, time.January, 10, 9, 42), times[0])
	assert.Equal(t, nyTime(t, 2024, time.January, 10, 9, 44), times[1])
	assert.Equal(t, nyTime(t, 2024, time.January, 10, 9, 46), times[2])
}

func TestFillForwardSyntheticKeepsNativeIncrement(t *testing.T) {
	// Daily data filled at an hourly cadence still reports a full-day period
	// on synthetics.
	day := 24 * time.Hour
	raw := []*models.Record{
		{
			Symbol: "BTCUSDT",
			Kind:   models.KindTradeBar,
			Time:   time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
			Period: day,
			Close:  50000,
		},
	}

	crypto, err := hours.Get("binance")
	require.NoError(t, err)

	e := New(source.Slice(raw), crypto, NewInterval(time.Hour), false,
		time.Date(2024, time.March, 1, 3, 0, 0, 0, time.UTC), day)

	got := drain(e)
	require.Len(t, got, 4)
	for _, rec := range got[1:] {
		assert.True(t, rec.FillForward)
		assert.Equal(t, day, rec.Period)
	}
}

func TestFillForwardEmptyStream(t *testing.T) {
	e := New(source.Slice(nil), nyse(t), NewInterval(time.Minute), false,
		nyTime(t, 2024, time.January, 10, 16, 0), time.Minute)

	assert.False(t, e.Next())
	assert.NoError(t, e.Err())
}

func TestFillForwardAlignsFirstBoundaryToOfficialOpen(t *testing.T) {
	// A second resolution bar just before the open at a one minute cadence:
	// the naive step lands mid-session at 09:30:30, but the first synthetic
	// must sit exactly on the 09:30 open.
	preOpen := nyTime(t, 2024, time.January, 10, 9, 29).Add(30 * time.Second)
	raw := []*models.Record{
		{Symbol: "AAPL", Kind: models.KindTradeBar, Time: preOpen, Period: time.Second, Close: 100},
		{Symbol: "AAPL", Kind: models.KindTradeBar, Time: nyTime(t, 2024, time.January, 10, 9, 31), Period: time.Second, Close: 101},
	}

	e := New(source.Slice(raw), nyse(t), NewInterval(time.Minute), false,
		nyTime(t, 2024, time.January, 10, 9, 31), time.Second)

	got := drain(e)
	require.Len(t, got, 3)

	assert.False(t, got[0].FillForward)
	assert.Equal(t, preOpen, got[0].Time)

	assert.True(t, got[1].FillForward)
	assert.Equal(t, nyTime(t, 2024, time.January, 10, 9, 30), got[1].Time)
	assert.Equal(t, time.Second, got[1].Period)
	assert.Equal(t, 100.0, got[1].Close)

	assert.False(t, got[2].FillForward)
	assert.Equal(t, 101.0, got[2].Close)
}

func TestFillForwardPollNeverBlocksOnQuietLiveStream(t *testing.T) {
	live := source.NewLiveEnumerator(8)
	e := New(live, nyse(t), NewInterval(time.Minute), false,
		nyTime(t, 2024, time.January, 10, 16, 0), time.Minute)

	// Nothing buffered yet: not ready, and crucially not blocking.
	assert.False(t, e.Poll())

	require.True(t, live.Push(minuteBar(nyTime(t, 2024, time.January, 10, 9, 30), 100)))
	assert.True(t, e.Poll())
	require.True(t, e.Next())
	assert.Equal(t, 100.0, e.Current().Close)

	// The raw stream went quiet again.
	assert.False(t, e.Poll())

	require.True(t, live.Push(minuteBar(nyTime(t, 2024, time.January, 10, 9, 32), 102)))
	assert.True(t, e.Poll())
	require.True(t, e.Next())
	assert.True(t, e.Current().FillForward)
	assert.Equal(t, nyTime(t, 2024, time.January, 10, 9, 31), e.Current().Time)

	// The buffered lookahead keeps the wrapper ready until it drains.
	assert.True(t, e.Poll())
	require.True(t, e.Next())
	assert.False(t, e.Current().FillForward)
	assert.Equal(t, 102.0, e.Current().Close)
}
