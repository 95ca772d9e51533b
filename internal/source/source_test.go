package source

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feed-sync/pkg/models"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func utcConfig(symbol string) models.SubscriptionConfig {
	return models.SubscriptionConfig{
		Symbol:           symbol,
		Exchange:         "binance",
		Kind:             models.KindTradeBar,
		Resolution:       models.ResolutionMinute,
		DataTimeZone:     "UTC",
		ExchangeTimeZone: "UTC",
	}
}

func utcBar(symbol string, ts time.Time) *models.Record {
	return &models.Record{Symbol: symbol, Kind: models.KindTradeBar, Time: ts, Period: time.Minute, Close: 1}
}

// mapSource serves scripted per-day results.
type mapSource struct {
	days map[string][]*models.Record
	errs map[string]error
}

func (m *mapSource) Open(cfg models.SubscriptionConfig, date time.Time) (Enumerator, error) {
	key := date.Format("2006-01-02")
	if err, ok := m.errs[key]; ok {
		return nil, err
	}
	recs, ok := m.days[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return Slice(recs), nil
}

func TestSliceEnumerator(t *testing.T) {
	recs := []*models.Record{
		utcBar("X", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		utcBar("X", time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC)),
	}

	e := Slice(recs)
	assert.Nil(t, e.Current())

	require.True(t, e.Next())
	assert.Equal(t, recs[0], e.Current())
	require.True(t, e.Next())
	assert.Equal(t, recs[1], e.Current())
	assert.False(t, e.Next())
	assert.NoError(t, e.Err())
}

func TestOverRangeChainsDaysAndSkipsMissing(t *testing.T) {
	day1 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	day3 := time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC)

	src := &mapSource{days: map[string][]*models.Record{
		"2024-01-01": {utcBar("X", day1)},
		// January 2 missing entirely.
		"2024-01-03": {utcBar("X", day3)},
	}}

	e := OverRange(src, utcConfig("X"),
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC),
		testLogger().WithField("component", "test"))

	var times []time.Time
	for e.Next() {
		times = append(times, e.Current().Time)
	}
	require.NoError(t, e.Err())
	assert.Equal(t, []time.Time{day1, day3}, times)
}

func TestOverRangeSkipsCorruptDays(t *testing.T) {
	day2 := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)

	src := &mapSource{
		days: map[string][]*models.Record{
			"2024-01-02": {utcBar("X", day2)},
		},
		errs: map[string]error{
			"2024-01-01": fmt.Errorf("%w: bad bytes", ErrCorruptData),
		},
	}

	e := OverRange(src, utcConfig("X"),
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		testLogger().WithField("component", "test"))

	require.True(t, e.Next())
	assert.Equal(t, day2, e.Current().Time)
	assert.False(t, e.Next())
	assert.NoError(t, e.Err())
}

func TestOverRangeFatalOnOtherErrors(t *testing.T) {
	boom := errors.New("disk on fire")
	src := &mapSource{errs: map[string]error{"2024-01-01": boom}}

	e := OverRange(src, utcConfig("X"),
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		testLogger().WithField("component", "test"))

	assert.False(t, e.Next())
	assert.ErrorIs(t, e.Err(), boom)
}

func TestLiveEnumeratorPushPollNext(t *testing.T) {
	l := NewLiveEnumerator(2)

	assert.False(t, l.Poll())

	rec := utcBar("X", time.Now().UTC())
	require.True(t, l.Push(rec))

	assert.True(t, l.Poll())
	// Poll buffers the peeked record; Next serves it without losing it.
	require.True(t, l.Next())
	assert.Equal(t, rec, l.Current())
	assert.False(t, l.Poll())
}

func TestLiveEnumeratorBufferFull(t *testing.T) {
	l := NewLiveEnumerator(1)

	require.True(t, l.Push(utcBar("X", time.Now().UTC())))
	assert.False(t, l.Push(utcBar("X", time.Now().UTC())))
}

func TestLiveEnumeratorStopDrains(t *testing.T) {
	l := NewLiveEnumerator(2)

	rec := utcBar("X", time.Now().UTC())
	require.True(t, l.Push(rec))
	l.Stop()

	// Buffered record still drains after Stop, then the stream ends cleanly.
	require.True(t, l.Next())
	assert.Equal(t, rec, l.Current())
	assert.False(t, l.Next())
	assert.NoError(t, l.Err())
}

func TestLiveEnumeratorPushAfterStopIsRejected(t *testing.T) {
	l := NewLiveEnumerator(2)

	require.True(t, l.Push(utcBar("X", time.Now().UTC())))
	l.Stop()

	// A producer racing Stop gets a refusal, never a closed-channel panic.
	assert.False(t, l.Push(utcBar("X", time.Now().UTC())))
	l.Stop()

	require.True(t, l.Next())
	assert.False(t, l.Next())
}
