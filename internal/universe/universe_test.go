package universe

import (
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

func selectionConfig() models.SubscriptionConfig {
	return models.SubscriptionConfig{
		Symbol:           "dollar-volume",
		Exchange:         "nyse",
		Kind:             models.KindSelection,
		Resolution:       models.ResolutionDaily,
		DataTimeZone:     "America/New_York",
		ExchangeTimeZone: "America/New_York",
		IsInternal:       true,
	}
}

func nyUTC(t *testing.T, day, hour, min int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return time.Date(2024, time.January, day, hour, min, 0, 0, loc).UTC()
}

func candidates() *models.Selection {
	return &models.Selection{Candidates: []models.Candidate{
		{Symbol: "AAPL", Price: 100, DollarVolume: 3e9},
		{Symbol: "MSFT", Price: 200, DollarVolume: 2e9},
		{Symbol: "PENNY", Price: 0.5, DollarVolume: 1e5},
	}}
}

func TestSelectSymbolsCachesStaticResultForTheDay(t *testing.T) {
	calls := 0
	filter := FilterFunc(func(_ time.Time, c []models.Candidate) []string {
		calls++
		return []string{"AAPL"}
	})

	u, err := New(selectionConfig(), DefaultSettings(), filter, false, testLogger())
	require.NoError(t, err)

	selected, changed := u.SelectSymbols(nyUTC(t, 10, 0, 0), candidates())
	assert.True(t, changed)
	assert.Equal(t, []string{"AAPL"}, selected)
	assert.Equal(t, 1, calls)

	// Same exchange-local day: unchanged, filter not re-invoked.
	selected, changed = u.SelectSymbols(nyUTC(t, 10, 12, 0), candidates())
	assert.False(t, changed)
	assert.Nil(t, selected)
	assert.Equal(t, 1, calls)

	// Next day: the filter runs again.
	_, changed = u.SelectSymbols(nyUTC(t, 11, 0, 0), candidates())
	assert.True(t, changed)
	assert.Equal(t, 2, calls)
}

func TestSelectSymbolsDynamicFilterAlwaysRuns(t *testing.T) {
	calls := 0
	filter := DynamicFilterFunc(func(_ time.Time, c []models.Candidate) []string {
		calls++
		return []string{"AAPL"}
	})

	u, err := New(selectionConfig(), DefaultSettings(), filter, false, testLogger())
	require.NoError(t, err)

	_, changed := u.SelectSymbols(nyUTC(t, 10, 0, 0), candidates())
	assert.True(t, changed)
	_, changed = u.SelectSymbols(nyUTC(t, 10, 12, 0), candidates())
	assert.True(t, changed)
	assert.Equal(t, 2, calls)
}

func TestCanRemoveMemberNeverBeforeFirstData(t *testing.T) {
	u, err := New(selectionConfig(), DefaultSettings(), Static("AAPL"), false, testLogger())
	require.NoError(t, err)

	joined := nyUTC(t, 10, 9, 30)
	require.True(t, u.AddMember(joined, "AAPL"))

	// No data yet: not removable on any horizon.
	assert.False(t, u.CanRemoveMember(nyUTC(t, 12, 9, 30), "AAPL"))

	u.RecordReceived("AAPL", nyUTC(t, 10, 10, 0))
	assert.True(t, u.CanRemoveMember(nyUTC(t, 11, 9, 30), "AAPL"))
}

func TestCanRemoveMemberBacktestRequiresDayBoundary(t *testing.T) {
	u, err := New(selectionConfig(), DefaultSettings(), Static("AAPL"), false, testLogger())
	require.NoError(t, err)

	u.AddMember(nyUTC(t, 10, 9, 30), "AAPL")
	u.RecordReceived("AAPL", nyUTC(t, 10, 10, 0))

	// Same exchange-local day as the last data record: kept.
	assert.False(t, u.CanRemoveMember(nyUTC(t, 10, 15, 0), "AAPL"))
	// Across the day boundary: removable.
	assert.True(t, u.CanRemoveMember(nyUTC(t, 11, 9, 30), "AAPL"))
}

func TestCanRemoveMemberLiveEnforcesDwellTime(t *testing.T) {
	settings := DefaultSettings()
	settings.MinimumDwellTime = 15 * time.Minute

	u, err := New(selectionConfig(), settings, Static("AAPL"), true, testLogger())
	require.NoError(t, err)

	joined := nyUTC(t, 10, 9, 30)
	u.AddMember(joined, "AAPL")
	u.RecordReceived("AAPL", joined.Add(time.Minute))

	assert.False(t, u.CanRemoveMember(joined.Add(10*time.Minute), "AAPL"))
	assert.True(t, u.CanRemoveMember(joined.Add(15*time.Minute), "AAPL"))
}

func TestCanRemoveMemberUnknownSymbol(t *testing.T) {
	u, err := New(selectionConfig(), DefaultSettings(), Static(), false, testLogger())
	require.NoError(t, err)

	assert.False(t, u.CanRemoveMember(nyUTC(t, 10, 9, 30), "GOOG"))
}

func TestMembershipBookkeeping(t *testing.T) {
	u, err := New(selectionConfig(), DefaultSettings(), Static(), false, testLogger())
	require.NoError(t, err)

	ts := nyUTC(t, 10, 9, 30)
	assert.True(t, u.AddMember(ts, "MSFT"))
	assert.True(t, u.AddMember(ts, "AAPL"))
	assert.False(t, u.AddMember(ts, "AAPL"))

	assert.Equal(t, []string{"AAPL", "MSFT"}, u.Members())

	assert.True(t, u.RemoveMember("AAPL"))
	assert.False(t, u.RemoveMember("AAPL"))
	assert.Equal(t, []string{"MSFT"}, u.Members())
}

func TestTopDollarVolumeFilter(t *testing.T) {
	result := TopDollarVolume(2).Select(time.Now(), candidates().Candidates)
	assert.Equal(t, []string{"AAPL", "MSFT"}, result.Symbols)
	assert.False(t, result.Dynamic)

	// Asking for more than available returns everything.
	result = TopDollarVolume(10).Select(time.Now(), candidates().Candidates)
	assert.Len(t, result.Symbols, 3)
}

func TestMinimumPriceFilter(t *testing.T) {
	result := MinimumPrice(1).Select(time.Now(), candidates().Candidates)
	assert.ElementsMatch(t, []string{"AAPL", "MSFT"}, result.Symbols)
}

func TestMemberDefaultsFallBackToUniverseZones(t *testing.T) {
	settings := DefaultSettings()
	settings.Resolution = models.ResolutionHour

	u, err := New(selectionConfig(), settings, Static(), false, testLogger())
	require.NoError(t, err)

	d := u.MemberDefaults()
	assert.Equal(t, models.ResolutionHour, d.Resolution)
	assert.Equal(t, "nyse", d.Exchange)
	assert.Equal(t, "America/New_York", d.DataTimeZone)
	assert.True(t, d.FillForward)
}
