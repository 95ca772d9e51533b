package universe

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/feed-sync/internal/feed"
	"github.com/feed-sync/internal/hours"
	"github.com/feed-sync/pkg/models"
)

// Settings are the defaults applied to securities a universe selects.
type Settings struct {
	Kind          models.Kind
	TickType      models.TickType
	Resolution    models.Resolution
	FillForward   bool
	ExtendedHours bool
	Leverage      float64

	// MinimumDwellTime is how long a live-mode member must stay subscribed
	// before the removal policy will let it go.
	MinimumDwellTime time.Duration
}

// DefaultSettings returns the standard member defaults: fill-forwarded minute
// trade bars, regular hours only.
func DefaultSettings() Settings {
	return Settings{
		Kind:             models.KindTradeBar,
		Resolution:       models.ResolutionMinute,
		FillForward:      true,
		Leverage:         1,
		MinimumDwellTime: 15 * time.Minute,
	}
}

type member struct {
	joined   time.Time
	lastData time.Time
}

// Universe is a selection stream owning membership policy and a selection
// cache. It implements feed.Universe.
type Universe struct {
	config   models.SubscriptionConfig
	settings Settings
	filter   Filter
	hours    *hours.Exchange
	live     bool
	logger   *logrus.Entry

	mu      sync.Mutex
	members map[string]*member

	// Selection cache: static filter results are reused until the
	// exchange-local calendar date changes.
	lastSelectionDate time.Time
	lastDynamic       bool
	hasSelection      bool
}

// New creates a universe around its canonical selection-feed configuration.
func New(cfg models.SubscriptionConfig, settings Settings, filter Filter, live bool, logger *logrus.Logger) (*Universe, error) {
	hrs, err := hours.Get(cfg.Exchange)
	if err != nil {
		return nil, err
	}

	return &Universe{
		config:   cfg,
		settings: settings,
		filter:   filter,
		hours:    hrs,
		live:     live,
		logger:   logger.WithField("component", "universe").WithField("universe", cfg.Symbol),
		members:  make(map[string]*member),
	}, nil
}

// Symbol implements feed.Universe.
func (u *Universe) Symbol() string { return u.config.Symbol }

// Configuration implements feed.Universe.
func (u *Universe) Configuration() models.SubscriptionConfig { return u.config }

// MemberDefaults implements feed.Universe.
func (u *Universe) MemberDefaults() feed.MemberDefaults {
	return feed.MemberDefaults{
		Kind:             u.settings.Kind,
		TickType:         u.settings.TickType,
		Resolution:       u.settings.Resolution,
		FillForward:      u.settings.FillForward,
		ExtendedHours:    u.settings.ExtendedHours,
		Exchange:         u.config.Exchange,
		DataTimeZone:     u.config.DataTimeZone,
		ExchangeTimeZone: u.config.ExchangeTimeZone,
	}
}

// SelectSymbols implements feed.Universe. A static filter result is cached
// for the rest of the exchange-local day: re-selection within the same day
// reports "unchanged" without re-invoking the filter.
func (u *Universe) SelectSymbols(utcTime time.Time, sel *models.Selection) ([]string, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()

	date := u.hours.LocalDate(utcTime)
	if u.hasSelection && !u.lastDynamic && date.Equal(u.lastSelectionDate) {
		return nil, false
	}

	var candidates []models.Candidate
	if sel != nil {
		candidates = sel.Candidates
	}

	result := u.filter.Select(utcTime, candidates)

	u.hasSelection = true
	u.lastSelectionDate = date
	u.lastDynamic = result.Dynamic

	symbols := make([]string, len(result.Symbols))
	copy(symbols, result.Symbols)
	sort.Strings(symbols)

	u.logger.WithFields(logrus.Fields{
		"selected": len(symbols),
		"dynamic":  result.Dynamic,
	}).Debug("Universe selection")

	return symbols, true
}

// AddMember implements feed.Universe.
func (u *Universe) AddMember(utcTime time.Time, symbol string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	if _, ok := u.members[symbol]; ok {
		return false
	}
	u.members[symbol] = &member{joined: utcTime}
	return true
}

// CanRemoveMember implements feed.Universe. A member that has never produced
// a data record is never removable. Live mode additionally enforces the
// minimum dwell time; backtests only drop members across an exchange-local
// day boundary, so intraday filter churn cannot thrash subscriptions.
func (u *Universe) CanRemoveMember(utcTime time.Time, symbol string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	m, ok := u.members[symbol]
	if !ok {
		return false
	}
	if m.lastData.IsZero() {
		return false
	}

	if u.live {
		return utcTime.Sub(m.joined) >= u.settings.MinimumDwellTime
	}

	return !u.hours.SameLocalDate(utcTime, m.lastData)
}

// RemoveMember implements feed.Universe.
func (u *Universe) RemoveMember(symbol string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	if _, ok := u.members[symbol]; !ok {
		return false
	}
	delete(u.members, symbol)
	return true
}

// Members implements feed.Universe.
func (u *Universe) Members() []string {
	u.mu.Lock()
	defer u.mu.Unlock()

	out := make([]string, 0, len(u.members))
	for sym := range u.members {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// RecordReceived implements feed.Universe.
func (u *Universe) RecordReceived(symbol string, utcTime time.Time) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if m, ok := u.members[symbol]; ok {
		m.lastData = utcTime
	}
}
