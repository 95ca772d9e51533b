package hours

import (
	"fmt"
	"strings"
	"time"

	"github.com/scmhub/calendar"
)

// Exchange answers trading-calendar questions for one venue. All queries are
// made in the exchange time zone; callers pass absolute instants and conversion
// happens here.
type Exchange struct {
	name       string
	loc        *time.Location
	cal        *calendar.Calendar
	alwaysOpen bool

	// Session windows as offsets from local midnight. The extended window
	// envelops the regular one.
	open     time.Duration
	close    time.Duration
	extOpen  time.Duration
	extClose time.Duration
}

// New builds an exchange calendar. mic is the ISO 10383 code used to load the
// holiday calendar; when no calendar is available for the MIC the exchange
// falls back to plain Mon-Fri trading days.
func New(name, mic, tz string, open, close, extOpen, extClose time.Duration) (*Exchange, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("failed to load time zone %s: %w", tz, err)
	}

	var cal2 *calendar.Calendar
	if mic != "" {
		cal2 = calendar.GetCalendar(mic)
	}

	return &Exchange{
		name:     name,
		loc:      loc,
		cal:      cal2,
		open:     open,
		close:    close,
		extOpen:  extOpen,
		extClose: extClose,
	}, nil
}

// NewAlwaysOpen builds a calendar for venues that never close (crypto).
func NewAlwaysOpen(name, tz string) (*Exchange, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("failed to load time zone %s: %w", tz, err)
	}
	return &Exchange{name: name, loc: loc, alwaysOpen: true}, nil
}

// Name returns the venue name
func (e *Exchange) Name() string { return e.name }

// Location returns the exchange time zone
func (e *Exchange) Location() *time.Location { return e.loc }

// LocalDate returns midnight of t's calendar date in the exchange time zone.
func (e *Exchange) LocalDate(t time.Time) time.Time {
	lt := t.In(e.loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, e.loc)
}

// SameLocalDate reports whether two instants fall on the same exchange-local
// calendar date.
func (e *Exchange) SameLocalDate(a, b time.Time) bool {
	return e.LocalDate(a).Equal(e.LocalDate(b))
}

// IsTradingDay reports whether the exchange trades at all on t's local date.
func (e *Exchange) IsTradingDay(t time.Time) bool {
	if e.alwaysOpen {
		return true
	}
	lt := t.In(e.loc)
	if e.cal != nil {
		return e.cal.IsBusinessDay(lt)
	}
	wd := lt.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// IsOpen reports whether the market is open at instant t. The session window
// is half-open: open at the session start, closed at the session end.
func (e *Exchange) IsOpen(t time.Time, extended bool) bool {
	if e.alwaysOpen {
		return true
	}
	if !e.IsTradingDay(t) {
		return false
	}

	lt := t.In(e.loc)
	midnight := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, e.loc)
	offset := lt.Sub(midnight)

	open, close := e.sessionWindow(extended)
	return offset >= open && offset < close
}

// NextOpen returns the first session open at or after t.
func (e *Exchange) NextOpen(t time.Time, extended bool) time.Time {
	if e.alwaysOpen {
		return t
	}

	open, _ := e.sessionWindow(extended)
	lt := t.In(e.loc)
	day := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, e.loc)

	// Bounded scan; a year without a trading day means a broken calendar.
	for i := 0; i < 370; i++ {
		candidate := day.Add(open)
		if e.IsTradingDay(candidate) && !candidate.Before(t) {
			return candidate
		}
		day = day.AddDate(0, 0, 1)
	}
	return t
}

// NextClose returns the first session close strictly after t.
func (e *Exchange) NextClose(t time.Time, extended bool) time.Time {
	if e.alwaysOpen {
		return t
	}

	_, close := e.sessionWindow(extended)
	lt := t.In(e.loc)
	day := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, e.loc)

	for i := 0; i < 370; i++ {
		candidate := day.Add(close)
		if e.IsTradingDay(candidate) && candidate.After(t) {
			return candidate
		}
		day = day.AddDate(0, 0, 1)
	}
	return t
}

func (e *Exchange) sessionWindow(extended bool) (time.Duration, time.Duration) {
	if extended && e.extClose > e.extOpen {
		return e.extOpen, e.extClose
	}
	return e.open, e.close
}

// knownVenues maps exchange names from the instrument master to calendar
// parameters. MIC codes follow ISO 10383 as understood by scmhub/calendar.
var knownVenues = map[string]struct {
	mic      string
	tz       string
	open     time.Duration
	close    time.Duration
	extOpen  time.Duration
	extClose time.Duration
}{
	"nyse":   {"xnys", "America/New_York", 9*time.Hour + 30*time.Minute, 16 * time.Hour, 4 * time.Hour, 20 * time.Hour},
	"nasdaq": {"xnas", "America/New_York", 9*time.Hour + 30*time.Minute, 16 * time.Hour, 4 * time.Hour, 20 * time.Hour},
	"lse":    {"xlon", "Europe/London", 8 * time.Hour, 16*time.Hour + 30*time.Minute, 5*time.Hour + 5*time.Minute, 17*time.Hour + 15*time.Minute},
	"tse":    {"xtks", "Asia/Tokyo", 9 * time.Hour, 15 * time.Hour, 8 * time.Hour, 16 * time.Hour},
}

// Get returns the calendar for an exchange name. Unknown equity venues fall
// back to NYSE hours; crypto venues are always open in UTC.
func Get(exchange string) (*Exchange, error) {
	name := strings.ToLower(exchange)

	switch name {
	case "binance", "coinbase", "kraken", "crypto":
		return NewAlwaysOpen(name, "UTC")
	}

	v, ok := knownVenues[name]
	if !ok {
		v = knownVenues["nyse"]
	}
	return New(name, v.mic, v.tz, v.open, v.close, v.extOpen, v.extClose)
}
