package feed

import (
	"time"

	"github.com/feed-sync/pkg/models"
)

// MemberDefaults are the subscription parameters a universe applies to the
// securities it selects.
type MemberDefaults struct {
	Kind          models.Kind
	TickType      models.TickType
	Resolution    models.Resolution
	FillForward   bool
	ExtendedHours bool

	// Fallbacks when the instrument directory has no entry for a member.
	Exchange         string
	DataTimeZone     string
	ExchangeTimeZone string
}

// Universe is a selection stream: a subscription whose records carry candidate
// sets instead of prices, plus the membership policy governing when members
// are added and when they may safely be dropped.
type Universe interface {
	Symbol() string
	Configuration() models.SubscriptionConfig
	MemberDefaults() MemberDefaults

	// SelectSymbols applies the selection filter. The second result is false
	// when the selection is unchanged (cached static result for the current
	// exchange-local day); membership bookkeeping is skipped entirely then.
	SelectSymbols(utcTime time.Time, sel *models.Selection) ([]string, bool)

	// AddMember records a new member with its join time. False when the
	// security is already a member.
	AddMember(utcTime time.Time, symbol string) bool

	// CanRemoveMember applies the removal policy: never before the member's
	// first data record; in live mode never before the minimum dwell time;
	// in backtest only across an exchange-local day boundary.
	CanRemoveMember(utcTime time.Time, symbol string) bool

	// RemoveMember drops a member. False when it was not a member.
	RemoveMember(symbol string) bool

	// Members returns the current member symbols, sorted.
	Members() []string

	// RecordReceived tells the universe one of its members produced data.
	RecordReceived(symbol string, utcTime time.Time)
}

// Directory resolves instrument metadata for universe members.
type Directory interface {
	Lookup(symbol string) (*models.SymbolInfo, bool)
}
