package models

import (
	"fmt"
	"time"
)

// SubscriptionConfig is the immutable description of one data stream: what to
// read, at what cadence, and under which time-zone and normalization rules.
// It is a value type; many subscriptions may reference equal configurations.
type SubscriptionConfig struct {
	Symbol     string
	Exchange   string
	Kind       Kind
	TickType   TickType
	Resolution Resolution

	// DataTimeZone is the zone raw timestamps are stamped in. ExchangeTimeZone
	// is the zone used for all calendar and market-hours reasoning. They may
	// differ; every comparison between the two converts explicitly.
	DataTimeZone     string
	ExchangeTimeZone string

	FillForward   bool
	ExtendedHours bool
	IsCustomData  bool
	IsInternal    bool
	IsFiltered    bool

	Normalization NormalizationMode
}

// SubscriptionKey is the identity of a configuration. Two configurations with
// equal keys describe the same stream; the active configuration set is a
// mathematical set over these keys.
type SubscriptionKey struct {
	Symbol     string
	Kind       Kind
	TickType   TickType
	Resolution Resolution
	IsInternal bool
}

// Key returns the configuration's identity for set membership.
func (c SubscriptionConfig) Key() SubscriptionKey {
	return SubscriptionKey{
		Symbol:     c.Symbol,
		Kind:       c.Kind,
		TickType:   c.TickType,
		Resolution: c.Resolution,
		IsInternal: c.IsInternal,
	}
}

// Increment returns the period one record of this stream natively spans.
func (c SubscriptionConfig) Increment() time.Duration {
	return c.Resolution.Increment()
}

// String returns a short identity string for logging
func (c SubscriptionConfig) String() string {
	return fmt.Sprintf("%s/%s/%s", c.Symbol, c.Kind, c.Resolution)
}

// DataLocation loads the data time zone.
func (c SubscriptionConfig) DataLocation() (*time.Location, error) {
	loc, err := time.LoadLocation(c.DataTimeZone)
	if err != nil {
		return nil, fmt.Errorf("failed to load data time zone %s: %w", c.DataTimeZone, err)
	}
	return loc, nil
}
