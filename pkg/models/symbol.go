package models

import (
	"time"
)

// SymbolInfo represents instrument metadata from the instrument master.
type SymbolInfo struct {
	ID               int       `json:"id" db:"id"`
	Exchange         string    `json:"exchange" db:"exchange"`
	Symbol           string    `json:"symbol" db:"symbol"`
	FullName         string    `json:"full_name" db:"full_name"`
	InstrumentType   string    `json:"instrument_type" db:"instrument_type"`
	QuoteCurrency    string    `json:"quote_currency" db:"quote_currency"`
	DataTimeZone     string    `json:"data_time_zone" db:"data_time_zone"`
	ExchangeTimeZone string    `json:"exchange_time_zone" db:"exchange_time_zone"`
	IsActive         bool      `json:"is_active" db:"is_active"`
	IsCustomData     bool      `json:"is_custom_data" db:"is_custom_data"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// NormalizationMode controls how raw prices are adjusted before emission.
type NormalizationMode int

const (
	NormalizationRaw NormalizationMode = iota
	NormalizationAdjusted
	NormalizationSplitAdjusted
	NormalizationTotalReturn
)

// String returns the normalization mode name
func (n NormalizationMode) String() string {
	switch n {
	case NormalizationRaw:
		return "raw"
	case NormalizationAdjusted:
		return "adjusted"
	case NormalizationSplitAdjusted:
		return "split_adjusted"
	case NormalizationTotalReturn:
		return "total_return"
	default:
		return "raw"
	}
}
