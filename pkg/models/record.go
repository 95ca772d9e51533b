package models

import (
	"fmt"
	"time"
)

// Kind identifies the concrete payload carried by a Record.
type Kind int

const (
	KindTradeBar Kind = iota
	KindQuoteBar
	KindTick
	KindSelection
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case KindTradeBar:
		return "trade_bar"
	case KindQuoteBar:
		return "quote_bar"
	case KindTick:
		return "tick"
	case KindSelection:
		return "selection"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind parses a kind name
func ParseKind(s string) (Kind, error) {
	switch s {
	case "trade_bar":
		return KindTradeBar, nil
	case "quote_bar":
		return KindQuoteBar, nil
	case "tick":
		return KindTick, nil
	case "selection":
		return KindSelection, nil
	}
	return 0, fmt.Errorf("unknown kind %q", s)
}

// TickType identifies the market event a tick-level record describes.
type TickType int

const (
	TickTrade TickType = iota
	TickQuote
	TickOpenInterest
)

// String returns the tick type name
func (t TickType) String() string {
	switch t {
	case TickTrade:
		return "trade"
	case TickQuote:
		return "quote"
	case TickOpenInterest:
		return "open_interest"
	default:
		return fmt.Sprintf("tick_type(%d)", int(t))
	}
}

// Resolution represents the native cadence of a data stream.
type Resolution int

const (
	ResolutionTick Resolution = iota
	ResolutionSecond
	ResolutionMinute
	ResolutionHour
	ResolutionDaily
)

// Increment returns the period one record of this resolution spans.
// Tick data has no span.
func (r Resolution) Increment() time.Duration {
	switch r {
	case ResolutionSecond:
		return time.Second
	case ResolutionMinute:
		return time.Minute
	case ResolutionHour:
		return time.Hour
	case ResolutionDaily:
		return 24 * time.Hour
	default:
		return 0
	}
}

// String returns the resolution name
func (r Resolution) String() string {
	switch r {
	case ResolutionTick:
		return "tick"
	case ResolutionSecond:
		return "second"
	case ResolutionMinute:
		return "minute"
	case ResolutionHour:
		return "hour"
	case ResolutionDaily:
		return "daily"
	default:
		return fmt.Sprintf("resolution(%d)", int(r))
	}
}

// ParseResolution parses a resolution name
func ParseResolution(s string) (Resolution, error) {
	switch s {
	case "tick":
		return ResolutionTick, nil
	case "second":
		return ResolutionSecond, nil
	case "minute":
		return ResolutionMinute, nil
	case "hour":
		return ResolutionHour, nil
	case "daily":
		return ResolutionDaily, nil
	}
	return 0, fmt.Errorf("unknown resolution %q", s)
}

// Record is the tagged-variant data point flowing through every subscription.
// Exactly one payload group is meaningful for a given Kind: OHLCV for trade bars,
// Bid*/Ask* for quote bars and quote ticks, Price/Size for trade ticks, Selection
// for universe selection records.
type Record struct {
	Symbol string        `json:"symbol"`
	Kind   Kind          `json:"kind"`
	Time   time.Time     `json:"time"`   // period start, stamped in the data time zone
	Period time.Duration `json:"period"` // zero for ticks

	// FillForward marks a synthetic record emitted by the fill-forward stage.
	FillForward bool `json:"fill_forward,omitempty"`

	Open   float64 `json:"open,omitempty"`
	High   float64 `json:"high,omitempty"`
	Low    float64 `json:"low,omitempty"`
	Close  float64 `json:"close,omitempty"`
	Volume float64 `json:"volume,omitempty"`

	Price float64 `json:"price,omitempty"`
	Size  float64 `json:"size,omitempty"`

	BidPrice float64 `json:"bid_price,omitempty"`
	BidSize  float64 `json:"bid_size,omitempty"`
	AskPrice float64 `json:"ask_price,omitempty"`
	AskSize  float64 `json:"ask_size,omitempty"`

	Selection *Selection `json:"selection,omitempty"`
}

// EndTime returns the end of the period this record covers.
func (r *Record) EndTime() time.Time {
	return r.Time.Add(r.Period)
}

// Value returns the representative price of the record.
func (r *Record) Value() float64 {
	switch r.Kind {
	case KindTradeBar:
		return r.Close
	case KindQuoteBar:
		return (r.BidPrice + r.AskPrice) / 2
	case KindTick:
		if r.Price != 0 {
			return r.Price
		}
		return (r.BidPrice + r.AskPrice) / 2
	default:
		return 0
	}
}

// Clone returns a copy of the record with a shifted time window, used by the
// fill-forward stage. The period is preserved.
func (r *Record) Clone(t time.Time) *Record {
	c := *r
	c.Time = t
	c.FillForward = true
	return &c
}

// Selection is the payload of a universe selection record: the candidates
// available for membership on the record's date.
type Selection struct {
	Candidates []Candidate `json:"candidates"`
}

// Candidate is one instrument offered to a universe filter.
type Candidate struct {
	Symbol          string  `json:"symbol"`
	Price           float64 `json:"price"`
	Volume          float64 `json:"volume"`
	DollarVolume    float64 `json:"dollar_volume"`
	HasFundamentals bool    `json:"has_fundamentals,omitempty"`
}

// SelectionDecision reports what a universe did with one selection record,
// surfaced on the time slice for diagnostics.
type SelectionDecision struct {
	Universe  string    `json:"universe"`
	Time      time.Time `json:"time"`
	Unchanged bool      `json:"unchanged"`
	Selected  []string  `json:"selected,omitempty"`
	Added     []string  `json:"added,omitempty"`
	Removed   []string  `json:"removed,omitempty"`
}
