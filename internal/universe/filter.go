package universe

import (
	"sort"
	"time"

	"github.com/feed-sync/pkg/models"
)

// FilterResult is a selection filter's verdict for one selection record.
// Dynamic results bypass the per-day selection cache: the filter is re-invoked
// on every selection record even within the same exchange-local day.
type FilterResult struct {
	Symbols []string
	Dynamic bool
}

// Filter turns a candidate set into the symbols that should be subscribed.
type Filter interface {
	Select(utcTime time.Time, candidates []models.Candidate) FilterResult
}

// FilterFunc adapts a plain function into a static Filter.
type FilterFunc func(utcTime time.Time, candidates []models.Candidate) []string

// Select implements Filter.
func (f FilterFunc) Select(utcTime time.Time, candidates []models.Candidate) FilterResult {
	return FilterResult{Symbols: f(utcTime, candidates)}
}

// DynamicFilterFunc adapts a plain function into a dynamic Filter.
type DynamicFilterFunc func(utcTime time.Time, candidates []models.Candidate) []string

// Select implements Filter.
func (f DynamicFilterFunc) Select(utcTime time.Time, candidates []models.Candidate) FilterResult {
	return FilterResult{Symbols: f(utcTime, candidates), Dynamic: true}
}

// TopDollarVolume selects the count candidates with the highest dollar volume.
func TopDollarVolume(count int) Filter {
	return FilterFunc(func(_ time.Time, candidates []models.Candidate) []string {
		ranked := make([]models.Candidate, len(candidates))
		copy(ranked, candidates)
		sort.SliceStable(ranked, func(i, j int) bool {
			return ranked[i].DollarVolume > ranked[j].DollarVolume
		})

		if count > len(ranked) {
			count = len(ranked)
		}
		symbols := make([]string, 0, count)
		for _, c := range ranked[:count] {
			symbols = append(symbols, c.Symbol)
		}
		return symbols
	})
}

// MinimumPrice selects every candidate trading at or above the floor price.
func MinimumPrice(floor float64) Filter {
	return FilterFunc(func(_ time.Time, candidates []models.Candidate) []string {
		var symbols []string
		for _, c := range candidates {
			if c.Price >= floor {
				symbols = append(symbols, c.Symbol)
			}
		}
		return symbols
	})
}

// Static ignores candidates and always selects the same symbols.
func Static(symbols ...string) Filter {
	return FilterFunc(func(time.Time, []models.Candidate) []string {
		return symbols
	})
}
