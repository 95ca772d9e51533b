package source

import (
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/feed-sync/pkg/models"
)

// FactorProvider resolves the price scale factor to apply to raw prices for a
// symbol on a date under a normalization mode. Returning 1 leaves prices raw.
type FactorProvider func(symbol string, date time.Time, mode models.NormalizationMode) float64

// DayFileSource reads one CSV file per symbol per day from a local data
// directory, sharing open handles through a HandleCache.
//
// Layout: {dir}/{resolution}/{symbol}/{yyyymmdd}_{kind}.csv
// Rows carry a millisecond offset from local midnight in the data time zone:
//
//	trade bars:  ms,open,high,low,close,volume
//	quote bars:  ms,bid,ask
//	ticks:       ms,price,size            (trade)
//	             ms,bid,bidsize,ask,asksize (quote)
//	selection:   symbol,price,volume,dollar_volume per row, one record per day
type DayFileSource struct {
	dir     string
	cache   *HandleCache
	factors FactorProvider
	logger  *logrus.Entry
}

// NewDayFileSource creates a CSV day-file source rooted at dir.
func NewDayFileSource(dir string, cache *HandleCache, factors FactorProvider, logger *logrus.Logger) *DayFileSource {
	return &DayFileSource{
		dir:     dir,
		cache:   cache,
		factors: factors,
		logger:  logger.WithField("component", "day-file-source"),
	}
}

// Open implements Source.
func (s *DayFileSource) Open(cfg models.SubscriptionConfig, date time.Time) (Enumerator, error) {
	loc, err := cfg.DataLocation()
	if err != nil {
		return nil, err
	}
	d := date.In(loc)
	midnight := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)

	path := filepath.Join(
		s.dir,
		cfg.Resolution.String(),
		strings.ToLower(cfg.Symbol),
		fmt.Sprintf("%s_%s.csv", midnight.Format("20060102"), cfg.Kind),
	)

	handle, err := s.cache.Acquire(path)
	if err != nil {
		return nil, err
	}

	raw, err := handle.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptData, path, err)
	}

	rows, err := csv.NewReader(strings.NewReader(string(raw))).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptData, path, err)
	}

	factor := 1.0
	if s.factors != nil && cfg.Normalization != models.NormalizationRaw {
		factor = s.factors(cfg.Symbol, midnight, cfg.Normalization)
	}

	records, err := s.parse(cfg, midnight, rows, factor)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptData, path, err)
	}

	return Slice(records), nil
}

func (s *DayFileSource) parse(cfg models.SubscriptionConfig, midnight time.Time, rows [][]string, factor float64) ([]*models.Record, error) {
	if cfg.Kind == models.KindSelection {
		return s.parseSelection(cfg, midnight, rows)
	}

	records := make([]*models.Record, 0, len(rows))
	for i, row := range rows {
		rec, err := s.parseRow(cfg, midnight, row, factor)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *DayFileSource) parseRow(cfg models.SubscriptionConfig, midnight time.Time, row []string, factor float64) (*models.Record, error) {
	if len(row) < 2 {
		return nil, fmt.Errorf("short row")
	}

	ms, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad time offset %q", row[0])
	}

	rec := &models.Record{
		Symbol: cfg.Symbol,
		Kind:   cfg.Kind,
		Time:   midnight.Add(time.Duration(ms) * time.Millisecond),
		Period: cfg.Increment(),
	}

	fields, err := parseFloats(row[1:])
	if err != nil {
		return nil, err
	}

	switch cfg.Kind {
	case models.KindTradeBar:
		if len(fields) < 5 {
			return nil, fmt.Errorf("trade bar needs 5 fields, got %d", len(fields))
		}
		rec.Open = fields[0] * factor
		rec.High = fields[1] * factor
		rec.Low = fields[2] * factor
		rec.Close = fields[3] * factor
		rec.Volume = fields[4]

	case models.KindQuoteBar:
		if len(fields) < 2 {
			return nil, fmt.Errorf("quote bar needs 2 fields, got %d", len(fields))
		}
		rec.BidPrice = fields[0] * factor
		rec.AskPrice = fields[1] * factor

	case models.KindTick:
		switch cfg.TickType {
		case models.TickQuote:
			if len(fields) < 4 {
				return nil, fmt.Errorf("quote tick needs 4 fields, got %d", len(fields))
			}
			rec.BidPrice = fields[0] * factor
			rec.BidSize = fields[1]
			rec.AskPrice = fields[2] * factor
			rec.AskSize = fields[3]
		default:
			if len(fields) < 2 {
				return nil, fmt.Errorf("trade tick needs 2 fields, got %d", len(fields))
			}
			rec.Price = fields[0] * factor
			rec.Size = fields[1]
		}

	default:
		return nil, fmt.Errorf("unsupported kind %s", cfg.Kind)
	}

	return rec, nil
}

func (s *DayFileSource) parseSelection(cfg models.SubscriptionConfig, midnight time.Time, rows [][]string) ([]*models.Record, error) {
	sel := &models.Selection{Candidates: make([]models.Candidate, 0, len(rows))}

	for i, row := range rows {
		if len(row) < 4 {
			return nil, fmt.Errorf("row %d: selection needs 4 fields, got %d", i+1, len(row))
		}
		fields, err := parseFloats(row[1:4])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		sel.Candidates = append(sel.Candidates, models.Candidate{
			Symbol:       row[0],
			Price:        fields[0],
			Volume:       fields[1],
			DollarVolume: fields[2],
		})
	}

	return []*models.Record{{
		Symbol:    cfg.Symbol,
		Kind:      models.KindSelection,
		Time:      midnight,
		Period:    24 * time.Hour,
		Selection: sel,
	}}, nil
}

func parseFloats(fields []string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, fmt.Errorf("bad numeric field %q", f)
		}
		out[i] = v
	}
	return out, nil
}
