package source

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/feed-sync/internal/database"
	"github.com/feed-sync/pkg/models"
)

// InfluxSource reads historical trade bars from the bar store, one day at a
// time. Only bar-resolution trade data is served; tick and quote streams come
// from day files.
type InfluxSource struct {
	client *database.InfluxClient
	logger *logrus.Entry
}

// NewInfluxSource creates a bar-store source.
func NewInfluxSource(client *database.InfluxClient, logger *logrus.Logger) *InfluxSource {
	return &InfluxSource{
		client: client,
		logger: logger.WithField("component", "influx-source"),
	}
}

// Open implements Source.
func (s *InfluxSource) Open(cfg models.SubscriptionConfig, date time.Time) (Enumerator, error) {
	loc, err := cfg.DataLocation()
	if err != nil {
		return nil, err
	}
	d := date.In(loc)
	from := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
	to := from.AddDate(0, 0, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	records, err := s.client.GetBars(ctx, cfg.Symbol, from, to, cfg.Resolution)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}

	// Restamp in the data time zone so downstream wall-clock logging and
	// calendar conversions read naturally.
	for _, rec := range records {
		rec.Time = rec.Time.In(loc)
	}

	return Slice(records), nil
}
