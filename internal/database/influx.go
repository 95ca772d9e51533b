package database

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"

	"github.com/feed-sync/pkg/config"
	"github.com/feed-sync/pkg/models"
)

// InfluxClient handles the historical bar store
type InfluxClient struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	queryAPI api.QueryAPI
	logger   *logrus.Entry
	bucket   string
}

// NewInfluxClient creates a new InfluxDB client
func NewInfluxClient(cfg *config.InfluxConfig, logger *logrus.Logger) *InfluxClient {
	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetHTTPRequestTimeout(uint(cfg.Timeout.Seconds())).
			SetLogLevel(0),
	)

	return &InfluxClient{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		queryAPI: client.QueryAPI(cfg.Org),
		logger:   logger.WithField("component", "influxdb"),
		bucket:   cfg.Bucket,
	}
}

// Close closes the InfluxDB client
func (ic *InfluxClient) Close() {
	ic.client.Close()
}

// Health checks InfluxDB health
func (ic *InfluxClient) Health(ctx context.Context) error {
	health, err := ic.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("failed to check health: %w", err)
	}

	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("influxdb health check failed: %s", msg)
	}

	return nil
}

// WriteBars writes trade bar records for a resolution
func (ic *InfluxClient) WriteBars(ctx context.Context, records []*models.Record, resolution models.Resolution) error {
	points := make([]*write.Point, 0, len(records))

	for _, rec := range records {
		if rec.Kind != models.KindTradeBar {
			continue
		}
		point := influxdb2.NewPoint(
			fmt.Sprintf("bars_%s", resolution),
			map[string]string{
				"symbol": rec.Symbol,
			},
			map[string]interface{}{
				"open":   rec.Open,
				"high":   rec.High,
				"low":    rec.Low,
				"close":  rec.Close,
				"volume": rec.Volume,
			},
			rec.Time,
		)
		points = append(points, point)
	}

	if len(points) == 0 {
		return nil
	}

	if err := ic.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("failed to write bars: %w", err)
	}

	return nil
}

// GetBars retrieves trade bar records for a symbol in [from, to)
func (ic *InfluxClient) GetBars(ctx context.Context, symbol string, from, to time.Time, resolution models.Resolution) ([]*models.Record, error) {
	query := fmt.Sprintf(`
		from(bucket: "%s")
			|> range(start: %s, stop: %s)
			|> filter(fn: (r) => r._measurement == "bars_%s")
			|> filter(fn: (r) => r.symbol == "%s")
			|> filter(fn: (r) => r._field == "open" or r._field == "high" or r._field == "low" or r._field == "close" or r._field == "volume")
			|> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
			|> sort(columns: ["_time"])
	`, ic.bucket, from.Format(time.RFC3339), to.Format(time.RFC3339), resolution, symbol)

	result, err := ic.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query bars: %w", err)
	}
	defer result.Close()

	records := make([]*models.Record, 0)
	for result.Next() {
		row := result.Record()

		rec := &models.Record{
			Symbol: symbol,
			Kind:   models.KindTradeBar,
			Time:   row.Time(),
			Period: resolution.Increment(),
		}

		values := row.Values()
		if v, ok := values["open"].(float64); ok {
			rec.Open = v
		}
		if v, ok := values["high"].(float64); ok {
			rec.High = v
		}
		if v, ok := values["low"].(float64); ok {
			rec.Low = v
		}
		if v, ok := values["close"].(float64); ok {
			rec.Close = v
		}
		if v, ok := values["volume"].(float64); ok {
			rec.Volume = v
		}

		records = append(records, rec)
	}

	if result.Err() != nil {
		return nil, fmt.Errorf("failed to read bars: %w", result.Err())
	}

	return records, nil
}
