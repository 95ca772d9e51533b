package messaging

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/feed-sync/pkg/config"
	"github.com/feed-sync/pkg/models"
)

// NATSClient is the live data transport: vendor adapters publish raw records
// per symbol, the feed subscribes to them, and synchronized slice summaries go
// back out for downstream consumers.
type NATSClient struct {
	conn    *nats.Conn
	encoder *nats.EncodedConn
	logger  *logrus.Entry
	cfg     *config.NATSConfig

	subs   map[string]*nats.Subscription
	subsMu sync.RWMutex
}

// SliceSummary is the message published after each synchronization step.
type SliceSummary struct {
	Time      time.Time `json:"time"`
	Count     int       `json:"count"`
	Symbols   []string  `json:"symbols"`
	Universes int       `json:"universes"`
}

// NewNATSClient connects to NATS with reconnect handling.
func NewNATSClient(cfg *config.NATSConfig, logger *logrus.Logger) (*NATSClient, error) {
	log := logger.WithField("component", "nats")

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnect),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DrainTimeout(cfg.DrainTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.WithError(err).Warn("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Info("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	encoder, err := nats.NewEncodedConn(conn, nats.JSON_ENCODER)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create encoded connection: %w", err)
	}

	return &NATSClient{
		conn:    conn,
		encoder: encoder,
		logger:  log,
		cfg:     cfg,
		subs:    make(map[string]*nats.Subscription),
	}, nil
}

// Close unsubscribes everything and drains the connection.
func (nc *NATSClient) Close() error {
	nc.subsMu.Lock()
	for _, sub := range nc.subs {
		sub.Unsubscribe()
	}
	nc.subs = make(map[string]*nats.Subscription)
	nc.subsMu.Unlock()

	if err := nc.conn.Drain(); err != nil {
		nc.conn.Close()
		return err
	}
	return nil
}

// IsConnected reports connection state.
func (nc *NATSClient) IsConnected() bool {
	return nc.conn.IsConnected()
}

func recordSubject(symbol string, kind models.Kind) string {
	return fmt.Sprintf("records.%s.%s", kind, symbol)
}

// PublishRecord publishes a raw live record for one symbol. Vendor adapters
// call this; the feed consumes via SubscribeRecords.
func (nc *NATSClient) PublishRecord(rec *models.Record) error {
	return nc.encoder.Publish(recordSubject(rec.Symbol, rec.Kind), rec)
}

// SubscribeRecords subscribes to the live record stream for one symbol and
// kind. Repeated calls for the same subject replace the old subscription.
func (nc *NATSClient) SubscribeRecords(symbol string, kind models.Kind, handler func(*models.Record)) error {
	subject := recordSubject(symbol, kind)

	sub, err := nc.encoder.Subscribe(subject, func(rec *models.Record) {
		handler(rec)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	nc.subsMu.Lock()
	if old, ok := nc.subs[subject]; ok {
		old.Unsubscribe()
	}
	nc.subs[subject] = sub
	nc.subsMu.Unlock()

	nc.logger.WithField("subject", subject).Debug("Subscribed")
	return nil
}

// UnsubscribeRecords drops the live record subscription for one symbol.
func (nc *NATSClient) UnsubscribeRecords(symbol string, kind models.Kind) {
	subject := recordSubject(symbol, kind)

	nc.subsMu.Lock()
	defer nc.subsMu.Unlock()

	if sub, ok := nc.subs[subject]; ok {
		sub.Unsubscribe()
		delete(nc.subs, subject)
	}
}

// PublishSliceSummary publishes the synchronized slice summary.
func (nc *NATSClient) PublishSliceSummary(summary *SliceSummary) error {
	return nc.encoder.Publish("feed.slices", summary)
}

// PublishSelection publishes a universe selection decision.
func (nc *NATSClient) PublishSelection(decision *models.SelectionDecision) error {
	return nc.encoder.Publish(fmt.Sprintf("feed.selections.%s", decision.Universe), decision)
}
