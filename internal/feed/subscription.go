package feed

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/feed-sync/internal/source"
	"github.com/feed-sync/pkg/models"
)

// Request asks the synchronizer to create a subscription. When Enumerator is
// nil the synchronizer builds one through its configured Builder; live feeds
// and tests pass a pre-built enumerator directly.
type Request struct {
	Config     models.SubscriptionConfig
	Enumerator source.Enumerator

	// Universe marks this request as a selection feed and supplies its
	// membership policy.
	Universe Universe

	// Start overrides the synchronizer's start time; zero means "from the
	// synchronizer's start". Mid-run additions start at the frontier.
	Start time.Time
}

// Subscription binds one configuration to its (fill-forward wrapped) record
// cursor, tracking the current and previous emitted record and any attached
// consolidators.
type Subscription struct {
	config   models.SubscriptionConfig
	universe Universe
	enum     source.Enumerator
	log      *logrus.Entry

	startTime time.Time
	addedAt   time.Time

	next     *models.Record
	current  *models.Record
	previous *models.Record

	consolidators []Consolidator

	done bool
	err  error
}

func newSubscription(cfg models.SubscriptionConfig, enum source.Enumerator, u Universe, startTime, addedAt time.Time, log *logrus.Entry) *Subscription {
	return &Subscription{
		config:    cfg,
		universe:  u,
		enum:      enum,
		log:       log,
		startTime: startTime,
		addedAt:   addedAt,
	}
}

// Config returns the subscription's configuration.
func (s *Subscription) Config() models.SubscriptionConfig { return s.config }

// Current returns the most recently emitted record.
func (s *Subscription) Current() *models.Record { return s.current }

// Previous returns the record emitted before the current one.
func (s *Subscription) Previous() *models.Record { return s.previous }

// AddedAt returns when the subscription joined the synchronizer.
func (s *Subscription) AddedAt() time.Time { return s.addedAt }

// AttachConsolidator attaches a consolidator after checking kind
// compatibility. Safe to call mid-stream; the consolidator sees records from
// the next emission onward.
func (s *Subscription) AttachConsolidator(c Consolidator) error {
	if c.InputKind() != s.config.Kind {
		return ErrIncompatibleConsolidator
	}
	s.consolidators = append(s.consolidators, c)
	return nil
}

// DetachConsolidator removes a previously attached consolidator.
func (s *Subscription) DetachConsolidator(c Consolidator) bool {
	for i, attached := range s.consolidators {
		if attached == c {
			s.consolidators = append(s.consolidators[:i], s.consolidators[i+1:]...)
			return true
		}
	}
	return false
}

// hasBuffered reports whether a record could be peeked without blocking.
// Backtest enumerators are always safe to pull; live enumerators are gated on
// their Poll state.
func (s *Subscription) hasBuffered() bool {
	if s.next != nil {
		return true
	}
	if p, ok := s.enum.(source.Poller); ok {
		return p.Poll()
	}
	return !s.done
}

// peek returns the next unconsumed record without advancing, pulling from the
// enumerator as needed. Records stamped before the subscription start and
// records violating time ordering are dropped here.
func (s *Subscription) peek() (*models.Record, bool) {
	if s.next != nil {
		return s.next, true
	}
	if s.done {
		return nil, false
	}

	for {
		// A live cursor with nothing buffered is "no data yet", not
		// exhaustion; never block the merge waiting on it.
		if p, ok := s.enum.(source.Poller); ok && !p.Poll() {
			return nil, false
		}
		if !s.enum.Next() {
			break
		}
		rec := s.enum.Current()

		if !s.startTime.IsZero() && rec.Time.Before(s.startTime) {
			continue
		}

		// Defensive ordering invariant: a record must never start before the
		// previously emitted record's end. The offending record is dropped,
		// never propagated out of order.
		if s.current != nil && rec.Time.Before(s.current.EndTime()) {
			s.log.WithFields(logrus.Fields{
				"symbol":   s.config.Symbol,
				"got":      rec.Time,
				"previous": s.current.Time,
			}).Warn("Out-of-order record dropped")
			continue
		}

		s.next = rec
		return rec, true
	}

	s.done = true
	s.err = s.enum.Err()
	return nil, false
}

// take consumes the peeked record, rotating current into previous and feeding
// attached consolidators. Synthetic fill-forward records do not reach
// consolidators.
func (s *Subscription) take() *models.Record {
	rec := s.next
	s.next = nil
	s.previous = s.current
	s.current = rec

	if rec != nil {
		if !rec.FillForward {
			for _, c := range s.consolidators {
				c.Update(rec)
			}
		}
		for _, c := range s.consolidators {
			c.Scan(rec.EndTime())
		}
	}

	return rec
}

// nextTimeUTC returns the UTC instant of the next unconsumed record.
func (s *Subscription) nextTimeUTC() (time.Time, bool) {
	rec, ok := s.peek()
	if !ok {
		return time.Time{}, false
	}
	return rec.Time.UTC(), true
}

// Err returns the fatal stream error, if any.
func (s *Subscription) Err() error { return s.err }

// Close releases the subscription's cursor.
func (s *Subscription) Close() error {
	s.done = true
	return s.enum.Close()
}
