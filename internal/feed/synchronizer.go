package feed

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/feed-sync/internal/fillforward"
	"github.com/feed-sync/internal/hours"
	"github.com/feed-sync/internal/source"
	"github.com/feed-sync/pkg/models"
)

// Builder constructs the raw record cursor for a configuration over a time
// range. The synchronizer wraps the result with fill-forward when the
// configuration asks for it.
type Builder func(cfg models.SubscriptionConfig, start, end time.Time) (source.Enumerator, error)

// DroppedSubscription describes a subscription removed from the merge because
// its stream failed. Backtests report these at end of run; live mode surfaces
// them as events so the consumer can decide whether to resubscribe.
type DroppedSubscription struct {
	ID     string                    `json:"id"`
	Config models.SubscriptionConfig `json:"config"`
	Time   time.Time                 `json:"time"`
	Reason string                    `json:"reason"`
}

// Options configures a Synchronizer.
type Options struct {
	MaxSubscriptions int
	Cadence          *fillforward.Interval
	Start            time.Time
	End              time.Time

	// Realtime switches the merge from pull-to-exhaustion over historical
	// cursors to wall-clock barrier steps over live cursors.
	Realtime        bool
	BarrierInterval time.Duration
	Clock           func() time.Time

	// Directory resolves instrument metadata for universe members.
	Directory Directory
}

// Synchronizer merges the live set of subscriptions into a time-ordered
// sequence of snapshots advancing a single frontier clock. Subscriptions can
// be added and removed while iteration is underway: mutations are staged and
// applied at barriers between snapshot construction and cursor advancement,
// never mid-snapshot.
type Synchronizer struct {
	builder Builder
	opts    Options
	logger  *logrus.Entry

	hoursMu    sync.Mutex
	hoursCache map[string]*hours.Exchange

	// stateMu guards the active collection during a synchronization step.
	stateMu sync.Mutex
	subs    map[models.SubscriptionKey]*Subscription
	order   []*Subscription

	// pendMu guards staged mutations and the key mirror used for duplicate
	// and limit checks without touching the iteration state.
	pendMu         sync.Mutex
	keys           map[models.SubscriptionKey]struct{}
	pendingAdds    []*Subscription
	pendingRemoves []models.SubscriptionKey

	frontier    time.Time
	lastBarrier time.Time
	closed      bool

	droppedMu sync.Mutex
	dropped   []DroppedSubscription
	events    chan DroppedSubscription
}

// NewSynchronizer creates a synchronizer.
func NewSynchronizer(builder Builder, opts Options, logger *logrus.Logger) *Synchronizer {
	if opts.MaxSubscriptions <= 0 {
		opts.MaxSubscriptions = 512
	}
	if opts.Cadence == nil {
		opts.Cadence = fillforward.NewInterval(time.Minute)
	}
	if opts.BarrierInterval <= 0 {
		opts.BarrierInterval = time.Second
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.End.IsZero() {
		opts.End = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)
	}

	return &Synchronizer{
		builder:    builder,
		opts:       opts,
		logger:     logger.WithField("component", "synchronizer"),
		hoursCache: make(map[string]*hours.Exchange),
		subs:       make(map[models.SubscriptionKey]*Subscription),
		keys:       make(map[models.SubscriptionKey]struct{}),
		events:     make(chan DroppedSubscription, 64),
	}
}

// Add accepts a subscription request. Re-adding an equal configuration is a
// no-op returning false. Exceeding the maximum subscription count is a fatal
// configuration error. The subscription participates from the next
// synchronization step onward.
func (s *Synchronizer) Add(req Request) (bool, error) {
	s.pendMu.Lock()
	defer s.pendMu.Unlock()

	key := req.Config.Key()
	if _, ok := s.keys[key]; ok {
		return false, nil
	}
	if len(s.keys) >= s.opts.MaxSubscriptions {
		return false, fmt.Errorf("%w: limit %d", ErrSubscriptionLimit, s.opts.MaxSubscriptions)
	}

	sub, err := s.createSubscription(req)
	if err != nil {
		return false, err
	}

	s.keys[key] = struct{}{}
	s.pendingAdds = append(s.pendingAdds, sub)

	s.logger.WithField("config", req.Config.String()).Debug("Subscription staged")
	return true, nil
}

// Remove detaches a subscription. Safe to call while the synchronizer is
// mid-iteration; the detach takes effect from the next synchronization step.
func (s *Synchronizer) Remove(cfg models.SubscriptionConfig) bool {
	s.pendMu.Lock()
	defer s.pendMu.Unlock()

	key := cfg.Key()
	if _, ok := s.keys[key]; !ok {
		return false
	}

	delete(s.keys, key)
	s.pendingRemoves = append(s.pendingRemoves, key)
	return true
}

func (s *Synchronizer) createSubscription(req Request) (*Subscription, error) {
	start := req.Start
	if start.IsZero() {
		start = s.opts.Start
	}

	// A mid-run addition joins at the published frontier. Its start is clamped
	// so records stamped behind the frontier are skipped by the cursor instead
	// of pinning the merge to a time it can never consume.
	addedAt := start
	if !s.frontier.IsZero() {
		addedAt = s.frontier
		if start.Before(s.frontier) {
			start = s.frontier
		}
	}

	enum := req.Enumerator
	if enum == nil {
		if s.builder == nil {
			return nil, fmt.Errorf("no enumerator and no builder for %s", req.Config)
		}
		var err error
		enum, err = s.builder(req.Config, start, s.opts.End)
		if err != nil {
			return nil, fmt.Errorf("failed to build cursor for %s: %w", req.Config, err)
		}
	}

	if req.Config.FillForward && req.Config.Resolution != models.ResolutionTick && req.Config.Kind != models.KindSelection {
		hrs, err := s.hoursFor(req.Config.Exchange)
		if err != nil {
			enum.Close()
			return nil, fmt.Errorf("failed to resolve calendar for %s: %w", req.Config, err)
		}
		enum = fillforward.New(enum, hrs, s.opts.Cadence, req.Config.ExtendedHours, s.opts.End, req.Config.Increment())
	}

	return newSubscription(req.Config, enum, req.Universe, start, addedAt, s.logger), nil
}

func (s *Synchronizer) hoursFor(exchange string) (*hours.Exchange, error) {
	s.hoursMu.Lock()
	defer s.hoursMu.Unlock()

	if hrs, ok := s.hoursCache[exchange]; ok {
		return hrs, nil
	}
	hrs, err := hours.Get(exchange)
	if err != nil {
		return nil, err
	}
	s.hoursCache[exchange] = hrs
	return hrs, nil
}

// applyPending applies staged adds and removes. Callers hold stateMu.
func (s *Synchronizer) applyPending() {
	s.pendMu.Lock()
	adds := s.pendingAdds
	removes := s.pendingRemoves
	s.pendingAdds = nil
	s.pendingRemoves = nil
	s.pendMu.Unlock()

	for _, key := range removes {
		if sub, ok := s.subs[key]; ok {
			sub.Close()
			s.deleteFromOrder(sub)
			delete(s.subs, key)
			s.logger.WithField("config", sub.config.String()).Debug("Subscription removed")
		}
	}

	for _, sub := range adds {
		key := sub.config.Key()
		if _, ok := s.subs[key]; ok {
			sub.Close()
			continue
		}
		s.subs[key] = sub
		s.insertOrdered(sub)
	}
}

func (s *Synchronizer) insertOrdered(sub *Subscription) {
	key := sortKey(sub.config.Key())
	idx := sort.Search(len(s.order), func(i int) bool {
		return sortKey(s.order[i].config.Key()) >= key
	})
	s.order = append(s.order, nil)
	copy(s.order[idx+1:], s.order[idx:])
	s.order[idx] = sub
}

func (s *Synchronizer) deleteFromOrder(sub *Subscription) {
	for i, candidate := range s.order {
		if candidate == sub {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

func sortKey(k models.SubscriptionKey) string {
	return fmt.Sprintf("%s|%d|%d|%d|%t", k.Symbol, k.Kind, k.TickType, k.Resolution, k.IsInternal)
}

// Next produces the next synchronized snapshot. It returns false when the
// merge is exhausted (backtest) or the context is canceled.
func (s *Synchronizer) Next(ctx context.Context) (*TimeSlice, bool) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.closed {
		return nil, false
	}

	if s.opts.Realtime {
		return s.nextRealtime(ctx)
	}
	return s.nextBacktest(ctx)
}

type pendingSelection struct {
	universe Universe
	record   *models.Record
}

func (s *Synchronizer) nextBacktest(ctx context.Context) (*TimeSlice, bool) {
	for {
		select {
		case <-ctx.Done():
			return nil, false
		default:
		}

		s.applyPending()
		if len(s.order) == 0 {
			return nil, false
		}

		// Frontier: the minimum next-unconsumed record time across active
		// subscriptions. Streams that fail here are dropped, not fatal.
		var frontier time.Time
		found := false
		var failed, exhausted []*Subscription

		for _, sub := range s.order {
			t, ok := sub.nextTimeUTC()
			if !ok {
				if sub.Err() != nil {
					failed = append(failed, sub)
				} else {
					exhausted = append(exhausted, sub)
				}
				continue
			}
			if !found || t.Before(frontier) {
				frontier = t
				found = true
			}
		}

		for _, sub := range failed {
			s.drop(sub, fmt.Sprintf("stream error: %v", sub.Err()))
		}
		for _, sub := range exhausted {
			s.prune(sub)
		}

		if !found {
			if len(s.order) == 0 && !s.hasPendingAdds() {
				return nil, false
			}
			continue
		}

		if frontier.Before(s.frontier) {
			frontier = s.frontier
		}
		s.setFrontier(frontier)

		slice := s.collect(frontier, func(sub *Subscription) bool {
			t, ok := sub.nextTimeUTC()
			return ok && t.Equal(frontier)
		})

		// Barrier: staged membership changes join the active set before the
		// snapshot is handed out, so the next frontier computation sees them.
		s.applyPending()

		return slice, true
	}
}

func (s *Synchronizer) nextRealtime(ctx context.Context) (*TimeSlice, bool) {
	barrier := s.lastBarrier.Add(s.opts.BarrierInterval)
	now := s.opts.Clock()
	if s.lastBarrier.IsZero() || barrier.Before(now.Add(-s.opts.BarrierInterval)) {
		barrier = now.Truncate(s.opts.BarrierInterval).Add(s.opts.BarrierInterval)
	}

	if wait := barrier.Sub(now); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, false
		case <-timer.C:
		}
	}

	s.lastBarrier = barrier
	s.applyPending()

	frontier := barrier.UTC()
	s.setFrontier(frontier)

	slice := s.collect(frontier, func(sub *Subscription) bool {
		if !sub.hasBuffered() {
			return false
		}
		t, ok := sub.nextTimeUTC()
		return ok && !t.After(frontier)
	})

	s.applyPending()
	return slice, true
}

// collect builds the snapshot at frontier, consuming every record the
// contribute predicate admits and resolving universe selections before the
// slice is returned. A member added by a selection never contributes to the
// slice that added it: collection has already finished by then.
func (s *Synchronizer) collect(frontier time.Time, contribute func(*Subscription) bool) *TimeSlice {
	slice := newTimeSlice(frontier)
	var selections []pendingSelection

	for _, sub := range s.order {
		for contribute(sub) {
			rec := sub.take()
			if rec == nil {
				break
			}

			s.notifyUniverses(rec.Symbol, frontier)

			if sub.universe != nil && rec.Kind == models.KindSelection {
				selections = append(selections, pendingSelection{sub.universe, rec})
				continue
			}
			if !sub.config.IsInternal {
				slice.add(rec)
			}
		}
	}

	for _, sel := range selections {
		s.resolveSelection(sel.universe, sel.record, frontier, slice)
	}

	return slice
}

func (s *Synchronizer) notifyUniverses(symbol string, utc time.Time) {
	for _, sub := range s.order {
		if sub.universe != nil {
			sub.universe.RecordReceived(symbol, utc)
		}
	}
}

// resolveSelection applies one universe selection record: the filter runs,
// additions are staged immediately, and members the filter no longer wants
// are staged for removal once the removal policy allows it.
func (s *Synchronizer) resolveSelection(u Universe, rec *models.Record, frontier time.Time, slice *TimeSlice) {
	selected, changed := u.SelectSymbols(frontier, rec.Selection)

	decision := &models.SelectionDecision{
		Universe:  u.Symbol(),
		Time:      frontier,
		Unchanged: !changed,
	}

	if changed {
		decision.Selected = selected

		want := make(map[string]struct{}, len(selected))
		for _, sym := range selected {
			want[sym] = struct{}{}
		}

		for _, member := range u.Members() {
			if _, keep := want[member]; keep {
				continue
			}
			if !u.CanRemoveMember(frontier, member) {
				continue
			}
			u.RemoveMember(member)
			cfg := s.memberConfig(u, member)
			if s.Remove(cfg) {
				decision.Removed = append(decision.Removed, member)
			}
		}

		for _, sym := range selected {
			if !u.AddMember(frontier, sym) {
				continue
			}
			cfg := s.memberConfig(u, sym)
			added, err := s.Add(Request{Config: cfg, Start: frontier})
			if err != nil {
				u.RemoveMember(sym)
				s.logger.WithError(err).WithFields(logrus.Fields{
					"universe": u.Symbol(),
					"symbol":   sym,
				}).Error("Failed to subscribe universe member")
				continue
			}
			if added {
				decision.Added = append(decision.Added, sym)
			}
		}
	}

	slice.Selections = append(slice.Selections, decision)
}

// memberConfig builds the subscription configuration for a universe member
// from the universe's defaults and the instrument directory.
func (s *Synchronizer) memberConfig(u Universe, symbol string) models.SubscriptionConfig {
	d := u.MemberDefaults()

	cfg := models.SubscriptionConfig{
		Symbol:           symbol,
		Exchange:         d.Exchange,
		Kind:             d.Kind,
		TickType:         d.TickType,
		Resolution:       d.Resolution,
		DataTimeZone:     d.DataTimeZone,
		ExchangeTimeZone: d.ExchangeTimeZone,
		FillForward:      d.FillForward,
		ExtendedHours:    d.ExtendedHours,
		IsFiltered:       true,
	}

	if s.opts.Directory != nil {
		if info, ok := s.opts.Directory.Lookup(symbol); ok {
			cfg.Exchange = info.Exchange
			cfg.DataTimeZone = info.DataTimeZone
			cfg.ExchangeTimeZone = info.ExchangeTimeZone
			cfg.IsCustomData = info.IsCustomData
		}
	}

	return cfg
}

// setFrontier publishes the frontier under pendMu so concurrent Add calls
// read a consistent join time.
func (s *Synchronizer) setFrontier(t time.Time) {
	s.pendMu.Lock()
	s.frontier = t
	s.pendMu.Unlock()
}

func (s *Synchronizer) hasPendingAdds() bool {
	s.pendMu.Lock()
	defer s.pendMu.Unlock()
	return len(s.pendingAdds) > 0
}

// prune removes a cleanly exhausted subscription from the merge.
func (s *Synchronizer) prune(sub *Subscription) {
	sub.Close()
	delete(s.subs, sub.config.Key())
	s.deleteFromOrder(sub)

	s.pendMu.Lock()
	delete(s.keys, sub.config.Key())
	s.pendMu.Unlock()

	s.logger.WithField("config", sub.config.String()).Debug("Subscription exhausted")
}

// drop removes a failed subscription, records the event, and lets the merge
// continue for all others.
func (s *Synchronizer) drop(sub *Subscription, reason string) {
	sub.Close()
	delete(s.subs, sub.config.Key())
	s.deleteFromOrder(sub)

	s.pendMu.Lock()
	delete(s.keys, sub.config.Key())
	s.pendMu.Unlock()

	event := DroppedSubscription{
		ID:     uuid.NewString(),
		Config: sub.config,
		Time:   s.opts.Clock().UTC(),
		Reason: reason,
	}

	s.droppedMu.Lock()
	s.dropped = append(s.dropped, event)
	s.droppedMu.Unlock()

	select {
	case s.events <- event:
	default:
	}

	s.logger.WithFields(logrus.Fields{
		"config": sub.config.String(),
		"reason": reason,
	}).Error("Subscription dropped")
}

// Stream drives the merge on a goroutine, delivering snapshots until the
// merge ends or ctx is canceled. The returned channel closes when done.
func (s *Synchronizer) Stream(ctx context.Context) <-chan *TimeSlice {
	out := make(chan *TimeSlice)

	go func() {
		defer close(out)
		for {
			slice, ok := s.Next(ctx)
			if !ok {
				return
			}
			select {
			case out <- slice:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// Dropped returns the subscriptions dropped so far.
func (s *Synchronizer) Dropped() []DroppedSubscription {
	s.droppedMu.Lock()
	defer s.droppedMu.Unlock()

	out := make([]DroppedSubscription, len(s.dropped))
	copy(out, s.dropped)
	return out
}

// Events surfaces dropped-subscription events as they occur (live mode).
func (s *Synchronizer) Events() <-chan DroppedSubscription {
	return s.events
}

// ActiveConfigurations returns the configurations currently in the merge.
func (s *Synchronizer) ActiveConfigurations() []models.SubscriptionConfig {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	out := make([]models.SubscriptionConfig, 0, len(s.order))
	for _, sub := range s.order {
		out = append(out, sub.config)
	}
	return out
}

// UniverseMembers returns current membership per universe symbol.
func (s *Synchronizer) UniverseMembers() map[string][]string {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	out := make(map[string][]string)
	for _, sub := range s.order {
		if sub.universe != nil {
			out[sub.universe.Symbol()] = sub.universe.Members()
		}
	}
	return out
}

// Subscription returns the runtime handle for a configuration, for
// consolidator attachment.
func (s *Synchronizer) Subscription(cfg models.SubscriptionConfig) (*Subscription, bool) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	sub, ok := s.subs[cfg.Key()]
	return sub, ok
}

// Close abandons all remaining subscriptions and releases their resources.
func (s *Synchronizer) Close() error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	s.applyPending()
	for _, sub := range s.order {
		sub.Close()
	}
	s.order = nil
	s.subs = make(map[models.SubscriptionKey]*Subscription)

	s.pendMu.Lock()
	s.keys = make(map[models.SubscriptionKey]struct{})
	s.pendMu.Unlock()

	return nil
}
