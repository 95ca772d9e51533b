package app

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/feed-sync/internal/api"
	"github.com/feed-sync/internal/cache"
	"github.com/feed-sync/internal/database"
	"github.com/feed-sync/internal/feed"
	"github.com/feed-sync/internal/fillforward"
	"github.com/feed-sync/internal/messaging"
	"github.com/feed-sync/internal/source"
	"github.com/feed-sync/internal/symbols"
	"github.com/feed-sync/internal/universe"
	"github.com/feed-sync/pkg/config"
	"github.com/feed-sync/pkg/models"
)

// App wires the data feed together: record sources, the synchronizer, the
// instrument master, live transport, caches, and the status API.
type App struct {
	cfg    *config.Config
	logger *logrus.Logger

	mysqlDB    *database.MySQLClient
	influxDB   *database.InfluxClient
	redisCache *cache.RedisClient
	natsClient *messaging.NATSClient
	symbolsMgr *symbols.Manager
	fileCache  *source.HandleCache

	cadence *fillforward.Interval
	sync    *feed.Synchronizer

	apiServer *api.Server
}

// New creates an application instance. Components are attached by RunBacktest
// or RunLive; nothing is connected yet.
func New(cfg *config.Config, logger *logrus.Logger) *App {
	return &App{
		cfg:     cfg,
		logger:  logger,
		cadence: fillforward.NewInterval(cfg.Feed.FillForwardCadence),
	}
}

// BacktestOptions selects the data and time range for a historical run.
type BacktestOptions struct {
	Start time.Time
	End   time.Time

	// Symbols to subscribe directly, before any universe selection.
	Symbols  []string
	Exchange string

	// Resolution of the subscribed bars. The zero value means tick data;
	// the backtest command always supplies a parsed value.
	Resolution models.Resolution

	// UniverseSize > 0 adds a dollar-volume universe of that many members.
	UniverseSize   int
	UniverseSymbol string

	// FromInflux reads bars from InfluxDB instead of the day-file store.
	FromInflux bool
}

// RunBacktest pulls the merged feed over a historical range to exhaustion and
// reports every dropped subscription at the end.
func (a *App) RunBacktest(ctx context.Context, opts BacktestOptions) error {
	log := a.logger.WithField("component", "backtest")

	if opts.End.Before(opts.Start) {
		return fmt.Errorf("end %s before start %s", opts.End, opts.Start)
	}
	if opts.Exchange == "" {
		opts.Exchange = "nyse"
	}

	src, err := a.openSource(opts.FromInflux)
	if err != nil {
		return err
	}

	builder := func(cfg models.SubscriptionConfig, start, end time.Time) (source.Enumerator, error) {
		return source.OverRange(src, cfg, start, end, a.logger.WithField("component", "source")), nil
	}

	var directory feed.Directory
	if a.symbolsMgr != nil {
		directory = a.symbolsMgr
	}

	a.sync = feed.NewSynchronizer(builder, feed.Options{
		MaxSubscriptions: a.cfg.Feed.MaxSubscriptions,
		Cadence:          a.cadence,
		Start:            opts.Start,
		End:              opts.End,
		Directory:        directory,
	}, a.logger)
	defer a.sync.Close()

	for _, symbol := range opts.Symbols {
		cfg := a.barConfig(symbol, opts.Exchange, opts.Resolution)
		if _, err := a.sync.Add(feed.Request{Config: cfg}); err != nil {
			return fmt.Errorf("failed to subscribe %s: %w", symbol, err)
		}
	}

	if opts.UniverseSize > 0 {
		if err := a.addDollarVolumeUniverse(opts, false); err != nil {
			return err
		}
	}

	var slices, records int
	for {
		slice, ok := a.sync.Next(ctx)
		if !ok {
			break
		}
		slices++
		records += slice.Count

		if slices%10000 == 0 {
			log.WithFields(logrus.Fields{
				"frontier": slice.Time,
				"slices":   slices,
				"records":  records,
			}).Info("Backtest progress")
		}
	}

	for _, d := range a.sync.Dropped() {
		log.WithFields(logrus.Fields{
			"id":     d.ID,
			"symbol": d.Config.Symbol,
			"time":   d.Time,
			"reason": d.Reason,
		}).Warn("Subscription dropped during run")
	}

	log.WithFields(logrus.Fields{
		"slices":  slices,
		"records": records,
		"dropped": len(a.sync.Dropped()),
	}).Info("Backtest complete")

	return ctx.Err()
}

// RunLive connects the full stack and synchronizes live records against wall
// clock barriers until the context is cancelled.
func (a *App) RunLive(ctx context.Context) error {
	log := a.logger.WithField("component", "live")

	if err := a.initializeStorage(ctx); err != nil {
		return err
	}
	defer a.closeStorage()

	natsClient, err := messaging.NewNATSClient(&a.cfg.NATS, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize messaging: %w", err)
	}
	a.natsClient = natsClient
	defer natsClient.Close()

	builder := a.liveBuilder()

	a.sync = feed.NewSynchronizer(builder, feed.Options{
		MaxSubscriptions: a.cfg.Feed.MaxSubscriptions,
		Cadence:          a.cadence,
		Start:            time.Now().UTC(),
		Realtime:         true,
		BarrierInterval:  time.Second,
		Directory:        a.symbolsMgr,
	}, a.logger)
	defer a.sync.Close()

	for _, symbol := range a.symbolsMgr.ActiveSymbols() {
		info, _ := a.symbolsMgr.Lookup(symbol)
		cfg := a.instrumentConfig(info)
		if _, err := a.sync.Add(feed.Request{Config: cfg}); err != nil {
			return fmt.Errorf("failed to subscribe %s: %w", symbol, err)
		}
	}

	a.apiServer = api.NewServer(a.cfg, a.logger, a.sync, a.symbolsMgr, a.redisCache)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.apiServer.Start()
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.apiServer.Stop(shutdownCtx)
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case ev := <-a.sync.Events():
				log.WithFields(logrus.Fields{
					"id":     ev.ID,
					"symbol": ev.Config.Symbol,
					"reason": ev.Reason,
				}).Warn("Subscription dropped")
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
				if err := a.symbolsMgr.RefreshIfNeeded(gctx); err != nil {
					log.WithError(err).Warn("Instrument refresh failed")
				}
			}
		}
	})

	g.Go(func() error {
		for slice := range a.sync.Stream(gctx) {
			a.publishSlice(gctx, slice)
		}
		return gctx.Err()
	})

	log.Info("Live feed running")

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// publishSlice distributes one synchronized slice to Redis, NATS, InfluxDB
// and websocket clients. Distribution failures are logged, never fatal.
func (a *App) publishSlice(ctx context.Context, slice *feed.TimeSlice) {
	log := a.logger.WithField("component", "live")

	records := make([]*models.Record, 0, slice.Count)
	for _, recs := range slice.Data {
		records = append(records, recs...)
	}

	if a.redisCache != nil && len(records) > 0 {
		if err := a.redisCache.SetRecordBatch(ctx, records); err != nil {
			log.WithError(err).Warn("Failed to cache records")
		}
		if err := a.redisCache.SetFrontier(ctx, slice.Time); err != nil {
			log.WithError(err).Warn("Failed to cache frontier")
		}
	}

	if a.influxDB != nil {
		if bars := realBars(records); len(bars) > 0 {
			if err := a.influxDB.WriteBars(ctx, bars, models.ResolutionMinute); err != nil {
				log.WithError(err).Warn("Failed to persist bars")
			}
		}
	}

	if a.natsClient != nil {
		symbolSet := make([]string, 0, len(slice.Data))
		for symbol := range slice.Data {
			symbolSet = append(symbolSet, symbol)
		}
		summary := &messaging.SliceSummary{
			Time:      slice.Time,
			Count:     slice.Count,
			Symbols:   symbolSet,
			Universes: len(slice.Selections),
		}
		if err := a.natsClient.PublishSliceSummary(summary); err != nil {
			log.WithError(err).Warn("Failed to publish slice summary")
		}
		for _, decision := range slice.Selections {
			if err := a.natsClient.PublishSelection(decision); err != nil {
				log.WithError(err).Warn("Failed to publish selection")
			}
		}
	}

	if a.apiServer != nil && slice.Count > 0 {
		a.apiServer.Hub().BroadcastSlice(slice)
	}
}

// liveBuilder returns a Builder that bridges NATS record subjects into live
// pull cursors. Each subscription gets its own buffered enumerator; a full
// buffer drops the newest record for that stream only.
func (a *App) liveBuilder() feed.Builder {
	log := a.logger.WithField("component", "live-source")

	return func(cfg models.SubscriptionConfig, start, end time.Time) (source.Enumerator, error) {
		enum := source.NewLiveEnumerator(a.cfg.Data.LiveBufferSize)

		err := a.natsClient.SubscribeRecords(cfg.Symbol, cfg.Kind, func(rec *models.Record) {
			if !enum.Push(rec) {
				log.WithField("symbol", cfg.Symbol).Warn("Live buffer full, record dropped")
			}
		})
		if err != nil {
			return nil, err
		}

		return &liveSubscriptionEnumerator{
			LiveEnumerator: enum,
			nats:           a.natsClient,
			symbol:         cfg.Symbol,
			kind:           cfg.Kind,
		}, nil
	}
}

// liveSubscriptionEnumerator unsubscribes its NATS subject when the feed
// closes the cursor.
type liveSubscriptionEnumerator struct {
	*source.LiveEnumerator
	nats   *messaging.NATSClient
	symbol string
	kind   models.Kind
}

func (l *liveSubscriptionEnumerator) Close() error {
	l.nats.UnsubscribeRecords(l.symbol, l.kind)
	return l.LiveEnumerator.Close()
}

// InitializeInstruments connects MySQL and loads the instrument master.
// Backtests call this only when a universe needs the directory.
func (a *App) InitializeInstruments(ctx context.Context) error {
	mysqlDB, err := database.NewMySQLClient(&a.cfg.MySQL, a.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to MySQL: %w", err)
	}
	a.mysqlDB = mysqlDB

	a.symbolsMgr = symbols.NewManager(mysqlDB, a.logger)
	if err := a.symbolsMgr.Initialize(ctx); err != nil {
		return err
	}
	return nil
}

func (a *App) initializeStorage(ctx context.Context) error {
	if err := a.InitializeInstruments(ctx); err != nil {
		return err
	}

	a.influxDB = database.NewInfluxClient(&a.cfg.InfluxDB, a.logger)
	if err := a.influxDB.Health(ctx); err != nil {
		return fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}

	redisCache, err := cache.NewRedisClient(&a.cfg.Redis, a.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	a.redisCache = redisCache

	return nil
}

func (a *App) closeStorage() {
	if a.redisCache != nil {
		a.redisCache.Close()
	}
	if a.influxDB != nil {
		a.influxDB.Close()
	}
	if a.mysqlDB != nil {
		a.mysqlDB.Close()
	}
	if a.fileCache != nil {
		a.fileCache.Close()
	}
}

// Close releases any resources still held.
func (a *App) Close() {
	if a.sync != nil {
		a.sync.Close()
	}
	if a.natsClient != nil {
		a.natsClient.Close()
	}
	a.closeStorage()
}

func (a *App) openSource(fromInflux bool) (source.Source, error) {
	if fromInflux {
		influxDB := database.NewInfluxClient(&a.cfg.InfluxDB, a.logger)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := influxDB.Health(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to InfluxDB: %w", err)
		}
		a.influxDB = influxDB
		return source.NewInfluxSource(influxDB, a.logger), nil
	}

	a.fileCache = source.NewHandleCache(a.cfg.Data.HandleTTL, a.cfg.Data.CleanupInterval, a.logger)
	return source.NewDayFileSource(a.cfg.Data.Dir, a.fileCache, nil, a.logger), nil
}

// addDollarVolumeUniverse subscribes a top-N dollar volume universe whose
// members inherit the backtest's bar resolution.
func (a *App) addDollarVolumeUniverse(opts BacktestOptions, live bool) error {
	name := opts.UniverseSymbol
	if name == "" {
		name = fmt.Sprintf("top-%d-dollar-volume", opts.UniverseSize)
	}

	cfg := a.barConfig(name, opts.Exchange, models.ResolutionDaily)
	cfg.Kind = models.KindSelection
	cfg.FillForward = false
	cfg.IsInternal = true

	settings := universe.DefaultSettings()
	settings.Resolution = opts.Resolution
	settings.MinimumDwellTime = a.cfg.Feed.MinimumDwellTime

	u, err := universe.New(cfg, settings, universe.TopDollarVolume(opts.UniverseSize), live, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create universe: %w", err)
	}

	if _, err := a.sync.Add(feed.Request{Config: cfg, Universe: u}); err != nil {
		return fmt.Errorf("failed to subscribe universe: %w", err)
	}
	return nil
}

func (a *App) barConfig(symbol, exchange string, resolution models.Resolution) models.SubscriptionConfig {
	dataTZ, exchangeTZ := venueTimeZones(exchange)
	return models.SubscriptionConfig{
		Symbol:           symbol,
		Exchange:         exchange,
		Kind:             models.KindTradeBar,
		Resolution:       resolution,
		DataTimeZone:     dataTZ,
		ExchangeTimeZone: exchangeTZ,
		FillForward:      true,
		IsFiltered:       true,
	}
}

func (a *App) instrumentConfig(info *models.SymbolInfo) models.SubscriptionConfig {
	cfg := a.barConfig(info.Symbol, info.Exchange, models.ResolutionMinute)
	if info.DataTimeZone != "" {
		cfg.DataTimeZone = info.DataTimeZone
	}
	if info.ExchangeTimeZone != "" {
		cfg.ExchangeTimeZone = info.ExchangeTimeZone
	}
	cfg.IsCustomData = info.IsCustomData
	return cfg
}

// realBars filters a slice's records down to vendor trade bars. Synthetic
// fill-forward bars are never persisted.
func realBars(records []*models.Record) []*models.Record {
	out := make([]*models.Record, 0, len(records))
	for _, rec := range records {
		if rec.Kind == models.KindTradeBar && !rec.FillForward {
			out = append(out, rec)
		}
	}
	return out
}

// venueTimeZones maps an exchange name to its data and exchange time zones.
// Crypto venues run on UTC; listed venues keep data in exchange-local time.
func venueTimeZones(exchange string) (string, string) {
	switch exchange {
	case "binance", "coinbase", "kraken", "crypto":
		return "UTC", "UTC"
	case "lse":
		return "Europe/London", "Europe/London"
	case "tse":
		return "Asia/Tokyo", "Asia/Tokyo"
	default:
		return "America/New_York", "America/New_York"
	}
}
