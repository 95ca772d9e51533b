package symbols

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/feed-sync/internal/database"
	"github.com/feed-sync/pkg/models"
)

// Manager caches the instrument master in memory and answers metadata lookups
// for universe members and subscription setup. It implements feed.Directory.
type Manager struct {
	instruments   map[string]*models.SymbolInfo
	instrumentsByID map[int]*models.SymbolInfo
	active        []string

	mysql  *database.MySQLClient
	logger *logrus.Entry

	mu              sync.RWMutex
	lastRefresh     time.Time
	refreshInterval time.Duration
}

// NewManager creates an instrument manager backed by the MySQL master.
func NewManager(mysql *database.MySQLClient, logger *logrus.Logger) *Manager {
	return &Manager{
		instruments:     make(map[string]*models.SymbolInfo),
		instrumentsByID: make(map[int]*models.SymbolInfo),
		active:          make([]string, 0),
		mysql:           mysql,
		logger:          logger.WithField("component", "symbols-manager"),
		refreshInterval: 5 * time.Minute,
	}
}

// Initialize loads the instrument master into memory.
func (m *Manager) Initialize(ctx context.Context) error {
	if err := m.LoadInstruments(ctx); err != nil {
		return fmt.Errorf("failed to load instruments: %w", err)
	}
	return nil
}

// LoadInstruments replaces the in-memory cache with the database contents.
func (m *Manager) LoadInstruments(ctx context.Context) error {
	instruments, err := m.mysql.GetInstruments(ctx)
	if err != nil {
		return fmt.Errorf("failed to get instruments from database: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.instruments = make(map[string]*models.SymbolInfo)
	m.instrumentsByID = make(map[int]*models.SymbolInfo)
	m.active = make([]string, 0)

	for _, info := range instruments {
		m.instruments[info.Symbol] = info
		m.instrumentsByID[info.ID] = info
		if info.IsActive {
			m.active = append(m.active, info.Symbol)
		}
	}
	sort.Strings(m.active)

	m.lastRefresh = time.Now()

	m.logger.WithFields(logrus.Fields{
		"total":  len(m.instruments),
		"active": len(m.active),
	}).Info("Instruments loaded")

	return nil
}

// RefreshIfNeeded reloads the cache once the refresh interval has passed.
func (m *Manager) RefreshIfNeeded(ctx context.Context) error {
	m.mu.RLock()
	needsRefresh := time.Since(m.lastRefresh) > m.refreshInterval
	m.mu.RUnlock()

	if needsRefresh {
		return m.LoadInstruments(ctx)
	}
	return nil
}

// Lookup implements feed.Directory.
func (m *Manager) Lookup(symbol string) (*models.SymbolInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info, exists := m.instruments[symbol]
	return info, exists
}

// LookupByID returns instrument info by database ID.
func (m *Manager) LookupByID(id int) (*models.SymbolInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info, exists := m.instrumentsByID[id]
	return info, exists
}

// ActiveSymbols returns the sorted active symbol names.
func (m *Manager) ActiveSymbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, len(m.active))
	copy(out, m.active)
	return out
}

// All returns a copy of the full instrument map.
func (m *Manager) All() map[string]*models.SymbolInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]*models.SymbolInfo, len(m.instruments))
	for k, v := range m.instruments {
		out[k] = v
	}
	return out
}

// ByExchange returns the instruments listed on one exchange.
func (m *Manager) ByExchange(exchange string) []*models.SymbolInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.SymbolInfo, 0)
	for _, info := range m.instruments {
		if info.Exchange == exchange {
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Search returns instruments whose symbol or full name contains the pattern,
// case-insensitively.
func (m *Manager) Search(pattern string) []*models.SymbolInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	needle := strings.ToLower(pattern)
	out := make([]*models.SymbolInfo, 0)
	for _, info := range m.instruments {
		if strings.Contains(strings.ToLower(info.Symbol), needle) ||
			strings.Contains(strings.ToLower(info.FullName), needle) {
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// AddOrUpdate persists an instrument and refreshes the cache entry.
func (m *Manager) AddOrUpdate(ctx context.Context, info *models.SymbolInfo) error {
	if err := m.mysql.InsertInstrument(ctx, info); err != nil {
		return fmt.Errorf("failed to save instrument: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.instruments[info.Symbol] = info
	m.instrumentsByID[info.ID] = info
	m.rebuildActiveList()

	return nil
}

// SetActive flips an instrument's active flag in the database and cache.
func (m *Manager) SetActive(ctx context.Context, symbol string, active bool) error {
	info, exists := m.Lookup(symbol)
	if !exists {
		return fmt.Errorf("instrument %s not found", symbol)
	}

	if err := m.mysql.SetInstrumentActive(ctx, symbol, active); err != nil {
		return fmt.Errorf("failed to update instrument: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	info.IsActive = active
	m.rebuildActiveList()

	return nil
}

// Count returns the total number of cached instruments.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.instruments)
}

// rebuildActiveList must be called with the write lock held.
func (m *Manager) rebuildActiveList() {
	m.active = make([]string, 0, len(m.instruments))
	for symbol, info := range m.instruments {
		if info.IsActive {
			m.active = append(m.active, symbol)
		}
	}
	sort.Strings(m.active)
}
