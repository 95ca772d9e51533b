package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"

	"github.com/feed-sync/pkg/config"
	"github.com/feed-sync/pkg/models"
)

// MySQLClient handles the instrument master database
type MySQLClient struct {
	db     *sql.DB
	logger *logrus.Entry
	cfg    *config.MySQLConfig
}

// NewMySQLClient creates a new MySQL client
func NewMySQLClient(cfg *config.MySQLConfig, logger *logrus.Logger) (*MySQLClient, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	return &MySQLClient{
		db:     db,
		logger: logger.WithField("component", "mysql"),
		cfg:    cfg,
	}, nil
}

// Close closes the database connection
func (mc *MySQLClient) Close() error {
	return mc.db.Close()
}

// Health checks database health
func (mc *MySQLClient) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return mc.db.PingContext(ctx)
}

// GetInstruments retrieves all active instruments
func (mc *MySQLClient) GetInstruments(ctx context.Context) ([]*models.SymbolInfo, error) {
	query := `
		SELECT id, exchange, symbol, full_name, instrument_type,
		       quote_currency, data_time_zone, exchange_time_zone,
		       is_active, is_custom_data, created_at, updated_at
		FROM instruments
		WHERE is_active = 1
		ORDER BY symbol
	`

	rows, err := mc.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query instruments: %w", err)
	}
	defer rows.Close()

	var instruments []*models.SymbolInfo
	for rows.Next() {
		info := &models.SymbolInfo{}
		err := rows.Scan(
			&info.ID,
			&info.Exchange,
			&info.Symbol,
			&info.FullName,
			&info.InstrumentType,
			&info.QuoteCurrency,
			&info.DataTimeZone,
			&info.ExchangeTimeZone,
			&info.IsActive,
			&info.IsCustomData,
			&info.CreatedAt,
			&info.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instrument: %w", err)
		}
		instruments = append(instruments, info)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	mc.logger.WithField("count", len(instruments)).Debug("Loaded instruments")
	return instruments, nil
}

// GetInstrument retrieves a single instrument by symbol
func (mc *MySQLClient) GetInstrument(ctx context.Context, symbol string) (*models.SymbolInfo, error) {
	query := `
		SELECT id, exchange, symbol, full_name, instrument_type,
		       quote_currency, data_time_zone, exchange_time_zone,
		       is_active, is_custom_data, created_at, updated_at
		FROM instruments
		WHERE symbol = ?
	`

	info := &models.SymbolInfo{}
	err := mc.db.QueryRowContext(ctx, query, symbol).Scan(
		&info.ID,
		&info.Exchange,
		&info.Symbol,
		&info.FullName,
		&info.InstrumentType,
		&info.QuoteCurrency,
		&info.DataTimeZone,
		&info.ExchangeTimeZone,
		&info.IsActive,
		&info.IsCustomData,
		&info.CreatedAt,
		&info.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query instrument %s: %w", symbol, err)
	}

	return info, nil
}

// InsertInstrument inserts a new instrument
func (mc *MySQLClient) InsertInstrument(ctx context.Context, info *models.SymbolInfo) error {
	query := `
		INSERT INTO instruments (
			exchange, symbol, full_name, instrument_type, quote_currency,
			data_time_zone, exchange_time_zone, is_active, is_custom_data,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NOW(), NOW())
		ON DUPLICATE KEY UPDATE
			full_name = VALUES(full_name),
			instrument_type = VALUES(instrument_type),
			quote_currency = VALUES(quote_currency),
			data_time_zone = VALUES(data_time_zone),
			exchange_time_zone = VALUES(exchange_time_zone),
			is_active = VALUES(is_active),
			updated_at = NOW()
	`

	_, err := mc.db.ExecContext(ctx, query,
		info.Exchange,
		info.Symbol,
		info.FullName,
		info.InstrumentType,
		info.QuoteCurrency,
		info.DataTimeZone,
		info.ExchangeTimeZone,
		info.IsActive,
		info.IsCustomData,
	)
	if err != nil {
		return fmt.Errorf("failed to insert instrument %s: %w", info.Symbol, err)
	}

	return nil
}

// SetInstrumentActive sets the active flag of an instrument
func (mc *MySQLClient) SetInstrumentActive(ctx context.Context, symbol string, active bool) error {
	query := `UPDATE instruments SET is_active = ?, updated_at = NOW() WHERE symbol = ?`

	res, err := mc.db.ExecContext(ctx, query, active, symbol)
	if err != nil {
		return fmt.Errorf("failed to update instrument %s: %w", symbol, err)
	}

	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("instrument %s not found", symbol)
	}
	return nil
}
