package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"parts-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var (
	ErrBillNotFound      = errors.New("bill not found")
	ErrPartNotFound      = errors.New("part not found")
	ErrRefundNotFound    = errors.New("refund not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrConflict          = errors.New("conflicting write")
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

type Store struct {
	db     *sqlx.DB
	driver string
}

// NewStore creates a new database store. Postgres is the production backend;
// SQLite is used for local development and tests.
func NewStore(driver, databaseURL string) (*Store, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := sqlx.Connect(driver, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == DriverSQLite {
		// a single connection serializes writers, standing in for row locks
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db, driver: driver}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// forUpdate returns the row-locking suffix for the current driver
func (s *Store) forUpdate() string {
	if s.driver == DriverPostgres {
		return " FOR UPDATE"
	}
	return ""
}

// Tx wraps a database transaction scoped to one unit of work
type Tx struct {
	tx    *sqlx.Tx
	store *Store
}

// WithTx runs fn inside a transaction. The transaction commits only if fn
// returns nil; any error rolls back every write made through the Tx.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	var opts *sql.TxOptions
	if s.driver == DriverPostgres {
		opts = &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	}

	tx, err := s.db.BeginTxx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", classify(err))
	}
	defer tx.Rollback()

	if err := fn(&Tx{tx: tx, store: s}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", classify(err))
	}
	return nil
}

// classify maps driver constraint and serialization failures onto ErrConflict
func classify(err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code.Class() == "23", pqErr.Code == "40001", pqErr.Code == "40P01":
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return err
	}

	msg := err.Error()
	if strings.Contains(msg, "constraint failed") || strings.Contains(msg, "SQLITE_BUSY") {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

const partColumns = `id, part_number, name, manufacturer, price, available_stock, sold_stock, reserved_stock, created_at, updated_at`

// CreatePart inserts a new part
func (s *Store) CreatePart(ctx context.Context, part *models.Part) error {
	now := time.Now().UTC()
	part.CreatedAt, part.UpdatedAt = now, now

	query := s.db.Rebind(`
		INSERT INTO parts (part_number, name, manufacturer, price, available_stock, sold_stock, reserved_stock, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)

	err := s.db.GetContext(ctx, &part.ID, query,
		part.PartNumber, part.Name, part.Manufacturer, part.Price,
		part.AvailableStock, part.SoldStock, part.ReservedStock, now, now)
	return classify(err)
}

// GetPartByID retrieves a part by ID
func (s *Store) GetPartByID(ctx context.Context, id int64) (*models.Part, error) {
	var part models.Part
	err := s.db.GetContext(ctx, &part, s.db.Rebind("SELECT "+partColumns+" FROM parts WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrPartNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &part, nil
}

// GetParts retrieves all parts
func (s *Store) GetParts(ctx context.Context) ([]models.Part, error) {
	var parts []models.Part
	err := s.db.SelectContext(ctx, &parts, "SELECT "+partColumns+" FROM parts ORDER BY id")
	return parts, err
}

// GetStockMovements retrieves the audit trail for a part, newest first
func (s *Store) GetStockMovements(ctx context.Context, partID int64, limit int) ([]models.StockMovement, error) {
	if limit <= 0 {
		limit = 100
	}

	var movements []models.StockMovement
	err := s.db.SelectContext(ctx, &movements, s.db.Rebind(`
		SELECT id, part_id, movement_type, quantity, reference_type, reference_id,
		       previous_available, new_available, created_by, notes, created_at
		FROM stock_movements
		WHERE part_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`), partID, limit)
	return movements, err
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		s.db.Rebind("SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = ?)"), eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		s.db.Rebind("INSERT INTO processed_events (event_id, event_type, processed_at) VALUES (?, ?, ?) ON CONFLICT (event_id) DO NOTHING"),
		eventID, eventType, time.Now().UTC())
	return err
}
