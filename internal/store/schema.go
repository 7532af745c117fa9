package store

import (
	"context"
	"fmt"
	"strings"
)

// column types that differ between drivers
type dialect struct {
	pk        string
	timestamp string
}

var dialects = map[string]dialect{
	DriverPostgres: {pk: "BIGSERIAL PRIMARY KEY", timestamp: "TIMESTAMPTZ"},
	DriverSQLite:   {pk: "INTEGER PRIMARY KEY AUTOINCREMENT", timestamp: "DATETIME"},
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS parts (
		id {{pk}},
		part_number TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		manufacturer TEXT NOT NULL DEFAULT '',
		price NUMERIC(12,2) NOT NULL,
		available_stock INTEGER NOT NULL DEFAULT 0 CHECK (available_stock >= 0),
		sold_stock INTEGER NOT NULL DEFAULT 0 CHECK (sold_stock >= 0),
		reserved_stock INTEGER NOT NULL DEFAULT 0 CHECK (reserved_stock >= 0),
		created_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS bills (
		id {{pk}},
		bill_number TEXT NOT NULL UNIQUE,
		customer_name TEXT NOT NULL,
		customer_phone TEXT NOT NULL DEFAULT '',
		total_amount NUMERIC(12,2) NOT NULL,
		refunded_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'active',
		created_by BIGINT NOT NULL,
		created_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL,
		CHECK (status IN ('active', 'partially_refunded', 'refunded')),
		CHECK (refunded_amount >= 0 AND refunded_amount <= total_amount)
	)`,
	`CREATE TABLE IF NOT EXISTS bill_items (
		id {{pk}},
		bill_id BIGINT NOT NULL REFERENCES bills(id),
		part_id BIGINT NOT NULL REFERENCES parts(id),
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		unit_price NUMERIC(12,2) NOT NULL,
		total_price NUMERIC(12,2) NOT NULL,
		refunded_quantity INTEGER NOT NULL DEFAULT 0,
		UNIQUE (bill_id, part_id),
		CHECK (refunded_quantity >= 0 AND refunded_quantity <= quantity)
	)`,
	`CREATE TABLE IF NOT EXISTS refunds (
		id {{pk}},
		bill_id BIGINT NOT NULL REFERENCES bills(id),
		amount NUMERIC(12,2) NOT NULL CHECK (amount > 0),
		reason TEXT NOT NULL DEFAULT '',
		refund_type TEXT NOT NULL CHECK (refund_type IN ('full', 'partial')),
		idempotency_key TEXT NOT NULL UNIQUE,
		refunded_by BIGINT NOT NULL,
		created_at {{ts}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_refunds_bill_id ON refunds (bill_id)`,
	`CREATE TABLE IF NOT EXISTS refund_items (
		id {{pk}},
		refund_id BIGINT NOT NULL REFERENCES refunds(id),
		part_id BIGINT NOT NULL REFERENCES parts(id),
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		unit_price NUMERIC(12,2) NOT NULL,
		total_price NUMERIC(12,2) NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_refund_items_refund_id ON refund_items (refund_id)`,
	`CREATE TABLE IF NOT EXISTS stock_movements (
		id {{pk}},
		part_id BIGINT NOT NULL REFERENCES parts(id),
		movement_type TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		reference_type TEXT NOT NULL,
		reference_id BIGINT NOT NULL,
		previous_available INTEGER NOT NULL,
		new_available INTEGER NOT NULL,
		created_by BIGINT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		created_at {{ts}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stock_movements_part_id ON stock_movements (part_id)`,
	`CREATE TABLE IF NOT EXISTS processed_events (
		event_id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		processed_at {{ts}} NOT NULL
	)`,
}

// Migrate creates the schema if it does not exist
func (s *Store) Migrate(ctx context.Context) error {
	d := dialects[s.driver]
	r := strings.NewReplacer("{{pk}}", d.pk, "{{ts}}", d.timestamp)

	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, r.Replace(stmt)); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
