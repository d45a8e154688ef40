package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// schema is applied on every start; each statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS tickets (
		number          INTEGER PRIMARY KEY CHECK (number > 0),
		status          TEXT NOT NULL DEFAULT 'AVAILABLE'
		                CHECK (status IN ('AVAILABLE', 'RESERVED', 'PAID')),
		buyer_name      TEXT,
		buyer_phone     TEXT,
		order_reference TEXT,
		payment_handle  TEXT,
		reserved_at     TIMESTAMPTZ,
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT tickets_reserved_at_iff_reserved CHECK ((status = 'RESERVED') = (reserved_at IS NOT NULL)),
		CONSTRAINT tickets_order_iff_sold CHECK ((status = 'AVAILABLE') = (order_reference IS NULL))
	)`,
	`CREATE INDEX IF NOT EXISTS tickets_order_reference_idx ON tickets (order_reference)`,
	`CREATE INDEX IF NOT EXISTS tickets_payment_handle_idx ON tickets (payment_handle)`,
	`CREATE INDEX IF NOT EXISTS tickets_buyer_phone_idx ON tickets (buyer_phone)`,
	`CREATE INDEX IF NOT EXISTS tickets_reserved_at_idx ON tickets (reserved_at) WHERE status = 'RESERVED'`,
}

func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return errors.Wrap(err, "migrate")
		}
	}
	return nil
}
