package tickets

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// Repo is the only writer of the tickets table. Every mutation outside
// WithTx is a single conditional bulk UPDATE guarded by the current status.
type Repo struct {
	DB          *pgxpool.Pool
	LockTimeout time.Duration // applied inside WithTx; zero keeps the server default
}

const ticketColumns = `number, status, buyer_name, buyer_phone, order_reference, payment_handle, reserved_at, updated_at`

// Initialize creates tickets 1..count as AVAILABLE. Existing rows are left alone.
func (r *Repo) Initialize(ctx context.Context, count int) error {
	if count <= 0 {
		return Invalid("count", "must be positive, got %d", count)
	}
	_, err := r.DB.Exec(ctx, `
		INSERT INTO tickets(number, status)
		SELECT n, 'AVAILABLE' FROM generate_series(1, $1::int) AS n
		ON CONFLICT (number) DO NOTHING`, count)
	return classify(errors.Wrap(err, "initialize tickets"))
}

func (r *Repo) ListAll(ctx context.Context) ([]PublicTicket, error) {
	rows, err := r.DB.Query(ctx, `SELECT number, status FROM tickets ORDER BY number`)
	if err != nil {
		return nil, classify(errors.Wrap(err, "list tickets"))
	}
	defer rows.Close()

	var out []PublicTicket
	for rows.Next() {
		var t PublicTicket
		if err := rows.Scan(&t.Number, &t.Status); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, classify(rows.Err())
}

// ListByPhone returns the RESERVED and PAID tickets of one buyer phone.
func (r *Repo) ListByPhone(ctx context.Context, phone string) ([]Ticket, error) {
	return r.query(ctx, `SELECT `+ticketColumns+` FROM tickets
		WHERE buyer_phone = $1 AND status IN ('RESERVED','PAID')
		ORDER BY number`, phone)
}

func (r *Repo) FindByOrderReference(ctx context.Context, ref string) ([]Ticket, error) {
	return r.query(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE order_reference = $1 ORDER BY number`, ref)
}

func (r *Repo) FindByPaymentHandle(ctx context.Context, handle string) ([]Ticket, error) {
	return r.query(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE payment_handle = $1 ORDER BY number`, handle)
}

// SetPaymentHandle records the provider handle against the tickets of the
// order that are RESERVED or already PAID and reports how many rows were
// touched. Zero means the order was released.
func (r *Repo) SetPaymentHandle(ctx context.Context, ref, handle string) (int64, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE tickets SET payment_handle = $2, updated_at = now()
		WHERE order_reference = $1 AND status IN ('RESERVED', 'PAID')`, ref, handle)
	if err != nil {
		return 0, classify(errors.Wrap(err, "set payment handle"))
	}
	return ct.RowsAffected(), nil
}

// MarkPaid moves the RESERVED tickets of an order to PAID. An empty result is
// the idempotent no-op: already paid, or already released.
func (r *Repo) MarkPaid(ctx context.Context, ref string) ([]int, error) {
	return r.numbers(ctx, `
		WITH paid AS (
			UPDATE tickets SET status = 'PAID', reserved_at = NULL, updated_at = now()
			WHERE order_reference = $1 AND status = 'RESERVED'
			RETURNING number
		)
		SELECT number FROM paid ORDER BY number`, ref)
}

// Release returns the RESERVED tickets of an order to AVAILABLE and clears
// buyer, order and payment metadata. PAID tickets are never touched.
func (r *Repo) Release(ctx context.Context, ref string) ([]int, error) {
	return r.numbers(ctx, `
		WITH released AS (
			UPDATE tickets SET status = 'AVAILABLE', buyer_name = NULL, buyer_phone = NULL,
				order_reference = NULL, payment_handle = NULL, reserved_at = NULL, updated_at = now()
			WHERE order_reference = $1 AND status = 'RESERVED'
			RETURNING number
		)
		SELECT number FROM released ORDER BY number`, ref)
}

// ReleaseExpiredBefore sweeps every reservation made at or before cutoff.
// Rows of one order share reserved_at, so an order is released whole.
func (r *Repo) ReleaseExpiredBefore(ctx context.Context, cutoff time.Time) ([]Released, error) {
	rows, err := r.DB.Query(ctx, `
		UPDATE tickets t SET status = 'AVAILABLE', buyer_name = NULL, buyer_phone = NULL,
			order_reference = NULL, payment_handle = NULL, reserved_at = NULL, updated_at = now()
		FROM (
			SELECT number, order_reference FROM tickets
			WHERE status = 'RESERVED' AND reserved_at <= $1
		) old
		WHERE t.number = old.number AND t.status = 'RESERVED' AND t.reserved_at <= $1
		RETURNING t.number, old.order_reference`, cutoff)
	if err != nil {
		return nil, classify(errors.Wrap(err, "release expired"))
	}
	defer rows.Close()

	var out []Released
	for rows.Next() {
		var rel Released
		if err := rows.Scan(&rel.Number, &rel.OrderReference); err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	return out, classify(rows.Err())
}

func (r *Repo) query(ctx context.Context, sql string, args ...any) ([]Ticket, error) {
	rows, err := r.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify(errors.Wrap(err, "query tickets"))
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *Repo) numbers(ctx context.Context, sql string, args ...any) ([]int, error) {
	rows, err := r.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify(errors.Wrap(err, "update tickets"))
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[int])
	return out, classify(err)
}

func scanTickets(rows pgx.Rows) ([]Ticket, error) {
	var out []Ticket
	for rows.Next() {
		var (
			t                        Ticket
			name, phone, ref, handle *string
		)
		if err := rows.Scan(&t.Number, &t.Status, &name, &phone, &ref, &handle, &t.ReservedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		if !t.Status.Valid() {
			return nil, errors.Errorf("ticket %d has unknown status %q", t.Number, t.Status)
		}
		t.BuyerName, t.BuyerPhone = deref(name), deref(phone)
		t.OrderReference, t.PaymentHandle = deref(ref), deref(handle)
		out = append(out, t)
	}
	return out, classify(rows.Err())
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// classify marks errors a caller may retry as TransientStoreError.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03", // lock_not_available
			"40P01", // deadlock_detected
			"40001", // serialization_failure
			"57014", // query_canceled (statement/lock timeout)
			"53300": // too_many_connections
			return &TransientStoreError{Err: err}
		}
		return err
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) {
		return &TransientStoreError{Err: err}
	}
	return err
}
