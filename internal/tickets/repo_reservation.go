package tickets

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// Tx is the locked view of the tickets table inside one transaction.
type Tx interface {
	// LockForUpdate takes exclusive row locks on numbers in ascending order
	// and returns their current state. Missing numbers are simply absent.
	LockForUpdate(ctx context.Context, numbers []int) ([]Ticket, error)
	// Reserve moves the locked AVAILABLE rows to RESERVED.
	Reserve(ctx context.Context, res Reservation) (int64, error)
}

// WithTx runs fn in one transaction: committed when fn returns nil, rolled
// back otherwise. Locks are released when it returns.
func (r *Repo) WithTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify(errors.Wrap(err, "begin"))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if r.LockTimeout > 0 {
		ms := fmt.Sprintf("%dms", r.LockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, ms); err != nil {
			return classify(errors.Wrap(err, "set lock_timeout"))
		}
	}

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err // rollback via defer
	}
	return classify(errors.Wrap(tx.Commit(ctx), "commit"))
}

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) LockForUpdate(ctx context.Context, numbers []int) ([]Ticket, error) {
	// ORDER BY sits below the row-lock step, so locks are taken in ascending
	// number order and overlapping requests cannot deadlock.
	rows, err := t.tx.Query(ctx, `SELECT `+ticketColumns+` FROM tickets
		WHERE number = ANY($1::int[])
		ORDER BY number
		FOR UPDATE`, numbers)
	if err != nil {
		return nil, classify(errors.Wrap(err, "lock tickets"))
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (t *pgTx) Reserve(ctx context.Context, res Reservation) (int64, error) {
	ct, err := t.tx.Exec(ctx, `
		UPDATE tickets SET status = 'RESERVED', buyer_name = $2, buyer_phone = $3,
			order_reference = $4, payment_handle = $5, reserved_at = $6, updated_at = now()
		WHERE number = ANY($1::int[]) AND status = 'AVAILABLE'`,
		res.Numbers, res.Buyer.Name, res.Buyer.Phone, res.OrderReference,
		nilIfEmpty(res.PaymentHandle), res.ReservedAt)
	if err != nil {
		return 0, classify(errors.Wrap(err, "reserve tickets"))
	}
	return ct.RowsAffected(), nil
}
