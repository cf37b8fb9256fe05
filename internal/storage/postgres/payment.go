package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/cardforge/storefront/internal/domain/order"
	"github.com/cardforge/storefront/internal/domain/payment"
)

var _ payment.Ledger = (*PaymentRepository)(nil)

// PaymentRepository implements payment.Ledger backed by PostgreSQL. Every
// mutating operation runs a transactional read-modify-write with
// SELECT ... FOR UPDATE row exclusivity on the targeted payment and order
// rows, so concurrent gateway calls serialize on storage rather than on any
// in-process state.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository returns a PaymentRepository that uses the given pool.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

const paymentCols = `id, order_id, provider, provider_invoice_id, status,
	amount, currency, return_url, performed_at, canceled_at, created_at, updated_at`

type paymentRow interface {
	Scan(dest ...any) error
}

func scanPayment(row paymentRow) (*payment.Payment, error) {
	var (
		p       payment.Payment
		invoice *string
	)
	err := row.Scan(
		&p.ID, &p.OrderID, &p.Provider, &invoice, &p.Status,
		&p.Amount, &p.Currency, &p.ReturnURL, &p.PerformedAt, &p.CanceledAt,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if invoice != nil {
		p.InvoiceID = *invoice
	}
	return &p, nil
}

// Reserve upserts the single unclaimed pending payment for the order. The
// order row is locked first so a reservation refresh cannot interleave with
// a concurrent claim on the same order.
func (r *PaymentRepository) Reserve(ctx context.Context, orderID int64, prov payment.Provider, amount decimal.Decimal, currency, returnURL string) (*payment.Payment, error) {
	var result *payment.Payment
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		var state order.State
		err := tx.QueryRow(ctx, `SELECT state FROM orders WHERE id = $1 FOR UPDATE`, orderID).Scan(&state)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return order.ErrNotFound
			}
			return errors.Wrap(err, "lock order")
		}

		p, err := scanPayment(tx.QueryRow(ctx,
			`UPDATE payments SET amount = $1, currency = $2, return_url = $3, updated_at = now()
			 WHERE order_id = $4 AND provider = $5 AND status = 'pending' AND provider_invoice_id IS NULL
			 RETURNING `+paymentCols,
			amount, currency, returnURL, orderID, prov,
		))
		if err == nil {
			result = p
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return errors.Wrap(err, "refresh reservation")
		}

		p, err = scanPayment(tx.QueryRow(ctx,
			`INSERT INTO payments (order_id, provider, status, amount, currency, return_url)
			 VALUES ($1, $2, 'pending', $3, $4, $5)
			 RETURNING `+paymentCols,
			orderID, prov, amount, currency, returnURL,
		))
		if err != nil {
			return errors.Wrap(err, "insert reservation")
		}
		result = p
		return nil
	})
	return result, err
}

// FindByInvoice returns the payment claimed under the provider transaction
// id, or payment.ErrNotFound.
func (r *PaymentRepository) FindByInvoice(ctx context.Context, prov payment.Provider, invoiceID string) (*payment.Payment, error) {
	p, err := scanPayment(r.pool.QueryRow(ctx,
		`SELECT `+paymentCols+` FROM payments WHERE provider = $1 AND provider_invoice_id = $2`,
		prov, invoiceID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrNotFound
		}
		return nil, errors.Wrap(err, "select payment")
	}
	return p, nil
}

// FindSucceededByOrder returns a succeeded payment for the order. When
// invoiceID is non-empty the stored invoice must match it.
func (r *PaymentRepository) FindSucceededByOrder(ctx context.Context, orderID int64, prov payment.Provider, invoiceID string) (*payment.Payment, error) {
	query := `SELECT ` + paymentCols + ` FROM payments
		WHERE order_id = $1 AND provider = $2 AND status = 'succeeded'`
	args := []any{orderID, prov}
	if invoiceID != "" {
		query += ` AND provider_invoice_id = $3`
		args = append(args, invoiceID)
	}
	query += ` ORDER BY id LIMIT 1`

	p, err := scanPayment(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrNotFound
		}
		return nil, errors.Wrap(err, "select succeeded payment")
	}
	return p, nil
}

// Claim resolves the checkout reservation into a concrete provider
// transaction: it locks the order, re-validates payability and amount under
// the lock, replays idempotently when the invoice id is already claimed,
// rejects a second active transaction, and otherwise attaches the invoice id
// to the reserved row (or inserts a fresh pending row when no reservation
// exists).
func (r *PaymentRepository) Claim(ctx context.Context, params payment.ClaimParams) (*payment.Payment, error) {
	var result *payment.Payment
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		var (
			state order.State
			total decimal.Decimal
		)
		err := tx.QueryRow(ctx, `SELECT state, total FROM orders WHERE id = $1 FOR UPDATE`, params.OrderID).
			Scan(&state, &total)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return order.ErrNotFound
			}
			return errors.Wrap(err, "lock order")
		}

		// Re-check under the lock: the handler's pre-checks may be stale by
		// the time the row lock is acquired.
		p, err := scanPayment(tx.QueryRow(ctx,
			`SELECT `+paymentCols+` FROM payments WHERE provider = $1 AND provider_invoice_id = $2`,
			params.Provider, params.InvoiceID,
		))
		if err == nil {
			result = p
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return errors.Wrap(err, "select by invoice")
		}

		if !state.Payable() {
			return payment.ErrOrderNotPayable
		}
		if payment.MinorUnits(total) != params.AmountMinor {
			return payment.ErrAmountMismatch
		}

		var otherID int64
		err = tx.QueryRow(ctx,
			`SELECT id FROM payments
			 WHERE order_id = $1 AND provider = $2
			   AND provider_invoice_id IS NOT NULL AND status IN ('pending', 'succeeded')
			 LIMIT 1`,
			params.OrderID, params.Provider,
		).Scan(&otherID)
		if err == nil {
			return payment.ErrOrderBusy
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return errors.Wrap(err, "check active transaction")
		}

		amount := payment.FromMinorUnits(params.AmountMinor)

		p, err = scanPayment(tx.QueryRow(ctx,
			`UPDATE payments SET provider_invoice_id = $1, amount = $2, updated_at = now()
			 WHERE order_id = $3 AND provider = $4 AND status = 'pending' AND provider_invoice_id IS NULL
			 RETURNING `+paymentCols,
			params.InvoiceID, amount, params.OrderID, params.Provider,
		))
		if err == nil {
			result = p
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return errors.Wrap(err, "claim reservation")
		}

		p, err = scanPayment(tx.QueryRow(ctx,
			`INSERT INTO payments (order_id, provider, provider_invoice_id, status, amount, currency)
			 VALUES ($1, $2, $3, 'pending', $4, (SELECT currency FROM orders WHERE id = $1))
			 RETURNING `+paymentCols,
			params.OrderID, params.Provider, params.InvoiceID, amount,
		))
		if err != nil {
			return errors.Wrap(err, "insert claimed payment")
		}
		result = p
		return nil
	})
	return result, err
}

// Perform marks the payment succeeded and the order paid in one atomic unit.
// Replays return the stored row unchanged with settled=false, so the gateway
// observes a stable perform_time however many times it retries.
func (r *PaymentRepository) Perform(ctx context.Context, prov payment.Provider, invoiceID string) (*payment.Payment, bool, error) {
	var (
		result  *payment.Payment
		settled bool
	)
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		p, err := scanPayment(tx.QueryRow(ctx,
			`SELECT `+paymentCols+` FROM payments
			 WHERE provider = $1 AND provider_invoice_id = $2 FOR UPDATE`,
			prov, invoiceID,
		))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return payment.ErrNotFound
			}
			return errors.Wrap(err, "lock payment")
		}

		switch p.Status {
		case payment.StatusSucceeded:
			result = p
			return nil
		case payment.StatusCanceled, payment.StatusFailed:
			return payment.ErrNotActive
		}

		p, err = scanPayment(tx.QueryRow(ctx,
			`UPDATE payments SET status = 'succeeded', performed_at = now(), updated_at = now()
			 WHERE id = $1 RETURNING `+paymentCols,
			p.ID,
		))
		if err != nil {
			return errors.Wrap(err, "mark succeeded")
		}

		// Guarded by current state so a replay or the callback reconciler
		// racing this commit cannot double-flip the order.
		_, err = tx.Exec(ctx,
			`UPDATE orders SET state = $1, updated_at = now() WHERE id = $2 AND state <> $1`,
			order.StatePaid, p.OrderID,
		)
		if err != nil {
			return errors.Wrap(err, "mark order paid")
		}

		result = p
		settled = true
		return nil
	})
	return result, settled, err
}

// Cancel flips a pending payment to canceled. Succeeded payments are
// terminal and refuse with payment.ErrCompleted; an already canceled or
// failed payment replays idempotently. The order's state is left untouched.
func (r *PaymentRepository) Cancel(ctx context.Context, prov payment.Provider, invoiceID string) (*payment.Payment, error) {
	var result *payment.Payment
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		p, err := scanPayment(tx.QueryRow(ctx,
			`SELECT `+paymentCols+` FROM payments
			 WHERE provider = $1 AND provider_invoice_id = $2 FOR UPDATE`,
			prov, invoiceID,
		))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return payment.ErrNotFound
			}
			return errors.Wrap(err, "lock payment")
		}

		switch p.Status {
		case payment.StatusSucceeded:
			return payment.ErrCompleted
		case payment.StatusCanceled, payment.StatusFailed:
			result = p
			return nil
		}

		p, err = scanPayment(tx.QueryRow(ctx,
			`UPDATE payments SET status = 'canceled', canceled_at = now(), updated_at = now()
			 WHERE id = $1 RETURNING `+paymentCols,
			p.ID,
		))
		if err != nil {
			return errors.Wrap(err, "mark canceled")
		}
		result = p
		return nil
	})
	return result, err
}
