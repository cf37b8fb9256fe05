package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Provider names a payment gateway the storefront settles through.
type Provider string

const (
	ProviderPayme Provider = "payme"
	ProviderClick Provider = "click"
	ProviderCash  Provider = "cash"
)

// Status is the lifecycle status of a payment attempt. Succeeded is terminal:
// a succeeded payment is never mutated back to any other status.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Protocol transaction states as reported to the provider.
const (
	StateActive   = 1
	StateDone     = 2
	StateCanceled = -1
)

// Ledger operation errors. The merchant adapter maps these onto the
// provider's error-code space.
var (
	ErrNotFound        = errors.New("transaction not found")
	ErrOrderBusy       = errors.New("another transaction is active for this order")
	ErrOrderNotPayable = errors.New("order is not payable")
	ErrAmountMismatch  = errors.New("amount does not match order total")
	ErrNotActive       = errors.New("transaction is not active")
	ErrCompleted       = errors.New("transaction already completed")
)

// Payment is one attempt to pay an order through a provider.
//
// InvoiceID is the provider's own transaction identifier. It is empty while
// the row is a reservation created by the checkout link builder and is
// attached exactly once when the provider's CreateTransaction call claims
// the row. (provider, InvoiceID) is the natural key once claimed.
type Payment struct {
	ID          int64
	OrderID     int64
	Provider    Provider
	InvoiceID   string
	Status      Status
	Amount      decimal.Decimal
	Currency    string
	ReturnURL   string
	PerformedAt *time.Time
	CanceledAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// State maps the stored status onto the protocol's numeric transaction state.
func (p *Payment) State() int {
	switch p.Status {
	case StatusSucceeded:
		return StateDone
	case StatusCanceled, StatusFailed:
		return StateCanceled
	default:
		return StateActive
	}
}

// MinorUnits converts a major-unit amount to the provider's minor unit
// (tiyin, 1/100 of a sum). This is the single conversion boundary: every
// interface inside the ledger uses major units, everything crossing to the
// provider uses minor units.
func MinorUnits(major decimal.Decimal) int64 {
	return major.Round(0).Mul(decimal.NewFromInt(100)).IntPart()
}

// FromMinorUnits converts a provider minor-unit amount back to major units.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.NewFromInt(minor).Div(decimal.NewFromInt(100))
}

// ClaimParams carries the input for attaching a provider transaction to an
// order. AmountMinor is the provider-reported amount in minor units; the
// ledger reconciles it against the order total inside the claim transaction.
type ClaimParams struct {
	OrderID     int64
	Provider    Provider
	InvoiceID   string
	AmountMinor int64
}

// Ledger is the durable record of payment attempts. Every mutating operation
// executes as a single atomic unit against storage: two concurrent claims for
// the same order resolve to exactly one row, and a perform racing a cancel on
// the same invoice resolves to exactly one terminal outcome.
type Ledger interface {
	// Reserve upserts the single unclaimed pending payment for the order,
	// refreshing amount and return URL if a reservation already exists.
	Reserve(ctx context.Context, orderID int64, p Provider, amount decimal.Decimal, currency, returnURL string) (*Payment, error)

	// FindByInvoice returns the payment claimed under the provider's
	// transaction id, or ErrNotFound.
	FindByInvoice(ctx context.Context, p Provider, invoiceID string) (*Payment, error)

	// FindSucceededByOrder returns a succeeded payment for the order, or
	// ErrNotFound. When invoiceID is non-empty it must match the stored one.
	FindSucceededByOrder(ctx context.Context, orderID int64, p Provider, invoiceID string) (*Payment, error)

	// Claim attaches the provider's transaction id to the order's reserved
	// row, or inserts a new pending row when no reservation exists. Calling
	// Claim again with the same invoice id returns the existing payment
	// unchanged. Claiming a second distinct invoice id while another claimed
	// payment is still pending or succeeded fails with ErrOrderBusy.
	Claim(ctx context.Context, params ClaimParams) (*Payment, error)

	// Perform marks the payment succeeded and the order paid in one atomic
	// unit. It is idempotent: a payment already succeeded is returned
	// unchanged with settled=false. A canceled or failed payment fails with
	// ErrNotActive.
	Perform(ctx context.Context, p Provider, invoiceID string) (pay *Payment, settled bool, err error)

	// Cancel marks a pending payment canceled. An already canceled or failed
	// payment is returned unchanged; a succeeded one fails with ErrCompleted.
	Cancel(ctx context.Context, p Provider, invoiceID string) (*Payment, error)
}
