package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// State is the lifecycle state of an order. Transitions are forward-only:
// created → paid | cash | canceled, then paid/cash → production → shipped → done.
type State string

const (
	StateCreated    State = "created"
	StatePaid       State = "paid"
	StateCash       State = "cash"
	StateCanceled   State = "canceled"
	StateProduction State = "production"
	StateShipped    State = "shipped"
	StateDone       State = "done"
)

var (
	// ErrNotFound is returned when a requested order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrInvalidTransition is returned for a state change the lifecycle
	// does not permit.
	ErrInvalidTransition = errors.New("invalid order state transition")
	// ErrStateConflict is returned when a transition loses a race against a
	// concurrent state change.
	ErrStateConflict = errors.New("order state changed concurrently")
)

var allowedTransitions = map[State][]State{
	StateCreated:    {StatePaid, StateCash, StateCanceled},
	StatePaid:       {StateProduction},
	StateCash:       {StateProduction},
	StateProduction: {StateShipped},
	StateShipped:    {StateDone},
	StateCanceled:   {},
	StateDone:       {},
}

// CanTransition reports whether the lifecycle permits moving from one state
// to another.
func CanTransition(from, to State) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Payable reports whether the order can still accept a payment attempt.
func (s State) Payable() bool {
	return s != StatePaid && s != StateCanceled
}

// Order is the durable record of a customer order.
//
// OrderKey is a shareable opaque token granting read access to the order
// status page. ManageKey is private and grants access to artifact-generation
// endpoints only; it is issued at creation and never rendered on shared pages.
type Order struct {
	ID           int64
	OrderKey     string
	ManageKey    string
	CustomerName string
	Phone        string
	Lang         string
	Items        []Item
	Subtotal     decimal.Decimal
	DeliveryFee  decimal.Decimal
	Discount     decimal.Decimal
	Total        decimal.Decimal
	Currency     string
	State        State
	PromoCode    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Item is a single engraved-card line item.
type Item struct {
	DesignID  string
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
	Engraving string
}

// Repository defines persistence operations for orders.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id int64) (*Order, error)
	GetByKey(ctx context.Context, orderKey string) (*Order, error)
	// UpdateState atomically moves the order from one exact state to another.
	// It reports false without error when the order was not in the expected
	// state, which callers treat as a lost race.
	UpdateState(ctx context.Context, id int64, from, to State) (bool, error)
}
