package catalog

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested card design does not exist or is
// no longer offered.
var ErrNotFound = errors.New("card design not found")

// Design represents an engravable metal card model available for order.
type Design struct {
	ID     string
	Name   string
	Metal  string
	Price  decimal.Decimal
	Active bool
}

// Repository defines read operations for the card-design catalog.
type Repository interface {
	List(ctx context.Context) ([]Design, error)
	GetByIDs(ctx context.Context, ids []string) ([]Design, error)
}
