package promo

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported promo-code discount strategies.
type DiscountType string

const (
	// DiscountPercentage applies a percentage discount to the subtotal.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed applies a fixed monetary discount capped at the subtotal.
	DiscountFixed DiscountType = "fixed"
)

// ErrInvalidCode is returned when a promo code is not found, inactive, or
// the order does not satisfy the code's minimum-subtotal requirement.
var ErrInvalidCode = errors.New("invalid promo code")

// Rule defines a promo code's discount behaviour and eligibility constraints.
type Rule struct {
	Code         string
	DiscountType DiscountType
	Value        decimal.Decimal
	MinSubtotal  decimal.Decimal
	Description  string
}

// Repository provides lookup of active promo rules by code.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Rule, error)
}

// Validator validates a promo code against an order subtotal and returns the
// discount amount in major currency units.
type Validator interface {
	Validate(ctx context.Context, code string, subtotal decimal.Decimal) (decimal.Decimal, error)
}

// RepoValidator implements Validator by looking up rules from a Repository
// and applying them via Apply.
type RepoValidator struct {
	repo Repository
}

// NewRepoValidator creates a RepoValidator backed by the given Repository.
func NewRepoValidator(repo Repository) *RepoValidator {
	return &RepoValidator{repo: repo}
}

// Validate looks up the rule for the given code and applies it to the
// subtotal. It returns ErrInvalidCode when the code is unknown or the
// subtotal does not qualify.
func (v *RepoValidator) Validate(ctx context.Context, code string, subtotal decimal.Decimal) (decimal.Decimal, error) {
	rule, err := v.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrInvalidCode) {
			return decimal.Zero, ErrInvalidCode
		}
		return decimal.Zero, errors.Wrap(err, "lookup promo code")
	}
	return Apply(rule, subtotal)
}

var hundred = decimal.NewFromInt(100)

// Apply calculates the discount for the given rule and subtotal. The result
// never exceeds the subtotal and is rounded to 2 decimal places.
func Apply(rule *Rule, subtotal decimal.Decimal) (decimal.Decimal, error) {
	if rule.MinSubtotal.IsPositive() && subtotal.LessThan(rule.MinSubtotal) {
		return decimal.Zero, ErrInvalidCode
	}

	var amount decimal.Decimal
	switch rule.DiscountType {
	case DiscountPercentage:
		amount = subtotal.Mul(rule.Value).Div(hundred)
	case DiscountFixed:
		amount = rule.Value
	default:
		return decimal.Zero, errors.Errorf("unsupported discount type: %q", rule.DiscountType)
	}

	amount = decimal.Min(amount, subtotal)
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	return amount.Round(2), nil
}
