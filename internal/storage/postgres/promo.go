package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cardforge/storefront/internal/promo"
)

var _ promo.Repository = (*PromoRepository)(nil)

// PromoRepository implements promo.Repository backed by PostgreSQL.
type PromoRepository struct {
	pool *pgxpool.Pool
}

// NewPromoRepository returns a PromoRepository that uses the given pool.
func NewPromoRepository(pool *pgxpool.Pool) *PromoRepository {
	return &PromoRepository{pool: pool}
}

// FindByCode looks up an active promo rule, matching case-insensitively.
// Returns promo.ErrInvalidCode when no matching active rule exists.
func (r *PromoRepository) FindByCode(ctx context.Context, code string) (*promo.Rule, error) {
	var rule promo.Rule
	err := r.pool.QueryRow(ctx,
		`SELECT code, discount_type, value, min_subtotal, description
		 FROM promo_rules WHERE code = UPPER($1) AND active`,
		code,
	).Scan(&rule.Code, &rule.DiscountType, &rule.Value, &rule.MinSubtotal, &rule.Description)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promo.ErrInvalidCode
		}
		return nil, errors.Wrapf(err, "find promo rule %q", code)
	}
	return &rule, nil
}
