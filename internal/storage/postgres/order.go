package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cardforge/storefront/internal/domain/order"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

const insertOrderSQL = `INSERT INTO orders
	(order_key, manage_key, customer_name, phone, lang,
	 subtotal, delivery_fee, discount, total, currency, state, promo_code)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	RETURNING id, created_at, updated_at`

const insertOrderItemSQL = `INSERT INTO order_items
	(order_id, design_id, name, quantity, unit_price, engraving)
	VALUES ($1, $2, $3, $4, $5, $6)`

// Create persists the order and its line items in one transaction, filling
// in the generated id and timestamps on the passed order.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, insertOrderSQL,
			o.OrderKey, o.ManageKey, o.CustomerName, o.Phone, o.Lang,
			o.Subtotal, o.DeliveryFee, o.Discount, o.Total, o.Currency, o.State, o.PromoCode,
		).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, "insert order")
		}

		for _, item := range o.Items {
			_, err := tx.Exec(ctx, insertOrderItemSQL,
				o.ID, item.DesignID, item.Name, item.Quantity, item.UnitPrice, item.Engraving,
			)
			if err != nil {
				return errors.Wrapf(err, "insert item %s", item.DesignID)
			}
		}
		return nil
	})
}

const selectOrderSQL = `SELECT id, order_key, manage_key, customer_name, phone, lang,
	subtotal, delivery_fee, discount, total, currency, state, promo_code,
	created_at, updated_at
	FROM orders`

// GetByID returns the order with its line items, or order.ErrNotFound.
func (r *OrderRepository) GetByID(ctx context.Context, id int64) (*order.Order, error) {
	return r.get(ctx, selectOrderSQL+` WHERE id = $1`, id)
}

// GetByKey returns the order identified by its shareable order key.
func (r *OrderRepository) GetByKey(ctx context.Context, orderKey string) (*order.Order, error) {
	return r.get(ctx, selectOrderSQL+` WHERE order_key = $1`, orderKey)
}

func (r *OrderRepository) get(ctx context.Context, query string, arg any) (*order.Order, error) {
	var o order.Order
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&o.ID, &o.OrderKey, &o.ManageKey, &o.CustomerName, &o.Phone, &o.Lang,
		&o.Subtotal, &o.DeliveryFee, &o.Discount, &o.Total, &o.Currency, &o.State, &o.PromoCode,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrap(err, "select order")
	}

	rows, err := r.pool.Query(ctx,
		`SELECT design_id, name, quantity, unit_price, engraving
		 FROM order_items WHERE order_id = $1 ORDER BY id`, o.ID)
	if err != nil {
		return nil, errors.Wrap(err, "select order items")
	}
	defer rows.Close()

	for rows.Next() {
		var item order.Item
		if err := rows.Scan(&item.DesignID, &item.Name, &item.Quantity, &item.UnitPrice, &item.Engraving); err != nil {
			return nil, errors.Wrap(err, "scan order item")
		}
		o.Items = append(o.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate order items")
	}
	return &o, nil
}

// UpdateState atomically moves the order from one exact state to another.
// A false result means the order was not in the expected state when the
// update ran; callers treat that as a lost race, not an error.
func (r *OrderRepository) UpdateState(ctx context.Context, id int64, from, to order.State) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE orders SET state = $1, updated_at = now() WHERE id = $2 AND state = $3`,
		to, id, from,
	)
	if err != nil {
		return false, errors.Wrap(err, "update order state")
	}
	return tag.RowsAffected() == 1, nil
}
