package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cardforge/storefront/internal/domain/catalog"
)

var _ catalog.Repository = (*CatalogRepository)(nil)

// CatalogRepository implements catalog.Repository backed by PostgreSQL.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

const designCols = `id, name, metal, price, active`

// List returns all active card designs ordered by id.
func (r *CatalogRepository) List(ctx context.Context) ([]catalog.Design, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+designCols+` FROM card_designs WHERE active ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "list designs")
	}
	defer rows.Close()

	var designs []catalog.Design
	for rows.Next() {
		var d catalog.Design
		if err := rows.Scan(&d.ID, &d.Name, &d.Metal, &d.Price, &d.Active); err != nil {
			return nil, errors.Wrap(err, "scan design")
		}
		designs = append(designs, d)
	}
	return designs, rows.Err()
}

// GetByIDs fetches the requested designs in a single query. Missing ids are
// simply absent from the result; callers decide whether that is an error.
func (r *CatalogRepository) GetByIDs(ctx context.Context, ids []string) ([]catalog.Design, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+designCols+` FROM card_designs WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "select designs")
	}
	defer rows.Close()

	var designs []catalog.Design
	for rows.Next() {
		var d catalog.Design
		if err := rows.Scan(&d.ID, &d.Name, &d.Metal, &d.Price, &d.Active); err != nil {
			return nil, errors.Wrap(err, "scan design")
		}
		designs = append(designs, d)
	}
	return designs, rows.Err()
}
