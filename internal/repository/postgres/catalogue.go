package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"qatmarket/internal/repository"
)

// Catalogue reads product prices. It never writes.
type Catalogue struct {
	db *sqlx.DB
}

var _ repository.Catalogue = (*Catalogue)(nil)

func NewCatalogue(db *sqlx.DB) *Catalogue {
	return &Catalogue{db: db}
}

func (c *Catalogue) Products(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]repository.Product, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}

	var rows []repository.Product
	query := `SELECT id, name, price, available FROM products WHERE id = ANY($1::uuid[])`
	if err := c.db.SelectContext(ctx, &rows, query, pq.Array(keys)); err != nil {
		return nil, classify(err, "failed to load products")
	}

	out := make(map[uuid.UUID]repository.Product, len(rows))
	for _, p := range rows {
		out[p.ID] = p
	}
	return out, nil
}

// Upsert writes p, replacing name, price and availability when it exists.
func (c *Catalogue) Upsert(ctx context.Context, p repository.Product) error {
	query := `
		INSERT INTO products (id, name, price, available)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, price = EXCLUDED.price, available = EXCLUDED.available`
	if _, err := c.db.ExecContext(ctx, query, p.ID, p.Name, p.Price, p.Available); err != nil {
		return classify(err, "failed to upsert product")
	}
	return nil
}
