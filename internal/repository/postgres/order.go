package postgres

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"qatmarket/internal/domain"
	"qatmarket/pkg/errors"
)

type OrderRepository struct {
	db DBTX
}

func NewOrderRepository(db DBTX) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts the order and its items.
func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	order.Version = 1
	query := `
		INSERT INTO orders (
			id, order_code, buyer_id, driver_id, total, status, note, version, created_at, updated_at
		) VALUES (
			:id, :order_code, :buyer_id, :driver_id, :total, :status, :note, :version, :created_at, :updated_at
		)
	`
	if _, err := r.db.NamedExecContext(ctx, query, order); err != nil {
		return classify(err, "failed to create order")
	}

	itemQuery := `
		INSERT INTO order_items (
			id, order_id, product_id, product_name, unit_price, quantity, total_price
		) VALUES (
			:id, :order_id, :product_id, :product_name, :unit_price, :quantity, :total_price
		)
	`
	for i := range order.Items {
		if _, err := r.db.NamedExecContext(ctx, itemQuery, &order.Items[i]); err != nil {
			return classify(err, "failed to create order item")
		}
	}
	return nil
}

func (r *OrderRepository) load(ctx context.Context, query string, id uuid.UUID) (*domain.Order, error) {
	order := &domain.Order{}
	if err := r.db.GetContext(ctx, order, query, id); err != nil {
		return nil, notFound(err, errors.ErrOrderNotFound, "failed to find order")
	}
	if err := r.db.SelectContext(ctx, &order.Items, `SELECT * FROM order_items WHERE order_id = $1 ORDER BY id`, id); err != nil {
		return nil, classify(err, "failed to load order items")
	}
	wash, err := r.FindWash(ctx, id)
	switch {
	case err == nil:
		order.Wash = wash
	case !errors.Is(err, errors.ErrNotFound):
		return nil, err
	}
	return order, nil
}

func (r *OrderRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return r.load(ctx, `SELECT * FROM orders WHERE id = $1`, id)
}

func (r *OrderRepository) LockByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return r.load(ctx, `SELECT * FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (r *OrderRepository) Update(ctx context.Context, order *domain.Order) error {
	query := `
		UPDATE orders SET
			driver_id = :driver_id,
			status = :status,
			note = :note,
			version = version + 1,
			updated_at = :updated_at
		WHERE id = :id AND version = :version
	`
	res, err := r.db.NamedExecContext(ctx, query, order)
	if err := affectOne(res, err, "failed to update order"); err != nil {
		return err
	}
	order.Version++
	return nil
}

func (r *OrderRepository) CreateWash(ctx context.Context, wash *domain.WashOrder) error {
	wash.Version = 1
	query := `
		INSERT INTO wash_orders (id, order_id, status, version, created_at, updated_at)
		VALUES (:id, :order_id, :status, :version, :created_at, :updated_at)
	`
	_, err := r.db.NamedExecContext(ctx, query, wash)
	return classify(err, "failed to create wash order")
}

func (r *OrderRepository) getWash(ctx context.Context, query string, orderID uuid.UUID) (*domain.WashOrder, error) {
	wash := &domain.WashOrder{}
	err := r.db.GetContext(ctx, wash, query, orderID)
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, classify(err, "failed to find wash order")
	}
	return wash, nil
}

func (r *OrderRepository) FindWash(ctx context.Context, orderID uuid.UUID) (*domain.WashOrder, error) {
	return r.getWash(ctx, `SELECT * FROM wash_orders WHERE order_id = $1`, orderID)
}

func (r *OrderRepository) LockWash(ctx context.Context, orderID uuid.UUID) (*domain.WashOrder, error) {
	return r.getWash(ctx, `SELECT * FROM wash_orders WHERE order_id = $1 FOR UPDATE`, orderID)
}

func (r *OrderRepository) UpdateWash(ctx context.Context, wash *domain.WashOrder) error {
	query := `
		UPDATE wash_orders SET
			status = :status,
			version = version + 1,
			updated_at = :updated_at
		WHERE id = :id AND version = :version
	`
	res, err := r.db.NamedExecContext(ctx, query, wash)
	if err := affectOne(res, err, "failed to update wash order"); err != nil {
		return err
	}
	wash.Version++
	return nil
}

func (r *OrderRepository) ListFlagged(ctx context.Context, limit int) ([]*domain.Order, error) {
	var orders []*domain.Order
	query := `
		SELECT o.* FROM orders o
		JOIN wash_orders w ON w.order_id = o.id
		WHERE o.status = 'delivered' AND w.status <> 'done'
		ORDER BY o.updated_at
		LIMIT $1
	`
	if err := r.db.SelectContext(ctx, &orders, query, limit); err != nil {
		return nil, classify(err, "failed to list flagged orders")
	}
	return orders, nil
}
