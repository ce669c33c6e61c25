package postgres

import (
	"context"

	"github.com/google/uuid"

	"qatmarket/internal/domain"
	"qatmarket/pkg/errors"
)

type DriverRepository struct {
	db DBTX
}

func NewDriverRepository(db DBTX) *DriverRepository {
	return &DriverRepository{db: db}
}

func (r *DriverRepository) Create(ctx context.Context, driver *domain.Driver) error {
	driver.Version = 1
	query := `
		INSERT INTO drivers (id, user_id, name, status, version, updated_at)
		VALUES (:id, :user_id, :name, :status, :version, :updated_at)
	`
	_, err := r.db.NamedExecContext(ctx, query, driver)
	return classify(err, "failed to create driver")
}

func (r *DriverRepository) get(ctx context.Context, query string, arg uuid.UUID) (*domain.Driver, error) {
	driver := &domain.Driver{}
	if err := r.db.GetContext(ctx, driver, query, arg); err != nil {
		return nil, notFound(err, errors.ErrDriverNotFound, "failed to find driver")
	}
	return driver, nil
}

func (r *DriverRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Driver, error) {
	return r.get(ctx, `SELECT * FROM drivers WHERE id = $1`, id)
}

func (r *DriverRepository) FindByUserID(ctx context.Context, userID uuid.UUID) (*domain.Driver, error) {
	return r.get(ctx, `SELECT * FROM drivers WHERE user_id = $1`, userID)
}

func (r *DriverRepository) LockByID(ctx context.Context, id uuid.UUID) (*domain.Driver, error) {
	return r.get(ctx, `SELECT * FROM drivers WHERE id = $1 FOR UPDATE`, id)
}

func (r *DriverRepository) Update(ctx context.Context, driver *domain.Driver) error {
	query := `
		UPDATE drivers SET
			status = :status,
			version = version + 1,
			updated_at = :updated_at
		WHERE id = :id AND version = :version
	`
	res, err := r.db.NamedExecContext(ctx, query, driver)
	if err := affectOne(res, err, "failed to update driver"); err != nil {
		return err
	}
	driver.Version++
	return nil
}
