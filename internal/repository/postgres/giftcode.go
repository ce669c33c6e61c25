package postgres

import (
	"context"

	"github.com/google/uuid"

	"qatmarket/internal/domain"
	"qatmarket/pkg/errors"
)

type GiftCodeRepository struct {
	db DBTX
}

func NewGiftCodeRepository(db DBTX) *GiftCodeRepository {
	return &GiftCodeRepository{db: db}
}

func (r *GiftCodeRepository) Create(ctx context.Context, code *domain.GiftCode) error {
	code.Version = 1
	query := `
		INSERT INTO gift_codes (code, amount, max_uses, remaining_uses, expires_at, version, created_at)
		VALUES (:code, :amount, :max_uses, :remaining_uses, :expires_at, :version, :created_at)
	`
	_, err := r.db.NamedExecContext(ctx, query, code)
	return classify(err, "failed to create gift code")
}

func (r *GiftCodeRepository) LockByCode(ctx context.Context, code string) (*domain.GiftCode, error) {
	gc := &domain.GiftCode{}
	query := `SELECT * FROM gift_codes WHERE code = $1 FOR UPDATE`
	if err := r.db.GetContext(ctx, gc, query, code); err != nil {
		return nil, notFound(err, errors.ErrGiftCodeNotFound, "failed to lock gift code")
	}
	return gc, nil
}

func (r *GiftCodeRepository) Update(ctx context.Context, code *domain.GiftCode) error {
	query := `
		UPDATE gift_codes SET
			remaining_uses = :remaining_uses,
			version = version + 1
		WHERE code = :code AND version = :version
	`
	res, err := r.db.NamedExecContext(ctx, query, code)
	if err := affectOne(res, err, "failed to update gift code"); err != nil {
		return err
	}
	code.Version++
	return nil
}

func (r *GiftCodeRepository) InsertUse(ctx context.Context, use *domain.GiftCodeUse) error {
	query := `
		INSERT INTO gift_code_uses (id, code, user_id, transaction_id, created_at)
		VALUES (:id, :code, :user_id, :transaction_id, :created_at)
	`
	_, err := r.db.NamedExecContext(ctx, query, use)
	return classify(err, "failed to record gift code use")
}

func (r *GiftCodeRepository) CountUses(ctx context.Context, code string, userID uuid.UUID) (int, error) {
	var n int
	query := `SELECT COUNT(*) FROM gift_code_uses WHERE code = $1 AND user_id = $2`
	err := r.db.GetContext(ctx, &n, query, code, userID)
	return n, classify(err, "failed to count gift code uses")
}
