// Package giftcode issues and redeems Luhn-checked gift codes.
package giftcode

import (
	"context"
	"crypto/rand"
	"io"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ferdypruis/go-luhn"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"qatmarket/internal/domain"
	"qatmarket/internal/ledger"
	"qatmarket/internal/repository"
	"qatmarket/pkg/errors"
	"qatmarket/pkg/logger"
	"qatmarket/pkg/validator"
)

// DefaultLength is the length of generated codes, check digit included.
const DefaultLength = 16

type Service struct {
	ledger      *ledger.Service
	allowRepeat bool
	logger      logger.Logger
}

func NewService(l *ledger.Service, allowRepeat bool, log logger.Logger) *Service {
	return &Service{ledger: l, allowRepeat: allowRepeat, logger: log}
}

type Redemption struct {
	Code    *domain.GiftCode
	Use     *domain.GiftCodeUse
	Posting *ledger.Posting
}

// UseReference is the ledger reference of one gift code use.
func UseReference(useID uuid.UUID) string {
	return "giftcode-use:" + useID.String()
}

// Redeem consumes one use of code and credits its amount to userID.
func (s *Service) Redeem(ctx context.Context, tx repository.Tx, code string, userID uuid.UUID, now time.Time) (*Redemption, error) {
	code = strings.TrimSpace(code)
	if !validator.ValidGiftCode(code) {
		return nil, errors.ErrInvalidGiftCode
	}

	gc, err := tx.GiftCodes().LockByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if gc.ExpiresAt != nil && !now.Before(*gc.ExpiresAt) {
		return nil, errors.ErrGiftCodeExpired
	}
	if gc.RemainingUses <= 0 {
		return nil, errors.ErrGiftCodeExhausted
	}
	if !s.allowRepeat {
		n, err := tx.GiftCodes().CountUses(ctx, code, userID)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			return nil, errors.ErrAlreadyRedeemed
		}
	}

	gc.RemainingUses--
	if err := tx.GiftCodes().Update(ctx, gc); err != nil {
		return nil, err
	}

	use := &domain.GiftCodeUse{
		ID:        uuid.New(),
		Code:      code,
		UserID:    userID,
		CreatedAt: now,
	}
	posting, err := s.ledger.Credit(ctx, tx, userID, gc.Amount, domain.TransactionKindDeposit, UseReference(use.ID), now)
	if err != nil {
		return nil, err
	}
	use.TransactionID = posting.Transaction.ID
	if err := tx.GiftCodes().InsertUse(ctx, use); err != nil {
		return nil, err
	}

	s.logger.Info("Gift code redeemed", map[string]interface{}{
		"code":      Mask(code),
		"user_id":   userID,
		"remaining": gc.RemainingUses,
	})
	return &Redemption{Code: gc, Use: use, Posting: posting}, nil
}

type IssueRequest struct {
	Code      string          `json:"code" validate:"omitempty,giftcode"`
	Amount    decimal.Decimal `json:"amount" validate:"gt=0,money"`
	MaxUses   int             `json:"max_uses" validate:"required,min=1,max=1000000"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
}

// Issue stores a new code, generating one when req.Code is empty.
func (s *Service) Issue(ctx context.Context, tx repository.Tx, req IssueRequest, now time.Time) (*domain.GiftCode, error) {
	if !req.Amount.IsPositive() {
		return nil, errors.ErrInvalidAmount
	}
	if req.MaxUses <= 0 {
		return nil, errors.Validation("max_uses must be positive")
	}
	if req.ExpiresAt != nil && !now.Before(*req.ExpiresAt) {
		return nil, errors.Validation("expires_at must be in the future")
	}

	code := strings.TrimSpace(req.Code)
	if code == "" {
		var err error
		if code, err = Generate(DefaultLength, rand.Reader); err != nil {
			return nil, errors.Wrap(err, "failed to generate gift code")
		}
	} else if !validator.ValidGiftCode(code) {
		return nil, errors.ErrInvalidGiftCode
	}

	gc := &domain.GiftCode{
		Code:          code,
		Amount:        req.Amount,
		MaxUses:       req.MaxUses,
		RemainingUses: req.MaxUses,
		ExpiresAt:     req.ExpiresAt,
		CreatedAt:     now,
	}
	if err := tx.GiftCodes().Create(ctx, gc); err != nil {
		if errors.Is(err, errors.ErrDuplicate) {
			return nil, errors.Validation("gift code already exists")
		}
		return nil, err
	}

	s.logger.Info("Gift code issued", map[string]interface{}{
		"code":     Mask(code),
		"amount":   gc.Amount.StringFixed(2),
		"max_uses": gc.MaxUses,
	})
	return gc, nil
}

// Generate returns a random numeric code of length digits whose last digit
// is the Luhn check digit.
func Generate(length int, rnd io.Reader) (string, error) {
	if length < 8 || length > 19 {
		return "", errors.Validation("gift code length must be between 8 and 19")
	}

	var b strings.Builder
	for i := 0; i < length-1; i++ {
		lo := int64(0)
		if i == 0 {
			lo = 1
		}
		n, err := rand.Int(rnd, big.NewInt(10-lo))
		if err != nil {
			return "", err
		}
		b.WriteString(strconv.FormatInt(n.Int64()+lo, 10))
	}
	body := b.String()
	for c := 0; c <= 9; c++ {
		candidate := body + strconv.Itoa(c)
		if luhn.Valid(candidate) {
			return candidate, nil
		}
	}
	// Exactly one check digit always satisfies Luhn.
	return "", errors.Validation("no check digit for %s", body)
}

// Mask hides all but the last four digits for logs.
func Mask(code string) string {
	if len(code) <= 4 {
		return code
	}
	return strings.Repeat("*", len(code)-4) + code[len(code)-4:]
}
