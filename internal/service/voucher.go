package service

import (
	"context"
	"order-payment-service/internal/repository"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	// ErrInvalidVoucher is returned when a voucher is unknown or disabled.
	ErrInvalidVoucher = errors.New("invalid voucher")
	// ErrVoucherExpired is returned when a voucher is outside its valid window.
	ErrVoucherExpired = errors.New("voucher expired")
	// ErrVoucherUsedUp is returned when a voucher has no uses left.
	ErrVoucherUsedUp = errors.New("voucher usage limit reached")
)

// Discount is the flat amount a voucher takes off an order.
type Discount struct {
	VoucherID string
	Amount    decimal.Decimal
}

// VoucherValidator answers whether a voucher can be applied right now.
// Discount rules beyond a flat amount are out of its scope.
type VoucherValidator interface {
	Validate(ctx context.Context, voucherID string) (*Discount, error)
}

// RepoVoucherValidator implements VoucherValidator over the voucher table.
type RepoVoucherValidator struct {
	repo repository.VoucherRepository
	now  func() time.Time
}

func NewRepoVoucherValidator(repo repository.VoucherRepository) *RepoVoucherValidator {
	return &RepoVoucherValidator{repo: repo, now: time.Now}
}

func (v *RepoVoucherValidator) Validate(ctx context.Context, voucherID string) (*Discount, error) {
	voucher, err := v.repo.FindByID(ctx, voucherID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidVoucher
		}
		return nil, errors.Wrap(err, "lookup voucher")
	}

	if !voucher.Active {
		return nil, ErrInvalidVoucher
	}

	now := v.now()
	if voucher.ValidFrom != nil && now.Before(*voucher.ValidFrom) {
		return nil, ErrVoucherExpired
	}
	if voucher.ValidUntil != nil && now.After(*voucher.ValidUntil) {
		return nil, ErrVoucherExpired
	}

	if voucher.MaxUses > 0 && voucher.Uses >= voucher.MaxUses {
		return nil, ErrVoucherUsedUp
	}

	return &Discount{VoucherID: voucher.ID, Amount: voucher.Discount}, nil
}
