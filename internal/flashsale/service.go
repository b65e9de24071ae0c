// Package flashsale holds the admin side of flash sales: creation and the
// time-driven status refresh.
package flashsale

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-storefront-engine/internal/clock"
	"github.com/ariefcatur/go-storefront-engine/internal/domain"
	"github.com/ariefcatur/go-storefront-engine/internal/logx"
	"github.com/ariefcatur/go-storefront-engine/internal/store"
)

type Service struct {
	store store.Store
	clock clock.Clock
	log   *zap.Logger
}

func NewService(s store.Store, c clock.Clock, log *zap.Logger) *Service {
	return &Service{store: s, clock: c, log: logx.OrNop(log)}
}

type NewFlashSale struct {
	ProductID        string
	Price            int64
	StartDate        time.Time
	EndDate          time.Time
	LimitedQuantity  int
	MaxOrderQuantity *int
}

func (n NewFlashSale) validate(now time.Time) error {
	switch {
	case n.ProductID == "":
		return fmt.Errorf("%w: product is required", domain.ErrValidationFailed)
	case n.Price < 0:
		return fmt.Errorf("%w: price must not be negative", domain.ErrValidationFailed)
	case n.LimitedQuantity <= 0:
		return fmt.Errorf("%w: limited quantity must be positive", domain.ErrValidationFailed)
	case n.MaxOrderQuantity != nil && *n.MaxOrderQuantity <= 0:
		return fmt.Errorf("%w: max order quantity must be positive", domain.ErrValidationFailed)
	case !n.EndDate.After(n.StartDate):
		return fmt.Errorf("%w: end date must be after start date", domain.ErrValidationFailed)
	case !n.EndDate.After(now):
		return fmt.Errorf("%w: end date is in the past", domain.ErrValidationFailed)
	}
	return nil
}

// Create schedules a flash sale whose limited quantity fits in the
// product's catalog stock.
func (s *Service) Create(ctx context.Context, in NewFlashSale) (domain.FlashSale, error) {
	now := s.clock.Now()
	if err := in.validate(now); err != nil {
		return domain.FlashSale{}, err
	}
	status := domain.FlashSaleActive
	if now.Before(in.StartDate) {
		status = domain.FlashSaleUpcoming
	}
	fs := domain.FlashSale{
		ID:               uuid.NewString(),
		ProductID:        in.ProductID,
		Price:            in.Price,
		StartDate:        in.StartDate.UTC(),
		EndDate:          in.EndDate.UTC(),
		LimitedQuantity:  in.LimitedQuantity,
		MaxOrderQuantity: in.MaxOrderQuantity,
		Status:           status,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err := s.store.InTx(ctx, store.TxOptions{}, func(tx store.Tx) error {
		p, err := tx.GetProduct(ctx, in.ProductID)
		if err != nil {
			return err
		}
		if in.LimitedQuantity > p.Quantity {
			return fmt.Errorf("%w: only %d items available", domain.ErrInsufficientStock, p.Quantity)
		}
		return tx.InsertFlashSale(ctx, fs)
	})
	if err != nil {
		return domain.FlashSale{}, err
	}
	s.log.Info("flash sale created", zap.String("flash_sale_id", fs.ID), zap.String("product_id", fs.ProductID))
	return fs, nil
}

func (s *Service) Get(ctx context.Context, id string) (fs domain.FlashSale, err error) {
	err = s.store.InTx(ctx, store.TxOptions{ReadOnly: true}, func(tx store.Tx) error {
		fs, err = tx.GetFlashSale(ctx, id)
		return err
	})
	return fs, err
}

// RefreshStatuses moves sales between upcoming, active and ended by their
// windows. Sold-out sales end with their window as well.
func (s *Service) RefreshStatuses(ctx context.Context) (int64, error) {
	now := s.clock.Now()
	var n int64
	err := s.store.InTx(ctx, store.TxOptions{}, func(tx store.Tx) error {
		var err error
		n, err = tx.RefreshFlashSaleStatuses(ctx, now)
		return err
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("flash sale statuses refreshed", zap.Int64("count", n))
	}
	return n, nil
}
