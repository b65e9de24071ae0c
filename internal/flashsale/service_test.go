package flashsale

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-storefront-engine/internal/clock"
	"github.com/ariefcatur/go-storefront-engine/internal/domain"
	"github.com/ariefcatur/go-storefront-engine/internal/store/memstore"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestCreate(t *testing.T) {
	s := memstore.New()
	s.PutProduct(domain.Product{ID: "p1", Quantity: 50})
	svc := NewService(s, clock.NewFake(t0), nil)
	ctx := context.Background()

	fs, err := svc.Create(ctx, NewFlashSale{ProductID: "p1", Price: 900, LimitedQuantity: 50,
		StartDate: t0.Add(-time.Minute), EndDate: t0.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, domain.FlashSaleActive, fs.Status)

	got, err := svc.Get(ctx, fs.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, got.LimitedQuantity)

	later, err := svc.Create(ctx, NewFlashSale{ProductID: "p1", Price: 900, LimitedQuantity: 1,
		StartDate: t0.Add(time.Hour), EndDate: t0.Add(2 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, domain.FlashSaleUpcoming, later.Status)

	_, err = svc.Create(ctx, NewFlashSale{ProductID: "p1", LimitedQuantity: 51,
		StartDate: t0, EndDate: t0.Add(time.Hour)})
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	_, err = svc.Create(ctx, NewFlashSale{ProductID: "nope", LimitedQuantity: 1,
		StartDate: t0, EndDate: t0.Add(time.Hour)})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	zero := 0
	_, err = svc.Create(ctx, NewFlashSale{ProductID: "p1", LimitedQuantity: 1, MaxOrderQuantity: &zero,
		StartDate: t0, EndDate: t0.Add(time.Hour)})
	assert.ErrorIs(t, err, domain.ErrValidationFailed)
}

func TestRefreshStatuses(t *testing.T) {
	s := memstore.New()
	c := clock.NewFake(t0)
	s.PutFlashSale(domain.FlashSale{ID: "up", Status: domain.FlashSaleUpcoming,
		StartDate: t0.Add(10 * time.Minute), EndDate: t0.Add(time.Hour)})
	s.PutFlashSale(domain.FlashSale{ID: "gone", Status: domain.FlashSaleSoldOut,
		StartDate: t0.Add(-time.Hour), EndDate: t0.Add(20 * time.Minute)})
	svc := NewService(s, c, nil)

	c.Advance(15 * time.Minute)
	n, err := svc.RefreshStatuses(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, domain.FlashSaleActive, s.FlashSale("up").Status)

	c.Advance(10 * time.Minute)
	n, err = svc.RefreshStatuses(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, domain.FlashSaleEnded, s.FlashSale("gone").Status)

	n, err = svc.RefreshStatuses(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
