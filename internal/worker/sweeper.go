package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-storefront-engine/internal/logx"
)

type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (string, bool, error)
	Unlock(ctx context.Context, name, token string) error
}

// Job is one idempotent maintenance step; n is what it touched.
type Job struct {
	Name string
	Run  func(ctx context.Context) (n int64, err error)
}

// Sweeper runs its jobs every Interval on whichever replica holds the lease.
type Sweeper struct {
	Jobs     []Job
	Interval time.Duration
	Locker   Locker
	Log      *zap.Logger
}

const sweepLock = "sweep"

type (
	ReservationSweeper interface {
		SweepExpired(ctx context.Context) (int64, error)
	}
	OrderExpirer interface {
		ExpireUnpaidOrders(ctx context.Context, limit int) ([]string, error)
	}
	StatusRefresher interface {
		RefreshStatuses(ctx context.Context) (int64, error)
	}
)

// DefaultJobs is the sweep order the engine runs: statuses first so a sale
// that just ended stops accepting holds, then expired holds, then unpaid
// orders.
func DefaultJobs(res ReservationSweeper, orders OrderExpirer, flashSales, auctions StatusRefresher) []Job {
	return []Job{
		{Name: "flash_sale_status", Run: flashSales.RefreshStatuses},
		{Name: "auction_status", Run: auctions.RefreshStatuses},
		{Name: "reservations", Run: res.SweepExpired},
		{Name: "unpaid_orders", Run: func(ctx context.Context) (int64, error) {
			ids, err := orders.ExpireUnpaidOrders(ctx, 0)
			return int64(len(ids)), err
		}},
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	log := logx.OrNop(s.Log)
	if s.Interval <= 0 {
		s.Interval = 30 * time.Second
	}
	t := time.NewTicker(s.Interval)
	defer t.Stop()
	for {
		if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			log.Error("sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// RunOnce runs every job once. Every job runs even if an earlier one
// failed; the first error is returned.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	log := logx.OrNop(s.Log)
	if s.Locker != nil {
		token, ok, err := s.Locker.TryLock(ctx, sweepLock, s.leaseTTL())
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		defer func() {
			if err := s.Locker.Unlock(context.WithoutCancel(ctx), sweepLock, token); err != nil {
				log.Warn("release sweep lock failed", zap.Error(err))
			}
		}()
	}

	var first error
	for _, j := range s.Jobs {
		n, err := j.Run(ctx)
		if err != nil {
			log.Error("sweep job failed", zap.String("job", j.Name), zap.Error(err))
			if first == nil {
				first = err
			}
			continue
		}
		if n > 0 {
			log.Info("sweep job done", zap.String("job", j.Name), zap.Int64("count", n))
		}
	}
	return first
}

func (s *Sweeper) leaseTTL() time.Duration {
	if s.Interval <= 0 {
		return time.Minute
	}
	return 2 * s.Interval
}
