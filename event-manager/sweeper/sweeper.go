package sweeper

import (
	"context"
	"time"

	"github.com/Vinubaba/kids-checkin/common/log"
	"github.com/Vinubaba/kids-checkin/event-manager/shared"
)

// Sweeper periodically expires PENDING check-in requests whose token
// lapsed, so their EXPIRED event is published even if nobody reads them.
type Sweeper struct {
	Config       *shared.AppConfig `inject:""`
	Logger       *log.Logger       `inject:""`
	StateMachine interface {
		ExpireOverdue(ctx context.Context, limit int) (int, error)
	} `inject:""`
}

func (s *Sweeper) Start(ctx context.Context) {
	s.Logger.Info(ctx, "starting sweeper", "interval", s.Config.SweepInterval.String(), "batch", s.Config.SweepBatch)
	ticker := time.NewTicker(s.Config.SweepInterval)
	defer ticker.Stop()
	for {
		s.Sweep(ctx)
		select {
		case <-ctx.Done():
			s.Logger.Info(ctx, "sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}

// Sweep expires overdue requests batch by batch until a batch comes back
// short or empty, and returns how many it expired.
func (s *Sweeper) Sweep(ctx context.Context) int {
	total := 0
	for ctx.Err() == nil {
		expired, err := s.StateMachine.ExpireOverdue(ctx, s.Config.SweepBatch)
		total += expired
		if err != nil {
			s.Logger.Err(ctx, "failed to expire overdue requests", "err", err.Error())
			break
		}
		if expired == 0 || expired < s.Config.SweepBatch {
			break
		}
	}
	if total > 0 {
		s.Logger.Info(ctx, "expired overdue requests", "count", total)
	}
	return total
}
