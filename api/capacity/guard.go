package capacity

import (
	"context"

	"github.com/Vinubaba/kids-checkin/common/checkin"
	"github.com/Vinubaba/kids-checkin/common/log"
	"github.com/Vinubaba/kids-checkin/common/store"

	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"
)

// Guard is the only path allowed to move a service's current capacity.
type Guard struct {
	Store interface {
		ReserveSlot(tx *gorm.DB, serviceId string) (bool, error)
		ReleaseSlot(tx *gorm.DB, serviceId string) (bool, error)
		GetService(tx *gorm.DB, serviceId string) (store.Service, error)
	} `inject:""`
	Logger *log.Logger `inject:""`
}

// Reserve takes one slot in the caller's transaction. When the conditional
// increment does not apply, the service is read back in the same transaction
// to tell a closed service from a full one.
func (g *Guard) Reserve(ctx context.Context, tx *gorm.DB, serviceId string) error {
	reserved, err := g.Store.ReserveSlot(tx, serviceId)
	if err != nil {
		return errors.Wrap(err, "failed to reserve slot")
	}
	if reserved {
		return nil
	}

	service, err := g.Store.GetService(tx, serviceId)
	if err != nil {
		return errors.Wrap(err, "failed to reserve slot")
	}
	if !service.AcceptingCheckIns {
		return checkin.ErrServiceClosed
	}
	return checkin.ErrCapacityExceeded
}

// Release gives a slot back. Releasing a service already at zero is a bug in
// the caller and is reported as checkin.ErrDoubleRelease.
func (g *Guard) Release(ctx context.Context, tx *gorm.DB, serviceId string) error {
	released, err := g.Store.ReleaseSlot(tx, serviceId)
	if err != nil {
		return errors.Wrap(err, "failed to release slot")
	}
	if !released {
		if _, err := g.Store.GetService(tx, serviceId); err != nil {
			return errors.Wrap(err, "failed to release slot")
		}
		if g.Logger != nil {
			g.Logger.Invariant(ctx, "capacity.double_release", "serviceId", serviceId)
		}
		return checkin.ErrDoubleRelease
	}
	return nil
}
