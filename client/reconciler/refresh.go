package reconciler

import (
	"context"

	"github.com/Vinubaba/kids-checkin/client/cache"
	"github.com/Vinubaba/kids-checkin/common/api"
	"github.com/Vinubaba/kids-checkin/common/checkin"

	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"
)

// Refresh pulls the authoritative state of a child. A child with queued
// operations keeps its optimistic state until they are replayed.
func (r *Reconciler) Refresh(ctx context.Context, childId string) error {
	lane := r.lane(childId)
	lane.Lock()
	defer lane.Unlock()
	_, err := r.refresh(ctx, childId)
	return err
}

// RefreshAll refreshes every cached child and returns how many were pulled
// from the server. It keeps going past failures and returns the first one.
func (r *Reconciler) RefreshAll(ctx context.Context) (int, error) {
	children, err := r.Cache.ListChildren(nil)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list cached children")
	}

	pulled := 0
	var first error
	for _, child := range children {
		if err := ctx.Err(); err != nil {
			return pulled, err
		}
		lane := r.lane(child.ChildId)
		lane.Lock()
		ok, err := r.refresh(ctx, child.ChildId)
		lane.Unlock()
		if err != nil {
			r.Logger.Debug(ctx, "failed to refresh child", "childId", child.ChildId, "err", err.Error())
			if first == nil {
				first = errors.Wrapf(err, "failed to refresh child %s", child.ChildId)
			}
			continue
		}
		if ok {
			pulled++
		}
	}
	return pulled, first
}

// refresh expects the caller to hold the lane of the child. It reports
// whether the child was pulled, false when deferred.
func (r *Reconciler) refresh(ctx context.Context, childId string) (bool, error) {
	queued, err := r.Cache.PendingOperationsOf(nil, childId)
	if err != nil {
		return false, err
	}
	if len(queued) > 0 {
		r.Logger.Debug(ctx, "refresh deferred, operations queued", "childId", childId, "queued", len(queued))
		return false, nil
	}

	status, err := r.Api.GetChild(ctx, childId)
	if err != nil {
		return false, err
	}

	// a request we still think PENDING but the server no longer reports
	var settledRequest *api.RequestTransport
	cached, err := r.Cache.PendingRequestOfChild(nil, childId)
	if err == nil && (status.PendingRequest == nil || status.PendingRequest.Id != cached.RequestId) && !cache.IsProvisional(cached.RequestId) {
		request, err := r.Api.GetRequest(ctx, cached.RequestId)
		if err != nil {
			return false, err
		}
		settledRequest = &request
	}

	now := r.now()
	err = r.Cache.InTx(func(tx *gorm.DB) error {
		if err := r.Cache.SaveChild(tx, cache.ChildFromTransport(status.Child, now)); err != nil {
			return err
		}

		active, err := r.Cache.ActiveRecordOfChild(tx, childId)
		if err == nil && (status.ActiveRecord == nil || status.ActiveRecord.Id != active.RecordId) {
			if cache.IsProvisional(active.RecordId) {
				err = r.Cache.DeleteRecord(tx, active.RecordId)
			} else {
				active.Status = checkin.ChildCheckedOut
				active.CheckOutTime = cache.ChildFromTransport(status.Child, now).CheckedOutAt
				active.LastSyncedAt = &now
				err = r.Cache.SaveRecord(tx, active)
			}
			if err != nil {
				return err
			}
		} else if err != nil && err != cache.ErrNotFound {
			return err
		}
		if status.ActiveRecord != nil {
			if err := r.Cache.SaveRecord(tx, cache.RecordFromTransport(*status.ActiveRecord, now)); err != nil {
				return err
			}
		}

		if settledRequest != nil {
			if err := r.Cache.SaveRequest(tx, cache.RequestFromTransport(*settledRequest, now)); err != nil {
				return err
			}
		}
		if status.PendingRequest != nil {
			if err := r.Cache.SaveRequest(tx, cache.RequestFromTransport(*status.PendingRequest, now)); err != nil {
				return err
			}
		}
		return nil
	})
	return err == nil, err
}

// RefreshServices replaces the cached services with the server list.
func (r *Reconciler) RefreshServices(ctx context.Context) error {
	services, err := r.Api.ListServices(ctx)
	if err != nil {
		return err
	}
	now := r.now()
	return r.Cache.InTx(func(tx *gorm.DB) error {
		for _, service := range services {
			if err := r.Cache.SaveService(tx, cache.ServiceFromTransport(service, now)); err != nil {
				return err
			}
		}
		return nil
	})
}
