package reconciler

import (
	"context"
	"time"

	"github.com/Vinubaba/kids-checkin/client/cache"
	"github.com/Vinubaba/kids-checkin/common/checkin"

	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"
)

// HandleEvent applies a status event pushed by the server. The server is
// authoritative: an event wins over optimistic state. A queued CHECK_IN of a
// child the server reports checked in, checked out or rejected is dropped
// with the operations depending on it. Events older than the last sync of
// the child are ignored.
func (r *Reconciler) HandleEvent(ctx context.Context, event checkin.StatusEvent) error {
	lane := r.lane(event.ChildId)
	lane.Lock()
	defer lane.Unlock()

	child, err := r.Cache.GetChild(nil, event.ChildId)
	if err == cache.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	at := event.Time()
	if child.LastSyncedAt != nil && child.LastSyncedAt.After(at) {
		r.Logger.Debug(ctx, "stale event ignored", "childId", event.ChildId, "requestId", event.RequestId, "status", event.NewStatus)
		return nil
	}

	ops, err := r.Cache.PendingOperationsOf(nil, event.ChildId)
	if err != nil {
		return err
	}

	settled := settlements{}
	refresh := false

	err = r.Cache.InTx(func(tx *gorm.DB) error {
		if event.RequestId != "" && event.NewStatus != checkin.ChildCheckedOut {
			if err := r.applyRequestStatus(tx, event, at); err != nil {
				return err
			}
		}

		switch event.NewStatus {
		case checkin.StatusApproved:
			if _, err := r.supersedeCheckIns(tx, ops, checkin.ErrAlreadyCheckedIn, &settled); err != nil {
				return err
			}
			for _, op := range ops {
				if op.Type == cache.OpCancelRequest && cancelTargets(op, event.RequestId) {
					settled.add(op, RolledBack, checkin.ErrInvalidState)
				}
			}
			child.Status = checkin.ChildCheckedIn
			child.CurrentServiceId = event.ServiceId
			child.CheckedInAt = &at
			refresh = true

		case checkin.StatusRejected, checkin.StatusExpired, checkin.StatusCancelled:
			if event.NewStatus == checkin.StatusRejected {
				previous, err := r.supersedeCheckIns(tx, ops, checkin.ErrSuperseded, &settled)
				if err != nil {
					return err
				}
				if previous != nil {
					child = *previous
				}
			}
			for _, op := range ops {
				if op.Type == cache.OpCancelRequest && cancelTargets(op, event.RequestId) {
					if event.NewStatus == checkin.StatusCancelled {
						settled.add(op, Confirmed, nil)
					} else {
						settled.add(op, RolledBack, checkin.ErrInvalidState)
					}
				}
			}

		case checkin.ChildCheckedOut:
			if _, err := r.supersedeCheckIns(tx, ops, checkin.ErrSuperseded, &settled); err != nil {
				return err
			}
			for _, op := range ops {
				if op.Type == cache.OpCheckOut {
					settled.add(op, Confirmed, nil)
				}
			}
			if record, err := r.Cache.ActiveRecordOfChild(tx, event.ChildId); err == nil {
				record.Status = checkin.ChildCheckedOut
				record.CheckOutTime = &at
				record.LastSyncedAt = &at
				if err := r.Cache.SaveRecord(tx, record); err != nil {
					return err
				}
			} else if err != cache.ErrNotFound {
				return err
			}
			child.Status = checkin.ChildNotInService
			child.CurrentServiceId = ""
			child.CheckedOutAt = &at
		}

		for _, s := range settled.list {
			if err := r.Cache.RemoveOperation(tx, s.op.OperationId); err != nil {
				return err
			}
		}
		if len(settled.list) == len(ops) {
			child.LastSyncedAt = &at
		}
		return r.Cache.SaveChild(tx, child)
	})
	if err != nil {
		return errors.Wrap(err, "failed to apply event")
	}

	for _, s := range settled.list {
		r.report(s.op, s.outcome, s.cause)
	}
	r.Logger.Debug(ctx, "event applied", "childId", event.ChildId, "requestId", event.RequestId, "status", event.NewStatus, "superseded", len(settled.list))

	// the event does not carry the new attendance record
	if refresh && r.Online() {
		if _, err := r.refresh(ctx, event.ChildId); err != nil {
			r.Logger.Debug(ctx, "refresh after event failed", "childId", event.ChildId, "err", err.Error())
		}
	}
	return nil
}

type settlement struct {
	op      cache.PendingOperation
	outcome Outcome
	cause   error
}

// settlements keeps at most one settlement per operation, the first one.
type settlements struct {
	list []settlement
	seen map[string]bool
}

func (s *settlements) add(op cache.PendingOperation, outcome Outcome, cause error) {
	if s.seen == nil {
		s.seen = map[string]bool{}
	}
	if s.seen[op.OperationId] {
		return
	}
	s.seen[op.OperationId] = true
	s.list = append(s.list, settlement{op, outcome, cause})
}

func (s *settlements) has(operationId string) bool {
	return s.seen[operationId]
}

// supersedeCheckIns rolls back the queued CHECK_IN operations among ops,
// with the operations depending on them, and deletes their provisional
// records. It returns the child as it was before the first of them, nil
// when none was queued.
func (r *Reconciler) supersedeCheckIns(tx *gorm.DB, ops []cache.PendingOperation, cause error, settled *settlements) (*cache.Child, error) {
	var previous *cache.Child
	for _, op := range ops {
		if op.Type != cache.OpCheckIn || settled.has(op.OperationId) {
			continue
		}
		payload := checkInPayload{}
		if err := op.Decode(&payload); err != nil {
			return nil, err
		}
		if err := r.Cache.DeleteRecord(tx, payload.RecordId); err != nil {
			return nil, err
		}
		if previous == nil {
			child := payload.Previous
			previous = &child
		}
		settled.add(op, RolledBack, cause)

		dependents, err := r.dependentsOf(tx, op, payload.RecordId)
		if err != nil {
			return nil, err
		}
		for _, dependent := range dependents {
			settled.add(dependent, RolledBack, cause)
		}
	}
	return previous, nil
}

func (r *Reconciler) applyRequestStatus(tx *gorm.DB, event checkin.StatusEvent, at time.Time) error {
	request, err := r.Cache.GetRequest(tx, event.RequestId)
	if err == cache.ErrNotFound {
		if event.NewStatus != checkin.StatusPending {
			return nil
		}
		request = cache.Request{
			RequestId: event.RequestId,
			ChildId:   event.ChildId,
			ServiceId: event.ServiceId,
			CreatedAt: at,
			ExpiresAt: at.Add(checkin.RequestTTL),
		}
	} else if err != nil {
		return err
	}
	request.Status = event.NewStatus
	request.LastSyncedAt = &at
	return r.Cache.SaveRequest(tx, request)
}

func cancelTargets(op cache.PendingOperation, requestId string) bool {
	payload := cancelPayload{}
	if err := op.Decode(&payload); err != nil {
		return false
	}
	return payload.RequestId == requestId
}
