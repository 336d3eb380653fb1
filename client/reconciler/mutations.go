package reconciler

import (
	"context"
	"fmt"

	"github.com/Vinubaba/kids-checkin/client/cache"
	"github.com/Vinubaba/kids-checkin/common/api"
	"github.com/Vinubaba/kids-checkin/common/checkin"

	"github.com/jinzhu/gorm"
)

// Payloads keep what is needed to send the operation and to undo its
// optimistic effect, so both survive a restart.

type checkInPayload struct {
	Transport api.CheckInTransport
	RecordId  string
	Previous  cache.Child
}

type checkOutPayload struct {
	Transport      api.CheckOutTransport
	RecordId       string
	Previous       cache.Child
	PreviousRecord cache.Record
}

type requestPayload struct {
	Transport api.CreateRequestTransport
	RequestId string
}

type cancelPayload struct {
	RequestId      string
	PreviousStatus string
}

func notFound(err error) error {
	if err == cache.ErrNotFound {
		return checkin.ErrNotFound
	}
	return err
}

// CheckIn marks the child checked in to serviceId and sends a walk-up
// check-in. The provisional record id doubles as the idempotency key of the
// call.
func (r *Reconciler) CheckIn(ctx context.Context, childId, serviceId, guardianId string) (*Mutation, error) {
	now := r.now()
	var op cache.PendingOperation

	err := r.Cache.InTx(func(tx *gorm.DB) error {
		child, err := r.Cache.GetChild(tx, childId)
		if err != nil {
			return notFound(err)
		}
		if child.Status == checkin.ChildCheckedIn {
			return checkin.ErrAlreadyCheckedIn
		}
		if guardianId == "" {
			guardianId = child.ResponsibleId
		}

		recordId := cache.NewProvisionalId()
		op, err = cache.NewOperation(cache.OpCheckIn, childId,
			fmt.Sprintf("check in %s %s", child.FirstName, child.LastName),
			checkInPayload{
				Transport: api.CheckInTransport{
					ChildId:    childId,
					ServiceId:  serviceId,
					GuardianId: guardianId,
					ClientRef:  recordId,
				},
				RecordId: recordId,
				Previous: child,
			})
		if err != nil {
			return err
		}

		if err := r.Cache.SaveRecord(tx, cache.Record{
			RecordId:    recordId,
			ChildId:     childId,
			ServiceId:   serviceId,
			ServiceDate: checkin.ServiceDate(now),
			CheckInTime: now,
			CheckedInBy: r.ActorId,
			Status:      checkin.ChildCheckedIn,
		}); err != nil {
			return err
		}

		child.Status = checkin.ChildCheckedIn
		child.CurrentServiceId = serviceId
		child.CheckedInAt = &now
		child.LastSyncedAt = nil
		if err := r.Cache.SaveChild(tx, child); err != nil {
			return err
		}

		op, err = r.Cache.Enqueue(tx, op)
		return err
	})
	if err != nil {
		return nil, err
	}

	r.Logger.Info(ctx, "check-in applied locally", "childId", childId, "serviceId", serviceId, "operationId", op.OperationId)
	return r.dispatch(ctx, op), nil
}

// CheckOut closes the active record of the child, provisional or not.
func (r *Reconciler) CheckOut(ctx context.Context, childId string) (*Mutation, error) {
	now := r.now()
	var op cache.PendingOperation

	err := r.Cache.InTx(func(tx *gorm.DB) error {
		child, err := r.Cache.GetChild(tx, childId)
		if err != nil {
			return notFound(err)
		}
		if child.Status != checkin.ChildCheckedIn {
			return checkin.ErrNotCheckedIn
		}
		record, err := r.Cache.ActiveRecordOfChild(tx, childId)
		if err == cache.ErrNotFound {
			return checkin.ErrNotCheckedIn
		}
		if err != nil {
			return err
		}

		op, err = cache.NewOperation(cache.OpCheckOut, childId,
			fmt.Sprintf("check out %s %s", child.FirstName, child.LastName),
			checkOutPayload{
				Transport:      api.CheckOutTransport{ClientRef: cache.NewProvisionalId()},
				RecordId:       record.RecordId,
				Previous:       child,
				PreviousRecord: record,
			})
		if err != nil {
			return err
		}

		record.Status = checkin.ChildCheckedOut
		record.CheckOutTime = &now
		record.CheckedOutBy = r.ActorId
		record.LastSyncedAt = nil
		if err := r.Cache.SaveRecord(tx, record); err != nil {
			return err
		}

		child.Status = checkin.ChildNotInService
		child.CurrentServiceId = ""
		child.CheckedOutAt = &now
		child.LastSyncedAt = nil
		if err := r.Cache.SaveChild(tx, child); err != nil {
			return err
		}

		op, err = r.Cache.Enqueue(tx, op)
		return err
	})
	if err != nil {
		return nil, err
	}

	r.Logger.Info(ctx, "check-out applied locally", "childId", childId, "operationId", op.OperationId)
	return r.dispatch(ctx, op), nil
}

// RequestCheckIn creates a provisional PENDING request. Its token is only
// known once the server confirmed it.
func (r *Reconciler) RequestCheckIn(ctx context.Context, childId, serviceId string) (*Mutation, error) {
	now := r.now()
	var op cache.PendingOperation

	err := r.Cache.InTx(func(tx *gorm.DB) error {
		child, err := r.Cache.GetChild(tx, childId)
		if err != nil {
			return notFound(err)
		}
		if child.Status == checkin.ChildCheckedIn {
			return checkin.ErrAlreadyCheckedIn
		}

		pending, err := r.Cache.PendingRequestOfChild(tx, childId)
		switch {
		case err == nil && checkin.IsExpired(pending.Status, pending.ExpiresAt, now):
			pending.Status = checkin.StatusExpired
			if err := r.Cache.SaveRequest(tx, pending); err != nil {
				return err
			}
		case err == nil:
			return checkin.ErrAlreadyPending
		case err != cache.ErrNotFound:
			return err
		}

		requestId := cache.NewProvisionalId()
		op, err = cache.NewOperation(cache.OpRequestCheckIn, childId,
			fmt.Sprintf("request check-in of %s %s", child.FirstName, child.LastName),
			requestPayload{
				Transport: api.CreateRequestTransport{ChildId: childId, ServiceId: serviceId},
				RequestId: requestId,
			})
		if err != nil {
			return err
		}

		if err := r.Cache.SaveRequest(tx, cache.Request{
			RequestId:   requestId,
			ChildId:     childId,
			ServiceId:   serviceId,
			RequestedBy: r.ActorId,
			Status:      checkin.StatusPending,
			CreatedAt:   now,
			ExpiresAt:   now.Add(checkin.RequestTTL),
		}); err != nil {
			return err
		}

		op, err = r.Cache.Enqueue(tx, op)
		return err
	})
	if err != nil {
		return nil, err
	}

	return r.dispatch(ctx, op), nil
}

// CancelRequest withdraws a PENDING request. A request the server never saw
// is dropped locally together with its queued creation.
func (r *Reconciler) CancelRequest(ctx context.Context, requestId string) (*Mutation, error) {
	request, err := r.Cache.GetRequest(nil, requestId)
	if err != nil {
		return nil, notFound(err)
	}

	childId := request.ChildId
	lane := r.lane(childId)
	lane.Lock()
	defer lane.Unlock()

	// the creation may have been confirmed while waiting for the lane
	request, err = r.Cache.GetRequest(nil, requestId)
	if err == cache.ErrNotFound && cache.IsProvisional(requestId) {
		request, err = r.Cache.PendingRequestOfChild(nil, childId)
	}
	if err != nil {
		return nil, notFound(err)
	}
	if request.Status != checkin.StatusPending || checkin.IsExpired(request.Status, request.ExpiresAt, r.now()) {
		return nil, checkin.ErrInvalidState
	}

	if cache.IsProvisional(request.RequestId) {
		return r.withdraw(ctx, request)
	}

	var op cache.PendingOperation
	err = r.Cache.InTx(func(tx *gorm.DB) error {
		op, err = cache.NewOperation(cache.OpCancelRequest, request.ChildId, "cancel check-in request",
			cancelPayload{RequestId: request.RequestId, PreviousStatus: request.Status})
		if err != nil {
			return err
		}

		request.Status = checkin.StatusCancelled
		request.LastSyncedAt = nil
		if err := r.Cache.SaveRequest(tx, request); err != nil {
			return err
		}

		op, err = r.Cache.Enqueue(tx, op)
		return err
	})
	if err != nil {
		return nil, err
	}

	return r.dispatch(ctx, op), nil
}

// withdraw drops a provisional request and its queued creation. The caller
// holds the lane of the child.
func (r *Reconciler) withdraw(ctx context.Context, request cache.Request) (*Mutation, error) {
	ops, err := r.Cache.PendingOperationsOf(nil, request.ChildId)
	if err != nil {
		return nil, err
	}

	var creation *cache.PendingOperation
	for i, op := range ops {
		payload := requestPayload{}
		if op.Type != cache.OpRequestCheckIn || op.Decode(&payload) != nil {
			continue
		}
		if payload.RequestId == request.RequestId {
			creation = &ops[i]
			break
		}
	}

	err = r.Cache.InTx(func(tx *gorm.DB) error {
		if creation != nil {
			if err := r.Cache.RemoveOperation(tx, creation.OperationId); err != nil {
				return err
			}
		}
		return r.Cache.DeleteRequest(tx, request.RequestId)
	})
	if err != nil {
		return nil, err
	}

	if creation != nil {
		r.report(*creation, RolledBack, nil)
	}
	cancel, err := cache.NewOperation(cache.OpCancelRequest, request.ChildId, "cancel check-in request",
		cancelPayload{RequestId: request.RequestId, PreviousStatus: checkin.StatusPending})
	if err != nil {
		return nil, err
	}
	m := r.track(cancel)
	r.report(cancel, Confirmed, nil)
	r.Logger.Info(ctx, "unsent check-in request withdrawn", "childId", request.ChildId)
	return m, nil
}
