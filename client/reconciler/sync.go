package reconciler

import (
	"context"
	"strings"
	"time"

	"github.com/Vinubaba/kids-checkin/client/cache"
	"github.com/Vinubaba/kids-checkin/common/api"
	"github.com/Vinubaba/kids-checkin/common/checkin"

	"github.com/cenkalti/backoff/v4"
	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Replay sends every queued operation, in order per child and concurrently
// across children. Transport errors are retried with exponential backoff;
// the first one left once retries are exhausted is returned and the
// operations of that child stay queued.
func (r *Reconciler) Replay(ctx context.Context) error {
	children, err := r.Cache.ChildrenWithPendingOperations(nil)
	if err != nil {
		return errors.Wrap(err, "failed to list queued operations")
	}
	if len(children) == 0 {
		return nil
	}
	r.Logger.Info(ctx, "replaying queued operations", "children", len(children))

	concurrency := r.ReplayConcurrency
	if concurrency <= 0 {
		concurrency = defaultReplayConcurrency
	}
	// a plain group: one child failing must not stop the others
	g := errgroup.Group{}
	g.SetLimit(concurrency)
	for _, childId := range children {
		childId := childId
		g.Go(func() error {
			return r.drain(ctx, childId, true)
		})
	}
	return g.Wait()
}

// drain sends the queued operations of one child until the queue of that
// child is empty or a transport error stops it.
func (r *Reconciler) drain(ctx context.Context, childId string, retry bool) error {
	lane := r.lane(childId)
	lane.Lock()
	defer lane.Unlock()

	for {
		op, err := r.Cache.NextOperationOf(nil, childId)
		if err == cache.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		if !r.Online() {
			r.queueAll(childId, checkin.ErrNetwork)
			return nil
		}

		var response interface{}
		if retry {
			response, err = r.sendWithBackoff(ctx, op)
		} else {
			response, err = r.send(ctx, op)
		}

		switch {
		case err == nil:
			if err := r.confirm(ctx, op, response); err != nil {
				return errors.Wrapf(err, "failed to confirm operation %s", op.OperationId)
			}
		case checkin.IsBusiness(err):
			if err := r.rollback(ctx, op, err); err != nil {
				return errors.Wrapf(err, "failed to roll back operation %s", op.OperationId)
			}
		case !checkin.IsTransient(err) && ctx.Err() == nil:
			// retrying cannot fix it and it would block the child
			r.Logger.Invariant(ctx, "unsendable_operation", "operationId", op.OperationId, "type", op.Type, "childId", childId, "err", err.Error())
			if err := r.discard(ctx, op, err); err != nil {
				return errors.Wrapf(err, "failed to discard operation %s", op.OperationId)
			}
		default:
			if err := r.Cache.RecordAttempt(nil, op.OperationId, err); err != nil {
				r.Logger.Err(ctx, "failed to record attempt", "operationId", op.OperationId, "err", err.Error())
			}
			r.queueAll(childId, err)
			return err
		}
	}
}

// queueAll settles every queued operation of a child as Queued.
func (r *Reconciler) queueAll(childId string, cause error) {
	ops, err := r.Cache.PendingOperationsOf(nil, childId)
	if err != nil {
		return
	}
	for _, op := range ops {
		r.report(op, Queued, cause)
	}
}

func (r *Reconciler) send(ctx context.Context, op cache.PendingOperation) (interface{}, error) {
	switch op.Type {
	case cache.OpCheckIn:
		payload := checkInPayload{}
		if err := op.Decode(&payload); err != nil {
			return nil, err
		}
		return r.Api.CheckIn(ctx, payload.Transport)

	case cache.OpCheckOut:
		payload := checkOutPayload{}
		if err := op.Decode(&payload); err != nil {
			return nil, err
		}
		return r.Api.CheckOut(ctx, op.ChildId, payload.Transport)

	case cache.OpRequestCheckIn:
		payload := requestPayload{}
		if err := op.Decode(&payload); err != nil {
			return nil, err
		}
		return r.Api.CreateRequest(ctx, payload.Transport)

	case cache.OpCancelRequest:
		payload := cancelPayload{}
		if err := op.Decode(&payload); err != nil {
			return nil, err
		}
		if cache.IsProvisional(payload.RequestId) {
			return nil, checkin.ErrNotFound
		}
		return r.Api.Cancel(ctx, payload.RequestId)
	}
	return nil, errors.Wrapf(checkin.ErrBadRequest, "unknown operation type %s", op.Type)
}

func (r *Reconciler) sendWithBackoff(ctx context.Context, op cache.PendingOperation) (interface{}, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.ReplayInitialInterval
	if b.InitialInterval <= 0 {
		b.InitialInterval = defaultReplayInitialInterval
	}
	b.MaxElapsedTime = r.ReplayMaxElapsed
	if b.MaxElapsedTime <= 0 {
		b.MaxElapsedTime = defaultReplayMaxElapsed
	}

	var response interface{}
	err := backoff.RetryNotify(func() error {
		res, err := r.send(ctx, op)
		if err != nil {
			if !checkin.IsTransient(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		response = res
		return nil
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		r.Logger.Debug(ctx, "replay attempt failed", "operationId", op.OperationId, "retryIn", wait.String(), "err", err.Error())
	})
	return response, err
}

// confirm replaces the optimistic rows with the authoritative ones. While
// later operations of the child are queued, the server ids are adopted but
// the local status is kept, since it already reflects those operations.
func (r *Reconciler) confirm(ctx context.Context, op cache.PendingOperation, response interface{}) error {
	now := r.now()
	alreadyApplied := false

	err := r.Cache.InTx(func(tx *gorm.DB) error {
		queued, err := r.Cache.PendingOperationsOf(tx, op.ChildId)
		if err != nil {
			return err
		}
		ahead := len(queued) > 1

		switch op.Type {
		case cache.OpCheckIn:
			payload := checkInPayload{}
			if err := op.Decode(&payload); err != nil {
				return err
			}
			approval := response.(api.ApprovalTransport)
			alreadyApplied = approval.AlreadyApplied
			record := cache.RecordFromTransport(approval.Record, now)
			if ahead {
				if local, err := r.Cache.GetRecord(tx, payload.RecordId); err == nil {
					record.Status = local.Status
					record.CheckOutTime = local.CheckOutTime
					record.CheckedOutBy = local.CheckedOutBy
					record.LastSyncedAt = nil
				}
			}
			if err := r.Cache.ReplaceRecord(tx, payload.RecordId, record); err != nil {
				return err
			}
			if !ahead {
				if err := r.Cache.SaveChild(tx, cache.ChildFromTransport(approval.Child, now)); err != nil {
					return err
				}
			}
			if err := r.Cache.RewriteOperations(tx, op.ChildId, payload.RecordId, approval.Record.Id); err != nil {
				return err
			}

		case cache.OpCheckOut:
			payload := checkOutPayload{}
			if err := op.Decode(&payload); err != nil {
				return err
			}
			result := response.(api.CheckOutResultTransport)
			alreadyApplied = result.AlreadyApplied
			if err := r.Cache.ReplaceRecord(tx, payload.RecordId, cache.RecordFromTransport(result.Record, now)); err != nil {
				return err
			}
			if !ahead {
				if err := r.Cache.SaveChild(tx, cache.ChildFromTransport(result.Child, now)); err != nil {
					return err
				}
			}

		case cache.OpRequestCheckIn:
			payload := requestPayload{}
			if err := op.Decode(&payload); err != nil {
				return err
			}
			created := response.(api.RequestTransport)
			request := cache.RequestFromTransport(created, now)
			if ahead {
				if local, err := r.Cache.GetRequest(tx, payload.RequestId); err == nil {
					request.Status = local.Status
					request.LastSyncedAt = nil
				}
			}
			if err := r.Cache.ReplaceRequest(tx, payload.RequestId, request); err != nil {
				return err
			}
			if err := r.Cache.RewriteOperations(tx, op.ChildId, payload.RequestId, created.Id); err != nil {
				return err
			}

		case cache.OpCancelRequest:
			cancelled := response.(api.RequestTransport)
			if err := r.Cache.SaveRequest(tx, cache.RequestFromTransport(cancelled, now)); err != nil {
				return err
			}
		}
		return r.Cache.RemoveOperation(tx, op.OperationId)
	})
	if err != nil {
		return err
	}

	if alreadyApplied {
		r.Logger.Invariant(ctx, "replay_already_applied", "operationId", op.OperationId, "type", op.Type, "childId", op.ChildId)
	}
	r.Logger.Info(ctx, "operation confirmed", "operationId", op.OperationId, "type", op.Type, "childId", op.ChildId)
	r.report(op, Confirmed, nil)
	return nil
}

// rollback undoes the optimistic effect of an operation the server refused,
// together with the queued operations that depended on what it created.
func (r *Reconciler) rollback(ctx context.Context, op cache.PendingOperation, cause error) error {
	dropped := []cache.PendingOperation{}
	err := r.Cache.InTx(func(tx *gorm.DB) error {
		created, err := r.undo(tx, op)
		if err != nil {
			return err
		}
		if created != "" {
			if dropped, err = r.dependentsOf(tx, op, created); err != nil {
				return err
			}
			for _, dependent := range dropped {
				if err := r.Cache.RemoveOperation(tx, dependent.OperationId); err != nil {
					return err
				}
			}
		}
		return r.Cache.RemoveOperation(tx, op.OperationId)
	})
	if err != nil {
		return err
	}

	r.Logger.Warn(ctx, "operation rolled back", "operationId", op.OperationId, "type", op.Type, "childId", op.ChildId, "code", checkin.Code(cause))
	r.report(op, RolledBack, cause)
	for _, dependent := range dropped {
		r.report(dependent, RolledBack, cause)
	}

	// our picture of the child is wrong, pull the authoritative one
	if checkin.KindOf(cause) == checkin.KindState {
		if _, err := r.refresh(ctx, op.ChildId); err != nil {
			r.Logger.Debug(ctx, "refresh after roll back failed", "childId", op.ChildId, "err", err.Error())
		}
	}
	return nil
}

// discard rolls back an operation that can never be sent. When even its
// payload is unreadable there is nothing to restore and it is only removed.
func (r *Reconciler) discard(ctx context.Context, op cache.PendingOperation, cause error) error {
	if err := r.rollback(ctx, op, cause); err == nil {
		return nil
	}
	if err := r.Cache.RemoveOperation(nil, op.OperationId); err != nil {
		return err
	}
	r.Logger.Warn(ctx, "operation dropped", "operationId", op.OperationId, "type", op.Type, "childId", op.ChildId)
	r.report(op, RolledBack, cause)
	return nil
}

// dependentsOf returns the other queued operations of the child referring
// to provisionalId.
func (r *Reconciler) dependentsOf(tx *gorm.DB, op cache.PendingOperation, provisionalId string) ([]cache.PendingOperation, error) {
	ops, err := r.Cache.PendingOperationsOf(tx, op.ChildId)
	if err != nil {
		return nil, err
	}
	dependents := []cache.PendingOperation{}
	for _, other := range ops {
		if other.OperationId != op.OperationId && strings.Contains(other.Payload, provisionalId) {
			dependents = append(dependents, other)
		}
	}
	return dependents, nil
}

// undo reverts the optimistic rows of op and returns the provisional id op
// created, if any.
func (r *Reconciler) undo(tx *gorm.DB, op cache.PendingOperation) (string, error) {
	switch op.Type {
	case cache.OpCheckIn:
		payload := checkInPayload{}
		if err := op.Decode(&payload); err != nil {
			return "", err
		}
		if err := r.Cache.DeleteRecord(tx, payload.RecordId); err != nil {
			return "", err
		}
		return payload.RecordId, r.Cache.SaveChild(tx, payload.Previous)

	case cache.OpCheckOut:
		payload := checkOutPayload{}
		if err := op.Decode(&payload); err != nil {
			return "", err
		}
		if err := r.Cache.SaveRecord(tx, payload.PreviousRecord); err != nil {
			return "", err
		}
		return "", r.Cache.SaveChild(tx, payload.Previous)

	case cache.OpRequestCheckIn:
		payload := requestPayload{}
		if err := op.Decode(&payload); err != nil {
			return "", err
		}
		return payload.RequestId, r.Cache.DeleteRequest(tx, payload.RequestId)

	case cache.OpCancelRequest:
		payload := cancelPayload{}
		if err := op.Decode(&payload); err != nil {
			return "", err
		}
		request, err := r.Cache.GetRequest(tx, payload.RequestId)
		if err == cache.ErrNotFound {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		request.Status = payload.PreviousStatus
		return "", r.Cache.SaveRequest(tx, request)
	}
	return "", nil
}
