package checkins

import (
	"context"
	"time"

	"github.com/Vinubaba/kids-checkin/common/checkin"
	"github.com/Vinubaba/kids-checkin/common/claims"
	"github.com/Vinubaba/kids-checkin/common/log"
	"github.com/Vinubaba/kids-checkin/common/store"

	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"
)

var (
	ErrEmptyChild   = errors.New("childId cannot be empty")
	ErrEmptyService = errors.New("serviceId cannot be empty")
	ErrEmptyToken   = errors.New("token cannot be empty")
)

type Service interface {
	CreateRequest(ctx context.Context, childId, serviceId, guardianId string) (store.CheckInRequest, error)
	GetRequest(ctx context.Context, requestId string) (store.CheckInRequest, error)
	Preview(ctx context.Context, token string) (Preview, error)
	Approve(ctx context.Context, token, staffId, notes string) (Approval, error)
	Reject(ctx context.Context, token, staffId, reason string) (store.CheckInRequest, error)
	Cancel(ctx context.Context, requestId, guardianId string) (store.CheckInRequest, error)
	CheckIn(ctx context.Context, walkIn WalkIn) (Approval, error)
	CheckOut(ctx context.Context, command CheckOut) (CheckOutResult, error)
	GetChild(ctx context.Context, childId string) (ChildStatus, error)
}

// Approval is the outcome of a successful APPROVED transition.
type Approval struct {
	Request        store.CheckInRequest
	Record         store.CheckInRecord
	Child          store.Child
	AlreadyApplied bool
}

type Preview struct {
	Request store.CheckInRequest
	Child   store.Child
	Service store.Service
}

// WalkIn is a check-in performed by staff for a guardian standing at the desk.
// ClientRef makes it idempotent.
type WalkIn struct {
	ChildId    string
	ServiceId  string
	GuardianId string
	StaffId    string
	ClientRef  string
	Notes      string
}

type CheckOut struct {
	ChildId   string
	ActorId   string
	ClientRef string
}

type CheckOutResult struct {
	Record         store.CheckInRecord
	Child          store.Child
	AlreadyApplied bool
}

type ChildStatus struct {
	Child          store.Child
	ActiveRecord   *store.CheckInRecord
	PendingRequest *store.CheckInRequest
}

// StateMachine owns the check-in request lifecycle. Every transition runs in
// one store transaction; events are published only after commit.
type StateMachine struct {
	Store interface {
		Tx() *gorm.DB
		GetChild(tx *gorm.DB, childId string) (store.Child, error)
		ChildrenOwnedBy(tx *gorm.DB, guardianId string) ([]string, error)
		MarkChildCheckedIn(tx *gorm.DB, childId, serviceId string, at time.Time) error
		MarkChildCheckedOut(tx *gorm.DB, childId string, at time.Time) error
		GetService(tx *gorm.DB, serviceId string) (store.Service, error)
		AddRequest(tx *gorm.DB, request store.CheckInRequest) (store.CheckInRequest, error)
		GetRequest(tx *gorm.DB, requestId string) (store.CheckInRequest, error)
		GetPendingRequestOfChild(tx *gorm.DB, childId string) (store.CheckInRequest, error)
		ListOverdueRequests(tx *gorm.DB, now time.Time, limit int) ([]store.CheckInRequest, error)
		TransitionRequest(tx *gorm.DB, t store.Transition) (bool, error)
		AddRecord(tx *gorm.DB, record store.CheckInRecord) (store.CheckInRecord, error)
		GetRecord(tx *gorm.DB, recordId string) (store.CheckInRecord, error)
		GetActiveRecordOfChild(tx *gorm.DB, childId string) (store.CheckInRecord, error)
		GetRecordByClientRef(tx *gorm.DB, clientRef string) (store.CheckInRecord, error)
		GetRecordByCheckOutRef(tx *gorm.DB, checkOutRef string) (store.CheckInRecord, error)
		HasRecordOn(tx *gorm.DB, childId, serviceId, serviceDate string) (bool, error)
		CloseRecord(tx *gorm.DB, recordId, checkedOutBy, checkOutRef string, at time.Time) (bool, error)
	} `inject:""`
	Tokens interface {
		Issue(ctx context.Context, requestId string) (string, time.Time, error)
		Validate(ctx context.Context, tx *gorm.DB, token string) (string, error)
	} `inject:""`
	Capacity interface {
		Reserve(ctx context.Context, tx *gorm.DB, serviceId string) error
		Release(ctx context.Context, tx *gorm.DB, serviceId string) error
	} `inject:""`
	Publisher interface {
		Publish(ctx context.Context, event checkin.StatusEvent)
	} `inject:""`
	StringGenerator interface {
		GenerateUuid() string
	} `inject:""`
	Logger *log.Logger `inject:""`
	Now    func() time.Time
}

func (c *StateMachine) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

func (c *StateMachine) CreateRequest(ctx context.Context, childId, serviceId, guardianId string) (store.CheckInRequest, error) {
	if childId == "" {
		return store.CheckInRequest{}, ErrEmptyChild
	}
	if serviceId == "" {
		return store.CheckInRequest{}, ErrEmptyService
	}

	now := c.now()
	var created store.CheckInRequest
	events := []checkin.StatusEvent{}

	err := c.inTx(func(tx *gorm.DB) error {
		child, err := c.Store.GetChild(tx, childId)
		if err != nil {
			return notFound(err, "child "+childId)
		}
		if err := c.authorizeGuardian(tx, guardianId, childId); err != nil {
			return err
		}
		if child.Status == checkin.ChildCheckedIn {
			return checkin.ErrAlreadyCheckedIn
		}

		expired, err := c.settlePendingRequest(tx, childId, now)
		if err != nil {
			return err
		}
		if expired != nil {
			events = append(events, *expired)
		}

		service, err := c.Store.GetService(tx, serviceId)
		if err != nil {
			return notFound(err, "service "+serviceId)
		}
		// soft pre-check, the hard one happens when a slot is reserved
		if !service.AcceptingCheckIns {
			return checkin.ErrServiceClosed
		}

		requestId := c.StringGenerator.GenerateUuid()
		token, expiresAt, err := c.Tokens.Issue(ctx, requestId)
		if err != nil {
			return err
		}
		created, err = c.Store.AddRequest(tx, store.CheckInRequest{
			RequestId:   requestId,
			Token:       token,
			ChildId:     childId,
			ServiceId:   serviceId,
			RequestedBy: guardianId,
			Status:      checkin.StatusPending,
			CreatedAt:   now,
			ExpiresAt:   expiresAt,
		})
		if err != nil {
			return errors.Wrap(err, "failed to add check-in request")
		}
		return nil
	})
	if err != nil {
		// two concurrent creations for the same child: the partial unique
		// index lets only one insert through
		if _, pendingErr := c.Store.GetPendingRequestOfChild(nil, childId); pendingErr == nil && !checkin.IsBusiness(err) {
			return store.CheckInRequest{}, checkin.ErrAlreadyPending
		}
		return store.CheckInRequest{}, err
	}

	events = append(events, checkin.NewStatusEvent(created.RequestId, childId, serviceId, "", checkin.StatusPending, now))
	c.publish(ctx, events...)
	c.Logger.Info(ctx, "check-in request created", "requestId", created.RequestId, "childId", childId, "serviceId", serviceId)
	return created, nil
}

// settlePendingRequest fails with ErrAlreadyPending when the child has a live
// pending request and expires it when its TTL elapsed.
func (c *StateMachine) settlePendingRequest(tx *gorm.DB, childId string, now time.Time) (*checkin.StatusEvent, error) {
	pending, err := c.Store.GetPendingRequestOfChild(tx, childId)
	if errors.Cause(err) == store.ErrRequestNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to look up pending request")
	}
	if !checkin.IsExpired(pending.Status, pending.ExpiresAt, now) {
		return nil, checkin.ErrAlreadyPending
	}
	return c.expireInTx(tx, pending, now)
}

func (c *StateMachine) GetRequest(ctx context.Context, requestId string) (store.CheckInRequest, error) {
	now := c.now()
	request, err := c.Store.GetRequest(nil, requestId)
	if err != nil {
		return store.CheckInRequest{}, notFound(err, "request "+requestId)
	}
	if !claims.IsStaff(ctx) && request.RequestedBy != claims.GetUserId(ctx) {
		return store.CheckInRequest{}, checkin.ErrUnauthorized
	}
	if checkin.IsExpired(request.Status, request.ExpiresAt, now) {
		return c.expire(ctx, requestId, now)
	}
	return request, nil
}

func (c *StateMachine) Preview(ctx context.Context, token string) (Preview, error) {
	now := c.now()
	requestId, err := c.resolveToken(ctx, token, now)
	if err != nil {
		return Preview{}, err
	}

	request, err := c.Store.GetRequest(nil, requestId)
	if err != nil {
		return Preview{}, notFound(err, "request "+requestId)
	}
	child, err := c.Store.GetChild(nil, request.ChildId)
	if err != nil {
		return Preview{}, notFound(err, "child "+request.ChildId)
	}
	service, err := c.Store.GetService(nil, request.ServiceId)
	if err != nil {
		return Preview{}, notFound(err, "service "+request.ServiceId)
	}
	return Preview{Request: request, Child: child, Service: service}, nil
}

// resolveToken validates a token outside of any transaction. An expired
// token expires its request as a side effect of the read.
func (c *StateMachine) resolveToken(ctx context.Context, token string, now time.Time) (string, error) {
	if token == "" {
		return "", ErrEmptyToken
	}
	requestId, err := c.Tokens.Validate(ctx, nil, token)
	if errors.Cause(err) == checkin.ErrExpired {
		if _, expireErr := c.expire(ctx, requestId, now); expireErr != nil {
			c.Logger.Warn(ctx, "failed to expire request", "requestId", requestId, "err", expireErr.Error())
		}
		return "", checkin.ErrExpired
	}
	if err != nil {
		return "", err
	}
	return requestId, nil
}

func (c *StateMachine) Approve(ctx context.Context, token, staffId, notes string) (Approval, error) {
	now := c.now()
	requestId, err := c.resolveToken(ctx, token, now)
	if err != nil {
		return Approval{}, err
	}

	var approval Approval
	expired := false
	err = c.inTx(func(tx *gorm.DB) error {
		request, err := c.Store.GetRequest(tx, requestId)
		if err != nil {
			return notFound(err, "request "+requestId)
		}
		if request.Status != checkin.StatusPending {
			return checkin.ErrInvalidState
		}
		if checkin.IsExpired(request.Status, request.ExpiresAt, now) {
			expired = true
			return checkin.ErrExpired
		}

		child, err := c.Store.GetChild(tx, request.ChildId)
		if err != nil {
			return notFound(err, "child "+request.ChildId)
		}
		service, err := c.Store.GetService(tx, request.ServiceId)
		if err != nil {
			return notFound(err, "service "+request.ServiceId)
		}
		if err := c.checkEligibility(tx, child, service, now); err != nil {
			return err
		}

		// on failure the request stays PENDING so staff can retry
		if err := c.Capacity.Reserve(ctx, tx, service.ServiceId); err != nil {
			return err
		}

		moved, err := c.Store.TransitionRequest(tx, store.Transition{
			RequestId:   requestId,
			From:        checkin.StatusPending,
			To:          checkin.StatusApproved,
			ProcessedBy: staffId,
			Notes:       notes,
			At:          now,
		})
		if err != nil {
			return errors.Wrap(err, "failed to approve request")
		}
		if !moved {
			return checkin.ErrInvalidState
		}

		approval, err = c.admit(tx, child, service, request.RequestId, staffId, "", now)
		if err != nil {
			return err
		}
		approval.Request, err = c.Store.GetRequest(tx, requestId)
		return err
	})
	if expired {
		if _, expireErr := c.expire(ctx, requestId, now); expireErr != nil {
			c.Logger.Warn(ctx, "failed to expire request", "requestId", requestId, "err", expireErr.Error())
		}
	}
	if err != nil {
		return Approval{}, err
	}

	c.publish(ctx, checkin.NewStatusEvent(requestId, approval.Child.ChildId, approval.Record.ServiceId, checkin.StatusPending, checkin.StatusApproved, now))
	c.Logger.Info(ctx, "check-in request approved", "requestId", requestId, "recordId", approval.Record.RecordId, "staffId", staffId)
	return approval, nil
}

// checkEligibility runs the business checks shared by approvals and walk-ins.
func (c *StateMachine) checkEligibility(tx *gorm.DB, child store.Child, service store.Service, now time.Time) error {
	if child.Status == checkin.ChildCheckedIn {
		return checkin.ErrAlreadyCheckedIn
	}
	age := checkin.AgeAt(child.BirthDate, now)
	if age < service.MinAge || age > service.MaxAge {
		return checkin.ErrAgeIneligible
	}
	attended, err := c.Store.HasRecordOn(tx, child.ChildId, service.ServiceId, checkin.ServiceDate(now))
	if err != nil {
		return errors.Wrap(err, "failed to look up attendance")
	}
	if attended {
		return checkin.ErrAlreadyCheckedInToday
	}
	return nil
}

// admit writes the attendance record and moves the child in. The slot must
// already be reserved in tx.
func (c *StateMachine) admit(tx *gorm.DB, child store.Child, service store.Service, requestId, staffId, clientRef string, now time.Time) (Approval, error) {
	record, err := c.Store.AddRecord(tx, store.CheckInRecord{
		RequestId:   store.DbNullString(requestId),
		ChildId:     child.ChildId,
		ServiceId:   service.ServiceId,
		CheckInTime: now,
		CheckedInBy: staffId,
		ClientRef:   store.DbNullString(clientRef),
	})
	if err != nil {
		return Approval{}, errors.Wrap(err, "failed to add check-in record")
	}
	if err := c.Store.MarkChildCheckedIn(tx, child.ChildId, service.ServiceId, now); err != nil {
		if errors.Cause(err) == store.ErrChildAlreadyCheckedIn {
			return Approval{}, checkin.ErrAlreadyCheckedIn
		}
		return Approval{}, errors.Wrap(err, "failed to update child")
	}
	child, err = c.Store.GetChild(tx, child.ChildId)
	if err != nil {
		return Approval{}, errors.Wrap(err, "failed to reload child")
	}
	return Approval{Record: record, Child: child}, nil
}

func (c *StateMachine) Reject(ctx context.Context, token, staffId, reason string) (store.CheckInRequest, error) {
	now := c.now()
	requestId, err := c.resolveToken(ctx, token, now)
	if err != nil {
		return store.CheckInRequest{}, err
	}

	var rejected store.CheckInRequest
	expired := false
	err = c.inTx(func(tx *gorm.DB) error {
		request, err := c.Store.GetRequest(tx, requestId)
		if err != nil {
			return notFound(err, "request "+requestId)
		}
		if request.Status != checkin.StatusPending {
			return checkin.ErrInvalidState
		}
		if checkin.IsExpired(request.Status, request.ExpiresAt, now) {
			expired = true
			return checkin.ErrExpired
		}
		moved, err := c.Store.TransitionRequest(tx, store.Transition{
			RequestId:   requestId,
			From:        checkin.StatusPending,
			To:          checkin.StatusRejected,
			ProcessedBy: staffId,
			Notes:       reason,
			At:          now,
		})
		if err != nil {
			return errors.Wrap(err, "failed to reject request")
		}
		if !moved {
			return checkin.ErrInvalidState
		}
		rejected, err = c.Store.GetRequest(tx, requestId)
		return err
	})
	if expired {
		if _, expireErr := c.expire(ctx, requestId, now); expireErr != nil {
			c.Logger.Warn(ctx, "failed to expire request", "requestId", requestId, "err", expireErr.Error())
		}
	}
	if err != nil {
		return store.CheckInRequest{}, err
	}

	c.publish(ctx, checkin.NewStatusEvent(requestId, rejected.ChildId, rejected.ServiceId, checkin.StatusPending, checkin.StatusRejected, now))
	c.Logger.Info(ctx, "check-in request rejected", "requestId", requestId, "staffId", staffId)
	return rejected, nil
}

// Cancel races Approve on the same request: whichever transition commits
// first wins and the other one gets checkin.ErrInvalidState.
func (c *StateMachine) Cancel(ctx context.Context, requestId, guardianId string) (store.CheckInRequest, error) {
	now := c.now()

	var cancelled store.CheckInRequest
	expired := false
	err := c.inTx(func(tx *gorm.DB) error {
		request, err := c.Store.GetRequest(tx, requestId)
		if err != nil {
			return notFound(err, "request "+requestId)
		}
		if request.RequestedBy != guardianId {
			return checkin.ErrUnauthorized
		}
		if request.Status != checkin.StatusPending {
			return checkin.ErrInvalidState
		}
		if checkin.IsExpired(request.Status, request.ExpiresAt, now) {
			expired = true
			return checkin.ErrInvalidState
		}
		moved, err := c.Store.TransitionRequest(tx, store.Transition{
			RequestId: requestId,
			From:      checkin.StatusPending,
			To:        checkin.StatusCancelled,
			At:        now,
		})
		if err != nil {
			return errors.Wrap(err, "failed to cancel request")
		}
		if !moved {
			return checkin.ErrInvalidState
		}
		cancelled, err = c.Store.GetRequest(tx, requestId)
		return err
	})
	if expired {
		if _, expireErr := c.expire(ctx, requestId, now); expireErr != nil {
			c.Logger.Warn(ctx, "failed to expire request", "requestId", requestId, "err", expireErr.Error())
		}
	}
	if err != nil {
		return store.CheckInRequest{}, err
	}

	c.publish(ctx, checkin.NewStatusEvent(requestId, cancelled.ChildId, cancelled.ServiceId, checkin.StatusPending, checkin.StatusCancelled, now))
	c.Logger.Info(ctx, "check-in request cancelled", "requestId", requestId)
	return cancelled, nil
}

// CheckIn admits a child without a guardian token. A replay carrying a
// ClientRef that was already admitted returns the original record.
func (c *StateMachine) CheckIn(ctx context.Context, walkIn WalkIn) (Approval, error) {
	if walkIn.ChildId == "" {
		return Approval{}, ErrEmptyChild
	}
	if walkIn.ServiceId == "" {
		return Approval{}, ErrEmptyService
	}

	now := c.now()
	var approval Approval
	events := []checkin.StatusEvent{}

	err := c.inTx(func(tx *gorm.DB) error {
		if walkIn.ClientRef != "" {
			record, err := c.Store.GetRecordByClientRef(tx, walkIn.ClientRef)
			if err == nil {
				child, err := c.Store.GetChild(tx, record.ChildId)
				if err != nil {
					return notFound(err, "child "+record.ChildId)
				}
				approval = Approval{Record: record, Child: child, AlreadyApplied: true}
				if record.RequestId.Valid {
					approval.Request, _ = c.Store.GetRequest(tx, record.RequestId.String)
				}
				return nil
			}
			if errors.Cause(err) != store.ErrRecordNotFound {
				return errors.Wrap(err, "failed to look up client reference")
			}
		}

		child, err := c.Store.GetChild(tx, walkIn.ChildId)
		if err != nil {
			return notFound(err, "child "+walkIn.ChildId)
		}
		if err := c.authorizeGuardian(tx, walkIn.GuardianId, walkIn.ChildId); err != nil {
			return err
		}
		if child.Status == checkin.ChildCheckedIn {
			return checkin.ErrAlreadyCheckedIn
		}
		expired, err := c.settlePendingRequest(tx, walkIn.ChildId, now)
		if err != nil {
			return err
		}
		if expired != nil {
			events = append(events, *expired)
		}

		service, err := c.Store.GetService(tx, walkIn.ServiceId)
		if err != nil {
			return notFound(err, "service "+walkIn.ServiceId)
		}
		if err := c.checkEligibility(tx, child, service, now); err != nil {
			return err
		}
		if err := c.Capacity.Reserve(ctx, tx, service.ServiceId); err != nil {
			return err
		}

		requestId := c.StringGenerator.GenerateUuid()
		token, expiresAt, err := c.Tokens.Issue(ctx, requestId)
		if err != nil {
			return err
		}
		processedAt := now
		request, err := c.Store.AddRequest(tx, store.CheckInRequest{
			RequestId:   requestId,
			Token:       token,
			ChildId:     child.ChildId,
			ServiceId:   service.ServiceId,
			RequestedBy: walkIn.GuardianId,
			Status:      checkin.StatusApproved,
			CreatedAt:   now,
			ExpiresAt:   expiresAt,
			ProcessedBy: store.DbNullString(walkIn.StaffId),
			ProcessedAt: &processedAt,
			Notes:       store.DbNullString(walkIn.Notes),
		})
		if err != nil {
			return errors.Wrap(err, "failed to add check-in request")
		}

		approval, err = c.admit(tx, child, service, requestId, walkIn.StaffId, walkIn.ClientRef, now)
		if err != nil {
			return err
		}
		approval.Request = request
		return nil
	})
	if err != nil {
		return Approval{}, err
	}

	if approval.AlreadyApplied {
		c.Logger.Warn(ctx, "check-in replayed, returning the recorded one", "clientRef", walkIn.ClientRef, "recordId", approval.Record.RecordId)
		return approval, nil
	}

	events = append(events, checkin.NewStatusEvent(approval.Request.RequestId, approval.Child.ChildId, approval.Record.ServiceId, checkin.StatusPending, checkin.StatusApproved, now))
	c.publish(ctx, events...)
	c.Logger.Info(ctx, "child checked in", "childId", walkIn.ChildId, "recordId", approval.Record.RecordId, "staffId", walkIn.StaffId)
	return approval, nil
}

// CheckOut closes the active record of a child and gives its slot back.
func (c *StateMachine) CheckOut(ctx context.Context, command CheckOut) (CheckOutResult, error) {
	if command.ChildId == "" {
		return CheckOutResult{}, ErrEmptyChild
	}

	now := c.now()
	var result CheckOutResult

	err := c.inTx(func(tx *gorm.DB) error {
		if command.ClientRef != "" {
			record, err := c.Store.GetRecordByCheckOutRef(tx, command.ClientRef)
			if err == nil {
				child, err := c.Store.GetChild(tx, record.ChildId)
				if err != nil {
					return notFound(err, "child "+record.ChildId)
				}
				result = CheckOutResult{Record: record, Child: child, AlreadyApplied: true}
				return nil
			}
			if errors.Cause(err) != store.ErrRecordNotFound {
				return errors.Wrap(err, "failed to look up client reference")
			}
		}

		if _, err := c.Store.GetChild(tx, command.ChildId); err != nil {
			return notFound(err, "child "+command.ChildId)
		}
		if !claims.IsStaff(ctx) {
			if err := c.authorizeGuardian(tx, command.ActorId, command.ChildId); err != nil {
				return err
			}
		}

		record, err := c.Store.GetActiveRecordOfChild(tx, command.ChildId)
		if errors.Cause(err) == store.ErrRecordNotFound {
			return checkin.ErrNotCheckedIn
		}
		if err != nil {
			return errors.Wrap(err, "failed to look up active record")
		}

		closed, err := c.Store.CloseRecord(tx, record.RecordId, command.ActorId, command.ClientRef, now)
		if err != nil {
			return errors.Wrap(err, "failed to close record")
		}
		if !closed {
			return checkin.ErrNotCheckedIn
		}
		if err := c.Capacity.Release(ctx, tx, record.ServiceId); err != nil {
			return err
		}
		if err := c.Store.MarkChildCheckedOut(tx, command.ChildId, now); err != nil {
			if errors.Cause(err) == store.ErrChildNotCheckedIn {
				c.Logger.Invariant(ctx, "child.status_matches_record", "childId", command.ChildId, "recordId", record.RecordId)
				return checkin.ErrNotCheckedIn
			}
			return errors.Wrap(err, "failed to update child")
		}

		result.Record, err = c.Store.GetRecord(tx, record.RecordId)
		if err != nil {
			return err
		}
		result.Child, err = c.Store.GetChild(tx, command.ChildId)
		return err
	})
	if err != nil {
		return CheckOutResult{}, err
	}

	if result.AlreadyApplied {
		c.Logger.Warn(ctx, "check-out replayed, returning the recorded one", "clientRef", command.ClientRef, "recordId", result.Record.RecordId)
		return result, nil
	}

	c.publish(ctx, checkin.NewStatusEvent(result.Record.RequestId.String, command.ChildId, result.Record.ServiceId, checkin.ChildCheckedIn, checkin.ChildCheckedOut, now))
	c.Logger.Info(ctx, "child checked out", "childId", command.ChildId, "recordId", result.Record.RecordId)
	return result, nil
}

// GetChild returns the authoritative status of a child, used by clients to
// reconcile their cache after a reconnection.
func (c *StateMachine) GetChild(ctx context.Context, childId string) (ChildStatus, error) {
	child, err := c.Store.GetChild(nil, childId)
	if err != nil {
		return ChildStatus{}, notFound(err, "child "+childId)
	}
	if !claims.IsStaff(ctx) && child.ResponsibleId != claims.GetUserId(ctx) {
		return ChildStatus{}, checkin.ErrUnauthorized
	}

	status := ChildStatus{Child: child}
	if record, err := c.Store.GetActiveRecordOfChild(nil, childId); err == nil {
		status.ActiveRecord = &record
	} else if errors.Cause(err) != store.ErrRecordNotFound {
		return ChildStatus{}, errors.Wrap(err, "failed to look up active record")
	}

	if request, err := c.Store.GetPendingRequestOfChild(nil, childId); err == nil {
		if checkin.IsExpired(request.Status, request.ExpiresAt, c.now()) {
			if _, err := c.expire(ctx, request.RequestId, c.now()); err != nil {
				return ChildStatus{}, err
			}
		} else {
			status.PendingRequest = &request
		}
	} else if errors.Cause(err) != store.ErrRequestNotFound {
		return ChildStatus{}, errors.Wrap(err, "failed to look up pending request")
	}
	return status, nil
}

// ExpireOverdue expires at most limit PENDING requests past their TTL and
// publishes their EXPIRED events. Without it a request only expires when it
// is read.
func (c *StateMachine) ExpireOverdue(ctx context.Context, limit int) (int, error) {
	now := c.now()
	overdue, err := c.Store.ListOverdueRequests(nil, now, limit)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list overdue requests")
	}

	expired := 0
	for _, request := range overdue {
		settled, err := c.expire(ctx, request.RequestId, now)
		if err != nil {
			return expired, err
		}
		if settled.Status == checkin.StatusExpired {
			expired++
		}
	}
	return expired, nil
}

// expire moves a PENDING request past its TTL to EXPIRED in its own
// transaction and returns the request as it now reads.
func (c *StateMachine) expire(ctx context.Context, requestId string, now time.Time) (store.CheckInRequest, error) {
	var request store.CheckInRequest
	var event *checkin.StatusEvent
	err := c.inTx(func(tx *gorm.DB) error {
		var err error
		request, err = c.Store.GetRequest(tx, requestId)
		if err != nil {
			return notFound(err, "request "+requestId)
		}
		if !checkin.IsExpired(request.Status, request.ExpiresAt, now) {
			return nil
		}
		event, err = c.expireInTx(tx, request, now)
		if err != nil {
			return err
		}
		request, err = c.Store.GetRequest(tx, requestId)
		return err
	})
	if err != nil {
		return store.CheckInRequest{}, err
	}
	if event != nil {
		c.publish(ctx, *event)
	}
	return request, nil
}

func (c *StateMachine) expireInTx(tx *gorm.DB, request store.CheckInRequest, now time.Time) (*checkin.StatusEvent, error) {
	moved, err := c.Store.TransitionRequest(tx, store.Transition{
		RequestId: request.RequestId,
		From:      checkin.StatusPending,
		To:        checkin.StatusExpired,
		At:        now,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to expire request")
	}
	if !moved {
		return nil, nil
	}
	event := checkin.NewStatusEvent(request.RequestId, request.ChildId, request.ServiceId, checkin.StatusPending, checkin.StatusExpired, now)
	return &event, nil
}

// authorizeGuardian is the AuthProvider check: the guardian must be
// responsible for the child.
func (c *StateMachine) authorizeGuardian(tx *gorm.DB, guardianId, childId string) error {
	if guardianId == "" {
		return checkin.ErrUnauthorized
	}
	owned, err := c.Store.ChildrenOwnedBy(tx, guardianId)
	if err != nil {
		return errors.Wrap(err, "failed to look up guardian children")
	}
	for _, id := range owned {
		if id == childId {
			return nil
		}
	}
	return checkin.ErrUnauthorized
}

func (c *StateMachine) inTx(fn func(tx *gorm.DB) error) error {
	tx := c.Store.Tx()
	if tx.Error != nil {
		return errors.Wrap(tx.Error, "failed to begin transaction")
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit().Error; err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

func (c *StateMachine) publish(ctx context.Context, events ...checkin.StatusEvent) {
	if c.Publisher == nil {
		return
	}
	for _, event := range events {
		c.Publisher.Publish(ctx, event)
	}
}

func notFound(err error, what string) error {
	switch errors.Cause(err) {
	case store.ErrChildNotFound, store.ErrServiceNotFound, store.ErrRequestNotFound, store.ErrRecordNotFound:
		return errors.Wrap(checkin.ErrNotFound, what)
	}
	return errors.Wrapf(err, "failed to get %s", what)
}
