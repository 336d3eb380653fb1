package checkins

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/Vinubaba/kids-checkin/api/shared"
	"github.com/Vinubaba/kids-checkin/common/api"
	"github.com/Vinubaba/kids-checkin/common/checkin"
	"github.com/Vinubaba/kids-checkin/common/claims"

	"github.com/go-kit/kit/endpoint"
	kithttp "github.com/go-kit/kit/transport/http"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

type HandlerFactory struct {
	Service Service `inject:""`
}

func (h *HandlerFactory) CreateRequest(opts []kithttp.ServerOption) *kithttp.Server {
	return kithttp.NewServer(
		makeCreateRequestEndpoint(h.Service),
		decodeCreateRequestTransport,
		shared.EncodeResponse201,
		opts...,
	)
}

func (h *HandlerFactory) GetRequest(opts []kithttp.ServerOption) *kithttp.Server {
	return kithttp.NewServer(
		makeGetRequestEndpoint(h.Service),
		decodeRequestId,
		shared.EncodeResponse200,
		opts...,
	)
}

func (h *HandlerFactory) CancelRequest(opts []kithttp.ServerOption) *kithttp.Server {
	return kithttp.NewServer(
		makeCancelEndpoint(h.Service),
		decodeRequestId,
		shared.EncodeResponse200,
		opts...,
	)
}

func (h *HandlerFactory) Preview(opts []kithttp.ServerOption) *kithttp.Server {
	return kithttp.NewServer(
		makePreviewEndpoint(h.Service),
		decodeToken,
		shared.EncodeResponse200,
		opts...,
	)
}

func (h *HandlerFactory) Approve(opts []kithttp.ServerOption) *kithttp.Server {
	return kithttp.NewServer(
		makeApproveEndpoint(h.Service),
		decodeDecision,
		shared.EncodeResponse200,
		opts...,
	)
}

func (h *HandlerFactory) Reject(opts []kithttp.ServerOption) *kithttp.Server {
	return kithttp.NewServer(
		makeRejectEndpoint(h.Service),
		decodeDecision,
		shared.EncodeResponse200,
		opts...,
	)
}

func (h *HandlerFactory) CheckIn(opts []kithttp.ServerOption) *kithttp.Server {
	return kithttp.NewServer(
		makeCheckInEndpoint(h.Service),
		decodeCheckInTransport,
		shared.EncodeResponse201,
		opts...,
	)
}

func (h *HandlerFactory) CheckOut(opts []kithttp.ServerOption) *kithttp.Server {
	return kithttp.NewServer(
		makeCheckOutEndpoint(h.Service),
		decodeCheckOutTransport,
		shared.EncodeResponse200,
		opts...,
	)
}

func (h *HandlerFactory) GetChild(opts []kithttp.ServerOption) *kithttp.Server {
	return kithttp.NewServer(
		makeGetChildEndpoint(h.Service),
		decodeChildId,
		shared.EncodeResponse200,
		opts...,
	)
}

type decisionRequest struct {
	token string
	api.DecisionTransport
}

type checkOutRequest struct {
	childId string
	api.CheckOutTransport
}

func makeCreateRequestEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(api.CreateRequestTransport)
		created, err := svc.CreateRequest(ctx, req.ChildId, req.ServiceId, claims.GetUserId(ctx))
		if err != nil {
			return nil, err
		}
		return shared.RequestToTransport(created), nil
	}
}

func makeGetRequestEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		found, err := svc.GetRequest(ctx, request.(string))
		if err != nil {
			return nil, err
		}
		return shared.RequestToTransport(found), nil
	}
}

func makeCancelEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		cancelled, err := svc.Cancel(ctx, request.(string), claims.GetUserId(ctx))
		if err != nil {
			return nil, err
		}
		return shared.RequestToTransport(cancelled), nil
	}
}

func makePreviewEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		preview, err := svc.Preview(ctx, request.(string))
		if err != nil {
			return nil, err
		}
		return api.PreviewTransport{
			Request: shared.RequestToTransport(preview.Request),
			Child:   shared.ChildToTransport(preview.Child),
			Service: shared.ServiceToTransport(preview.Service),
		}, nil
	}
}

func makeApproveEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(decisionRequest)
		approval, err := svc.Approve(ctx, req.token, claims.GetUserId(ctx), req.Notes)
		if err != nil {
			return nil, err
		}
		return approvalToTransport(approval), nil
	}
}

func makeRejectEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(decisionRequest)
		rejected, err := svc.Reject(ctx, req.token, claims.GetUserId(ctx), req.Reason)
		if err != nil {
			return nil, err
		}
		return shared.RequestToTransport(rejected), nil
	}
}

func makeCheckInEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(api.CheckInTransport)
		approval, err := svc.CheckIn(ctx, WalkIn{
			ChildId:    req.ChildId,
			ServiceId:  req.ServiceId,
			GuardianId: req.GuardianId,
			StaffId:    claims.GetUserId(ctx),
			ClientRef:  req.ClientRef,
			Notes:      req.Notes,
		})
		if err != nil {
			return nil, err
		}
		return approvalToTransport(approval), nil
	}
}

func makeCheckOutEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(checkOutRequest)
		result, err := svc.CheckOut(ctx, CheckOut{
			ChildId:   req.childId,
			ActorId:   claims.GetUserId(ctx),
			ClientRef: req.ClientRef,
		})
		if err != nil {
			return nil, err
		}
		return api.CheckOutResultTransport{
			Record:         shared.RecordToTransport(result.Record),
			Child:          shared.ChildToTransport(result.Child),
			AlreadyApplied: result.AlreadyApplied,
		}, nil
	}
}

func makeGetChildEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		status, err := svc.GetChild(ctx, request.(string))
		if err != nil {
			return nil, err
		}
		ret := api.ChildStatusTransport{Child: shared.ChildToTransport(status.Child)}
		if status.ActiveRecord != nil {
			record := shared.RecordToTransport(*status.ActiveRecord)
			ret.ActiveRecord = &record
		}
		if status.PendingRequest != nil {
			pending := shared.RequestToTransport(*status.PendingRequest)
			ret.PendingRequest = &pending
		}
		return ret, nil
	}
}

func approvalToTransport(approval Approval) api.ApprovalTransport {
	return api.ApprovalTransport{
		Request:        shared.RequestToTransport(approval.Request),
		Record:         shared.RecordToTransport(approval.Record),
		Child:          shared.ChildToTransport(approval.Child),
		AlreadyApplied: approval.AlreadyApplied,
	}
}

func decodeCreateRequestTransport(_ context.Context, r *http.Request) (interface{}, error) {
	var request api.CreateRequestTransport
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		return nil, errors.Wrap(checkin.ErrBadRequest, err.Error())
	}
	return request, nil
}

func decodeCheckInTransport(_ context.Context, r *http.Request) (interface{}, error) {
	var request api.CheckInTransport
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		return nil, errors.Wrap(checkin.ErrBadRequest, err.Error())
	}
	return request, nil
}

func decodeRequestId(_ context.Context, r *http.Request) (interface{}, error) {
	requestId, ok := mux.Vars(r)["requestId"]
	if !ok {
		return nil, shared.ErrBadRouting
	}
	return requestId, nil
}

func decodeChildId(_ context.Context, r *http.Request) (interface{}, error) {
	childId, ok := mux.Vars(r)["childId"]
	if !ok {
		return nil, shared.ErrBadRouting
	}
	return childId, nil
}

func decodeToken(_ context.Context, r *http.Request) (interface{}, error) {
	token, ok := mux.Vars(r)["token"]
	if !ok {
		return nil, shared.ErrBadRouting
	}
	return token, nil
}

func decodeDecision(ctx context.Context, r *http.Request) (interface{}, error) {
	token, err := decodeToken(ctx, r)
	if err != nil {
		return nil, err
	}
	request := decisionRequest{token: token.(string)}
	// the body is optional
	if err := json.NewDecoder(r.Body).Decode(&request.DecisionTransport); err != nil && err != io.EOF {
		return nil, errors.Wrap(checkin.ErrBadRequest, err.Error())
	}
	return request, nil
}

func decodeCheckOutTransport(ctx context.Context, r *http.Request) (interface{}, error) {
	childId, err := decodeChildId(ctx, r)
	if err != nil {
		return nil, err
	}
	request := checkOutRequest{childId: childId.(string)}
	if err := json.NewDecoder(r.Body).Decode(&request.CheckOutTransport); err != nil && err != io.EOF {
		return nil, errors.Wrap(checkin.ErrBadRequest, err.Error())
	}
	return request, nil
}

// EncodeError encodes errors from business-logic
func EncodeError(ctx context.Context, err error, w http.ResponseWriter) {
	switch errors.Cause(err) {
	case ErrEmptyChild, ErrEmptyService, ErrEmptyToken:
		shared.WriteJSON(w, api.ErrorTransport{Error: err.Error(), Code: checkin.Code(checkin.ErrBadRequest)}, http.StatusBadRequest)
		return
	}
	shared.EncodeError(ctx, err, w)
}
