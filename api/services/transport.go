package services

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Vinubaba/kids-checkin/api/shared"
	"github.com/Vinubaba/kids-checkin/common/api"
	"github.com/Vinubaba/kids-checkin/common/checkin"

	"github.com/araddon/dateparse"
	"github.com/go-kit/kit/endpoint"
	kithttp "github.com/go-kit/kit/transport/http"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

type HandlerFactory struct {
	Service Service `inject:""`
}

func (h *HandlerFactory) List(opts []kithttp.ServerOption) *kithttp.Server {
	return kithttp.NewServer(
		makeListEndpoint(h.Service),
		decodeListRequest,
		shared.EncodeResponse200,
		opts...,
	)
}

func (h *HandlerFactory) Get(opts []kithttp.ServerOption) *kithttp.Server {
	return kithttp.NewServer(
		makeGetEndpoint(h.Service),
		decodeServiceId,
		shared.EncodeResponse200,
		opts...,
	)
}

func (h *HandlerFactory) Update(opts []kithttp.ServerOption) *kithttp.Server {
	return kithttp.NewServer(
		makeUpdateEndpoint(h.Service),
		decodeUpdateRequest,
		shared.EncodeResponse200,
		opts...,
	)
}

type updateRequest struct {
	serviceId string
	api.ServiceUpdateTransport
}

func makeListEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		services, err := svc.ListServices(ctx, request.(time.Time))
		if err != nil {
			return nil, err
		}
		ret := []api.ServiceTransport{}
		for _, service := range services {
			ret = append(ret, shared.ServiceToTransport(service))
		}
		return ret, nil
	}
}

func makeGetEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		service, err := svc.GetService(ctx, request.(string))
		if err != nil {
			return nil, err
		}
		return shared.ServiceToTransport(service), nil
	}
}

func makeUpdateEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(updateRequest)
		if req.AcceptingCheckIns == nil {
			return nil, ErrNothingToApply
		}
		service, err := svc.SetAcceptingCheckIns(ctx, req.serviceId, *req.AcceptingCheckIns)
		if err != nil {
			return nil, err
		}
		return shared.ServiceToTransport(service), nil
	}
}

// decodeListRequest reads the optional `on` filter. Any date layout a human
// would type is accepted ("2026-03-01", "03/01/2026", "March 1, 2026").
func decodeListRequest(_ context.Context, r *http.Request) (interface{}, error) {
	on := r.URL.Query().Get("on")
	if on == "" {
		return time.Time{}, nil
	}
	day, err := dateparse.ParseIn(on, time.UTC)
	if err != nil {
		return nil, errors.Wrap(checkin.ErrBadRequest, err.Error())
	}
	return day, nil
}

func decodeServiceId(_ context.Context, r *http.Request) (interface{}, error) {
	serviceId, ok := mux.Vars(r)["serviceId"]
	if !ok {
		return nil, shared.ErrBadRouting
	}
	return serviceId, nil
}

func decodeUpdateRequest(ctx context.Context, r *http.Request) (interface{}, error) {
	serviceId, err := decodeServiceId(ctx, r)
	if err != nil {
		return nil, err
	}
	request := updateRequest{serviceId: serviceId.(string)}
	if err := json.NewDecoder(r.Body).Decode(&request.ServiceUpdateTransport); err != nil {
		return nil, errors.Wrap(checkin.ErrBadRequest, err.Error())
	}
	return request, nil
}

// EncodeError encodes errors from business-logic
func EncodeError(ctx context.Context, err error, w http.ResponseWriter) {
	switch errors.Cause(err) {
	case ErrEmptyService, ErrNothingToApply:
		shared.WriteJSON(w, api.ErrorTransport{Error: err.Error(), Code: checkin.Code(checkin.ErrBadRequest)}, http.StatusBadRequest)
		return
	}
	shared.EncodeError(ctx, err, w)
}
