package services

import (
	"context"
	"time"

	"github.com/Vinubaba/kids-checkin/common/checkin"
	"github.com/Vinubaba/kids-checkin/common/log"
	"github.com/Vinubaba/kids-checkin/common/store"

	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"
)

var (
	ErrEmptyService   = errors.New("serviceId cannot be empty")
	ErrNothingToApply = errors.New("acceptingCheckIns is the only field that can be updated")
)

type Service interface {
	ListServices(ctx context.Context, on time.Time) ([]store.Service, error)
	GetService(ctx context.Context, serviceId string) (store.Service, error)
	SetAcceptingCheckIns(ctx context.Context, serviceId string, accepting bool) (store.Service, error)
}

type ServiceService struct {
	Store interface {
		GetService(tx *gorm.DB, serviceId string) (store.Service, error)
		ListServices(tx *gorm.DB) ([]store.Service, error)
		SetAcceptingCheckIns(tx *gorm.DB, serviceId string, accepting bool) error
	} `inject:""`
	Logger *log.Logger `inject:""`
}

// ListServices returns every service, or only those starting on the same
// calendar day as on when it is set.
func (c *ServiceService) ListServices(ctx context.Context, on time.Time) ([]store.Service, error) {
	services, err := c.Store.ListServices(nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list services")
	}
	if on.IsZero() {
		return services, nil
	}
	day := checkin.ServiceDate(on)
	ret := []store.Service{}
	for _, service := range services {
		if checkin.ServiceDate(service.StartsAt) == day {
			ret = append(ret, service)
		}
	}
	return ret, nil
}

func (c *ServiceService) GetService(ctx context.Context, serviceId string) (store.Service, error) {
	if serviceId == "" {
		return store.Service{}, ErrEmptyService
	}
	service, err := c.Store.GetService(nil, serviceId)
	if errors.Cause(err) == store.ErrServiceNotFound {
		return store.Service{}, errors.Wrap(checkin.ErrNotFound, "service "+serviceId)
	}
	if err != nil {
		return store.Service{}, errors.Wrap(err, "failed to get service")
	}
	return service, nil
}

// SetAcceptingCheckIns opens or closes a service. Current capacity is left
// alone: children already in stay in.
func (c *ServiceService) SetAcceptingCheckIns(ctx context.Context, serviceId string, accepting bool) (store.Service, error) {
	if serviceId == "" {
		return store.Service{}, ErrEmptyService
	}
	err := c.Store.SetAcceptingCheckIns(nil, serviceId, accepting)
	if errors.Cause(err) == store.ErrServiceNotFound {
		return store.Service{}, errors.Wrap(checkin.ErrNotFound, "service "+serviceId)
	}
	if err != nil {
		return store.Service{}, errors.Wrap(err, "failed to update service")
	}
	c.Logger.Info(ctx, "service check-ins toggled", "serviceId", serviceId, "accepting", accepting)
	return c.GetService(ctx, serviceId)
}
