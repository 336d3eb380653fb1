package store

import (
	"database/sql"
	"time"

	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"
)

var (
	ErrServiceNotFound = errors.New("service not found")
)

type Service struct {
	ServiceId         string `gorm:"primary_key"`
	Name              string
	MinAge            int
	MaxAge            int
	StartsAt          time.Time
	EndsAt            time.Time
	Location          sql.NullString
	MaxCapacity       int
	CurrentCapacity   int
	AcceptingCheckIns bool
}

func (s *Store) AddService(tx *gorm.DB, service Service) (Service, error) {
	db := s.dbOrTx(tx)

	if service.ServiceId == "" {
		service.ServiceId = s.newId()
	}
	// capacity is only ever moved by ReserveSlot and ReleaseSlot
	service.CurrentCapacity = 0
	if err := db.Create(&service).Error; err != nil {
		return Service{}, err
	}
	return service, nil
}

func (s *Store) GetService(tx *gorm.DB, serviceId string) (Service, error) {
	db := s.dbOrTx(tx)

	service := Service{}
	res := db.Where("service_id = ?", serviceId).First(&service)
	if res.RecordNotFound() {
		return Service{}, ErrServiceNotFound
	}
	if res.Error != nil {
		return Service{}, res.Error
	}
	return service, nil
}

func (s *Store) ListServices(tx *gorm.DB) ([]Service, error) {
	db := s.dbOrTx(tx)

	services := []Service{}
	if err := db.Order("starts_at").Find(&services).Error; err != nil {
		return nil, err
	}
	return services, nil
}

func (s *Store) SetAcceptingCheckIns(tx *gorm.DB, serviceId string, accepting bool) error {
	db := s.dbOrTx(tx)

	res := db.Model(&Service{}).Where("service_id = ?", serviceId).Update("accepting_check_ins", accepting)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrServiceNotFound
	}
	return nil
}

// ReserveSlot increments current_capacity in a single conditional statement.
// It reports false when the service is closed or full; the row lock taken by
// the UPDATE serializes concurrent reservations on the same service only.
func (s *Store) ReserveSlot(tx *gorm.DB, serviceId string) (bool, error) {
	db := s.dbOrTx(tx)

	res := db.Exec("UPDATE services SET current_capacity = current_capacity + 1 "+
		"WHERE service_id = ? AND accepting_check_ins = ? AND current_capacity < max_capacity", serviceId, true)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ReleaseSlot decrements current_capacity unless it is already zero, in which
// case it reports false.
func (s *Store) ReleaseSlot(tx *gorm.DB, serviceId string) (bool, error) {
	db := s.dbOrTx(tx)

	res := db.Exec("UPDATE services SET current_capacity = current_capacity - 1 "+
		"WHERE service_id = ? AND current_capacity > 0", serviceId)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
