package store

import (
	"database/sql"
	"time"

	"github.com/Vinubaba/kids-checkin/common/checkin"

	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"
)

var (
	ErrChildNotFound         = errors.New("child not found")
	ErrChildAlreadyCheckedIn = errors.New("child already checked in")
	ErrChildNotCheckedIn     = errors.New("child not checked in")
)

type Child struct {
	ChildId          string `gorm:"primary_key"`
	ResponsibleId    string `gorm:"index"`
	FirstName        string
	LastName         string
	BirthDate        time.Time
	MedicalNotes     sql.NullString
	EmergencyContact sql.NullString
	Status           string
	CurrentServiceId sql.NullString
	CheckedInAt      *time.Time
	CheckedOutAt     *time.Time
}

func (s *Store) AddChild(tx *gorm.DB, child Child) (Child, error) {
	db := s.dbOrTx(tx)

	if child.ChildId == "" {
		child.ChildId = s.newId()
	}
	if child.Status == "" {
		child.Status = checkin.ChildNotInService
	}
	if err := db.Create(&child).Error; err != nil {
		return Child{}, err
	}
	return child, nil
}

func (s *Store) GetChild(tx *gorm.DB, childId string) (Child, error) {
	db := s.dbOrTx(tx)

	child := Child{}
	res := db.Where("child_id = ?", childId).First(&child)
	if res.RecordNotFound() {
		return Child{}, ErrChildNotFound
	}
	if res.Error != nil {
		return Child{}, res.Error
	}
	return child, nil
}

func (s *Store) ListChildren(tx *gorm.DB, options SearchOptions) ([]Child, error) {
	db := s.dbOrTx(tx)

	query := db.Model(&Child{})
	if options.ResponsibleId != "" {
		query = query.Where("responsible_id = ?", options.ResponsibleId)
	}
	if options.ServiceId != "" {
		query = query.Where("current_service_id = ?", options.ServiceId)
	}
	children := []Child{}
	if err := query.Order("last_name, first_name").Find(&children).Error; err != nil {
		return nil, err
	}
	return children, nil
}

// ChildrenOwnedBy lists the ids of the children a guardian is responsible for.
func (s *Store) ChildrenOwnedBy(tx *gorm.DB, guardianId string) ([]string, error) {
	db := s.dbOrTx(tx)

	ids := []string{}
	if err := db.Model(&Child{}).Where("responsible_id = ?", guardianId).Pluck("child_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// MarkChildCheckedIn moves a child into a service. It fails if the child is
// already checked in anywhere.
func (s *Store) MarkChildCheckedIn(tx *gorm.DB, childId, serviceId string, at time.Time) error {
	db := s.dbOrTx(tx)

	res := db.Model(&Child{}).
		Where("child_id = ? AND status <> ?", childId, checkin.ChildCheckedIn).
		Updates(map[string]interface{}{
			"status":             checkin.ChildCheckedIn,
			"current_service_id": DbNullString(serviceId),
			"checked_in_at":      at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrChildAlreadyCheckedIn
	}
	return nil
}

// MarkChildCheckedOut resets a checked in child to NOT_IN_SERVICE.
func (s *Store) MarkChildCheckedOut(tx *gorm.DB, childId string, at time.Time) error {
	db := s.dbOrTx(tx)

	res := db.Model(&Child{}).
		Where("child_id = ? AND status = ?", childId, checkin.ChildCheckedIn).
		Updates(map[string]interface{}{
			"status":             checkin.ChildNotInService,
			"current_service_id": sql.NullString{},
			"checked_out_at":     at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrChildNotCheckedIn
	}
	return nil
}
