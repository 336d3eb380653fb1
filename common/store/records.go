package store

import (
	"database/sql"
	"time"

	"github.com/Vinubaba/kids-checkin/common/checkin"

	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"
)

var (
	ErrRecordNotFound = errors.New("check-in record not found")
)

type CheckInRecord struct {
	RecordId     string `gorm:"primary_key"`
	RequestId    sql.NullString
	ChildId      string `gorm:"index"`
	ServiceId    string `gorm:"index"`
	ServiceDate  string
	CheckInTime  time.Time
	CheckOutTime *time.Time
	CheckedInBy  string
	CheckedOutBy sql.NullString
	Status       string
	ClientRef    sql.NullString `gorm:"unique_index"`
	CheckOutRef  sql.NullString `gorm:"unique_index"`
}

func (s *Store) AddRecord(tx *gorm.DB, record CheckInRecord) (CheckInRecord, error) {
	db := s.dbOrTx(tx)

	if record.RecordId == "" {
		record.RecordId = s.newId()
	}
	if record.Status == "" {
		record.Status = checkin.ChildCheckedIn
	}
	if record.ServiceDate == "" {
		record.ServiceDate = checkin.ServiceDate(record.CheckInTime)
	}
	if err := db.Create(&record).Error; err != nil {
		return CheckInRecord{}, err
	}
	return record, nil
}

func (s *Store) GetRecord(tx *gorm.DB, recordId string) (CheckInRecord, error) {
	return s.findRecord(tx, "record_id = ?", recordId)
}

func (s *Store) GetActiveRecordOfChild(tx *gorm.DB, childId string) (CheckInRecord, error) {
	return s.findRecord(tx, "child_id = ? AND status = ?", childId, checkin.ChildCheckedIn)
}

func (s *Store) GetRecordByClientRef(tx *gorm.DB, clientRef string) (CheckInRecord, error) {
	return s.findRecord(tx, "client_ref = ?", clientRef)
}

func (s *Store) GetRecordByCheckOutRef(tx *gorm.DB, checkOutRef string) (CheckInRecord, error) {
	return s.findRecord(tx, "check_out_ref = ?", checkOutRef)
}

func (s *Store) findRecord(tx *gorm.DB, where string, args ...interface{}) (CheckInRecord, error) {
	db := s.dbOrTx(tx)

	record := CheckInRecord{}
	res := db.Where(where, args...).First(&record)
	if res.RecordNotFound() {
		return CheckInRecord{}, ErrRecordNotFound
	}
	if res.Error != nil {
		return CheckInRecord{}, res.Error
	}
	return record, nil
}

// HasRecordOn reports whether the child already attended the service on the
// given service date, checked out or not.
func (s *Store) HasRecordOn(tx *gorm.DB, childId, serviceId, serviceDate string) (bool, error) {
	db := s.dbOrTx(tx)

	count := 0
	if err := db.Model(&CheckInRecord{}).
		Where("child_id = ? AND service_id = ? AND service_date = ?", childId, serviceId, serviceDate).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// CloseRecord checks a record out. It reports false if the record was not
// checked in anymore.
func (s *Store) CloseRecord(tx *gorm.DB, recordId, checkedOutBy, checkOutRef string, at time.Time) (bool, error) {
	db := s.dbOrTx(tx)

	updates := map[string]interface{}{
		"status":         checkin.ChildCheckedOut,
		"check_out_time": at,
		"checked_out_by": DbNullString(checkedOutBy),
	}
	if checkOutRef != "" {
		updates["check_out_ref"] = DbNullString(checkOutRef)
	}
	res := db.Model(&CheckInRecord{}).
		Where("record_id = ? AND status = ?", recordId, checkin.ChildCheckedIn).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
