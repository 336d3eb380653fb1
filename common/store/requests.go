package store

import (
	"database/sql"
	"time"

	"github.com/Vinubaba/kids-checkin/common/checkin"

	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"
)

var (
	ErrRequestNotFound = errors.New("check-in request not found")
)

type CheckInRequest struct {
	RequestId   string `gorm:"primary_key"`
	Token       string `gorm:"unique_index"`
	ChildId     string `gorm:"index"`
	ServiceId   string
	RequestedBy string
	Status      string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	ProcessedBy sql.NullString
	ProcessedAt *time.Time
	Notes       sql.NullString
}

func (s *Store) AddRequest(tx *gorm.DB, request CheckInRequest) (CheckInRequest, error) {
	db := s.dbOrTx(tx)

	if request.RequestId == "" {
		request.RequestId = s.newId()
	}
	if err := db.Create(&request).Error; err != nil {
		return CheckInRequest{}, err
	}
	return request, nil
}

func (s *Store) GetRequest(tx *gorm.DB, requestId string) (CheckInRequest, error) {
	return s.findRequest(tx, "request_id = ?", requestId)
}

func (s *Store) GetRequestByToken(tx *gorm.DB, token string) (CheckInRequest, error) {
	return s.findRequest(tx, "token = ?", token)
}

func (s *Store) GetPendingRequestOfChild(tx *gorm.DB, childId string) (CheckInRequest, error) {
	return s.findRequest(tx, "child_id = ? AND status = ?", childId, checkin.StatusPending)
}

func (s *Store) findRequest(tx *gorm.DB, where string, args ...interface{}) (CheckInRequest, error) {
	db := s.dbOrTx(tx)

	request := CheckInRequest{}
	res := db.Where(where, args...).First(&request)
	if res.RecordNotFound() {
		return CheckInRequest{}, ErrRequestNotFound
	}
	if res.Error != nil {
		return CheckInRequest{}, res.Error
	}
	return request, nil
}

// ListOverdueRequests returns at most limit PENDING requests whose token
// expired before now, oldest first.
func (s *Store) ListOverdueRequests(tx *gorm.DB, now time.Time, limit int) ([]CheckInRequest, error) {
	db := s.dbOrTx(tx)

	requests := []CheckInRequest{}
	if err := db.Where("status = ? AND expires_at < ?", checkin.StatusPending, now).
		Order("expires_at").Limit(limit).Find(&requests).Error; err != nil {
		return nil, err
	}
	return requests, nil
}

type Transition struct {
	RequestId   string
	From        string
	To          string
	ProcessedBy string
	Notes       string
	At          time.Time
}

// TransitionRequest moves a request from one status to another with a
// compare-and-set on the current status. It reports false when another
// transaction already moved the request.
func (s *Store) TransitionRequest(tx *gorm.DB, t Transition) (bool, error) {
	db := s.dbOrTx(tx)

	updates := map[string]interface{}{
		"status":       t.To,
		"processed_at": t.At,
	}
	if t.ProcessedBy != "" {
		updates["processed_by"] = DbNullString(t.ProcessedBy)
	}
	if t.Notes != "" {
		updates["notes"] = DbNullString(t.Notes)
	}
	res := db.Model(&CheckInRequest{}).
		Where("request_id = ? AND status = ?", t.RequestId, t.From).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
