package cache

import (
	"time"

	"github.com/Vinubaba/kids-checkin/common/api"
)

type Child struct {
	ChildId          string `gorm:"primary_key"`
	ResponsibleId    string `gorm:"index"`
	FirstName        string
	LastName         string
	BirthDate        string
	MedicalNotes     string
	EmergencyContact string
	Status           string
	CurrentServiceId string
	CheckedInAt      *time.Time
	CheckedOutAt     *time.Time
	LastSyncedAt     *time.Time
}

func (Child) TableName() string {
	return "cached_children"
}

type Service struct {
	ServiceId         string `gorm:"primary_key"`
	Name              string
	MinAge            int
	MaxAge            int
	StartsAt          time.Time
	EndsAt            time.Time
	Location          string
	MaxCapacity       int
	CurrentCapacity   int
	AcceptingCheckIns bool
	LastSyncedAt      *time.Time
}

func (Service) TableName() string {
	return "cached_services"
}

type Request struct {
	RequestId    string `gorm:"primary_key"`
	Token        string
	ChildId      string `gorm:"index"`
	ServiceId    string
	RequestedBy  string
	Status       string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	ProcessedBy  string
	Notes        string
	LastSyncedAt *time.Time
}

func (Request) TableName() string {
	return "cached_requests"
}

type Record struct {
	RecordId     string `gorm:"primary_key"`
	RequestId    string
	ChildId      string `gorm:"index"`
	ServiceId    string
	ServiceDate  string
	CheckInTime  time.Time
	CheckOutTime *time.Time
	CheckedInBy  string
	CheckedOutBy string
	Status       string
	LastSyncedAt *time.Time
}

func (Record) TableName() string {
	return "cached_records"
}

func parseTime(value string) time.Time {
	t, _ := time.Parse(time.RFC3339, value)
	return t
}

func parseTimePtr(value string) *time.Time {
	if value == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil
	}
	return &t
}

// ChildFromTransport builds the shadow copy of a server child synced at.
func ChildFromTransport(child api.ChildTransport, at time.Time) Child {
	return Child{
		ChildId:          child.Id,
		ResponsibleId:    child.ResponsibleId,
		FirstName:        child.FirstName,
		LastName:         child.LastName,
		BirthDate:        child.BirthDate,
		MedicalNotes:     child.MedicalNotes,
		EmergencyContact: child.EmergencyContact,
		Status:           child.Status,
		CurrentServiceId: child.CurrentServiceId,
		CheckedInAt:      parseTimePtr(child.CheckedInAt),
		CheckedOutAt:     parseTimePtr(child.CheckedOutAt),
		LastSyncedAt:     &at,
	}
}

func ServiceFromTransport(service api.ServiceTransport, at time.Time) Service {
	return Service{
		ServiceId:         service.Id,
		Name:              service.Name,
		MinAge:            service.MinAge,
		MaxAge:            service.MaxAge,
		StartsAt:          parseTime(service.StartsAt),
		EndsAt:            parseTime(service.EndsAt),
		Location:          service.Location,
		MaxCapacity:       service.MaxCapacity,
		CurrentCapacity:   service.CurrentCapacity,
		AcceptingCheckIns: service.AcceptingCheckIns,
		LastSyncedAt:      &at,
	}
}

func RequestFromTransport(request api.RequestTransport, at time.Time) Request {
	return Request{
		RequestId:    request.Id,
		Token:        request.Token,
		ChildId:      request.ChildId,
		ServiceId:    request.ServiceId,
		RequestedBy:  request.RequestedBy,
		Status:       request.Status,
		CreatedAt:    parseTime(request.CreatedAt),
		ExpiresAt:    parseTime(request.ExpiresAt),
		ProcessedBy:  request.ProcessedBy,
		Notes:        request.Notes,
		LastSyncedAt: &at,
	}
}

func RecordFromTransport(record api.RecordTransport, at time.Time) Record {
	return Record{
		RecordId:     record.Id,
		RequestId:    record.RequestId,
		ChildId:      record.ChildId,
		ServiceId:    record.ServiceId,
		ServiceDate:  record.ServiceDate,
		CheckInTime:  parseTime(record.CheckInTime),
		CheckOutTime: parseTimePtr(record.CheckOutTime),
		CheckedInBy:  record.CheckedInBy,
		CheckedOutBy: record.CheckedOutBy,
		Status:       record.Status,
		LastSyncedAt: &at,
	}
}
