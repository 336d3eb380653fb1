package shared

import (
	"database/sql"
	"time"

	"github.com/Vinubaba/kids-checkin/common/api"
	"github.com/Vinubaba/kids-checkin/common/store"
)

const dateLayout = "2006-01-02"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func nullString(s sql.NullString) string {
	if !s.Valid {
		return ""
	}
	return s.String
}

func RequestToTransport(request store.CheckInRequest) api.RequestTransport {
	return api.RequestTransport{
		Id:          request.RequestId,
		Token:       request.Token,
		ChildId:     request.ChildId,
		ServiceId:   request.ServiceId,
		RequestedBy: request.RequestedBy,
		Status:      request.Status,
		CreatedAt:   formatTime(request.CreatedAt),
		ExpiresAt:   formatTime(request.ExpiresAt),
		ProcessedBy: nullString(request.ProcessedBy),
		ProcessedAt: formatTimePtr(request.ProcessedAt),
		Notes:       nullString(request.Notes),
	}
}

func RecordToTransport(record store.CheckInRecord) api.RecordTransport {
	return api.RecordTransport{
		Id:           record.RecordId,
		RequestId:    nullString(record.RequestId),
		ChildId:      record.ChildId,
		ServiceId:    record.ServiceId,
		ServiceDate:  record.ServiceDate,
		CheckInTime:  formatTime(record.CheckInTime),
		CheckOutTime: formatTimePtr(record.CheckOutTime),
		CheckedInBy:  record.CheckedInBy,
		CheckedOutBy: nullString(record.CheckedOutBy),
		Status:       record.Status,
	}
}

func ChildToTransport(child store.Child) api.ChildTransport {
	return api.ChildTransport{
		Id:               child.ChildId,
		ResponsibleId:    child.ResponsibleId,
		FirstName:        child.FirstName,
		LastName:         child.LastName,
		BirthDate:        child.BirthDate.UTC().Format(dateLayout),
		MedicalNotes:     nullString(child.MedicalNotes),
		EmergencyContact: nullString(child.EmergencyContact),
		Status:           child.Status,
		CurrentServiceId: nullString(child.CurrentServiceId),
		CheckedInAt:      formatTimePtr(child.CheckedInAt),
		CheckedOutAt:     formatTimePtr(child.CheckedOutAt),
	}
}

func ServiceToTransport(service store.Service) api.ServiceTransport {
	return api.ServiceTransport{
		Id:                service.ServiceId,
		Name:              service.Name,
		MinAge:            service.MinAge,
		MaxAge:            service.MaxAge,
		StartsAt:          formatTime(service.StartsAt),
		EndsAt:            formatTime(service.EndsAt),
		Location:          nullString(service.Location),
		MaxCapacity:       service.MaxCapacity,
		CurrentCapacity:   service.CurrentCapacity,
		AcceptingCheckIns: service.AcceptingCheckIns,
	}
}
