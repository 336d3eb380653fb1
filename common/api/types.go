package api

import (
	"github.com/Vinubaba/kids-checkin/common/checkin"
)

// Timestamps travel as RFC 3339 strings, dates as yyyy-mm-dd.

type RequestTransport struct {
	Id          string `json:"id"`
	Token       string `json:"token"`
	ChildId     string `json:"childId"`
	ServiceId   string `json:"serviceId"`
	RequestedBy string `json:"requestedBy"`
	Status      string `json:"status"`
	CreatedAt   string `json:"createdAt"`
	ExpiresAt   string `json:"expiresAt"`
	ProcessedBy string `json:"processedBy,omitempty"`
	ProcessedAt string `json:"processedAt,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

type RecordTransport struct {
	Id           string `json:"id"`
	RequestId    string `json:"requestId,omitempty"`
	ChildId      string `json:"childId"`
	ServiceId    string `json:"serviceId"`
	ServiceDate  string `json:"serviceDate"`
	CheckInTime  string `json:"checkInTime"`
	CheckOutTime string `json:"checkOutTime,omitempty"`
	CheckedInBy  string `json:"checkedInBy"`
	CheckedOutBy string `json:"checkedOutBy,omitempty"`
	Status       string `json:"status"`
}

type ChildTransport struct {
	Id               string `json:"id"`
	ResponsibleId    string `json:"responsibleId"`
	FirstName        string `json:"firstName"`
	LastName         string `json:"lastName"`
	BirthDate        string `json:"birthDate"`
	MedicalNotes     string `json:"medicalNotes,omitempty"`
	EmergencyContact string `json:"emergencyContact,omitempty"`
	Status           string `json:"status"`
	CurrentServiceId string `json:"currentServiceId,omitempty"`
	CheckedInAt      string `json:"checkedInAt,omitempty"`
	CheckedOutAt     string `json:"checkedOutAt,omitempty"`
}

type ServiceTransport struct {
	Id                string `json:"id"`
	Name              string `json:"name"`
	MinAge            int    `json:"minAge"`
	MaxAge            int    `json:"maxAge"`
	StartsAt          string `json:"startsAt"`
	EndsAt            string `json:"endsAt"`
	Location          string `json:"location,omitempty"`
	MaxCapacity       int    `json:"maxCapacity"`
	CurrentCapacity   int    `json:"currentCapacity"`
	AcceptingCheckIns bool   `json:"acceptingCheckIns"`
}

type ApprovalTransport struct {
	Request        RequestTransport `json:"request"`
	Record         RecordTransport  `json:"record"`
	Child          ChildTransport   `json:"child"`
	AlreadyApplied bool             `json:"alreadyApplied"`
}

type CheckOutResultTransport struct {
	Record         RecordTransport `json:"record"`
	Child          ChildTransport  `json:"child"`
	AlreadyApplied bool            `json:"alreadyApplied"`
}

type ChildStatusTransport struct {
	Child          ChildTransport    `json:"child"`
	ActiveRecord   *RecordTransport  `json:"activeRecord,omitempty"`
	PendingRequest *RequestTransport `json:"pendingRequest,omitempty"`
}

type PreviewTransport struct {
	Request RequestTransport `json:"request"`
	Child   ChildTransport   `json:"child"`
	Service ServiceTransport `json:"service"`
}

type CreateRequestTransport struct {
	ChildId   string `json:"childId"`
	ServiceId string `json:"serviceId"`
}

// DecisionTransport carries staff notes on approval and the reason on
// rejection.
type DecisionTransport struct {
	Notes  string `json:"notes,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type CheckInTransport struct {
	ChildId    string `json:"childId"`
	ServiceId  string `json:"serviceId"`
	GuardianId string `json:"guardianId"`
	ClientRef  string `json:"clientRef,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

type CheckOutTransport struct {
	ClientRef string `json:"clientRef,omitempty"`
}

type ServiceUpdateTransport struct {
	AcceptingCheckIns *bool `json:"acceptingCheckIns"`
}

type ErrorTransport struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// WebSocket frames exchanged on /api/v1/ws.
const (
	FrameSubscribe    = "subscribe"
	FrameUnsubscribe  = "unsubscribe"
	FrameSubscribed   = "subscribed"
	FrameUnsubscribed = "unsubscribed"
	FrameEvent        = "event"
	FrameError        = "error"
)

type Frame struct {
	Type  string               `json:"type"`
	Topic string               `json:"topic,omitempty"`
	Event *checkin.StatusEvent `json:"event,omitempty"`
	Error *ErrorTransport      `json:"error,omitempty"`
}
