package checkin

import (
	"github.com/pkg/errors"
)

var (
	ErrUnauthorized          = errors.New("not allowed to act on this child or request")
	ErrInvalidState          = errors.New("request is not pending anymore")
	ErrAlreadyPending        = errors.New("child already has a pending check-in request")
	ErrNotCheckedIn          = errors.New("child is not checked in")
	ErrAlreadyCheckedIn      = errors.New("child is already checked in")
	ErrAlreadyCheckedInToday = errors.New("child was already checked in to this service today")
	ErrExpired               = errors.New("check-in code expired")
	ErrCapacityExceeded      = errors.New("service is full")
	ErrServiceClosed         = errors.New("service is not accepting check-ins")
	ErrAgeIneligible         = errors.New("child age is outside the service age range")
	ErrNetwork               = errors.New("network unavailable")
	ErrTimeout               = errors.New("request timed out")
	ErrServer                = errors.New("server error")
	ErrNotFound              = errors.New("not found")
	ErrBadRequest            = errors.New("bad request")
	ErrSuperseded            = errors.New("change overtaken by a server decision")

	// Internal invariant violations. They are logged, never shown to users.
	ErrDoubleRelease  = errors.New("capacity released twice")
	ErrAlreadyApplied = errors.New("operation already applied")
)

type Kind string

const (
	KindAuthorization Kind = "authorization"
	KindState         Kind = "state"
	KindTemporal      Kind = "temporal"
	KindCapacity      Kind = "capacity"
	KindTransport     Kind = "transport"
	KindNotFound      Kind = "not_found"
	KindInvariant     Kind = "invariant"
	KindUnknown       Kind = "unknown"
)

type errorInfo struct {
	code    string
	kind    Kind
	message string
}

var taxonomy = map[error]errorInfo{
	ErrUnauthorized:          {"UNAUTHORIZED", KindAuthorization, "You are not allowed to do this for this child."},
	ErrInvalidState:          {"INVALID_STATE", KindState, "This check-in code was already used or cancelled."},
	ErrAlreadyPending:        {"ALREADY_PENDING", KindState, "A check-in code is already waiting for this child."},
	ErrNotCheckedIn:          {"NOT_CHECKED_IN", KindState, "This child is not checked in."},
	ErrAlreadyCheckedIn:      {"ALREADY_CHECKED_IN", KindState, "This child is already checked in."},
	ErrAlreadyCheckedInToday: {"ALREADY_CHECKED_IN_TODAY", KindState, "This child already attended this service today."},
	ErrExpired:               {"EXPIRED", KindTemporal, "This code has expired, please generate a new code."},
	ErrCapacityExceeded:      {"CAPACITY_EXCEEDED", KindCapacity, "This service is full."},
	ErrServiceClosed:         {"SERVICE_CLOSED", KindCapacity, "This service is not accepting check-ins right now."},
	ErrAgeIneligible:         {"AGE_INELIGIBLE", KindCapacity, "This child is not in the age range of this service."},
	ErrNetwork:               {"NETWORK", KindTransport, "You are offline, the change will be sent later."},
	ErrTimeout:               {"TIMEOUT", KindTransport, "The server did not answer, the change will be sent later."},
	ErrServer:                {"SERVER_ERROR", KindTransport, "The server had a problem, the change will be sent later."},
	ErrNotFound:              {"NOT_FOUND", KindNotFound, "Invalid code."},
	ErrBadRequest:            {"BAD_REQUEST", KindState, "The request was malformed."},
	ErrSuperseded:            {"SUPERSEDED", KindState, "This change was overtaken by a decision made on another device."},
	ErrDoubleRelease:         {"DOUBLE_RELEASE", KindInvariant, "Internal error."},
	ErrAlreadyApplied:        {"ALREADY_APPLIED", KindInvariant, "Internal error."},
}

func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if info, ok := taxonomy[errors.Cause(err)]; ok {
		return info.kind
	}
	return KindUnknown
}

// IsTransient reports whether err may succeed when retried unchanged.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransport
}

// IsBusiness reports whether err is a business outcome that must be surfaced
// to the user and never retried automatically.
func IsBusiness(err error) bool {
	switch KindOf(err) {
	case KindAuthorization, KindState, KindTemporal, KindCapacity, KindNotFound:
		return true
	}
	return false
}

// Code returns the stable wire code of err, or "" for unknown errors.
func Code(err error) string {
	if info, ok := taxonomy[errors.Cause(err)]; ok {
		return info.code
	}
	return ""
}

// FromCode maps a wire code back to its sentinel error.
func FromCode(code string) (error, bool) {
	for err, info := range taxonomy {
		if info.code == code {
			return err, true
		}
	}
	return nil, false
}

// UserMessage is the actionable text shown for err.
func UserMessage(err error) string {
	if info, ok := taxonomy[errors.Cause(err)]; ok {
		return info.message
	}
	return "An error occurred, please try again later."
}
