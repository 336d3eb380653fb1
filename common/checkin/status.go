package checkin

import (
	"fmt"
	"time"
)

// Request statuses. Every status but PENDING is terminal.
const (
	StatusPending   = "PENDING"
	StatusApproved  = "APPROVED"
	StatusRejected  = "REJECTED"
	StatusCancelled = "CANCELLED"
	StatusExpired   = "EXPIRED"
)

// Child and attendance record statuses.
const (
	ChildNotInService = "NOT_IN_SERVICE"
	ChildCheckedIn    = "CHECKED_IN"
	ChildCheckedOut   = "CHECKED_OUT"
)

// RequestTTL is the lifetime of a check-in token.
const RequestTTL = 15 * time.Minute

func IsTerminal(status string) bool {
	return status != StatusPending
}

// IsExpired reports whether a PENDING request must be read as EXPIRED at now.
func IsExpired(status string, expiresAt, now time.Time) bool {
	return status == StatusPending && now.After(expiresAt)
}

// ServiceDate is the calendar day used to detect a second check-in to the
// same service on the same day.
func ServiceDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// AgeAt returns the age in whole years of someone born at birthDate.
func AgeAt(birthDate, at time.Time) int {
	birthDate = birthDate.UTC()
	at = at.UTC()
	age := at.Year() - birthDate.Year()
	if at.Month() < birthDate.Month() || (at.Month() == birthDate.Month() && at.Day() < birthDate.Day()) {
		age--
	}
	return age
}

func ChildTopic(childId string) string {
	return fmt.Sprintf("child:%s", childId)
}

func ServiceTopic(serviceId string) string {
	return fmt.Sprintf("service:%s", serviceId)
}
