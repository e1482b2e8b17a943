package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose so sinks can
// apply different retention.
type EventCategory string

const (
	// CategoryCompliance covers enrollment of biometric data and consent.
	CategoryCompliance EventCategory = "compliance"
	// CategorySecurity covers authentication outcomes and escalations.
	CategorySecurity EventCategory = "security"
	// CategoryOperations covers device and capture diagnostics.
	CategoryOperations EventCategory = "operations"
)

// AuditEvent names an action recorded by the kiosk.
type AuditEvent string

const (
	EventEnrollmentSuccess   AuditEvent = "enrollment_success"
	EventEnrollmentFailed    AuditEvent = "enrollment_failed"
	EventVerificationSuccess AuditEvent = "verification_success"
	EventVerificationFailed  AuditEvent = "verification_failed"
	EventFallbackEscalated   AuditEvent = "fallback_escalated"
	EventFallbackSuccess     AuditEvent = "fallback_verification_success"
	EventFallbackFailed      AuditEvent = "fallback_verification_failed"
	EventAccountNotFound     AuditEvent = "account_not_found"
	EventDeviceError         AuditEvent = "device_error"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventEnrollmentSuccess:   CategoryCompliance,
	EventEnrollmentFailed:    CategoryCompliance,
	EventVerificationSuccess: CategorySecurity,
	EventVerificationFailed:  CategorySecurity,
	EventFallbackEscalated:   CategorySecurity,
	EventFallbackSuccess:     CategorySecurity,
	EventFallbackFailed:      CategorySecurity,
	EventAccountNotFound:     CategorySecurity,
	EventDeviceError:         CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Event is emitted from the flows to capture key outcomes. It stays
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID            string
	Category      EventCategory
	Timestamp     time.Time
	Action        AuditEvent
	AccountNumber string
	UserID        string
	Success       bool
	Reason        string
	// DeviceInfo describes the kiosk client, e.g. "Chrome 126 on Linux".
	DeviceInfo string
	RequestID  string
	ClientIP   string
	Details    map[string]any
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByAccount(ctx context.Context, accountNumber string) ([]Event, error)
}
