// Package models holds the request and result types exchanged with the
// biometric collaborators, independent of their wire encoding.
package models

import "irisvault/internal/capture/device"

// Account is the result of an account lookup.
type Account struct {
	AccountNumber string
	Name          string
	Balance       float64
}

// Identity is the details form of an enrollment.
type Identity struct {
	Name          string
	AccountNumber string
	Email         string
}

// EnrollmentRequest is submitted once per completed capture batch.
type EnrollmentRequest struct {
	Identity
	Consent bool
	Frames  []device.Frame
}

type EnrollmentResult struct {
	Success       bool
	EnrollmentID  string
	AccountNumber string
	QualityScore  float64
	Message       string
}

type VerificationRequest struct {
	AccountNumber string
	Frames        []device.Frame
}

// VerificationResult carries the matcher outcome. Reason is set when Match
// is false.
type VerificationResult struct {
	Success       bool
	Match         bool
	Confidence    float64
	UserID        string
	Name          string
	AccountNumber string
	Reason        string
}

type FallbackRequest struct {
	AccountNumber string
	Credential    string
}

type FallbackResult struct {
	Success bool
	Match   bool
	UserID  string
	Name    string
	Method  string
	Reason  string
}
