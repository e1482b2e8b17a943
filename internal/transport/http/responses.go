package httptransport

import (
	"time"

	"irisvault/internal/capture"
	"irisvault/internal/enrollment"
	"irisvault/internal/verification"
	audit "irisvault/pkg/platform/audit"
)

type DeviceErrorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type CaptureResponse struct {
	DeviceState     string               `json:"device_state"`
	AwaitingGesture bool                 `json:"awaiting_gesture"`
	DeviceError     *DeviceErrorResponse `json:"device_error,omitempty"`
	Target          int                  `json:"target"`
	Captured        int                  `json:"captured"`
	Remaining       int                  `json:"remaining"`
	Running         bool                 `json:"running"`
	Completed       bool                 `json:"completed"`
}

func fromCapture(s *capture.Status) *CaptureResponse {
	if s == nil {
		return nil
	}
	resp := &CaptureResponse{
		DeviceState:     s.DeviceState.String(),
		AwaitingGesture: s.AwaitingGesture,
		Target:          s.Target,
		Captured:        s.Captured,
		Remaining:       s.Remaining,
		Running:         s.Running,
		Completed:       s.Completed,
	}
	if s.DeviceError != nil {
		resp.DeviceError = &DeviceErrorResponse{
			Kind:    string(s.DeviceError.Kind),
			Message: s.DeviceError.Message,
		}
	}
	return resp
}

type EnrollmentResultResponse struct {
	EnrollmentID  string  `json:"enrollment_id"`
	AccountNumber string  `json:"account_number"`
	QualityScore  float64 `json:"quality_score"`
	Message       string  `json:"message,omitempty"`
}

// EnrollmentResponse is the presentation state of an enrollment flow.
type EnrollmentResponse struct {
	ID            string                    `json:"id"`
	Step          string                    `json:"step"`
	Name          string                    `json:"name,omitempty"`
	AccountNumber string                    `json:"account_number,omitempty"`
	Email         string                    `json:"email,omitempty"`
	Consent       bool                      `json:"consent"`
	Capture       *CaptureResponse          `json:"capture,omitempty"`
	Submitting    bool                      `json:"submitting"`
	Result        *EnrollmentResultResponse `json:"result,omitempty"`
	Error         string                    `json:"error,omitempty"`
	ErrorCode     string                    `json:"error_code,omitempty"`
	Closed        bool                      `json:"closed"`
}

func fromEnrollment(v enrollment.View) EnrollmentResponse {
	resp := EnrollmentResponse{
		ID:            v.ID,
		Step:          string(v.Step),
		Name:          v.Details.Name,
		AccountNumber: v.Details.AccountNumber,
		Email:         v.Details.Email,
		Consent:       v.Details.Consent,
		Capture:       fromCapture(v.Capture),
		Submitting:    v.Submitting,
		Error:         v.Error,
		ErrorCode:     string(v.ErrorCode),
		Closed:        v.Closed,
	}
	if v.Result != nil {
		resp.Result = &EnrollmentResultResponse{
			EnrollmentID:  v.Result.EnrollmentID,
			AccountNumber: v.Result.AccountNumber,
			QualityScore:  v.Result.QualityScore,
			Message:       v.Result.Message,
		}
	}
	return resp
}

type SessionResponse struct {
	UserID         string    `json:"user_id"`
	Name           string    `json:"name"`
	AccountNumber  string    `json:"account_number"`
	Method         string    `json:"method"`
	Confidence     float64   `json:"confidence,omitempty"`
	Token          string    `json:"token,omitempty"`
	TokenExpiresAt time.Time `json:"token_expires_at,omitzero"`
}

// LoginResponse is the presentation state of a login flow.
type LoginResponse struct {
	ID               string           `json:"id"`
	Mode             string           `json:"mode"`
	AccountNumber    string           `json:"account_number,omitempty"`
	AccountName      string           `json:"account_name,omitempty"`
	Failures         int              `json:"failures"`
	FailureThreshold int              `json:"failure_threshold"`
	Capture          *CaptureResponse `json:"capture,omitempty"`
	Verifying        bool             `json:"verifying"`
	CredentialLength int              `json:"credential_length"`
	DemoCredential   string           `json:"demo_credential,omitempty"`
	Session          *SessionResponse `json:"session,omitempty"`
	Error            string           `json:"error,omitempty"`
	ErrorCode        string           `json:"error_code,omitempty"`
	Closed           bool             `json:"closed"`
}

func fromLogin(v verification.View) LoginResponse {
	resp := LoginResponse{
		ID:               v.ID,
		Mode:             string(v.Mode),
		AccountNumber:    v.AccountNumber,
		AccountName:      v.AccountName,
		Failures:         v.Failures,
		FailureThreshold: v.FailureThreshold,
		Capture:          fromCapture(v.Capture),
		Verifying:        v.Verifying,
		CredentialLength: v.CredentialLength,
		DemoCredential:   v.DemoCredential,
		Error:            v.Error,
		ErrorCode:        string(v.ErrorCode),
		Closed:           v.Closed,
	}
	if s := v.Session; s != nil {
		resp.Session = &SessionResponse{
			UserID:         s.UserID,
			Name:           s.Name,
			AccountNumber:  s.AccountNumber,
			Method:         s.Method,
			Confidence:     s.Confidence,
			Token:          s.Token,
			TokenExpiresAt: s.TokenExpiresAt,
		}
	}
	return resp
}

// FrameResponse reports one manual capture.
type FrameResponse struct {
	Appended   bool                `json:"appended"`
	Enrollment *EnrollmentResponse `json:"enrollment,omitempty"`
	Login      *LoginResponse      `json:"login,omitempty"`
}

type DemoCredentialResponse struct {
	AccountNumber  string `json:"account_number"`
	DemoCredential string `json:"demo_credential"`
}

// PrincipalResponse is returned to the dashboard for a valid handoff token.
type PrincipalResponse struct {
	UserID        string `json:"user_id"`
	Name          string `json:"name"`
	AccountNumber string `json:"account_number"`
	Method        string `json:"method"`
}

type AuditEventResponse struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	Category   string         `json:"category"`
	Timestamp  time.Time      `json:"timestamp"`
	UserID     string         `json:"user_id,omitempty"`
	Success    bool           `json:"success"`
	Reason     string         `json:"reason,omitempty"`
	DeviceInfo string         `json:"device_info,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
	ClientIP   string         `json:"client_ip,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

type AuditTrailResponse struct {
	AccountNumber string               `json:"account_number"`
	Events        []AuditEventResponse `json:"events"`
}

func fromAudit(accountNumber string, events []audit.Event) AuditTrailResponse {
	resp := AuditTrailResponse{
		AccountNumber: accountNumber,
		Events:        make([]AuditEventResponse, 0, len(events)),
	}
	for _, e := range events {
		resp.Events = append(resp.Events, AuditEventResponse{
			ID:         e.ID,
			Action:     string(e.Action),
			Category:   string(e.Category),
			Timestamp:  e.Timestamp,
			UserID:     e.UserID,
			Success:    e.Success,
			Reason:     e.Reason,
			DeviceInfo: e.DeviceInfo,
			RequestID:  e.RequestID,
			ClientIP:   e.ClientIP,
			Details:    e.Details,
		})
	}
	return resp
}
