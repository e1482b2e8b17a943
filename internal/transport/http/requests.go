package httptransport

import (
	"irisvault/internal/enrollment"
)

// DetailsRequest is the body of POST /enrollments/{id}/details.
type DetailsRequest struct {
	Name          string `json:"name"`
	AccountNumber string `json:"account_number"`
	Email         string `json:"email"`
	Consent       bool   `json:"consent"`
}

func (r DetailsRequest) toDetails() enrollment.Details {
	return enrollment.Details{
		Name:          r.Name,
		AccountNumber: r.AccountNumber,
		Email:         r.Email,
		Consent:       r.Consent,
	}
}

// AccountRequest is the body of POST /logins/{id}/account.
type AccountRequest struct {
	AccountNumber string `json:"account_number"`
}

// CredentialRequest is the body of POST /logins/{id}/credential.
type CredentialRequest struct {
	Credential string `json:"credential"`
}
