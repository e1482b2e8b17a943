package testutil

import (
	"net/http"
	"time"

	"irisvault/pkg/requestcontext"
)

// WithKioskClient attaches the client metadata the request middleware would
// extract from a kiosk browser.
func WithKioskClient(req *http.Request, ip, userAgent string) *http.Request {
	ctx := requestcontext.WithClientMetadata(req.Context(), ip, userAgent)
	return req.WithContext(ctx)
}

// WithFixedTime pins requestcontext.Now for the request.
func WithFixedTime(req *http.Request, now time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), now))
}
