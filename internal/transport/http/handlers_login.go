package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"irisvault/internal/verification"
	dErrors "irisvault/pkg/domain-errors"
	"irisvault/pkg/platform/httputil"
	"irisvault/pkg/platform/middleware/metadata"
	"irisvault/pkg/requestcontext"
)

func (h *Handler) login(w http.ResponseWriter, r *http.Request) (*verification.Flow, bool) {
	flow, ok := h.logins.get(chi.URLParam(r, "id"))
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "login not found"))
		return nil, false
	}
	return flow, true
}

// HandleCreateLogin handles POST /logins.
func (h *Handler) HandleCreateLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	origin := metadata.OriginFromRequest(r)
	flow, err := h.factory.NewLogin(origin)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to create login",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create login"))
		return
	}
	h.logins.add(flow)
	h.logger.InfoContext(ctx, "login started",
		"request_id", requestcontext.RequestID(ctx),
		"flow_id", flow.ID(),
		"origin", origin,
	)
	httputil.WriteJSON(w, http.StatusCreated, fromLogin(flow.Snapshot()))
}

// HandleGetLogin handles GET /logins/{id}.
func (h *Handler) HandleGetLogin(w http.ResponseWriter, r *http.Request) {
	flow, ok := h.login(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromLogin(flow.Snapshot()))
}

// HandleEnterAccount handles POST /logins/{id}/account.
func (h *Handler) HandleEnterAccount(w http.ResponseWriter, r *http.Request) {
	flow, ok := h.login(w, r)
	if !ok {
		return
	}
	var req AccountRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	err := flow.EnterAccount(r.Context(), req.AccountNumber)
	writeOutcome(w, err, fromLogin(flow.Snapshot()))
}

// HandleLoginCapture handles POST /logins/{id}/capture.
func (h *Handler) HandleLoginCapture(w http.ResponseWriter, r *http.Request) {
	flow, ok := h.login(w, r)
	if !ok {
		return
	}
	err := flow.StartCapture(r.Context())
	writeOutcome(w, err, fromLogin(flow.Snapshot()))
}

// HandleLoginFrame handles POST /logins/{id}/frames in manual capture mode.
// The last frame of the batch runs the verification before responding.
func (h *Handler) HandleLoginFrame(w http.ResponseWriter, r *http.Request) {
	flow, ok := h.login(w, r)
	if !ok {
		return
	}
	appended, err := flow.CaptureFrame()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	view := fromLogin(flow.Snapshot())
	httputil.WriteJSON(w, http.StatusOK, FrameResponse{Appended: appended, Login: &view})
}

// HandleLoginResume handles POST /logins/{id}/resume.
func (h *Handler) HandleLoginResume(w http.ResponseWriter, r *http.Request) {
	flow, ok := h.login(w, r)
	if !ok {
		return
	}
	err := flow.Resume(r.Context())
	writeOutcome(w, err, fromLogin(flow.Snapshot()))
}

// HandleDemoCredential handles GET /logins/{id}/demo-credential.
func (h *Handler) HandleDemoCredential(w http.ResponseWriter, r *http.Request) {
	flow, ok := h.login(w, r)
	if !ok {
		return
	}
	credential, err := flow.RequestDemoCredential(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, DemoCredentialResponse{
		AccountNumber:  flow.Snapshot().AccountNumber,
		DemoCredential: credential,
	})
}

// HandleSubmitCredential handles POST /logins/{id}/credential.
func (h *Handler) HandleSubmitCredential(w http.ResponseWriter, r *http.Request) {
	flow, ok := h.login(w, r)
	if !ok {
		return
	}
	var req CredentialRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := flow.SubmitCredential(r.Context(), req.Credential); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromLogin(flow.Snapshot()))
}

// HandleRetryBiometric handles POST /logins/{id}/retry.
func (h *Handler) HandleRetryBiometric(w http.ResponseWriter, r *http.Request) {
	flow, ok := h.login(w, r)
	if !ok {
		return
	}
	err := flow.RetryBiometric(r.Context())
	writeOutcome(w, err, fromLogin(flow.Snapshot()))
}

// HandleCancelLogin handles POST /logins/{id}/cancel.
func (h *Handler) HandleCancelLogin(w http.ResponseWriter, r *http.Request) {
	flow, ok := h.login(w, r)
	if !ok {
		return
	}
	if err := flow.Cancel(); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromLogin(flow.Snapshot()))
}

// HandleDeleteLogin handles DELETE /logins/{id}.
func (h *Handler) HandleDeleteLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if !h.logins.remove(id) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "login not found"))
		return
	}
	h.logger.InfoContext(ctx, "login ended",
		"request_id", requestcontext.RequestID(ctx),
		"flow_id", id,
	)
	w.WriteHeader(http.StatusNoContent)
}
