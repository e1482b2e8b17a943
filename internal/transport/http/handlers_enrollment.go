package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"irisvault/internal/enrollment"
	dErrors "irisvault/pkg/domain-errors"
	"irisvault/pkg/platform/httputil"
	"irisvault/pkg/platform/middleware/metadata"
	"irisvault/pkg/requestcontext"
)

func (h *Handler) enrollment(w http.ResponseWriter, r *http.Request) (*enrollment.Flow, bool) {
	flow, ok := h.enrollments.get(chi.URLParam(r, "id"))
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "enrollment not found"))
		return nil, false
	}
	return flow, true
}

// HandleCreateEnrollment handles POST /enrollments.
func (h *Handler) HandleCreateEnrollment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	origin := metadata.OriginFromRequest(r)
	flow, err := h.factory.NewEnrollment(origin)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to create enrollment",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create enrollment"))
		return
	}
	h.enrollments.add(flow)
	h.logger.InfoContext(ctx, "enrollment started",
		"request_id", requestcontext.RequestID(ctx),
		"flow_id", flow.ID(),
		"origin", origin,
	)
	httputil.WriteJSON(w, http.StatusCreated, fromEnrollment(flow.Snapshot()))
}

// HandleGetEnrollment handles GET /enrollments/{id}.
func (h *Handler) HandleGetEnrollment(w http.ResponseWriter, r *http.Request) {
	flow, ok := h.enrollment(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromEnrollment(flow.Snapshot()))
}

// HandleSubmitDetails handles POST /enrollments/{id}/details.
func (h *Handler) HandleSubmitDetails(w http.ResponseWriter, r *http.Request) {
	flow, ok := h.enrollment(w, r)
	if !ok {
		return
	}
	var req DetailsRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	err := flow.SubmitDetails(r.Context(), req.toDetails())
	writeOutcome(w, err, fromEnrollment(flow.Snapshot()))
}

// HandleEnrollmentCapture handles POST /enrollments/{id}/capture.
func (h *Handler) HandleEnrollmentCapture(w http.ResponseWriter, r *http.Request) {
	flow, ok := h.enrollment(w, r)
	if !ok {
		return
	}
	err := flow.StartCapture(r.Context())
	writeOutcome(w, err, fromEnrollment(flow.Snapshot()))
}

// HandleEnrollmentFrame handles POST /enrollments/{id}/frames in manual
// capture mode. The fifth frame submits the batch before responding.
func (h *Handler) HandleEnrollmentFrame(w http.ResponseWriter, r *http.Request) {
	flow, ok := h.enrollment(w, r)
	if !ok {
		return
	}
	appended, err := flow.CaptureFrame()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	view := fromEnrollment(flow.Snapshot())
	httputil.WriteJSON(w, http.StatusOK, FrameResponse{Appended: appended, Enrollment: &view})
}

// HandleEnrollmentResume handles POST /enrollments/{id}/resume.
func (h *Handler) HandleEnrollmentResume(w http.ResponseWriter, r *http.Request) {
	flow, ok := h.enrollment(w, r)
	if !ok {
		return
	}
	err := flow.Resume(r.Context())
	writeOutcome(w, err, fromEnrollment(flow.Snapshot()))
}

// HandleEnrollmentBack handles POST /enrollments/{id}/back. Going back from
// the details step ends the flow and removes it.
func (h *Handler) HandleEnrollmentBack(w http.ResponseWriter, r *http.Request) {
	flow, ok := h.enrollment(w, r)
	if !ok {
		return
	}
	if err := flow.Back(); err != nil {
		httputil.WriteError(w, err)
		return
	}
	view := flow.Snapshot()
	if view.Closed {
		h.enrollments.remove(view.ID)
	}
	httputil.WriteJSON(w, http.StatusOK, fromEnrollment(view))
}

// HandleDeleteEnrollment handles DELETE /enrollments/{id}.
func (h *Handler) HandleDeleteEnrollment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if !h.enrollments.remove(id) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "enrollment not found"))
		return
	}
	h.logger.InfoContext(ctx, "enrollment ended",
		"request_id", requestcontext.RequestID(ctx),
		"flow_id", id,
	)
	w.WriteHeader(http.StatusNoContent)
}
