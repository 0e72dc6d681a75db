package handler

import (
	"net/http"

	"github.com/xenking/learnhub/internal/domain/auth"
	"github.com/xenking/learnhub/internal/domain/enrollment"
)

func (h *Handler) listEnrollments(w http.ResponseWriter, r *http.Request) {
	status := enrollment.Status(r.URL.Query().Get("status"))
	switch status {
	case "", enrollment.StatusActive, enrollment.StatusCompleted:
	default:
		writeError(w, r, badRequest("unknown status %q", status))
		return
	}
	es, err := h.Enrollments.List(r.Context(), auth.FromContext(r.Context()), status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEnrollments(es))
}

func (h *Handler) reportProgress(w http.ResponseWriter, r *http.Request) {
	var req progressRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	e, err := h.Enrollments.ReportProgress(r.Context(), auth.FromContext(r.Context()), req.EnrollmentID, req.Progress)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEnrollment(*e))
}

// completeUnit records a finished lesson. The body is optional; event_id
// makes redelivered completions idempotent.
func (h *Handler) completeUnit(w http.ResponseWriter, r *http.Request) {
	var req unitCompleteRequest
	if r.ContentLength != 0 {
		if err := h.decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}
	e, err := h.Enrollments.CompleteUnit(r.Context(), auth.FromContext(r.Context()),
		r.PathValue("id"), r.PathValue("unit_id"), req.EventID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEnrollment(*e))
}
