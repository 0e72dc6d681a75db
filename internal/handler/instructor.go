package handler

import (
	"net/http"

	"github.com/xenking/learnhub/internal/domain/auth"
	"github.com/xenking/learnhub/internal/domain/instructor"
)

func (h *Handler) applyInstructor(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.Instructors.Apply(r.Context(), auth.FromContext(r.Context()), req.Bio)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProfile(p))
}

func (h *Handler) decideInstructor(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.Instructors.Decide(r.Context(), auth.FromContext(r.Context()),
		r.PathValue("id"), instructor.Status(req.Outcome))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfile(p))
}

func (h *Handler) listInstructors(w http.ResponseWriter, r *http.Request) {
	ps, err := h.Instructors.List(r.Context(), auth.FromContext(r.Context()),
		instructor.Status(r.URL.Query().Get("status")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]profileResponse, 0, len(ps))
	for i := range ps {
		out = append(out, toProfile(&ps[i]))
	}
	writeJSON(w, http.StatusOK, out)
}
