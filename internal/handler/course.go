package handler

import (
	"net/http"

	"github.com/xenking/learnhub/internal/domain/auth"
	"github.com/xenking/learnhub/internal/domain/course"
)

func (h *Handler) createCourse(w http.ResponseWriter, r *http.Request) {
	var req createCourseRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.Courses.Create(r.Context(), auth.FromContext(r.Context()), course.CreateInput{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Thumbnail:   req.Thumbnail,
		Price:       req.Price,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCourse(c))
}

func (h *Handler) getCourse(w http.ResponseWriter, r *http.Request) {
	c, err := h.Courses.Get(r.Context(), auth.FromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCourse(c))
}

func (h *Handler) setCourseStatus(w http.ResponseWriter, r *http.Request) {
	var req courseStatusRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.Courses.SetStatus(r.Context(), auth.FromContext(r.Context()),
		r.PathValue("id"), course.Status(req.Status))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCourse(c))
}
