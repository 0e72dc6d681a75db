package handler

import (
	"net/http"

	"github.com/xenking/learnhub/internal/domain/auth"
)

func (h *Handler) listCertificates(w http.ResponseWriter, r *http.Request) {
	cs, err := h.Certificates.List(r.Context(), auth.FromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCertificates(cs))
}

func (h *Handler) getDashboard(w http.ResponseWriter, r *http.Request) {
	v, err := h.Dashboard.View(r.Context(), auth.FromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDashboard(v))
}
