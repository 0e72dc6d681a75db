package handler

import (
	"net/http"

	"github.com/xenking/learnhub/internal/domain/auth"
)

func (h *Handler) getQuote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	courseID := q.Get("course_id")
	if courseID == "" {
		writeError(w, r, badRequest("course_id is required"))
		return
	}
	quote, err := h.Pricing.Quote(r.Context(), auth.FromContext(r.Context()), courseID, q.Get("coupon_code"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toQuote(quote))
}

// startCheckout opens a hosted payment session and returns where to send the
// learner.
func (h *Handler) startCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	handle, err := h.Checkout.Start(r.Context(), auth.FromContext(r.Context()), req.CourseID, req.CouponCode)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, checkoutResponse{
		RedirectURL: handle.URL,
		SessionID:   handle.SessionID,
	})
}

func (h *Handler) getCheckout(w http.ResponseWriter, r *http.Request) {
	p, err := h.Checkout.Status(r.Context(), auth.FromContext(r.Context()), r.PathValue("session_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPayment(p))
}
