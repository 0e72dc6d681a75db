package handler

import (
	"net/http"

	"github.com/xenking/learnhub/internal/domain/auth"
	"github.com/xenking/learnhub/internal/domain/coupon"
)

func (h *Handler) createCoupon(w http.ResponseWriter, r *http.Request) {
	var req createCouponRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.Coupons.Create(r.Context(), auth.FromContext(r.Context()), coupon.CreateInput{
		Code:         req.Code,
		DiscountType: coupon.DiscountType(req.DiscountType),
		Value:        req.Value,
		CourseIDs:    req.CourseIDs,
		ValidFrom:    req.ValidFrom,
		ValidUntil:   req.ValidUntil,
		MaxUses:      req.MaxUses,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCoupon(c))
}

func (h *Handler) listCoupons(w http.ResponseWriter, r *http.Request) {
	cs, err := h.Coupons.List(r.Context(), auth.FromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]couponResponse, 0, len(cs))
	for i := range cs {
		out = append(out, toCoupon(&cs[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// updateCoupon edits the terms of a coupon that has not been redeemed yet.
func (h *Handler) updateCoupon(w http.ResponseWriter, r *http.Request) {
	var req updateCouponRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.Coupons.Update(r.Context(), auth.FromContext(r.Context()), r.PathValue("code"), coupon.UpdateInput{
		Value:      req.Value,
		CourseIDs:  req.CourseIDs,
		ValidFrom:  req.ValidFrom,
		ValidUntil: req.ValidUntil,
		MaxUses:    req.MaxUses,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCoupon(c))
}

func (h *Handler) deactivateCoupon(w http.ResponseWriter, r *http.Request) {
	c, err := h.Coupons.Deactivate(r.Context(), auth.FromContext(r.Context()), r.PathValue("code"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCoupon(c))
}
