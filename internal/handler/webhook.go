package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/learnhub/internal/domain/auth"
	"github.com/xenking/learnhub/internal/domain/checkout"
)

const signatureHeader = "X-Signature"

// Processor event types.
const (
	eventSucceeded = "checkout.session.succeeded"
	eventFailed    = "checkout.session.failed"
)

type webhookEvent struct {
	Type          string
	SessionID     string
	TransactionID string
}

func decodeWebhook(body []byte) (webhookEvent, error) {
	var ev webhookEvent
	d := jx.DecodeBytes(body)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "type":
			v, err := d.Str()
			ev.Type = v
			return err
		case "data":
			return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				switch string(key) {
				case "session_id":
					v, err := d.Str()
					ev.SessionID = v
					return err
				case "transaction_id":
					v, err := d.Str()
					ev.TransactionID = v
					return err
				default:
					return d.Skip()
				}
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return ev, errors.Wrap(err, "decode event")
	}
	return ev, nil
}

// paymentWebhook applies processor notifications. Redeliveries are
// acknowledged with 204 since settlement is idempotent.
func (h *Handler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBody))
	if err != nil {
		writeError(w, r, badRequest("read body: %v", err))
		return
	}
	if !VerifySignature(h.webhookSecret, body, r.Header.Get(signatureHeader)) {
		writeError(w, r, errors.Wrap(auth.ErrUnauthenticated, "invalid webhook signature"))
		return
	}

	ev, err := decodeWebhook(body)
	if err != nil {
		writeError(w, r, badRequest("%v", err))
		return
	}

	out := checkout.Outcome{SessionID: ev.SessionID, TransactionID: ev.TransactionID}
	switch ev.Type {
	case eventSucceeded:
		out.Status = checkout.OutcomeSucceeded
	case eventFailed:
		out.Status = checkout.OutcomeFailed
	default:
		zctx.From(r.Context()).Debug("Ignoring webhook event", zap.String("type", ev.Type))
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := h.Checkout.HandleOutcome(r.Context(), out); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
