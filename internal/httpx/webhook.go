package httpx

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/go-realtime-raffle/internal/reconcile"
	"github.com/ariefcatur/go-realtime-raffle/internal/tickets"
	"github.com/pkg/errors"
)

// webhookBody covers the provider's notification shapes. Only the ids are
// trusted; the status is always fetched back from the provider.
type webhookBody struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Data   struct {
		ID flexibleID `json:"id"`
	} `json:"data"`
	ExternalReference string `json:"external_reference"`
}

func (h *TicketsHandler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	var body webhookBody
	raw, _ := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			h.Log.Warn().Err(err).Msg("webhook body not json, using query")
		}
	}

	q := r.URL.Query()
	kind := firstNonEmpty(body.Type, q.Get("type"), q.Get("topic"))
	if kind != "" && kind != "payment" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	n := reconcile.Notification{
		PaymentHandle:  firstNonEmpty(string(body.Data.ID), q.Get("data.id"), q.Get("id")),
		OrderReference: firstNonEmpty(body.ExternalReference, q.Get("external_reference")),
	}
	if n.PaymentHandle == "" && n.OrderReference == "" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	log := h.Log.With().Str("payment_handle", n.PaymentHandle).Str("order_reference", n.OrderReference).Logger()
	res, err := h.Reconciler.HandleNotification(ctx, n)
	switch {
	case err == nil:
		log.Info().Str("outcome", string(res.Outcome)).Ints("numbers", res.Numbers).Bool("duplicate", res.Duplicate).Msg("payment notification handled")
		writeJSON(w, http.StatusOK, map[string]string{"status": "processed"})
	case errors.Is(err, tickets.ErrUnknownReference):
		log.Info().Msg("payment notification for unknown order")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
	default:
		// 5xx makes the provider deliver again.
		log.Error().Err(err).Msg("payment notification failed")
		writeError(w, http.StatusInternalServerError, "processing failed")
	}
}

// flexibleID accepts the id as a JSON number or string.
type flexibleID string

func (id *flexibleID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = flexibleID(s)
		return nil
	}
	if string(b) == "null" {
		return nil
	}
	*id = flexibleID(b)
	return nil
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
