package server

import (
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v81/webhook"
)

const maxWebhookBody = 1 << 20 // Stripe caps event payloads well under 1 MiB

// handleStripeWebhook verifies the event signature and hands the event to the
// reconciler. A bad signature is a hard 400 so Stripe retries with a fresh
// payload; reconciler errors are logged but still answered 200, because the
// handlers are idempotent and a retry storm helps nobody.
func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	event, err := webhook.ConstructEventWithOptions(body, signature, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		s.log.Warn("webhook signature verification failed", "err", err)
		http.Error(w, "signature verification failed", http.StatusBadRequest)
		return
	}

	if err := s.reconciler.HandleEvent(r.Context(), event); err != nil {
		s.log.Error("webhook event processing", "event_id", event.ID, "event_type", event.Type, "err", err)
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
