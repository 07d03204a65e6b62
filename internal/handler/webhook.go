package handler

import (
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"

	"github.com/Stan7771213/paytapper-sub000/internal/service"
)

// Тело вебхука Stripe не превышает десятков килобайт; лимит отсекает мусор.
const maxWebhookBody = 1 << 20

// StripeWebhook принимает события платёжного провайдера.
// Подпись проверяется по сырому телу запроса до любого разбора JSON.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	event, err := webhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), h.webhookSecret)
	if err != nil {
		h.logger.Warn("webhook signature verification failed", zap.Error(err))
		h.metrics.Errors.WithLabelValues("webhook_signature").Inc()
		// Тело запроса в ответ не попадает: содержимое не проходило проверку.
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	outcome, err := h.service.ProcessWebhookEvent(r.Context(), event)
	if err != nil {
		h.logger.Error("webhook processing error",
			zap.Error(err), zap.String("event_type", string(event.Type)))
		h.metrics.Errors.WithLabelValues("webhook_processing").Inc()
		// 5xx заставит провайдера повторить доставку.
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.metrics.WebhookEvents.WithLabelValues(string(event.Type), string(outcome)).Inc()
	if outcome == service.WebhookOutcomeRecorded {
		h.metrics.PaymentsRecorded.Inc()
	}

	w.WriteHeader(http.StatusOK)
}
