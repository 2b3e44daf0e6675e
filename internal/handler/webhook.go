package handler

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/stay-reservation/internal/service"
)

// maxWebhookBody caps provider payloads.
const maxWebhookBody = 1 << 20

// WebhookHandler receives payment provider notifications.
type WebhookHandler struct {
	Payments *service.Payments
	Now      Clock
}

func NewWebhookHandler(p *service.Payments, now Clock) *WebhookHandler {
	if p == nil {
		panic("nil payments passed to NewWebhookHandler")
	}
	return &WebhookHandler{Payments: p, Now: clockOrDefault(now)}
}

// Payment handles POST /v1/webhooks/payments.  The raw body is
// authenticated before it is decoded so the signature covers exactly the
// bytes the provider sent.  Every accepted event answers 200, including
// redeliveries and events that could not confirm their hold, so the
// provider stops retrying; the outcome field says what happened.
func (h *WebhookHandler) Payment(c echo.Context) error {
	raw, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody+1))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unreadable body"})
	}
	if len(raw) > maxWebhookBody {
		return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{"error": "payload too large"})
	}
	now := h.Now()
	if err := h.Payments.Authenticate(raw, c.Request().Header.Get(service.SignatureHeader), now); err != nil {
		log.Printf("webhook: rejected delivery from %s: %v", c.RealIP(), err)
		return writeError(c, err)
	}

	var in service.IngestInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid json payload"})
	}
	res, err := h.Payments.Ingest(c.Request().Context(), in, now)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}
