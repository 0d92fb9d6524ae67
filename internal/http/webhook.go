package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/crmkit/tenant-sync/internal/metrics"
	"github.com/crmkit/tenant-sync/internal/service/receiver"
	"github.com/crmkit/tenant-sync/internal/signature"
	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

const maxWebhookBody = 1 << 20

// WebhookReceiver is what the endpoint needs from the receiver layer;
// *receiver.Service satisfies it.
type WebhookReceiver interface {
	Handle(ctx context.Context, body []byte, sigHeader string) (receiver.Outcome, error)
}

// webhookHandler accepts signed confirmations. Non-2xx is reserved for
// signature and parse failures so the sender's retry loop only fires on
// genuine delivery problems; duplicates and no-ops get 200.
func webhookHandler(rcv WebhookReceiver) echo.HandlerFunc {
	return func(c echo.Context) error {
		body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "read body"})
		}

		sigHeader := c.Request().Header.Get(signature.Header)
		event := c.Request().Header.Get("x-webhook-event")

		outcome, err := rcv.Handle(c.Request().Context(), body, sigHeader)
		if err != nil {
			metrics.WebhooksReceivedTotal.WithLabelValues("rejected", event).Inc()
			switch {
			case errors.Is(err, signature.ErrMalformedSignature),
				errors.Is(err, signature.ErrStaleSignature),
				errors.Is(err, signature.ErrInvalidSignature):
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
			case errors.Is(err, receiver.ErrBadEnvelope):
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad envelope"})
			case errors.Is(err, receiver.ErrUnknownTenant):
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown tenant"})
			}
			// store trouble: 5xx so the sender retries with backoff
			log.Errorf("webhook handling failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal"})
		}

		metrics.WebhooksReceivedTotal.WithLabelValues(string(outcome), event).Inc()

		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "outcome": string(outcome)})
	}
}
