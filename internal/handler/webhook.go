package handler

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/refactor-gateway/internal/apperror"
	"github.com/iliyamo/refactor-gateway/internal/queue"
)

// maxWebhookBody bounds the signed payload read into memory.
const maxWebhookBody = 64 << 10

type WebhookParser interface {
	Parse(payload []byte, signature string) (queue.SubscriptionChangedEvent, bool, error)
}

type EventPublisher interface {
	PublishSubscriptionChanged(ctx context.Context, ev queue.SubscriptionChangedEvent) error
}

type EventApplier interface {
	Apply(ctx context.Context, ev queue.SubscriptionChangedEvent) error
}

// WebhookHandler receives payment provider events. Verified events go to
// the queue when one is configured and are applied inline otherwise.
type WebhookHandler struct {
	Parser    WebhookParser
	Publisher EventPublisher // nil disables the queue
	Applier   EventApplier
	Log       zerolog.Logger
}

func NewWebhookHandler(parser WebhookParser, publisher EventPublisher, applier EventApplier, log zerolog.Logger) *WebhookHandler {
	if parser == nil || applier == nil {
		panic("nil dependency passed to NewWebhookHandler")
	}
	return &WebhookHandler{Parser: parser, Publisher: publisher, Applier: applier, Log: log.With().Str("component", "webhook").Logger()}
}

// Stripe handles POST /webhooks/stripe.
func (h *WebhookHandler) Stripe(c echo.Context) error {
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody+1))
	if err != nil {
		return apperror.Validation("unreadable body")
	}
	if len(payload) > maxWebhookBody {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "payload too large")
	}

	ev, ok, err := h.Parser.Parse(payload, c.Request().Header.Get("Stripe-Signature"))
	if err != nil {
		h.Log.Warn().Err(err).Msg("rejected webhook")
		return err
	}
	if !ok {
		return c.JSON(http.StatusOK, echo.Map{"received": true, "handled": false})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()
	log := h.Log.With().Str("event_id", ev.EventID).Str("event_type", ev.EventType).Logger()

	if h.Publisher != nil {
		err := h.Publisher.PublishSubscriptionChanged(ctx, ev)
		if err == nil {
			log.Info().Msg("event queued")
			return c.JSON(http.StatusOK, echo.Map{"received": true, "handled": true})
		}
		log.Warn().Err(err).Msg("publish failed, applying inline")
	}

	if err := h.Applier.Apply(ctx, ev); err != nil {
		if apperror.IsKind(err, apperror.KindNotFound) {
			// Unknown accounts are acknowledged so the provider stops retrying.
			log.Warn().Err(err).Msg("event for unknown account")
			return c.JSON(http.StatusOK, echo.Map{"received": true, "handled": false})
		}
		return err
	}
	log.Info().Str("status", string(ev.Status)).Msg("event applied")
	return c.JSON(http.StatusOK, echo.Map{"received": true, "handled": true})
}
