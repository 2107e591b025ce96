package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"healthbridge.app/syncer/internal/model"
	"healthbridge.app/syncer/internal/provider"
	"healthbridge.app/syncer/internal/service"
)

const maxWebhookBody = 1 << 20

type WebhookHandler struct {
	webhooks service.WebhookService
}

func NewWebhookHandler(webhooks service.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks}
}

// Verify answers the subscriber endpoint handshake: 204 for the configured
// code, 404 otherwise.
func (h *WebhookHandler) Verify(c *gin.Context) {
	ok, err := h.webhooks.VerifySubscriber(c.Request.Context(), model.Provider(c.Param("provider")), c.Request.URL.Query())
	if err != nil {
		respondError(c, err)
		return
	}
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *WebhookHandler) Receive(c *gin.Context) {
	ctx := c.Request.Context()
	p := model.Provider(c.Param("provider"))

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}
	if len(body) > maxWebhookBody {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
		return
	}

	outcome, err := h.webhooks.Handle(ctx, p, &provider.WebhookRequest{
		Header: c.Request.Header.Clone(),
		Query:  c.Request.URL.Query(),
		Body:   body,
	})
	if errors.Is(err, provider.ErrInvalidSignature) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	slog.DebugContext(ctx, "webhook accepted",
		"provider", p,
		"events", outcome.Events,
		"enqueued", outcome.Enqueued)
	c.Status(http.StatusNoContent)
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
