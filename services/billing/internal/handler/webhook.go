package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/membership-billing/pkg/logger"
	"example.com/membership-billing/services/billing/internal/service"
	"example.com/membership-billing/services/billing/internal/webhook"
)

// maxWebhookBody — предел тела вебхука.
const maxWebhookBody = 1 << 20

// WebhookHandler принимает уведомления PortOne.
type WebhookHandler struct {
	processor WebhookProcessor
}

// NewWebhookHandler создаёт обработчик вебхуков.
func NewWebhookHandler(processor WebhookProcessor) *WebhookHandler {
	return &WebhookHandler{processor: processor}
}

// Receive проверяет подпись по сырому телу и передаёт уведомление в
// сервис. 400 только при провале проверки, иначе 200, чтобы шлюз не
// повторял доставку.
// POST /api/v1/billing/webhook/
func (h *WebhookHandler) Receive(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		logger.Ctx(c.Request.Context()).Warn().Err(err).Msg("Не удалось прочитать тело вебхука")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "Некорректное тело запроса"})
		return
	}

	result, err := h.processor.Handle(c.Request.Context(), service.WebhookRequest{
		Body:        body,
		ContentType: c.GetHeader("Content-Type"),
		ID:          c.GetHeader(webhook.HeaderID),
		Timestamp:   c.GetHeader(webhook.HeaderTimestamp),
		Signature:   c.GetHeader(webhook.HeaderSignature),
	})
	if err != nil {
		message := "Подпись вебхука не прошла проверку"
		if errors.Is(err, webhook.ErrContentType) {
			message = "Ожидается application/json"
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "verification_failed", Message: message})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "result": string(result)})
}
