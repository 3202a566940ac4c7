package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/membership-billing/pkg/logger"
	"example.com/membership-billing/services/billing/internal/domain"
)

// ErrorResponse — стандартный формат ошибки API.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// gatewayDisabledMessage — ответ prepare и complete при PORTONE_ENABLED=false.
const gatewayDisabledMessage = "PortOne disabled"

// kindStatus — HTTP статус для каждого исхода подтверждения.
// Исходы, которых нет в таблице, отдаются как 500.
var kindStatus = map[domain.Kind]int{
	domain.KindWrongStatus:           http.StatusBadRequest,
	domain.KindNotPaid:               http.StatusBadRequest,
	domain.KindMismatch:              http.StatusBadRequest,
	domain.KindInvalidRequest:        http.StatusBadRequest,
	domain.KindVerificationFailed:    http.StatusBadRequest,
	domain.KindNotFound:              http.StatusNotFound,
	domain.KindWrongOwner:            http.StatusNotFound,
	domain.KindGatewayNotFound:       http.StatusNotFound,
	domain.KindSettlementUnavailable: http.StatusBadGateway,
}

// kindMessage — сообщения для покупателя. Внутренние причины наружу
// не отдаются.
var kindMessage = map[domain.Kind]string{
	domain.KindWrongStatus:           "Платёж уже закрыт",
	domain.KindNotPaid:               "Оплата не завершена",
	domain.KindMismatch:              "Сумма оплаты не совпадает с тарифом",
	domain.KindVerificationFailed:    "Не удалось проверить запрос",
	domain.KindNotFound:              "Платёж не найден",
	domain.KindWrongOwner:            "Платёж не найден",
	domain.KindGatewayNotFound:       "Платёж не найден в платёжной системе",
	domain.KindSettlementUnavailable: "Платёжная система временно недоступна",
}

// StatusForKind возвращает HTTP статус исхода.
func StatusForKind(kind domain.Kind) int {
	if code, ok := kindStatus[kind]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// writeOutcomeError отвечает ошибкой для неуспешного исхода.
func writeOutcomeError(c *gin.Context, out domain.Outcome) {
	code := StatusForKind(out.Kind)

	message, ok := kindMessage[out.Kind]
	switch {
	case errors.Is(out.Err, domain.ErrGatewayDisabled):
		message = gatewayDisabledMessage
	case out.Kind == domain.KindInvalidRequest && out.Err != nil:
		message = out.Err.Error()
	case !ok:
		message = "Внутренняя ошибка сервера"
	}

	c.JSON(code, ErrorResponse{Error: string(out.Kind), Message: message})
}

// writePrepareError отвечает ошибкой создания попытки оплаты.
func writePrepareError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrGatewayDisabled):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: string(domain.KindInvalidRequest), Message: gatewayDisabledMessage})
	case errors.Is(err, domain.ErrUnknownPlan):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: string(domain.KindInvalidRequest), Message: "Неизвестный тариф"})
	default:
		logger.Ctx(c.Request.Context()).Error().Err(err).Msg("Ошибка создания попытки оплаты")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: string(domain.KindInternal), Message: "Внутренняя ошибка сервера"})
	}
}

// badRequest отвечает 400 на невалидное тело запроса.
func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: string(domain.KindInvalidRequest), Message: message})
}
