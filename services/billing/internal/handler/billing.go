package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/membership-billing/pkg/logger"
	"example.com/membership-billing/services/billing/internal/domain"
	"example.com/membership-billing/services/billing/internal/middleware"
)

// HeaderIdempotencyKey — необязательный ключ идемпотентности prepare.
const HeaderIdempotencyKey = "Idempotency-Key"

// BillingHandler — тарифы, создание и подтверждение оплаты.
type BillingHandler struct {
	checkout  Checkout
	confirmer Confirmer
}

// NewBillingHandler создаёт обработчик оплаты.
func NewBillingHandler(checkout Checkout, confirmer Confirmer) *BillingHandler {
	return &BillingHandler{
		checkout:  checkout,
		confirmer: confirmer,
	}
}

// === Request/Response DTOs ===

// PlanResponse — тариф в ответе.
type PlanResponse struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Amount   int64    `json:"amount"`
	Currency string   `json:"currency"`
	Interval string   `json:"interval"`
	Features []string `json:"features"`
}

// PlansResponse — ответ со списком тарифов.
type PlansResponse struct {
	Plans []PlanResponse `json:"plans"`
}

// PrepareRequest — запрос на создание попытки оплаты.
type PrepareRequest struct {
	Plan string `json:"plan"`
}

// PrepareResponse — параметры для клиентского SDK PortOne.
type PrepareResponse struct {
	PaymentID   string `json:"paymentId"`
	OrderName   string `json:"orderName"`
	TotalAmount int64  `json:"totalAmount"`
	Currency    string `json:"currency"`
	PayMethod   string `json:"payMethod"`
}

// CompleteRequest — запрос на подтверждение оплаты.
type CompleteRequest struct {
	PaymentID string `json:"paymentId"`
}

// CompleteResponse — ответ на успешное подтверждение.
type CompleteResponse struct {
	OK               bool   `json:"ok"`
	Message          string `json:"message"`
	AlreadyCompleted bool   `json:"alreadyCompleted"`
}

// === Handlers ===

// ListPlans возвращает каталог тарифов.
// GET /api/v1/billing/plans/
func (h *BillingHandler) ListPlans(c *gin.Context) {
	plans := h.checkout.Plans()

	resp := PlansResponse{Plans: make([]PlanResponse, 0, len(plans))}
	for _, p := range plans {
		resp.Plans = append(resp.Plans, PlanResponse{
			ID:       string(p.ID),
			Name:     p.Name,
			Amount:   p.Amount,
			Currency: p.Currency,
			Interval: p.Interval,
			Features: p.Features,
		})
	}

	c.JSON(http.StatusOK, resp)
}

// Prepare создаёт попытку оплаты.
// POST /api/v1/billing/payment/prepare/
func (h *BillingHandler) Prepare(c *gin.Context) {
	userID, ok := h.getUserID(c)
	if !ok {
		return
	}

	var req PrepareRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	prepared, err := h.checkout.Prepare(c.Request.Context(), userID, req.Plan, c.GetHeader(HeaderIdempotencyKey))
	if err != nil {
		writePrepareError(c, err)
		return
	}

	c.JSON(http.StatusOK, PrepareResponse{
		PaymentID:   prepared.PaymentID,
		OrderName:   prepared.OrderName,
		TotalAmount: prepared.TotalAmount,
		Currency:    prepared.Currency,
		PayMethod:   prepared.PayMethod,
	})
}

// Complete подтверждает оплату после возврата покупателя со страницы PortOne.
// POST /api/v1/billing/payment/complete/
func (h *BillingHandler) Complete(c *gin.Context) {
	userID, ok := h.getUserID(c)
	if !ok {
		return
	}

	var req CompleteRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	out := h.confirmer.Confirm(c.Request.Context(), userID, req.PaymentID)
	if !out.Kind.Success() {
		writeOutcomeError(c, out)
		return
	}

	resp := CompleteResponse{OK: true, Message: "Оплата подтверждена"}
	if out.Kind == domain.KindAlreadyCompleted {
		resp.Message = "Платёж уже обработан"
		resp.AlreadyCompleted = true
	}
	c.JSON(http.StatusOK, resp)
}

// getUserID достаёт покупателя, установленного AuthMiddleware.
func (h *BillingHandler) getUserID(c *gin.Context) (string, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		logger.Ctx(c.Request.Context()).Warn().Msg("user_id отсутствует в контексте")
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "Требуется авторизация"})
		return "", false
	}
	return userID, true
}

// bindOptionalJSON разбирает тело, пустое тело допустимо.
// Обязательность полей проверяют сервисы.
func bindOptionalJSON(c *gin.Context, dst any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		// chunked запрос без тела приходит с ContentLength == -1
		if errors.Is(err, io.EOF) {
			return true
		}
		badRequest(c, "Некорректное тело запроса")
		return false
	}
	return true
}
