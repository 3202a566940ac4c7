// Package middleware содержит HTTP middleware публичного API биллинга.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"example.com/membership-billing/pkg/jwt"
	"example.com/membership-billing/pkg/logger"
)

// ContextUserID — ключ gin.Context с идентификатором покупателя.
const ContextUserID = "user_id"

// TokenValidator проверяет access токен. Реализуется *jwt.Validator.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*jwt.Claims, error)
}

// AuthMiddleware — проверка bearer токена покупателя.
// Подпись, срок действия и отзыв проверяет TokenValidator.
type AuthMiddleware struct {
	validator TokenValidator
}

// NewAuthMiddleware создаёт middleware аутентификации.
func NewAuthMiddleware(validator TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: validator}
}

// Handle возвращает Gin handler function для middleware.
func (m *AuthMiddleware) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		log := logger.FromContext(ctx)

		token := ExtractBearerToken(c)
		if token == "" {
			log.Debug().Msg("Отсутствует токен авторизации")
			abortUnauthorized(c, "Требуется авторизация")
			return
		}

		claims, err := m.validator.Validate(ctx, token)
		if err != nil {
			log.Warn().Err(err).Msg("Ошибка валидации токена")
			abortUnauthorized(c, "Невалидный токен")
			return
		}

		userID := claims.Owner()
		if userID == "" {
			log.Warn().Msg("В токене нет идентификатора пользователя")
			abortUnauthorized(c, "Невалидный токен")
			return
		}

		c.Set(ContextUserID, userID)
		c.Set("jti", claims.ID)

		log.Debug().
			Str("user_id", userID).
			Str("jti", claims.ID).
			Msg("Пользователь аутентифицирован")

		c.Next()
	}
}

// UserID возвращает покупателя, установленного AuthMiddleware.
func UserID(c *gin.Context) (string, bool) {
	v, ok := c.Get(ContextUserID)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}

// ExtractBearerToken извлекает токен из Authorization header.
// Формат: "Bearer <token>", префикс регистронезависимый.
func ExtractBearerToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if auth == "" {
		return ""
	}

	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":   "unauthorized",
		"message": message,
	})
}
