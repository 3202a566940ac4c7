package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"example.com/membership-billing/pkg/logger"
)

// rateLimitKeyPrefix — префикс счётчиков в Redis.
const rateLimitKeyPrefix = "billing:rate:"

// rateLimitScript увеличивает счётчик окна и ставит TTL на первый запрос.
var rateLimitScript = redis.NewScript(`
	local current = redis.call("INCR", KEYS[1])
	if current == 1 then
		redis.call("EXPIRE", KEYS[1], ARGV[1])
	end
	return current
`)

// RateLimitMiddleware ограничивает число запросов за окно (fixed window
// counter в Redis). Ключ — покупатель, если он уже известен, иначе IP.
type RateLimitMiddleware struct {
	redis  redis.UniversalClient
	limit  int
	window time.Duration
}

// RateLimitConfig — конфигурация rate limiter.
type RateLimitConfig struct {
	Redis  redis.UniversalClient
	Limit  int           // по умолчанию 60
	Window time.Duration // по умолчанию 1 минута
}

// NewRateLimitMiddleware создаёт middleware для rate limiting.
func NewRateLimitMiddleware(cfg RateLimitConfig) *RateLimitMiddleware {
	if cfg.Limit <= 0 {
		cfg.Limit = 60
	}
	if cfg.Window < time.Second {
		cfg.Window = time.Minute
	}

	return &RateLimitMiddleware{
		redis:  cfg.Redis,
		limit:  cfg.Limit,
		window: cfg.Window,
	}
}

// Handle возвращает Gin handler function для middleware.
func (m *RateLimitMiddleware) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logger.FromContext(c.Request.Context())

		key := rateLimitKeyPrefix + "ip:" + c.ClientIP()
		if userID, ok := UserID(c); ok {
			key = rateLimitKeyPrefix + "user:" + userID
		}

		count, err := rateLimitScript.Run(c.Request.Context(), m.redis, []string{key}, int(m.window.Seconds())).Int()
		if err != nil {
			// fail-open: без Redis API остаётся доступным
			log.Warn().Err(err).Msg("Ошибка проверки rate limit")
			c.Next()
			return
		}

		remaining := m.limit - count
		if remaining < 0 {
			remaining = 0
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(m.limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(m.window).Unix(), 10))

		if count > m.limit {
			log.Warn().
				Str("key", key).
				Int("limit", m.limit).
				Msg("Rate limit превышен")

			seconds := int(m.window.Seconds())
			c.Header("Retry-After", strconv.Itoa(seconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": fmt.Sprintf("Превышен лимит запросов. Попробуйте через %d секунд", seconds),
			})
			return
		}

		c.Next()
	}
}
