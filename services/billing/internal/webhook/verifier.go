// Package webhook проверяет подлинность вебхуков PortOne по схеме
// Standard Webhooks: HMAC-SHA256 от "{id}.{timestamp}.{body}".
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"math"
	"mime"
	"strconv"
	"strings"
	"time"
)

// Заголовки Standard Webhooks.
const (
	HeaderID        = "webhook-id"
	HeaderTimestamp = "webhook-timestamp"
	HeaderSignature = "webhook-signature"
)

// signatureVersion — единственная поддерживаемая версия подписи.
const signatureVersion = "v1"

// DefaultTolerance — допустимое расхождение часов отправителя и сервера.
const DefaultTolerance = 300 * time.Second

// Ошибки проверки. Все они означают ответ 400 и отсутствие изменений.
var (
	ErrMissingSecret    = errors.New("секрет вебхука не задан")
	ErrMissingHeaders   = errors.New("отсутствуют заголовки вебхука")
	ErrInvalidTimestamp = errors.New("некорректный webhook-timestamp")
	ErrStaleTimestamp   = errors.New("webhook-timestamp вне допустимого окна")
	ErrBadSignature     = errors.New("подпись вебхука не совпадает")
	ErrContentType      = errors.New("ожидается Content-Type application/json")
)

// Verifier проверяет подпись и свежесть вебхука. Не хранит состояния.
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// Option настраивает Verifier.
type Option func(*Verifier)

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// WithTolerance задаёт окно допустимого времени.
func WithTolerance(d time.Duration) Option {
	return func(v *Verifier) { v.tolerance = d }
}

// NewVerifier создаёт Verifier с общим секретом.
func NewVerifier(secret string, opts ...Option) *Verifier {
	v := &Verifier{
		secret:    []byte(secret),
		tolerance: DefaultTolerance,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify возвращает nil, если вебхук подлинный и свежий.
// signature имеет вид "v1,<base64>"; без запятой используется целиком,
// другая версия перед запятой отклоняется.
func (v *Verifier) Verify(body []byte, id, timestamp, signature string) error {
	if len(v.secret) == 0 {
		return ErrMissingSecret
	}
	if id == "" || timestamp == "" || signature == "" {
		return ErrMissingHeaders
	}

	ts, err := strconv.ParseInt(strings.TrimSpace(timestamp), 10, 64)
	if err != nil {
		return ErrInvalidTimestamp
	}
	skew := math.Abs(float64(v.now().Unix() - ts))
	if skew > v.tolerance.Seconds() {
		return ErrStaleTimestamp
	}

	received := signature
	if i := strings.IndexByte(signature, ','); i >= 0 {
		if signature[:i] != signatureVersion {
			return ErrBadSignature
		}
		received = signature[i+1:]
	}

	expected := Sign(v.secret, id, timestamp, body)
	if !hmac.Equal([]byte(expected), []byte(received)) {
		return ErrBadSignature
	}

	return nil
}

// Sign вычисляет base64(HMAC-SHA256(secret, "{id}.{timestamp}.{body}")).
func Sign(secret []byte, id, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(id))
	mac.Write([]byte{'.'})
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// CheckContentType пропускает только application/json (с параметрами).
func CheckContentType(contentType string) error {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "application/json" {
		return ErrContentType
	}
	return nil
}
