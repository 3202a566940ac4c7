// Package circuitbreaker защищает вызовы внешних API от каскадных сбоев.
// Пока breaker открыт, вызовы отклоняются сразу, без ожидания таймаута.
//
//	cb := circuitbreaker.New("portone")
//	err := cb.Execute(ctx, func(ctx context.Context) error { ... }, nil)
//	if errors.Is(err, circuitbreaker.ErrOpen) { ... }
package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"example.com/membership-billing/pkg/logger"
)

// ErrOpen возвращается, когда breaker не пропускает вызов.
var ErrOpen = errors.New("circuit breaker открыт")

// Settings — настройки Circuit Breaker.
type Settings struct {
	MaxRequests  uint32        // запросов в Half-Open
	Interval     time.Duration // сброс счётчиков в Closed
	Timeout      time.Duration // время в Open до перехода в Half-Open
	FailureRatio float64       // доля ошибок для перехода в Open
	MinRequests  uint32        // минимум запросов для расчёта доли
}

// DefaultSettings возвращает настройки по умолчанию.
func DefaultSettings() Settings {
	return Settings{
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

// Breaker — gobreaker с логированием смены состояния.
type Breaker struct {
	cb   *gobreaker.CircuitBreaker[any]
	name string
}

// New создаёт Breaker с настройками по умолчанию.
func New(name string) *Breaker {
	return NewWithSettings(name, DefaultSettings())
}

// NewWithSettings создаёт Breaker.
func NewWithSettings(name string, s Settings) *Breaker {
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= s.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log := logger.With().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Logger()

			switch to {
			case gobreaker.StateOpen:
				log.Warn().Msg("Circuit Breaker ОТКРЫТ, внешний API недоступен")
			case gobreaker.StateHalfOpen:
				log.Info().Msg("Circuit Breaker ПОЛУОТКРЫТ, пробный запрос")
			case gobreaker.StateClosed:
				log.Info().Msg("Circuit Breaker ЗАКРЫТ, внешний API восстановлен")
			}
		},
	})

	return &Breaker{cb: cb, name: name}
}

// Execute выполняет fn через breaker и возвращает её ошибку как есть.
// isFailure решает, считать ли ошибку сбоем внешней системы; nil значит
// "любая ошибка". Ответы вроде "платёж не найден" сбоем не являются
// и breaker не открывают. Если breaker не пропускает вызов, fn не
// выполняется и возвращается ErrOpen.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error, isFailure func(error) bool) error {
	var callErr error

	_, cbErr := b.cb.Execute(func() (any, error) {
		callErr = fn(ctx)
		if callErr != nil && (isFailure == nil || isFailure(callErr)) {
			return nil, callErr
		}
		return nil, nil
	})

	if errors.Is(cbErr, gobreaker.ErrOpenState) || errors.Is(cbErr, gobreaker.ErrTooManyRequests) {
		return ErrOpen
	}
	return callErr
}

// State возвращает текущее состояние.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Name возвращает имя breaker.
func (b *Breaker) Name() string {
	return b.name
}
