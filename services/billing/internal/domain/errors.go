package domain

import "errors"

// Доменные ошибки сервиса биллинга.
var (
	// ErrAttemptNotFound — попытка оплаты не найдена.
	ErrAttemptNotFound = errors.New("попытка оплаты не найдена")

	// ErrUnknownPlan — тариф отсутствует в каталоге.
	ErrUnknownPlan = errors.New("неизвестный тариф")

	// ErrUserNotFound — пользователь для активации членства не найден.
	ErrUserNotFound = errors.New("пользователь не найден")

	// ErrSettlementNotFound — шлюз не знает платёж с таким ID.
	ErrSettlementNotFound = errors.New("платёж не найден в шлюзе")

	// ErrSettlementUnavailable — шлюз недоступен или ответил некорректно.
	ErrSettlementUnavailable = errors.New("шлюз оплаты недоступен")

	// ErrAmountMismatch — сумма или валюта не совпали с попыткой.
	ErrAmountMismatch = errors.New("сумма или валюта платежа не совпадает")

	// ErrNotPaid — шлюз сообщил, что оплата не завершена.
	ErrNotPaid = errors.New("оплата не завершена")

	// ErrWrongOwner — попытка принадлежит другому пользователю.
	ErrWrongOwner = errors.New("попытка оплаты принадлежит другому пользователю")

	// ErrWrongStatus — попытка уже закрыта без оплаты.
	ErrWrongStatus = errors.New("недопустимый статус попытки оплаты")

	// ErrGatewayDisabled — оплата через PortOne выключена.
	ErrGatewayDisabled = errors.New("оплата через PortOne отключена")

	// ErrGatewayNotConfigured — не задан API secret шлюза.
	ErrGatewayNotConfigured = errors.New("не задан API secret шлюза")
)
