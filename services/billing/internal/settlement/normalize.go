package settlement

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"example.com/membership-billing/services/billing/internal/domain"
)

const defaultCurrency = "KRW"

// normalize приводит ответ шлюза к SettlementRecord. Поддерживаются три
// формы: объект платежа, {"payment": {...}} и {"payments": [...]}.
func normalize(body []byte) (*domain.SettlementRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: тело ответа не JSON объект: %v", domain.ErrSettlementUnavailable, err)
	}

	pay, err := pickPayment(raw)
	if err != nil {
		return nil, err
	}

	amount, err := pickAmount(pay)
	if err != nil {
		return nil, err
	}

	rec := &domain.SettlementRecord{
		Status:    strings.ToUpper(strings.TrimSpace(stringField(pay, "status"))),
		Amount:    amount,
		Currency:  strings.ToUpper(strings.TrimSpace(firstString(pay, "currency", "currencyCode"))),
		GatewayID: firstString(pay, "id", "paymentId"),
	}
	if rec.Currency == "" {
		rec.Currency = defaultCurrency
	}

	return rec, nil
}

func pickPayment(raw map[string]any) (map[string]any, error) {
	if v, ok := raw["payment"]; ok {
		pay, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: поле payment не объект", domain.ErrSettlementUnavailable)
		}
		return pay, nil
	}

	if v, ok := raw["payments"]; ok {
		list, ok := v.([]any)
		if v != nil && !ok {
			return nil, fmt.Errorf("%w: поле payments не массив", domain.ErrSettlementUnavailable)
		}
		if len(list) == 0 {
			return nil, domain.ErrSettlementNotFound
		}
		pay, ok := list[0].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: элемент payments не объект", domain.ErrSettlementUnavailable)
		}
		return pay, nil
	}

	for _, key := range []string{"status", "totalAmount", "amount"} {
		if _, ok := raw[key]; ok {
			return raw, nil
		}
	}

	return nil, fmt.Errorf("%w: неожиданная структура ответа", domain.ErrSettlementUnavailable)
}

// pickAmount берёт totalAmount, иначе amount. В PortOne V2 amount бывает
// объектом, тогда сумма лежит в amount.total.
func pickAmount(pay map[string]any) (int64, error) {
	for _, key := range []string{"totalAmount", "amount"} {
		v, ok := pay[key]
		if !ok || v == nil {
			continue
		}
		if obj, ok := v.(map[string]any); ok {
			v, ok = obj["total"]
			if !ok || v == nil {
				continue
			}
		}

		n, err := toInt64(v)
		if err != nil {
			return 0, fmt.Errorf("%w: поле %s: %v", domain.ErrSettlementUnavailable, key, err)
		}
		if n != 0 {
			return n, nil
		}
	}
	return 0, nil
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, nil
		}
		// 9900.0 и 9.9e3 допустимы, дробная или огромная сумма нет
		f, err := x.Float64()
		if err != nil {
			return 0, err
		}
		if f != math.Trunc(f) {
			return 0, fmt.Errorf("дробная сумма %s", x)
		}
		if f < math.MinInt64 || f >= math.MaxInt64 {
			return 0, fmt.Errorf("сумма %s вне диапазона", x)
		}
		return int64(f), nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(x), 10, 64)
	default:
		return 0, fmt.Errorf("неожиданный тип %T", v)
	}
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := stringField(m, k); strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}
