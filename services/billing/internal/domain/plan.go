package domain

import (
	"strings"
)

// PlanID — идентификатор тарифа.
type PlanID string

const (
	PlanStandard PlanID = "standard"
	PlanPremium  PlanID = "premium"
)

// IntervalOneTime — тариф оплачивается разово на фиксированный срок.
const IntervalOneTime = "onetime"

// orderNamePrefix добавляется к названию тарифа в названии заказа.
const orderNamePrefix = "WEAV-AI "

// Plan — тариф членства.
type Plan struct {
	ID       PlanID
	Name     string
	Amount   int64
	Currency string
	Interval string
	Features []string
}

// OrderName возвращает название заказа для страницы оплаты.
func (p Plan) OrderName() string {
	return orderNamePrefix + p.Name
}

// Catalog — неизменяемый каталог тарифов, создаётся при старте.
type Catalog struct {
	plans []Plan
	byID  map[PlanID]int
}

// NewCatalog создаёт каталог. Порядок тарифов сохраняется.
func NewCatalog(plans ...Plan) *Catalog {
	c := &Catalog{
		plans: make([]Plan, 0, len(plans)),
		byID:  make(map[PlanID]int, len(plans)),
	}
	for _, p := range plans {
		p.Features = append([]string(nil), p.Features...)
		c.byID[p.ID] = len(c.plans)
		c.plans = append(c.plans, p)
	}
	return c
}

// DefaultCatalog — тарифы на 30 дней в KRW.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		Plan{
			ID:       PlanStandard,
			Name:     "스탠다드 30일",
			Amount:   9900,
			Currency: "KRW",
			Interval: IntervalOneTime,
			Features: []string{"모든 AI 모델 사용 가능", "무제한 텍스트 생성", "30일간 유효"},
		},
		Plan{
			ID:       PlanPremium,
			Name:     "프리미엄 30일",
			Amount:   19900,
			Currency: "KRW",
			Interval: IntervalOneTime,
			Features: []string{"모든 AI 모델 사용 가능", "무제한 텍스트/이미지/비디오", "30일간 유효", "우선 처리"},
		},
	)
}

// Lookup ищет тариф по строке из запроса (без учёта регистра и пробелов).
func (c *Catalog) Lookup(raw string) (Plan, error) {
	id := PlanID(strings.ToLower(strings.TrimSpace(raw)))
	i, ok := c.byID[id]
	if !ok {
		return Plan{}, ErrUnknownPlan
	}
	return c.copyAt(i), nil
}

// All возвращает копию списка тарифов.
func (c *Catalog) All() []Plan {
	out := make([]Plan, len(c.plans))
	for i := range c.plans {
		out[i] = c.copyAt(i)
	}
	return out
}

func (c *Catalog) copyAt(i int) Plan {
	p := c.plans[i]
	p.Features = append([]string(nil), p.Features...)
	return p
}
