// Package plan приводит произвольные названия тарифов от платёжных
// провайдеров к каноническим планам платформы и сопоставляет планам цены.
package plan

import (
	"strings"
	"time"
)

// Канонические тарифные планы.
const (
	Free      = "free"
	Weekly    = "weekly"
	Monthly   = "monthly"
	Quarterly = "quarterly"
)

// rule — одно правило распознавания: если ключевое слово встречается
// в названии, выбирается соответствующий план.
type rule struct {
	keyword string
	plan    string
}

// Правила проверяются сверху вниз, первый совпавший выигрывает.
// Новые ключевые слова добавляются строкой в список, без изменения логики.
var rules = []rule{
	{"week", Weekly},
	{"7 day", Weekly},
	{"quarter", Quarterly},
	{"90", Quarterly},
	{"3 month", Quarterly},
	{"month", Monthly},
	{"30 day", Monthly},
}

// Resolve возвращает канонический план по сырому названию тарифа или
// продукта. Неопознанные названия считаются месячным планом.
func Resolve(raw string) string {
	name := strings.ToLower(raw)
	for _, r := range rules {
		if strings.Contains(name, r.keyword) {
			return r.plan
		}
	}
	return Monthly
}

// Duration возвращает длительность оплаченного периода плана.
// Используется только когда провайдер не сообщил дату окончания.
func Duration(p string) time.Duration {
	switch p {
	case Weekly:
		return 7 * 24 * time.Hour
	case Quarterly:
		return 90 * 24 * time.Hour
	default:
		return 30 * 24 * time.Hour
	}
}

// PriceTable — отображение план → цена в долларах. Задаётся конфигурацией,
// в тестах подменяется фикстурой.
type PriceTable map[string]float64

// DefaultPrices — цены планов по умолчанию.
func DefaultPrices() PriceTable {
	return PriceTable{
		Weekly:    19.0,
		Monthly:   49.0,
		Quarterly: 149.0,
	}
}

// Price возвращает цену плана. Для неизвестного плана берётся цена
// месячного: точность суммы комиссии не должна блокировать активацию.
func (t PriceTable) Price(p string) (float64, bool) {
	if price, ok := t[p]; ok {
		return price, true
	}
	return t[Monthly], false
}
