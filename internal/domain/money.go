package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money: неотрицательная сумма в конкретной валюте.
// Арифметика допускается только между суммами одной валюты.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// NewMoney создаёт сумму, проверяя валюту и знак.
func NewMoney(amount decimal.Decimal, currency string) (Money, error) {
	cur, err := normalizeCurrency(currency)
	if err != nil {
		return Money{}, err
	}
	if amount.IsNegative() {
		return Money{}, ErrAmountNegative
	}
	return Money{Amount: amount, Currency: cur}, nil
}

// MustMoney разбирает строковую сумму и паникует при ошибке. Удобно для констант и тестов.
func MustMoney(amount, currency string) Money {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		panic(fmt.Sprintf("domain: invalid money amount %q: %v", amount, err))
	}
	m, err := NewMoney(d, currency)
	if err != nil {
		panic(fmt.Sprintf("domain: invalid money %q %q: %v", amount, currency, err))
	}
	return m
}

// Zero возвращает нулевую сумму в валюте.
func Zero(currency string) Money {
	return Money{Amount: decimal.Zero, Currency: strings.ToUpper(strings.TrimSpace(currency))}
}

// Add складывает две суммы одной валюты.
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}, nil
}

// Sub вычитает сумму; результат не может быть отрицательным.
func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	res := m.Amount.Sub(other.Amount)
	if res.IsNegative() {
		return Money{}, ErrAmountNegative
	}
	return Money{Amount: res, Currency: m.Currency}, nil
}

// Mul умножает сумму на количество единиц.
func (m Money) Mul(qty int) Money {
	return Money{Amount: m.Amount.Mul(decimal.NewFromInt(int64(qty))), Currency: m.Currency}
}

// Equal сравнивает суммы по значению, а не по представлению (10.0 == 10).
func (m Money) Equal(other Money) bool {
	return m.Currency == other.Currency && m.Amount.Equal(other.Amount)
}

// IsZero возвращает true для нулевой суммы.
func (m Money) IsZero() bool {
	return m.Amount.IsZero()
}

// IsNegative возвращает true для отрицательной суммы.
func (m Money) IsNegative() bool {
	return m.Amount.IsNegative()
}

func (m Money) String() string {
	return m.Amount.StringFixed(2) + " " + m.Currency
}

func normalizeCurrency(currency string) (string, error) {
	cur := strings.ToUpper(strings.TrimSpace(currency))
	if len(cur) != 3 {
		return "", ErrCurrencyRequired
	}
	for _, r := range cur {
		if r < 'A' || r > 'Z' {
			return "", ErrCurrencyRequired
		}
	}
	return cur, nil
}
