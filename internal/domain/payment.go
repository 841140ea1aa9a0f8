package domain

import "time"

// PaymentStatus описывает состояние платежа по заказу.
type PaymentStatus string

const (
	// PaymentStatusNone: платёж ещё не проводился.
	PaymentStatusNone PaymentStatus = ""
	// PaymentStatusAuthorized: сумма успешно зарезервирована у провайдера.
	PaymentStatusAuthorized PaymentStatus = "authorized"
	// PaymentStatusCaptured: деньги списаны в пользу мерчанта.
	PaymentStatusCaptured PaymentStatus = "captured"
	// PaymentStatusRefunded: деньги возвращены клиенту.
	PaymentStatusRefunded PaymentStatus = "refunded"
	// PaymentStatusFailed: провайдер отклонил платёж.
	PaymentStatusFailed PaymentStatus = "failed"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusNone, PaymentStatusAuthorized, PaymentStatusCaptured,
		PaymentStatusRefunded, PaymentStatusFailed:
		return true
	default:
		return false
	}
}

// Settled: деньги по заказу получены или зарезервированы.
func (s PaymentStatus) Settled() bool {
	return s == PaymentStatusAuthorized || s == PaymentStatusCaptured
}

// PaymentInfo: сведения о платеже в состоянии заказа.
type PaymentInfo struct {
	Status         PaymentStatus
	Amount         Money
	Method         string
	TransactionRef string
	ProcessedAt    time.Time
}
