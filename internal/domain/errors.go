package domain

import (
	"errors"
	"fmt"
)

// Категории ошибок. Конкретные ошибки ниже оборачивают одну из них,
// поэтому errors.Is работает и по конкретной ошибке, и по категории.
var (
	// ErrInvalidArgument: входные данные команды не прошли валидацию.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidOperation: команда недопустима в текущем состоянии заказа.
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrIllegalTransition: переход статуса запрещён графом или бизнес-контекстом.
	ErrIllegalTransition = errors.New("illegal status transition")
	// ErrConcurrencyConflict сигнализирует, что поток изменился после чтения: операцию нужно повторить.
	ErrConcurrencyConflict = errors.New("concurrency conflict: retry required")
	// ErrOrderNotFound возвращается, если поток заказа пуст.
	ErrOrderNotFound = errors.New("order not found")
)

var (
	// Ошибка отсутствующего идентификатора заказа.
	ErrOrderIDRequired = fmt.Errorf("%w: order id is required", ErrInvalidArgument)
	// Ошибка отсутствующего идентификатора клиента.
	ErrCustomerRequired = fmt.Errorf("%w: customer id is required", ErrInvalidArgument)
	// Ошибка отсутствующего или некорректного кода валюты.
	ErrCurrencyRequired = fmt.Errorf("%w: currency must be a 3-letter code", ErrInvalidArgument)
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = fmt.Errorf("%w: item quantity must be greater than zero", ErrInvalidArgument)
	// ErrOrderQtyTooLarge: суммарное количество единиц в заказе не помещается в int.
	ErrOrderQtyTooLarge = fmt.Errorf("%w: total order quantity is too large", ErrInvalidArgument)
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = fmt.Errorf("%w: item price must be non-negative", ErrInvalidArgument)
	// Ошибка пустого названия товара.
	ErrItemNameRequired = fmt.Errorf("%w: item name is required", ErrInvalidArgument)
	// Ошибка отсутствующего идентификатора товара.
	ErrProductIDRequired = fmt.Errorf("%w: product id is required", ErrInvalidArgument)
	// ErrCurrencyMismatch: арифметика над суммами в разных валютах.
	ErrCurrencyMismatch = fmt.Errorf("%w: currency mismatch", ErrInvalidArgument)
	// ErrAmountNegative: сумма не может стать отрицательной.
	ErrAmountNegative = fmt.Errorf("%w: amount must be non-negative", ErrInvalidArgument)
	// ErrUnknownBusinessContext: неизвестный бизнес-контекст.
	ErrUnknownBusinessContext = fmt.Errorf("%w: unknown business context", ErrInvalidArgument)
	// ErrUnknownStatus: неизвестный статус заказа.
	ErrUnknownStatus = fmt.Errorf("%w: unknown order status", ErrInvalidArgument)
	// ErrPaymentAmountMismatch: сумма платежа не совпадает с суммой заказа.
	ErrPaymentAmountMismatch = fmt.Errorf("%w: payment amount does not match order total", ErrInvalidArgument)
	// ErrAddressRequired: вертикаль с доставкой требует адрес.
	ErrAddressRequired = fmt.Errorf("%w: delivery address is required", ErrInvalidArgument)
	// ErrTrackingNumberRequired: при отгрузке нужен трек-номер.
	ErrTrackingNumberRequired = fmt.Errorf("%w: tracking number is required", ErrInvalidArgument)
)

var (
	// ErrOrderAlreadyExists: поток заказа уже существует.
	ErrOrderAlreadyExists = fmt.Errorf("%w: order already exists", ErrInvalidOperation)
	// ErrOrderTerminal: заказ в терминальном статусе, изменения запрещены.
	ErrOrderTerminal = fmt.Errorf("%w: order is in a terminal status", ErrInvalidOperation)
	// ErrItemsRequired: действие требует хотя бы одной позиции.
	ErrItemsRequired = fmt.Errorf("%w: order must contain at least one item", ErrInvalidOperation)
	// ErrItemNotFound: позиция для удаления не найдена.
	ErrItemNotFound = fmt.Errorf("%w: item not found in order", ErrInvalidOperation)
	// ErrItemQtyExceeded: удаляется больше единиц, чем есть в позиции.
	ErrItemQtyExceeded = fmt.Errorf("%w: removal quantity exceeds item quantity", ErrInvalidOperation)
	// ErrItemsLocked: состав заказа нельзя менять после подтверждения.
	ErrItemsLocked = fmt.Errorf("%w: items can only change while the order is pending", ErrInvalidOperation)
	// ErrStatusPrecondition: команда требует другого текущего статуса.
	ErrStatusPrecondition = fmt.Errorf("%w: current status does not allow this command", ErrInvalidOperation)
	// ErrWrongBusinessContext: команда относится к другой вертикали.
	ErrWrongBusinessContext = fmt.Errorf("%w: command is not available in this business context", ErrInvalidOperation)
	// ErrNotCancellable: заказ прошёл точку отмены своей вертикали.
	ErrNotCancellable = fmt.Errorf("%w: order can no longer be cancelled", ErrInvalidOperation)
	// ErrAlreadyPaid: оплата уже проведена.
	ErrAlreadyPaid = fmt.Errorf("%w: order is already paid", ErrInvalidOperation)
	// ErrContextChangeUnsupported: смена бизнес-контекста возможна только до начала обработки.
	ErrContextChangeUnsupported = fmt.Errorf("%w: business context change is only supported while pending", ErrInvalidOperation)
)

var (
	// ErrUnknownEventType: тег события не зарегистрирован в кодеке.
	ErrUnknownEventType = errors.New("unknown event type")
	// ErrCorruptStream: восстановленное из потока состояние нарушает инварианты.
	ErrCorruptStream = errors.New("event stream is corrupt")
	// ErrHookAlreadyRecorded: хук уже выполнялся для этого перехода.
	ErrHookAlreadyRecorded = errors.New("hook execution already recorded")
	// ErrHookKeyRequired: пустой ключ отметки хука.
	ErrHookKeyRequired = errors.New("hook key is required")
	// ErrHookRecordNotFound: запись о хуке не найдена.
	ErrHookRecordNotFound = errors.New("hook record not found")
	// ErrIntegrationUnavailable: внешний сервис недоступен (circuit breaker открыт).
	ErrIntegrationUnavailable = errors.New("integration unavailable")
	// ErrIntegrationTemporary: временная ошибка внешнего сервиса, можно повторить попытку.
	ErrIntegrationTemporary = errors.New("integration temporary error")
	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrOutboxMessageNotFound: сообщение outbox не найдено.
	ErrOutboxMessageNotFound = errors.New("outbox message not found")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsValidation проверяет, относится ли ошибка к валидации входных данных.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}

// IsInvalidOperation проверяет, отклонена ли команда из-за состояния заказа.
func IsInvalidOperation(err error) bool {
	return errors.Is(err, ErrInvalidOperation)
}

// IsIllegalTransition проверяет, запрещён ли был переход статуса.
func IsIllegalTransition(err error) bool {
	return errors.Is(err, ErrIllegalTransition)
}

// IsNotFound проверяет, что заказ не найден.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound)
}

// IllegalTransitionError описывает отклонённый переход с причиной.
type IllegalTransitionError struct {
	From    OrderStatus
	To      OrderStatus
	Context BusinessContext
	Reason  string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal status transition %s -> %s in %s: %s", e.From, e.To, e.Context, e.Reason)
}

// Unwrap позволяет сравнивать ошибку с ErrIllegalTransition.
func (e *IllegalTransitionError) Unwrap() error {
	return ErrIllegalTransition
}
