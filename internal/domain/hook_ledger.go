package domain

import "time"

// HookStatus описывает жизненный цикл отметки о выполнении хука.
type HookStatus string

const (
	// HookStatusProcessing: хук запущен и ещё выполняется.
	HookStatusProcessing HookStatus = "processing"
	// HookStatusDone: хук завершился успешно, повторно не запускается.
	HookStatusDone HookStatus = "done"
	// HookStatusFailed: хук завершился ошибкой, запуск можно повторить.
	HookStatusFailed HookStatus = "failed"
)

// HookRecord хранит состояние выполнения хука для конкретного перехода.
type HookRecord struct {
	Key       string
	Status    HookStatus
	Message   string
	Attempts  int
	TTLAt     time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s HookStatus) Valid() bool {
	switch s {
	case HookStatusProcessing, HookStatusDone, HookStatusFailed:
		return true
	default:
		return false
	}
}

// HookKey: ключ отметки: событие перехода + имя хука.
func HookKey(transitionEventID, hookName string) string {
	return transitionEventID + ":" + hookName
}
