package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/esoms/internal/domain"
)

type hookLedgerInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.HookRecord
}

// NewHookLedger создаёт in-memory реализацию HookLedger.
func NewHookLedger() *hookLedgerInMemory {
	return &hookLedgerInMemory{
		items: make(map[string]domain.HookRecord),
	}
}

func (l *hookLedgerInMemory) Begin(_ context.Context, key string, ttlAt time.Time) (domain.HookRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.HookRecord{}, domain.ErrHookKeyRequired
	}

	now := time.Now().UTC()
	if ttlAt.IsZero() {
		ttlAt = now.Add(24 * time.Hour)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.items[key]
	switch {
	case !ok:
		record = domain.HookRecord{Key: key, CreatedAt: now}
	case record.Status != domain.HookStatusFailed:
		return record, domain.ErrHookAlreadyRecorded
	}

	record.Status = domain.HookStatusProcessing
	record.Message = ""
	record.Attempts++
	record.TTLAt = ttlAt
	record.UpdatedAt = now
	l.items[key] = record

	return record, nil
}

// Get возвращает запись по ключу.
func (l *hookLedgerInMemory) Get(_ context.Context, key string) (domain.HookRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	record, ok := l.items[strings.TrimSpace(key)]
	if !ok {
		return domain.HookRecord{}, domain.ErrHookRecordNotFound
	}
	return record, nil
}

func (l *hookLedgerInMemory) MarkDone(_ context.Context, key string) error {
	return l.markStatus(key, domain.HookStatusDone, "")
}

func (l *hookLedgerInMemory) MarkFailed(_ context.Context, key string, message string) error {
	return l.markStatus(key, domain.HookStatusFailed, message)
}

func (l *hookLedgerInMemory) DeleteExpired(_ context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, record := range l.items {
		if record.TTLAt.After(before) {
			continue
		}

		delete(l.items, key)
		removed++
		if limit > 0 && removed >= limit {
			break
		}
	}

	return removed, nil
}

func (l *hookLedgerInMemory) markStatus(key string, status domain.HookStatus, message string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrHookKeyRequired
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.items[key]
	if !ok {
		return domain.ErrHookRecordNotFound
	}

	record.Status = status
	record.Message = message
	record.UpdatedAt = time.Now().UTC()
	l.items[key] = record

	return nil
}

var _ domain.HookLedger = (*hookLedgerInMemory)(nil)
