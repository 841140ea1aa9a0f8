package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/esoms/internal/domain"
)

const (
	defaultKeyPrefix = "esoms:hook:"
	// retention продлевает нативный TTL Redis сверх логического ttl_at,
	// чтобы DeleteExpired успевал увидеть запись.
	retention    = time.Hour
	maxTxRetries = 5
)

// getter: общий для клиента и транзакции WATCH метод чтения.
type getter interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
}

type hookLedger struct {
	client goredis.UniversalClient
	prefix string
	now    func() time.Time
}

// Option настраивает журнал хуков в Redis.
type Option func(*hookLedger)

// WithKeyPrefix задаёт префикс ключей.
func WithKeyPrefix(prefix string) Option {
	return func(l *hookLedger) {
		if prefix != "" {
			l.prefix = prefix
		}
	}
}

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(l *hookLedger) {
		if now != nil {
			l.now = now
		}
	}
}

// NewHookLedger создаёт журнал выполнения хуков поверх Redis.
func NewHookLedger(client goredis.UniversalClient, opts ...Option) *hookLedger {
	l := &hookLedger{
		client: client,
		prefix: defaultKeyPrefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *hookLedger) Begin(ctx context.Context, key string, ttlAt time.Time) (domain.HookRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.HookRecord{}, domain.ErrHookKeyRequired
	}

	now := l.now()
	if ttlAt.IsZero() {
		ttlAt = now.Add(24 * time.Hour)
	}
	rec := domain.HookRecord{
		Key:       key,
		Status:    domain.HookStatusProcessing,
		Attempts:  1,
		TTLAt:     ttlAt.UTC(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return domain.HookRecord{}, fmt.Errorf("encode hook record: %w", err)
	}

	ok, err := l.client.SetNX(ctx, l.redisKey(key), payload, l.expiration(rec.TTLAt)).Result()
	if err != nil {
		return domain.HookRecord{}, fmt.Errorf("begin hook record: %w", err)
	}
	if ok {
		return rec, nil
	}

	// Ключ уже есть: перезапускаем только упавший хук.
	var restarted domain.HookRecord
	err = l.update(ctx, key, func(existing domain.HookRecord) (domain.HookRecord, error) {
		if existing.Status != domain.HookStatusFailed {
			return domain.HookRecord{}, domain.ErrHookAlreadyRecorded
		}
		existing.Status = domain.HookStatusProcessing
		existing.Message = ""
		existing.Attempts++
		existing.TTLAt = ttlAt.UTC()
		existing.UpdatedAt = now
		restarted = existing
		return existing, nil
	})
	if err != nil {
		return domain.HookRecord{}, err
	}
	return restarted, nil
}

// Get возвращает запись журнала.
func (l *hookLedger) Get(ctx context.Context, key string) (domain.HookRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.HookRecord{}, domain.ErrHookKeyRequired
	}
	return l.load(ctx, l.client, key)
}

func (l *hookLedger) MarkDone(ctx context.Context, key string) error {
	return l.markStatus(ctx, key, domain.HookStatusDone, "")
}

func (l *hookLedger) MarkFailed(ctx context.Context, key string, message string) error {
	return l.markStatus(ctx, key, domain.HookStatusFailed, message)
}

// DeleteExpired удаляет записи с ttl_at <= before. Redis сам удаляет ключи после
// retention, здесь очищаются логически истёкшие записи.
func (l *hookLedger) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = l.now()
	}

	deleted := 0
	iter := l.client.Scan(ctx, 0, l.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if limit > 0 && deleted >= limit {
			break
		}
		redisKey := iter.Val()
		rec, err := l.load(ctx, l.client, strings.TrimPrefix(redisKey, l.prefix))
		if err != nil {
			if errors.Is(err, domain.ErrHookRecordNotFound) {
				continue
			}
			return deleted, err
		}
		if rec.TTLAt.After(before) {
			continue
		}
		n, err := l.client.Del(ctx, redisKey).Result()
		if err != nil {
			return deleted, fmt.Errorf("delete expired hook record: %w", err)
		}
		deleted += int(n)
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("scan hook records: %w", err)
	}
	return deleted, nil
}

func (l *hookLedger) markStatus(ctx context.Context, key string, status domain.HookStatus, message string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrHookKeyRequired
	}
	return l.update(ctx, key, func(existing domain.HookRecord) (domain.HookRecord, error) {
		existing.Status = status
		existing.Message = message
		existing.UpdatedAt = l.now()
		return existing, nil
	})
}

// update выполняет read-modify-write под WATCH и повторяет попытку при гонке.
func (l *hookLedger) update(ctx context.Context, key string, fn func(domain.HookRecord) (domain.HookRecord, error)) error {
	redisKey := l.redisKey(key)

	txf := func(tx *goredis.Tx) error {
		existing, err := l.load(ctx, tx, key)
		if err != nil {
			return err
		}
		next, err := fn(existing)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode hook record: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, redisKey, payload, l.expiration(next.TTLAt))
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := l.client.Watch(ctx, txf, redisKey)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("update hook record %s: too many concurrent updates", key)
}

func (l *hookLedger) load(ctx context.Context, client getter, key string) (domain.HookRecord, error) {
	raw, err := client.Get(ctx, l.redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return domain.HookRecord{}, domain.ErrHookRecordNotFound
		}
		return domain.HookRecord{}, fmt.Errorf("get hook record: %w", err)
	}

	var rec domain.HookRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.HookRecord{}, fmt.Errorf("decode hook record %s: %w", key, err)
	}
	if !rec.Status.Valid() {
		return domain.HookRecord{}, fmt.Errorf("invalid hook status %q for key %s", rec.Status, key)
	}
	return rec, nil
}

func (l *hookLedger) redisKey(key string) string {
	return l.prefix + key
}

func (l *hookLedger) expiration(ttlAt time.Time) time.Duration {
	ttl := ttlAt.Sub(l.now()) + retention
	if ttl < time.Minute {
		ttl = time.Minute
	}
	return ttl
}

var _ domain.HookLedger = (*hookLedger)(nil)
