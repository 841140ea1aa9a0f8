// Package workflow реализует движок переходов статусов с учётом бизнес-контекста
// и хуками, которые выполняются после фиксации события.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/esoms/internal/domain"
	"github.com/vladislavdragonenkov/esoms/internal/metrics"
)

const (
	defaultLedgerTTL   = 24 * time.Hour
	auditWriteAttempts = 5
)

// Engine проверяет и выполняет переходы статусов.
type Engine struct {
	repo    domain.OrderRepository
	audit   domain.EventStore
	clock   domain.Clock
	logger  *log.Entry
	metrics *metrics.WorkflowMetrics

	ledger    domain.HookLedger
	ledgerTTL time.Duration

	hooksMu sync.RWMutex
	hooks   []Hook

	async    bool
	asyncMu  sync.Mutex
	asyncWG  sync.WaitGroup
	isClosed bool
}

// Option настраивает Engine.
type Option func(*Engine)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics подключает метрики.
func WithMetrics(m *metrics.WorkflowMetrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithClock задаёт часы для аудит-событий.
func WithClock(c domain.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithHookLedger включает дедупликацию хуков по (событие перехода, имя хука).
func WithHookLedger(ledger domain.HookLedger, ttl time.Duration) Option {
	return func(e *Engine) {
		e.ledger = ledger
		if ttl > 0 {
			e.ledgerTTL = ttl
		}
	}
}

// WithAsyncHooks запускает хуки в фоне; Close дожидается их завершения.
func WithAsyncHooks() Option {
	return func(e *Engine) {
		e.async = true
	}
}

// NewEngine создаёт движок. audit: хранилище, куда пишутся отклонённые переходы.
func NewEngine(repo domain.OrderRepository, audit domain.EventStore, opts ...Option) *Engine {
	e := &Engine{
		repo:      repo,
		audit:     audit,
		clock:     domain.SystemClock(),
		logger:    log.New().WithField("component", "workflow-engine"),
		ledgerTTL: defaultLedgerTTL,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterHook добавляет хук. Имена уникальны; порядок: по убыванию приоритета,
// при равном приоритете: в порядке регистрации.
func (e *Engine) RegisterHook(h Hook) error {
	if err := h.validate(); err != nil {
		return err
	}

	e.hooksMu.Lock()
	defer e.hooksMu.Unlock()

	for _, existing := range e.hooks {
		if existing.Name == h.Name {
			return fmt.Errorf("%w: %s", ErrDuplicateHook, h.Name)
		}
	}
	h.Statuses = append([]domain.OrderStatus(nil), h.Statuses...)
	e.hooks = append(e.hooks, h)
	sort.SliceStable(e.hooks, func(i, j int) bool {
		return e.hooks[i].Priority > e.hooks[j].Priority
	})
	return nil
}

// Hooks возвращает зарегистрированные хуки в порядке выполнения.
func (e *Engine) Hooks() []Hook {
	e.hooksMu.RLock()
	defer e.hooksMu.RUnlock()
	return append([]Hook(nil), e.hooks...)
}

// GetValidTransitions возвращает статусы, в которые заказ может перейти сейчас.
func (e *Engine) GetValidTransitions(ctx context.Context, orderID string) ([]domain.OrderStatus, error) {
	agg, err := e.repo.Load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return domain.ValidTransitions(agg.State()), nil
}

// ValidateTransition проверяет переход без изменения заказа.
func (e *Engine) ValidateTransition(ctx context.Context, orderID string, target domain.OrderStatus) error {
	agg, err := e.repo.Load(ctx, orderID)
	if err != nil {
		return err
	}
	return domain.CheckTransition(agg.State(), target)
}

// ExecuteTransition переводит заказ в target, записывает аудит перехода и после
// фиксации запускает хуки. Отклонённый переход пишется в аудит-поток заказа
// и возвращает ошибку ErrIllegalTransition; сам заказ при этом не меняется.
func (e *Engine) ExecuteTransition(ctx context.Context, orderID string, target domain.OrderStatus, wctx domain.WorkflowContext) (TransitionResult, error) {
	start := time.Now()

	agg, err := e.repo.Load(ctx, orderID)
	if err != nil {
		return TransitionResult{}, err
	}
	state := agg.State()
	result := TransitionResult{Order: state, From: state.Status, To: target}

	if wctx.BusinessContext != "" && wctx.BusinessContext != state.Context {
		return result, fmt.Errorf("%w: order is %s, caller expects %s", domain.ErrWrongBusinessContext, state.Context, wctx.BusinessContext)
	}

	if err := domain.CheckTransition(state, target); err != nil {
		e.metrics.RecordRejected(string(state.Context), string(target))
		e.recordRejection(ctx, state, target, wctx, err)
		return result, err
	}

	if err := agg.ChangeStatus(target, wctx.Reason, wctx.ActorID); err != nil {
		return result, err
	}
	return e.commit(ctx, agg, state, wctx, start, result)
}

// ExecuteCommand применяет к заказу команду агрегата (отмена, отгрузка, передача на кухню).
// Если команда сменила статус, в поток дописывается WorkflowTransitionEvent, и после
// фиксации запускаются хуки, как при ExecuteTransition. Команда без смены статуса
// просто сохраняется.
func (e *Engine) ExecuteCommand(ctx context.Context, orderID string, wctx domain.WorkflowContext, command func(*domain.Aggregate) error) (TransitionResult, error) {
	start := time.Now()

	agg, err := e.repo.Load(ctx, orderID)
	if err != nil {
		return TransitionResult{}, err
	}
	state := agg.State()
	result := TransitionResult{Order: state, From: state.Status, To: state.Status}

	if err := command(agg); err != nil {
		var ite *domain.IllegalTransitionError
		if errors.As(err, &ite) {
			e.metrics.RecordRejected(string(state.Context), string(ite.To))
			e.recordRejection(ctx, state, ite.To, wctx, err)
		}
		return result, err
	}

	if agg.State().Status == state.Status {
		if err := e.save(ctx, agg); err != nil {
			return result, err
		}
		result.Order = agg.State()
		return result, nil
	}
	return e.commit(ctx, agg, state, wctx, start, result)
}

// commit дописывает WorkflowTransitionEvent к уже изменённому агрегату, сохраняет его
// и запускает хуки для нового статуса.
func (e *Engine) commit(ctx context.Context, agg *domain.Aggregate, prev domain.Order, wctx domain.WorkflowContext, start time.Time, result TransitionResult) (TransitionResult, error) {
	target := agg.State().Status
	result.To = target

	evt, err := agg.RecordWorkflowTransition(prev.Status, target, wctx, time.Since(start))
	if err != nil {
		return result, err
	}
	if err := e.save(ctx, agg); err != nil {
		return result, err
	}

	committed := agg.State()
	e.metrics.RecordTransition(string(committed.Context), string(prev.Status), string(target), time.Since(start))
	e.logger.WithFields(log.Fields{
		"order_id":         committed.ID,
		"from":             prev.Status,
		"to":               target,
		"business_context": committed.Context,
		"actor_id":         wctx.ActorID,
	}).Info("status transition committed")

	result.Order = committed
	result.EventID = evt.EventID

	t := Transition{
		OrderID:         committed.ID,
		EventID:         evt.EventID,
		From:            prev.Status,
		To:              target,
		BusinessContext: committed.Context,
		Context:         wctx,
		Order:           committed,
		OccurredAt:      evt.OccurredAt,
	}

	if e.startAsync(t) {
		result.HooksAsync = true
		return result, nil
	}
	result.Hooks = e.runHooks(ctx, t)
	return result, nil
}

func (e *Engine) save(ctx context.Context, agg *domain.Aggregate) error {
	err := e.repo.Save(ctx, agg)
	if err != nil && domain.IsVersionConflict(err) {
		e.metrics.RecordConflict()
	}
	return err
}

// Close дожидается завершения фоновых хуков. После Close хуки выполняются синхронно.
func (e *Engine) Close(ctx context.Context) error {
	e.asyncMu.Lock()
	e.isClosed = true
	e.asyncMu.Unlock()

	done := make(chan struct{})
	go func() {
		e.asyncWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) startAsync(t Transition) bool {
	if !e.async {
		return false
	}

	e.asyncMu.Lock()
	defer e.asyncMu.Unlock()
	if e.isClosed {
		return false
	}

	e.asyncWG.Add(1)
	e.metrics.HooksStarted()
	go func() {
		defer e.asyncWG.Done()
		defer e.metrics.HooksFinished()
		e.runHooks(context.Background(), t)
	}()
	return true
}

func (e *Engine) runHooks(ctx context.Context, t Transition) []HookResult {
	hooks := e.Hooks()
	results := make([]HookResult, 0, len(hooks))

	for _, h := range hooks {
		if !h.matches(t.To) {
			continue
		}
		res := e.runHook(ctx, h, t)
		results = append(results, res)
	}
	return results
}

func (e *Engine) runHook(ctx context.Context, h Hook, t Transition) HookResult {
	entry := e.logger.WithFields(log.Fields{
		"order_id": t.OrderID,
		"hook":     h.Name,
		"to":       t.To,
	})

	key := domain.HookKey(t.EventID, h.Name)
	if e.ledger != nil {
		if _, err := e.ledger.Begin(ctx, key, time.Now().UTC().Add(e.ledgerTTL)); err != nil {
			if errors.Is(err, domain.ErrHookAlreadyRecorded) {
				e.metrics.RecordHook(h.Name, metrics.ResultSkipped, 0)
				entry.Debug("hook already executed for transition")
				return HookResult{Name: h.Name, Skipped: true}
			}
			// Журнал недоступен: выполняем хук без дедупликации.
			entry.WithError(err).Warn("hook ledger unavailable")
			key = ""
		}
	}

	start := time.Now()
	err := safeCall(ctx, h.Handler, t)
	elapsed := time.Since(start)

	if err != nil {
		e.metrics.RecordHook(h.Name, metrics.ResultFailure, elapsed)
		entry.WithError(err).Warn("hook failed")
		if e.ledger != nil && key != "" {
			if markErr := e.ledger.MarkFailed(ctx, key, err.Error()); markErr != nil {
				entry.WithError(markErr).Warn("mark hook failed in ledger")
			}
		}
		return HookResult{Name: h.Name, Err: err, Duration: elapsed}
	}

	e.metrics.RecordHook(h.Name, metrics.ResultSuccess, elapsed)
	if e.ledger != nil && key != "" {
		if markErr := e.ledger.MarkDone(ctx, key); markErr != nil {
			entry.WithError(markErr).Warn("mark hook done in ledger")
		}
	}
	return HookResult{Name: h.Name, Success: true, Duration: elapsed}
}

func safeCall(ctx context.Context, handler HookHandler, t Transition) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook panicked: %v", r)
		}
	}()
	return handler(ctx, t)
}

// recordRejection пишет WorkflowErrorEvent в аудит-поток заказа.
// Ошибка записи только логируется: вызывающий получает исходную ошибку перехода.
func (e *Engine) recordRejection(ctx context.Context, state domain.Order, target domain.OrderStatus, wctx domain.WorkflowContext, cause error) {
	reason := cause.Error()
	var ite *domain.IllegalTransitionError
	if errors.As(cause, &ite) {
		reason = ite.Reason
	}

	entry := e.logger.WithFields(log.Fields{
		"order_id":         state.ID,
		"from":             state.Status,
		"to":               target,
		"business_context": state.Context,
		"reason":           reason,
	})
	entry.Warn("status transition rejected")

	if e.audit == nil {
		return
	}

	streamID := domain.AuditStreamID(state.ID)
	evt := domain.NewWorkflowErrorEvent(e.clock, state, target, wctx, reason)
	for attempt := 1; attempt <= auditWriteAttempts; attempt++ {
		version, err := e.audit.StreamVersion(ctx, streamID)
		if err != nil {
			entry.WithError(err).Error("read audit stream version")
			return
		}
		err = e.audit.SaveEvents(ctx, streamID, []domain.Event{evt}, version)
		if err == nil {
			return
		}
		if !domain.IsVersionConflict(err) {
			entry.WithError(err).Error("write workflow error event")
			return
		}
	}
	entry.Error("write workflow error event: too many concurrent audit writes")
}
