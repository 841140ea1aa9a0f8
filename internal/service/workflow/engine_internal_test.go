package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/esoms/internal/domain"
	"github.com/vladislavdragonenkov/esoms/internal/storage/memory"
)

func TestRunHooks_LedgerDeduplicatesPerTransition(t *testing.T) {
	ledger := memory.NewHookLedger()
	engine := NewEngine(nil, nil, WithHookLedger(ledger, 0))

	calls := 0
	fail := true
	require.NoError(t, engine.RegisterHook(Hook{Name: "notify", Handler: func(context.Context, Transition) error {
		calls++
		if fail {
			return errors.New("smtp down")
		}
		return nil
	}}))

	tr := Transition{OrderID: "o-1", EventID: "evt-1", To: domain.OrderStatusConfirmed}

	first := engine.runHooks(context.Background(), tr)
	require.Len(t, first, 1)
	assert.False(t, first[0].Success)

	// Упавший хук можно повторить для того же перехода.
	fail = false
	second := engine.runHooks(context.Background(), tr)
	require.Len(t, second, 1)
	assert.True(t, second[0].Success)

	third := engine.runHooks(context.Background(), tr)
	require.Len(t, third, 1)
	assert.True(t, third[0].Skipped)
	assert.Equal(t, 2, calls)

	rec, err := ledger.Get(context.Background(), domain.HookKey("evt-1", "notify"))
	require.NoError(t, err)
	assert.Equal(t, domain.HookStatusDone, rec.Status)
	assert.Equal(t, 2, rec.Attempts)

	// Другой переход: другой ключ.
	other := engine.runHooks(context.Background(), Transition{OrderID: "o-1", EventID: "evt-2", To: domain.OrderStatusConfirmed})
	require.Len(t, other, 1)
	assert.True(t, other[0].Success)
	assert.Equal(t, 3, calls)
}
