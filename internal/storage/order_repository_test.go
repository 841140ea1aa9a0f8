package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/esoms/internal/domain"
	"github.com/vladislavdragonenkov/esoms/internal/storage"
	"github.com/vladislavdragonenkov/esoms/internal/storage/memory"
)

func newRestaurantOrder(t *testing.T, repo *storage.OrderRepository, id string) *domain.Aggregate {
	t.Helper()

	agg := repo.New()
	require.NoError(t, agg.Create(domain.CreateOrderParams{
		ID:              id,
		Customer:        domain.CustomerInfo{ID: "guest-1"},
		BusinessContext: domain.BusinessContextRestaurant,
		Currency:        "EUR",
		ServiceContext:  map[string]string{"table": "4"},
	}))
	require.NoError(t, agg.AddItem(domain.AddItemParams{
		ProductID: "soup", Name: "Soup", UnitPrice: domain.MustMoney("6.50", "EUR"), Quantity: 2,
	}))
	require.NoError(t, repo.Save(context.Background(), agg))
	return agg
}

func TestOrderRepository_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewOrderRepository(memory.NewEventStore(), nil)

	saved := newRestaurantOrder(t, repo, "o-1")
	assert.Empty(t, saved.UncommittedEvents())
	assert.EqualValues(t, 2, saved.OriginalVersion())

	loaded, err := repo.Load(ctx, "o-1")
	require.NoError(t, err)
	state := loaded.State()
	assert.Equal(t, domain.BusinessContextRestaurant, state.Context)
	assert.True(t, state.Total.Equal(domain.MustMoney("13", "EUR")))
	assert.EqualValues(t, 2, loaded.OriginalVersion())

	require.NoError(t, loaded.Confirm())
	require.NoError(t, repo.Save(ctx, loaded))

	history, err := repo.History(ctx, "o-1")
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestOrderRepository_LoadMissing(t *testing.T) {
	repo := storage.NewOrderRepository(memory.NewEventStore(), nil)

	_, err := repo.Load(context.Background(), "nope")
	assert.True(t, domain.IsNotFound(err))

	_, err = repo.Load(context.Background(), " ")
	assert.ErrorIs(t, err, domain.ErrOrderIDRequired)

	_, err = repo.History(context.Background(), "nope")
	assert.True(t, domain.IsNotFound(err))
}

func TestOrderRepository_SaveWithoutChangesIsNoop(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewOrderRepository(memory.NewEventStore(), nil)
	newRestaurantOrder(t, repo, "o-1")

	loaded, err := repo.Load(ctx, "o-1")
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, loaded))
}

func TestOrderRepository_DuplicateCreate(t *testing.T) {
	repo := storage.NewOrderRepository(memory.NewEventStore(), nil)
	newRestaurantOrder(t, repo, "o-1")

	dup := repo.New()
	require.NoError(t, dup.Create(domain.CreateOrderParams{
		ID: "o-1", Customer: domain.CustomerInfo{ID: "x"}, BusinessContext: domain.BusinessContextBoutique, Currency: "EUR",
	}))
	err := repo.Save(context.Background(), dup)
	assert.ErrorIs(t, err, domain.ErrOrderAlreadyExists)
	assert.True(t, domain.IsVersionConflict(err))
}

// Сценарий: два клиента загрузили одну версию, второй получает конфликт,
// после перезагрузки его команда применяется поверх изменений первого.
func TestOrderRepository_ConcurrentModification(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewOrderRepository(memory.NewEventStore(), nil)
	newRestaurantOrder(t, repo, "o-1")

	first, err := repo.Load(ctx, "o-1")
	require.NoError(t, err)
	second, err := repo.Load(ctx, "o-1")
	require.NoError(t, err)

	require.NoError(t, first.AddItem(domain.AddItemParams{ProductID: "bread", Name: "Bread", UnitPrice: domain.MustMoney("2", "EUR"), Quantity: 1}))
	require.NoError(t, repo.Save(ctx, first))

	require.NoError(t, second.AddItem(domain.AddItemParams{ProductID: "wine", Name: "Wine", UnitPrice: domain.MustMoney("9", "EUR"), Quantity: 1}))
	err = repo.Save(ctx, second)
	require.Error(t, err)
	assert.True(t, domain.IsVersionConflict(err))
	assert.NotEmpty(t, second.UncommittedEvents())

	reloaded, err := repo.Load(ctx, "o-1")
	require.NoError(t, err)
	require.NoError(t, reloaded.AddItem(domain.AddItemParams{ProductID: "wine", Name: "Wine", UnitPrice: domain.MustMoney("9", "EUR"), Quantity: 1}))
	require.NoError(t, repo.Save(ctx, reloaded))

	final, err := repo.Load(ctx, "o-1")
	require.NoError(t, err)
	state := final.State()
	assert.Len(t, state.Items, 3)
	assert.True(t, state.Total.Equal(domain.MustMoney("24", "EUR")))
	assert.EqualValues(t, 4, state.Version)
}
