package domain_test

import (
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/esoms/internal/domain"
)

// stepClock выдаёт монотонное время и предсказуемые идентификаторы.
type stepClock struct {
	now time.Time
	seq int
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *stepClock) NewID() string {
	c.seq++
	return fmt.Sprintf("evt-%04d", c.seq)
}

var testAddress = domain.Address{Line1: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US"}

func createParams(id string, bc domain.BusinessContext) domain.CreateOrderParams {
	return domain.CreateOrderParams{
		ID:              id,
		Customer:        domain.CustomerInfo{ID: "customer-1", Name: "Jane", Email: "jane@example.com"},
		DeliveryAddress: testAddress,
		BusinessContext: bc,
		Currency:        "USD",
	}
}

func item(productID, price string, qty int) domain.AddItemParams {
	return domain.AddItemParams{
		ProductID: productID,
		Name:      "Product " + productID,
		UnitPrice: domain.MustMoney(price, "USD"),
		Quantity:  qty,
	}
}

// newOrder создаёт агрегат с позициями; паникует на ошибке, т.к. используется только в тестах.
func newOrder(bc domain.BusinessContext, items ...domain.AddItemParams) *domain.Aggregate {
	agg := domain.NewAggregate(newStepClock())
	if err := agg.Create(createParams("order-1", bc)); err != nil {
		panic(err)
	}
	for _, it := range items {
		if err := agg.AddItem(it); err != nil {
			panic(err)
		}
	}
	return agg
}
