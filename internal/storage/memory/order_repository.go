package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
)

// orderRepositoryInMemory: простая in-memory реализация OrderStore.
type orderRepositoryInMemory struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderStore {
	return &orderRepositoryInMemory{
		orders: make(map[string]domain.Order),
	}
}

// SaveOrder сохраняет новый заказ, если ID ещё не занят. Заказы только добавляются.
func (r *orderRepositoryInMemory) SaveOrder(ctx context.Context, order domain.Order) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[order.ID]; exists {
		return domain.Order{}, domain.ErrOrderAlreadyExists
	}
	// Храним копию строк, чтобы вызывающий не мог поменять сохранённый заказ.
	order.Lines = slices.Clone(order.Lines)
	r.orders[order.ID] = order
	return cloneOrder(order), nil
}

// FindOrderByID возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) FindOrderByID(ctx context.Context, id string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return domain.Order{}, domain.OrderNotFound(id)
	}
	return cloneOrder(order), nil
}

// ListOrdersByBuyer возвращает заказы покупателя, ограничивая выборку limit (если >0).
func (r *orderRepositoryInMemory) ListOrdersByBuyer(ctx context.Context, buyerID string, limit int) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, order := range r.orders {
		if order.BuyerID != buyerID {
			continue
		}
		result = append(result, cloneOrder(order))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

func cloneOrder(order domain.Order) domain.Order {
	order.Lines = slices.Clone(order.Lines)
	return order
}

var _ domain.OrderStore = (*orderRepositoryInMemory)(nil)
