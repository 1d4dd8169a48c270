package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
)

type buyerRepositoryInMemory struct {
	mu      sync.RWMutex
	buyers  map[string]domain.Buyer
	byEmail map[string]string
}

// NewBuyerRepository возвращает in-memory справочник покупателей.
func NewBuyerRepository() domain.BuyerDirectory {
	return &buyerRepositoryInMemory{
		buyers:  make(map[string]domain.Buyer),
		byEmail: make(map[string]string),
	}
}

func (r *buyerRepositoryInMemory) FindBuyerByID(ctx context.Context, id string) (domain.Buyer, error) {
	if err := ctx.Err(); err != nil {
		return domain.Buyer{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	buyer, ok := r.buyers[id]
	if !ok {
		return domain.Buyer{}, domain.BuyerNotFound(id)
	}
	return buyer, nil
}

func (r *buyerRepositoryInMemory) SaveBuyer(ctx context.Context, buyer domain.Buyer) (domain.Buyer, error) {
	if err := ctx.Err(); err != nil {
		return domain.Buyer{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	email := strings.ToLower(strings.TrimSpace(buyer.Email))
	if ownerID, taken := r.byEmail[email]; taken && ownerID != buyer.ID {
		return domain.Buyer{}, domain.ErrBuyerAlreadyExists
	}
	r.buyers[buyer.ID] = buyer
	r.byEmail[email] = buyer.ID
	return buyer, nil
}

var _ domain.BuyerDirectory = (*buyerRepositoryInMemory)(nil)
