package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
)

type buyerRepository struct {
	db *sql.DB
}

// NewBuyerRepository создаёт PostgreSQL-справочник покупателей.
func NewBuyerRepository(store *Store) domain.BuyerDirectory {
	return &buyerRepository{db: store.DB()}
}

func (r *buyerRepository) FindBuyerByID(ctx context.Context, id string) (domain.Buyer, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		buyer   domain.Buyer
		address []byte
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, full_name, email, phone, address, created_at
		FROM buyers
		WHERE id = $1
	`, id).Scan(&buyer.ID, &buyer.FullName, &buyer.Email, &buyer.Phone, &address, &buyer.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Buyer{}, domain.BuyerNotFound(id)
	}
	if err != nil {
		return domain.Buyer{}, fmt.Errorf("select buyer: %w", err)
	}
	if err := json.Unmarshal(address, &buyer.Address); err != nil {
		return domain.Buyer{}, fmt.Errorf("decode buyer address: %w", err)
	}
	return buyer, nil
}

func (r *buyerRepository) SaveBuyer(ctx context.Context, buyer domain.Buyer) (domain.Buyer, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	address, err := json.Marshal(buyer.Address)
	if err != nil {
		return domain.Buyer{}, fmt.Errorf("encode buyer address: %w", err)
	}

	err = r.db.QueryRowContext(ctx, `
		INSERT INTO buyers (id, full_name, email, phone, address)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, buyer.ID, buyer.FullName, buyer.Email, buyer.Phone, address).Scan(&buyer.CreatedAt)
	if isUniqueViolation(err) {
		return domain.Buyer{}, domain.ErrBuyerAlreadyExists
	}
	if err != nil {
		return domain.Buyer{}, fmt.Errorf("insert buyer: %w", err)
	}
	return buyer, nil
}

var _ domain.BuyerDirectory = (*buyerRepository)(nil)
