// Package buyer регистрирует покупателей и отдаёт их профили.
package buyer

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
)

// Registration: данные нового покупателя.
type Registration struct {
	FullName string
	Email    string
	Phone    string
	Address  domain.Address
}

// Service управляет справочником покупателей.
type Service struct {
	directory domain.BuyerDirectory
	logger    *log.Entry
	newID     func() string
	now       func() time.Time
}

// NewService создаёт сервис покупателей.
func NewService(directory domain.BuyerDirectory, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "buyer-service")
	}
	return &Service{
		directory: directory,
		logger:    logger,
		newID:     uuid.NewString,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Register проверяет и сохраняет покупателя.
func (s *Service) Register(ctx context.Context, reg Registration) (domain.Buyer, error) {
	buyer := domain.Buyer{
		ID:        s.newID(),
		FullName:  strings.TrimSpace(reg.FullName),
		Email:     strings.ToLower(strings.TrimSpace(reg.Email)),
		Phone:     strings.TrimSpace(reg.Phone),
		Address:   reg.Address,
		CreatedAt: s.now(),
	}
	if errs := buyer.ValidateInvariants(); len(errs) > 0 {
		return domain.Buyer{}, errors.Join(errs...)
	}

	saved, err := s.directory.SaveBuyer(ctx, buyer)
	if err != nil {
		return domain.Buyer{}, err
	}
	s.logger.WithField("buyer_id", saved.ID).Info("buyer registered")
	return saved, nil
}

// Get возвращает покупателя по идентификатору.
func (s *Service) Get(ctx context.Context, id string) (domain.Buyer, error) {
	return s.directory.FindBuyerByID(ctx, id)
}
