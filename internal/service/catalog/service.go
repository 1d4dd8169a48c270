// Package catalog управляет категориями и позициями каталога и сообщает подписчикам об изменениях.
package catalog

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
)

// Options задаёт параметры сервиса каталога.
type Options struct {
	Logger   *log.Entry
	Notifier domain.ChangeNotifier
	Retry    RetryConfig
	NewID    func() string
}

// Option настраивает Service.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) { opts.Logger = logger }
}

// WithNotifier задаёт получателя событий изменения.
func WithNotifier(n domain.ChangeNotifier) Option {
	return func(opts *Options) { opts.Notifier = n }
}

// WithRetry задаёт повторы при конфликте версий позиции.
func WithRetry(cfg RetryConfig) Option {
	return func(opts *Options) { opts.Retry = cfg }
}

// WithIDGenerator подменяет генератор идентификаторов.
func WithIDGenerator(newID func() string) Option {
	return func(opts *Options) { opts.NewID = newID }
}

// ItemInput: описательные поля позиции, приходящие от клиента.
type ItemInput struct {
	Name         string
	CategoryName string
	PriceMinor   int64
	ReleaseDate  time.Time
}

// Service реализует управление каталогом.
type Service struct {
	store    domain.CatalogStore
	notifier domain.ChangeNotifier
	logger   *log.Entry
	retry    RetryConfig
	newID    func() string
}

// NewService создаёт сервис каталога поверх хранилища.
func NewService(store domain.CatalogStore, options ...Option) *Service {
	opts := Options{Retry: DefaultRetryConfig()}
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "catalog-service")
	}
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	return &Service{
		store:    store,
		notifier: opts.Notifier,
		logger:   opts.Logger,
		retry:    opts.Retry.normalized(),
		newID:    opts.NewID,
	}
}

// ListCategories возвращает живые категории по имени.
func (s *Service) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return s.store.ListCategories(ctx)
}

// GetCategory ищет категорию по имени без учёта регистра.
func (s *Service) GetCategory(ctx context.Context, name string) (domain.Category, error) {
	return s.store.FindCategoryByName(ctx, name)
}

// CreateCategory заводит категорию с уникальным именем.
func (s *Service) CreateCategory(ctx context.Context, name, description string) (domain.Category, error) {
	name = strings.TrimSpace(name)
	if len(name) < 2 {
		return domain.Category{}, domain.NewValidationError("name", "must have at least 2 characters")
	}

	created, err := s.store.CreateCategory(ctx, domain.Category{
		ID:          s.newID(),
		Name:        name,
		Description: domain.Description{Text: strings.TrimSpace(description)},
	})
	if err != nil {
		return domain.Category{}, err
	}

	s.logger.WithField("category", created.Name).Info("category created")
	s.notifier.Notify(domain.EntityCategories, domain.OperationCreate, created.Snapshot())
	return created, nil
}

// UpdateCategory меняет описание категории.
func (s *Service) UpdateCategory(ctx context.Context, name, description string) (domain.Category, error) {
	current, err := s.store.FindCategoryByName(ctx, name)
	if err != nil {
		return domain.Category{}, err
	}
	current.Description.Text = strings.TrimSpace(description)

	saved, err := s.store.SaveCategory(ctx, current)
	if err != nil {
		return domain.Category{}, err
	}
	s.notifier.Notify(domain.EntityCategories, domain.OperationUpdate, saved.Snapshot())
	return saved, nil
}

// DeleteCategory мягко удаляет категорию, если на неё не ссылаются позиции.
func (s *Service) DeleteCategory(ctx context.Context, name string) (domain.Category, error) {
	deleted, err := s.store.DeleteCategory(ctx, name)
	if err != nil {
		return domain.Category{}, err
	}

	s.logger.WithField("category", deleted.Name).Info("category deleted")
	s.notifier.Notify(domain.EntityCategories, domain.OperationDelete, deleted.Snapshot())
	return deleted, nil
}

// ListItems возвращает позиции, при непустом categoryName только из этой категории.
func (s *Service) ListItems(ctx context.Context, categoryName string) ([]domain.CatalogItem, error) {
	if strings.TrimSpace(categoryName) != "" {
		if _, err := s.store.FindCategoryByName(ctx, categoryName); err != nil {
			return nil, err
		}
	}
	return s.store.ListItems(ctx, categoryName)
}

// GetItem возвращает позицию по идентификатору.
func (s *Service) GetItem(ctx context.Context, id string) (domain.CatalogItem, error) {
	return s.store.FindItemByID(ctx, id)
}

// CreateItem заводит позицию с начальным остатком.
func (s *Service) CreateItem(ctx context.Context, input ItemInput, stock int) (domain.CatalogItem, error) {
	category, err := s.resolveCategory(ctx, input.CategoryName)
	if err != nil {
		return domain.CatalogItem{}, err
	}

	item := domain.CatalogItem{
		ID:          s.newID(),
		Name:        strings.TrimSpace(input.Name),
		Category:    category,
		PriceMinor:  input.PriceMinor,
		Stock:       stock,
		ReleaseDate: input.ReleaseDate,
	}
	if errs := item.ValidateInvariants(); len(errs) > 0 {
		return domain.CatalogItem{}, errors.Join(errs...)
	}

	created, err := s.store.CreateItem(ctx, item)
	if err != nil {
		return domain.CatalogItem{}, err
	}

	s.logger.WithFields(log.Fields{
		"item_id":  created.ID,
		"category": created.Category.Name,
		"stock":    created.Stock,
	}).Info("catalog item created")
	s.notifier.Notify(domain.EntityItems, domain.OperationCreate, created.Snapshot())
	return created, nil
}

// UpdateItem меняет описательные поля позиции. Остаток не трогается.
// Конфликт версий с параллельным списанием разрешается перечитыванием и повтором.
func (s *Service) UpdateItem(ctx context.Context, id string, input ItemInput) (domain.CatalogItem, error) {
	category, err := s.resolveCategory(ctx, input.CategoryName)
	if err != nil {
		return domain.CatalogItem{}, err
	}

	var saved domain.CatalogItem
	err = retryOnConflict(ctx, s.retry, s.logger, id, func() error {
		current, err := s.store.FindItemByID(ctx, id)
		if err != nil {
			return err
		}

		current.Name = strings.TrimSpace(input.Name)
		current.Category = category
		current.PriceMinor = input.PriceMinor
		current.ReleaseDate = input.ReleaseDate
		if errs := current.ValidateInvariants(); len(errs) > 0 {
			return errors.Join(errs...)
		}

		saved, err = s.store.SaveItem(ctx, current)
		return err
	})
	if err != nil {
		return domain.CatalogItem{}, err
	}

	s.notifier.Notify(domain.EntityItems, domain.OperationUpdate, saved.Snapshot())
	return saved, nil
}

// Restock добавляет единицы на склад.
func (s *Service) Restock(ctx context.Context, id string, qty int) (domain.CatalogItem, error) {
	if qty < 1 {
		return domain.CatalogItem{}, domain.NewValidationError("quantity", "must be at least 1")
	}
	if qty > domain.MaxStock {
		return domain.CatalogItem{}, domain.NewValidationError("quantity", "exceeds the maximum stock")
	}

	updated, err := s.store.IncrementStock(ctx, id, qty)
	if err != nil {
		return domain.CatalogItem{}, err
	}

	s.logger.WithFields(log.Fields{
		"item_id": updated.ID,
		"added":   qty,
		"stock":   updated.Stock,
	}).Info("catalog item restocked")
	s.notifier.Notify(domain.EntityItems, domain.OperationUpdate, updated.Snapshot())
	return updated, nil
}

// DeleteItem удаляет позицию.
func (s *Service) DeleteItem(ctx context.Context, id string) (domain.CatalogItem, error) {
	deleted, err := s.store.DeleteItem(ctx, id)
	if err != nil {
		return domain.CatalogItem{}, err
	}

	s.logger.WithField("item_id", deleted.ID).Info("catalog item deleted")
	s.notifier.Notify(domain.EntityItems, domain.OperationDelete, deleted.Snapshot())
	return deleted, nil
}

// resolveCategory превращает имя категории из запроса в ссылку, которую хранит позиция.
func (s *Service) resolveCategory(ctx context.Context, name string) (domain.CategoryRef, error) {
	if strings.TrimSpace(name) == "" {
		return domain.CategoryRef{}, domain.NewValidationError("category", "is required")
	}
	category, err := s.store.FindCategoryByName(ctx, name)
	if err != nil {
		return domain.CategoryRef{}, err
	}
	return category.Ref(), nil
}

type nopNotifier struct{}

func (nopNotifier) Notify(domain.EntityTag, domain.OperationKind, any) {}
