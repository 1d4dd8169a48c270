package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
)

// catalogRepositoryInMemory хранит категории и позиции под одним мьютексом,
// поэтому проверка остатка и запись выполняются атомарно.
type catalogRepositoryInMemory struct {
	mu         sync.RWMutex
	items      map[string]domain.CatalogItem
	categories map[string]domain.Category // по нормализованному имени
	now        func() time.Time
}

// NewCatalogRepository возвращает in-memory каталог для локальной разработки и тестов.
func NewCatalogRepository() domain.CatalogStore {
	return &catalogRepositoryInMemory{
		items:      make(map[string]domain.CatalogItem),
		categories: make(map[string]domain.Category),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (r *catalogRepositoryInMemory) FindItemByID(ctx context.Context, id string) (domain.CatalogItem, error) {
	if err := ctx.Err(); err != nil {
		return domain.CatalogItem{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.items[id]
	if !ok {
		return domain.CatalogItem{}, domain.ItemNotFound(id)
	}
	return item, nil
}

func (r *catalogRepositoryInMemory) ListItems(ctx context.Context, categoryName string) ([]domain.CatalogItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := domain.NormalizeCategoryName(categoryName)
	result := make([]domain.CatalogItem, 0, len(r.items))
	for _, item := range r.items {
		if key != "" && domain.NormalizeCategoryName(item.Category.Name) != key {
			continue
		}
		result = append(result, item)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// CreateItem сохраняет новую позицию. Категория должна существовать.
func (r *catalogRepositoryInMemory) CreateItem(ctx context.Context, item domain.CatalogItem) (domain.CatalogItem, error) {
	if err := ctx.Err(); err != nil {
		return domain.CatalogItem{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[item.ID]; exists {
		return domain.CatalogItem{}, domain.ErrItemVersionConflict
	}
	if _, ok := r.liveCategoryLocked(item.Category.Name); !ok {
		return domain.CatalogItem{}, domain.CategoryNotFound(item.Category.Name)
	}

	now := r.now()
	item.Version = 1
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	r.items[item.ID] = item
	return item, nil
}

// SaveItem обновляет описательные поля, если версия совпала. Остаток берётся из хранилища.
func (r *catalogRepositoryInMemory) SaveItem(ctx context.Context, item domain.CatalogItem) (domain.CatalogItem, error) {
	if err := ctx.Err(); err != nil {
		return domain.CatalogItem{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[item.ID]
	if !ok {
		return domain.CatalogItem{}, domain.ItemNotFound(item.ID)
	}
	if current.Version != item.Version {
		return domain.CatalogItem{}, domain.ErrItemVersionConflict
	}
	if _, ok := r.liveCategoryLocked(item.Category.Name); !ok {
		return domain.CatalogItem{}, domain.CategoryNotFound(item.Category.Name)
	}

	current.Name = item.Name
	current.PriceMinor = item.PriceMinor
	current.Category = item.Category
	current.ReleaseDate = item.ReleaseDate
	current.Version++
	current.UpdatedAt = r.now()
	r.items[item.ID] = current
	return current, nil
}

func (r *catalogRepositoryInMemory) DeleteItem(ctx context.Context, id string) (domain.CatalogItem, error) {
	if err := ctx.Err(); err != nil {
		return domain.CatalogItem{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[id]
	if !ok {
		return domain.CatalogItem{}, domain.ItemNotFound(id)
	}
	delete(r.items, id)
	return item, nil
}

// DecrementStock списывает остаток, только если единиц хватает. Проверка и запись идут под одной блокировкой.
func (r *catalogRepositoryInMemory) DecrementStock(ctx context.Context, id string, qty int) (domain.CatalogItem, error) {
	if err := ctx.Err(); err != nil {
		return domain.CatalogItem{}, err
	}
	if qty < 1 {
		return domain.CatalogItem{}, domain.NewValidationError("quantity", "must be at least 1")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[id]
	if !ok {
		return domain.CatalogItem{}, domain.ItemNotFound(id)
	}
	if item.Stock < qty {
		return domain.CatalogItem{}, &domain.InsufficientStockError{ItemID: id, Requested: qty, Available: item.Stock}
	}

	item.Stock -= qty
	item.Version++
	item.UpdatedAt = r.now()
	r.items[id] = item
	return item, nil
}

// IncrementStock возвращает единицы на склад. Остаток не может превысить domain.MaxStock.
func (r *catalogRepositoryInMemory) IncrementStock(ctx context.Context, id string, qty int) (domain.CatalogItem, error) {
	if err := ctx.Err(); err != nil {
		return domain.CatalogItem{}, err
	}
	if qty < 1 {
		return domain.CatalogItem{}, domain.NewValidationError("quantity", "must be at least 1")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[id]
	if !ok {
		return domain.CatalogItem{}, domain.ItemNotFound(id)
	}
	if qty > domain.MaxStock-item.Stock {
		return domain.CatalogItem{}, domain.NewValidationError("quantity", "would push stock past the maximum")
	}
	item.Stock += qty
	item.Version++
	item.UpdatedAt = r.now()
	r.items[id] = item
	return item, nil
}

func (r *catalogRepositoryInMemory) FindCategoryByName(ctx context.Context, name string) (domain.Category, error) {
	if err := ctx.Err(); err != nil {
		return domain.Category{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	category, ok := r.liveCategoryLocked(name)
	if !ok {
		return domain.Category{}, domain.CategoryNotFound(name)
	}
	return category, nil
}

func (r *catalogRepositoryInMemory) ListCategories(ctx context.Context) ([]domain.Category, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Category, 0, len(r.categories))
	for _, category := range r.categories {
		if category.Deleted {
			continue
		}
		result = append(result, category)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// CreateCategory сохраняет категорию. Удалённая категория с тем же именем воскрешается с новыми данными.
func (r *catalogRepositoryInMemory) CreateCategory(ctx context.Context, category domain.Category) (domain.Category, error) {
	if err := ctx.Err(); err != nil {
		return domain.Category{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := domain.NormalizeCategoryName(category.Name)
	if existing, ok := r.categories[key]; ok && !existing.Deleted {
		return domain.Category{}, domain.ErrCategoryAlreadyExists
	}

	now := r.now()
	category.Deleted = false
	category.CreatedAt = now
	category.UpdatedAt = now
	category.Description.CreatedAt = now
	category.Description.UpdatedAt = now
	r.categories[key] = category
	return category, nil
}

func (r *catalogRepositoryInMemory) SaveCategory(ctx context.Context, category domain.Category) (domain.Category, error) {
	if err := ctx.Err(); err != nil {
		return domain.Category{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := domain.NormalizeCategoryName(category.Name)
	current, ok := r.categories[key]
	if !ok || current.Deleted || current.ID != category.ID {
		return domain.Category{}, domain.CategoryNotFound(category.Name)
	}

	now := r.now()
	current.Description.Text = category.Description.Text
	current.Description.UpdatedAt = now
	current.UpdatedAt = now
	r.categories[key] = current
	return current, nil
}

func (r *catalogRepositoryInMemory) DeleteCategory(ctx context.Context, name string) (domain.Category, error) {
	if err := ctx.Err(); err != nil {
		return domain.Category{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	category, ok := r.liveCategoryLocked(name)
	if !ok {
		return domain.Category{}, domain.CategoryNotFound(name)
	}
	for _, item := range r.items {
		if item.Category.ID == category.ID {
			return domain.Category{}, domain.ErrCategoryHasItems
		}
	}

	category.Deleted = true
	category.UpdatedAt = r.now()
	r.categories[domain.NormalizeCategoryName(name)] = category
	return category, nil
}

func (r *catalogRepositoryInMemory) liveCategoryLocked(name string) (domain.Category, bool) {
	category, ok := r.categories[domain.NormalizeCategoryName(name)]
	if !ok || category.Deleted {
		return domain.Category{}, false
	}
	return category, true
}

var _ domain.CatalogStore = (*catalogRepositoryInMemory)(nil)
