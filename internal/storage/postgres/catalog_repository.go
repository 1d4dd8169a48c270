package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
)

// itemProjection выбирает позицию вместе с именем категории из источника %s (таблица или CTE).
const itemProjection = `
	SELECT i.id, i.name, c.id, c.name, i.price_minor, i.stock, i.release_date, i.version, i.created_at, i.updated_at
	FROM %s i
	JOIN categories c ON c.id = i.category_id`

const categoryColumns = `id, name, description, description_created_at, description_updated_at, deleted, created_at, updated_at`

type catalogRepository struct {
	db *sql.DB
}

// NewCatalogRepository создаёт PostgreSQL-реализацию каталога.
func NewCatalogRepository(store *Store) domain.CatalogStore {
	return &catalogRepository{db: store.DB()}
}

func (r *catalogRepository) FindItemByID(ctx context.Context, id string) (domain.CatalogItem, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	item, err := scanItem(r.db.QueryRowContext(ctx, fmt.Sprintf(itemProjection, "items")+` WHERE i.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CatalogItem{}, domain.ItemNotFound(id)
	}
	if err != nil {
		return domain.CatalogItem{}, fmt.Errorf("select item: %w", err)
	}
	return item, nil
}

func (r *catalogRepository) ListItems(ctx context.Context, categoryName string) ([]domain.CatalogItem, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(itemProjection, "items")+`
		WHERE $1 = '' OR c.name_key = $1
		ORDER BY i.name ASC, i.id ASC
	`, domain.NormalizeCategoryName(categoryName))
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.CatalogItem, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate item rows: %w", err)
	}
	return items, nil
}

// CreateItem вставляет позицию, только если её категория жива.
func (r *catalogRepository) CreateItem(ctx context.Context, item domain.CatalogItem) (domain.CatalogItem, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	created, err := scanItem(r.db.QueryRowContext(ctx, `
		WITH inserted AS (
			INSERT INTO items (id, name, category_id, price_minor, stock, release_date, version, created_at, updated_at)
			SELECT $1, $2, c.id, $4, $5, $6, 1, NOW(), NOW()
			FROM categories c
			WHERE c.id = $3 AND c.deleted = FALSE
			RETURNING *
		)`+fmt.Sprintf(itemProjection, "inserted"),
		item.ID, item.Name, item.Category.ID, item.PriceMinor, item.Stock, nullDate(item),
	))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.CatalogItem{}, domain.CategoryNotFound(item.Category.Name)
	case isUniqueViolation(err):
		return domain.CatalogItem{}, domain.ErrItemVersionConflict
	case isCheckViolation(err):
		return domain.CatalogItem{}, domain.NewValidationError("item", "price and stock must be non-negative")
	case err != nil:
		return domain.CatalogItem{}, fmt.Errorf("insert item: %w", err)
	}
	return created, nil
}

// SaveItem обновляет описательные поля при совпадении версии. Остаток не меняется.
func (r *catalogRepository) SaveItem(ctx context.Context, item domain.CatalogItem) (domain.CatalogItem, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	saved, err := scanItem(r.db.QueryRowContext(ctx, `
		WITH changed AS (
			UPDATE items
			SET name = $3,
			    category_id = $4,
			    price_minor = $5,
			    release_date = $6,
			    version = version + 1,
			    updated_at = NOW()
			WHERE id = $1
			  AND version = $2
			  AND EXISTS (SELECT 1 FROM categories WHERE id = $4 AND deleted = FALSE)
			RETURNING *
		)`+fmt.Sprintf(itemProjection, "changed"),
		item.ID, item.Version, item.Name, item.Category.ID, item.PriceMinor, nullDate(item),
	))
	if err == nil {
		return saved, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.CatalogItem{}, fmt.Errorf("update item: %w", err)
	}

	// Ничего не обновилось: выясняем причину.
	current, findErr := r.FindItemByID(ctx, item.ID)
	if findErr != nil {
		return domain.CatalogItem{}, findErr
	}
	if current.Version != item.Version {
		return domain.CatalogItem{}, domain.ErrItemVersionConflict
	}
	return domain.CatalogItem{}, domain.CategoryNotFound(item.Category.Name)
}

func (r *catalogRepository) DeleteItem(ctx context.Context, id string) (domain.CatalogItem, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	deleted, err := scanItem(r.db.QueryRowContext(ctx, `
		WITH removed AS (
			DELETE FROM items WHERE id = $1 RETURNING *
		)`+fmt.Sprintf(itemProjection, "removed"), id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CatalogItem{}, domain.ItemNotFound(id)
	}
	if err != nil {
		return domain.CatalogItem{}, fmt.Errorf("delete item: %w", err)
	}
	return deleted, nil
}

// DecrementStock списывает остаток одним условным UPDATE: строка меняется, только если
// единиц хватает в момент записи. Параллельные списания сериализуются блокировкой строки.
func (r *catalogRepository) DecrementStock(ctx context.Context, id string, qty int) (domain.CatalogItem, error) {
	if qty < 1 {
		return domain.CatalogItem{}, domain.NewValidationError("quantity", "must be at least 1")
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	item, err := scanItem(r.db.QueryRowContext(ctx, `
		WITH changed AS (
			UPDATE items
			SET stock = stock - $2,
			    version = version + 1,
			    updated_at = NOW()
			WHERE id = $1 AND stock >= $2
			RETURNING *
		)`+fmt.Sprintf(itemProjection, "changed"), id, qty))
	if err == nil {
		return item, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.CatalogItem{}, fmt.Errorf("decrement stock: %w", err)
	}

	var available int
	err = r.db.QueryRowContext(ctx, `SELECT stock FROM items WHERE id = $1`, id).Scan(&available)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CatalogItem{}, domain.ItemNotFound(id)
	}
	if err != nil {
		return domain.CatalogItem{}, fmt.Errorf("select stock: %w", err)
	}
	return domain.CatalogItem{}, &domain.InsufficientStockError{ItemID: id, Requested: qty, Available: available}
}

func (r *catalogRepository) IncrementStock(ctx context.Context, id string, qty int) (domain.CatalogItem, error) {
	if qty < 1 {
		return domain.CatalogItem{}, domain.NewValidationError("quantity", "must be at least 1")
	}
	if qty > domain.MaxStock {
		return domain.CatalogItem{}, domain.NewValidationError("quantity", "would push stock past the maximum")
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	item, err := scanItem(r.db.QueryRowContext(ctx, `
		WITH changed AS (
			UPDATE items
			SET stock = stock + $2,
			    version = version + 1,
			    updated_at = NOW()
			WHERE id = $1
			RETURNING *
		)`+fmt.Sprintf(itemProjection, "changed"), id, qty))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CatalogItem{}, domain.ItemNotFound(id)
	}
	if isOutOfRange(err) {
		return domain.CatalogItem{}, domain.NewValidationError("quantity", "would push stock past the maximum")
	}
	if err != nil {
		return domain.CatalogItem{}, fmt.Errorf("increment stock: %w", err)
	}
	return item, nil
}

func (r *catalogRepository) FindCategoryByName(ctx context.Context, name string) (domain.Category, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	category, err := scanCategory(r.db.QueryRowContext(ctx, `
		SELECT `+categoryColumns+`
		FROM categories
		WHERE name_key = $1 AND deleted = FALSE
	`, domain.NormalizeCategoryName(name)))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Category{}, domain.CategoryNotFound(name)
	}
	if err != nil {
		return domain.Category{}, fmt.Errorf("select category: %w", err)
	}
	return category, nil
}

func (r *catalogRepository) ListCategories(ctx context.Context) ([]domain.Category, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+categoryColumns+`
		FROM categories
		WHERE deleted = FALSE
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	categories := make([]domain.Category, 0)
	for rows.Next() {
		category, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan category row: %w", err)
		}
		categories = append(categories, category)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate category rows: %w", err)
	}
	return categories, nil
}

// CreateCategory вставляет категорию. Уникальность имени среди живых категорий держит частичный индекс.
func (r *catalogRepository) CreateCategory(ctx context.Context, category domain.Category) (domain.Category, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	created, err := scanCategory(r.db.QueryRowContext(ctx, `
		INSERT INTO categories (id, name, name_key, description)
		VALUES ($1, $2, $3, $4)
		RETURNING `+categoryColumns,
		category.ID, category.Name, domain.NormalizeCategoryName(category.Name), category.Description.Text,
	))
	if isUniqueViolation(err) {
		return domain.Category{}, domain.ErrCategoryAlreadyExists
	}
	if err != nil {
		return domain.Category{}, fmt.Errorf("insert category: %w", err)
	}
	return created, nil
}

func (r *catalogRepository) SaveCategory(ctx context.Context, category domain.Category) (domain.Category, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	saved, err := scanCategory(r.db.QueryRowContext(ctx, `
		UPDATE categories
		SET description = $2,
		    description_updated_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1 AND deleted = FALSE
		RETURNING `+categoryColumns,
		category.ID, category.Description.Text,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Category{}, domain.CategoryNotFound(category.Name)
	}
	if err != nil {
		return domain.Category{}, fmt.Errorf("update category: %w", err)
	}
	return saved, nil
}

// DeleteCategory помечает категорию удалённой, если на неё не ссылается ни одна позиция.
func (r *catalogRepository) DeleteCategory(ctx context.Context, name string) (result domain.Category, err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Category{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var id string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM categories
		WHERE name_key = $1 AND deleted = FALSE
		FOR UPDATE
	`, domain.NormalizeCategoryName(name)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Category{}, domain.CategoryNotFound(name)
	}
	if err != nil {
		return domain.Category{}, fmt.Errorf("lock category: %w", err)
	}

	var inUse bool
	if err = tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM items WHERE category_id = $1)`, id).Scan(&inUse); err != nil {
		return domain.Category{}, fmt.Errorf("check category items: %w", err)
	}
	if inUse {
		err = domain.ErrCategoryHasItems
		return domain.Category{}, err
	}

	result, err = scanCategory(tx.QueryRowContext(ctx, `
		UPDATE categories
		SET deleted = TRUE, updated_at = NOW()
		WHERE id = $1
		RETURNING `+categoryColumns, id))
	if err != nil {
		return domain.Category{}, fmt.Errorf("soft delete category: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return domain.Category{}, fmt.Errorf("commit delete category: %w", err)
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (domain.CatalogItem, error) {
	var (
		item    domain.CatalogItem
		release sql.NullTime
	)
	err := row.Scan(
		&item.ID, &item.Name, &item.Category.ID, &item.Category.Name,
		&item.PriceMinor, &item.Stock, &release, &item.Version, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return domain.CatalogItem{}, err
	}
	if release.Valid {
		item.ReleaseDate = release.Time
	}
	return item, nil
}

func scanCategory(row rowScanner) (domain.Category, error) {
	var c domain.Category
	err := row.Scan(
		&c.ID, &c.Name, &c.Description.Text, &c.Description.CreatedAt, &c.Description.UpdatedAt,
		&c.Deleted, &c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}

func nullDate(item domain.CatalogItem) sql.NullTime {
	return sql.NullTime{Time: item.ReleaseDate, Valid: !item.ReleaseDate.IsZero()}
}

var _ domain.CatalogStore = (*catalogRepository)(nil)
