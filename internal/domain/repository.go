package domain

import "context"

// StockLedger: часть каталога, через которую меняется остаток позиции.
type StockLedger interface {
	// FindItemByID возвращает позицию или ErrItemNotFound.
	FindItemByID(ctx context.Context, id string) (CatalogItem, error)
	// DecrementStock условно списывает qty единиц: запись проходит, только если в момент
	// записи остатка хватает, иначе InsufficientStockError. Возвращает состояние после списания.
	DecrementStock(ctx context.Context, id string, qty int) (CatalogItem, error)
	// IncrementStock безусловно возвращает qty единиц на склад.
	IncrementStock(ctx context.Context, id string, qty int) (CatalogItem, error)
}

// ItemStore описывает хранилище позиций каталога.
type ItemStore interface {
	StockLedger
	// ListItems возвращает позиции; пустое имя категории означает "все".
	ListItems(ctx context.Context, categoryName string) ([]CatalogItem, error)
	// CreateItem сохраняет новую позицию с версией 1.
	CreateItem(ctx context.Context, item CatalogItem) (CatalogItem, error)
	// SaveItem обновляет описательные поля с проверкой версии. Остаток не трогает.
	SaveItem(ctx context.Context, item CatalogItem) (CatalogItem, error)
	// DeleteItem удаляет позицию и возвращает её последнее состояние.
	DeleteItem(ctx context.Context, id string) (CatalogItem, error)
}

// CategoryStore описывает хранилище категорий.
type CategoryStore interface {
	// FindCategoryByName ищет живую категорию без учёта регистра или возвращает ErrCategoryNotFound.
	FindCategoryByName(ctx context.Context, name string) (Category, error)
	ListCategories(ctx context.Context) ([]Category, error)
	// CreateCategory возвращает ErrCategoryAlreadyExists при дубле имени.
	CreateCategory(ctx context.Context, category Category) (Category, error)
	SaveCategory(ctx context.Context, category Category) (Category, error)
	// DeleteCategory помечает категорию удалённой; ErrCategoryHasItems, если на неё ссылаются позиции.
	DeleteCategory(ctx context.Context, name string) (Category, error)
}

// CatalogStore объединяет позиции и категории.
type CatalogStore interface {
	ItemStore
	CategoryStore
}

// OrderStore описывает требования к хранилищу заказов.
type OrderStore interface {
	// SaveOrder сохраняет новый заказ. Повторный ID даёт ErrOrderAlreadyExists.
	SaveOrder(ctx context.Context, order Order) (Order, error)
	// FindOrderByID возвращает заказ или ErrOrderNotFound.
	FindOrderByID(ctx context.Context, id string) (Order, error)
	// ListOrdersByBuyer возвращает заказы покупателя от новых к старым; limit<=0 означает "без ограничения".
	ListOrdersByBuyer(ctx context.Context, buyerID string, limit int) ([]Order, error)
}

// BuyerDirectory описывает справочник покупателей.
type BuyerDirectory interface {
	FindBuyerByID(ctx context.Context, id string) (Buyer, error)
	// SaveBuyer регистрирует покупателя; ErrBuyerAlreadyExists при дубле email.
	SaveBuyer(ctx context.Context, buyer Buyer) (Buyer, error)
}
