package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrBuyerNotFound возвращается, если покупатель не найден в справочнике.
	ErrBuyerNotFound = errors.New("buyer not found")
	// ErrItemNotFound возвращается, если позиция каталога не найдена.
	ErrItemNotFound = errors.New("catalog item not found")
	// ErrCategoryNotFound возвращается, если категория не найдена или удалена.
	ErrCategoryNotFound = errors.New("category not found")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")

	// ErrInsufficientStock: на складе меньше единиц, чем запрошено.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrItemVersionConflict сигнализирует, что позиция изменилась между чтением и записью.
	ErrItemVersionConflict = errors.New("catalog item version conflict")
	// ErrStockContention: исчерпан лимит повторов условного списания.
	ErrStockContention = errors.New("stock contention: retry budget exhausted")

	// ErrCategoryAlreadyExists: категория с таким именем уже существует.
	ErrCategoryAlreadyExists = errors.New("category already exists")
	// ErrCategoryHasItems: нельзя удалить категорию, пока на неё ссылаются позиции.
	ErrCategoryHasItems = errors.New("category still has items")
	// ErrBuyerAlreadyExists: покупатель с таким email уже зарегистрирован.
	ErrBuyerAlreadyExists = errors.New("buyer already exists")
	// ErrOrderAlreadyExists: заказ с таким ID уже сохранён.
	ErrOrderAlreadyExists = errors.New("order already exists")

	// ErrValidation: базовая ошибка некорректного запроса.
	ErrValidation = errors.New("validation failed")
	// ErrDeliveryFailure: ошибка доставки события подписчику. Наружу не выходит.
	ErrDeliveryFailure = errors.New("change event delivery failed")
)

// NotFound проверяет, относится ли ошибка к классу "не найдено".
func NotFound(err error) bool {
	return errors.Is(err, ErrBuyerNotFound) ||
		errors.Is(err, ErrItemNotFound) ||
		errors.Is(err, ErrCategoryNotFound) ||
		errors.Is(err, ErrOrderNotFound)
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий позиции.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrItemVersionConflict)
}

// InsufficientStockError называет позицию, по которой не хватило остатка.
type InsufficientStockError struct {
	ItemID    string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for item %s: requested %d, available %d", e.ItemID, e.Requested, e.Available)
}

// Is позволяет сравнивать через errors.Is с ErrInsufficientStock.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// ValidationError описывает некорректное поле запроса.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError создаёт ошибку валидации для поля.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// notFoundf добавляет идентификатор к sentinel-ошибке, сохраняя errors.Is.
func notFoundf(sentinel error, id string) error {
	return fmt.Errorf("%w: %s", sentinel, id)
}

// BuyerNotFound возвращает ErrBuyerNotFound с идентификатором покупателя.
func BuyerNotFound(id string) error { return notFoundf(ErrBuyerNotFound, id) }

// ItemNotFound возвращает ErrItemNotFound с идентификатором позиции.
func ItemNotFound(id string) error { return notFoundf(ErrItemNotFound, id) }

// CategoryNotFound возвращает ErrCategoryNotFound с именем категории.
func CategoryNotFound(name string) error { return notFoundf(ErrCategoryNotFound, name) }

// OrderNotFound возвращает ErrOrderNotFound с идентификатором заказа.
func OrderNotFound(id string) error { return notFoundf(ErrOrderNotFound, id) }
