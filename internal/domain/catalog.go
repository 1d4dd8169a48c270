package domain

import (
	"math"
	"strings"
	"time"
)

// MaxStock: верхняя граница остатка одной позиции, совпадает с диапазоном колонки stock.
const MaxStock = math.MaxInt32

// Description хранит текстовое описание категории и моменты его изменения.
type Description struct {
	Text      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Category: полная запись категории каталога.
type Category struct {
	ID          string
	Name        string
	Description Description
	Deleted     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CategoryRef: тонкая ссылка на категорию (id + имя), которую хранит позиция каталога.
type CategoryRef struct {
	ID   string
	Name string
}

// Ref превращает полную категорию в ссылку.
func (c Category) Ref() CategoryRef {
	return CategoryRef{ID: c.ID, Name: c.Name}
}

// NormalizeCategoryName приводит имя категории к виду, по которому проверяется уникальность.
func NormalizeCategoryName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// CatalogItem: позиция каталога вместе с остатком на складе.
type CatalogItem struct {
	ID       string
	Name     string
	Category CategoryRef
	// PriceMinor: цена за единицу в минимальных денежных единицах.
	PriceMinor  int64
	Stock       int
	ReleaseDate time.Time
	// Version растёт при каждом изменении записи и используется для условной записи.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ItemRef: ссылка на позицию каталога, которую хранит строка заказа.
type ItemRef struct {
	ID   string
	Name string
}

// Ref превращает полную позицию в ссылку.
func (i CatalogItem) Ref() ItemRef {
	return ItemRef{ID: i.ID, Name: i.Name}
}

// ValidateInvariants проверяет инварианты позиции и возвращает список замечаний.
func (i *CatalogItem) ValidateInvariants() []error {
	var errs []error

	if strings.TrimSpace(i.Name) == "" {
		errs = append(errs, NewValidationError("name", "is required"))
	}
	if i.PriceMinor < 0 {
		errs = append(errs, NewValidationError("price", "must be non-negative"))
	}
	if i.Stock < 0 {
		errs = append(errs, NewValidationError("stock", "must be non-negative"))
	}
	if i.Stock > MaxStock {
		errs = append(errs, NewValidationError("stock", "exceeds the maximum stock"))
	}
	if i.Category.ID == "" {
		errs = append(errs, NewValidationError("category", "is required"))
	}

	return errs
}

// ItemSnapshot: внешнее представление позиции, которое уходит подписчикам и в API.
type ItemSnapshot struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Category    string    `json:"category"`
	PriceMinor  int64     `json:"priceMinor"`
	Stock       int       `json:"stock"`
	ReleaseDate string    `json:"releaseDate,omitempty"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Snapshot строит внешнее представление позиции: категория отдаётся по имени.
func (i CatalogItem) Snapshot() ItemSnapshot {
	s := ItemSnapshot{
		ID:         i.ID,
		Name:       i.Name,
		Category:   i.Category.Name,
		PriceMinor: i.PriceMinor,
		Stock:      i.Stock,
		Version:    i.Version,
		CreatedAt:  i.CreatedAt,
		UpdatedAt:  i.UpdatedAt,
	}
	if !i.ReleaseDate.IsZero() {
		s.ReleaseDate = i.ReleaseDate.Format(time.DateOnly)
	}
	return s
}

// CategorySnapshot: внешнее представление категории.
type CategorySnapshot struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Deleted     bool      `json:"deleted"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Snapshot строит внешнее представление категории.
func (c Category) Snapshot() CategorySnapshot {
	return CategorySnapshot{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description.Text,
		Deleted:     c.Deleted,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}
