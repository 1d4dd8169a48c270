package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// DefaultCurrency: валюта заказов, если конфигурация не задаёт другую.
const DefaultCurrency = "USD"

// RequestedLine: строка заказа в том виде, в котором её прислал клиент.
type RequestedLine struct {
	ItemID   string
	Quantity int
}

// ValidateOrderRequest проверяет форму запроса на оформление заказа.
// Все найденные замечания объединяются через errors.Join, errors.Is(err, ErrValidation) остаётся истинным.
func ValidateOrderRequest(buyerID string, lines []RequestedLine) error {
	var errs []error

	if strings.TrimSpace(buyerID) == "" {
		errs = append(errs, NewValidationError("buyerId", "is required"))
	}
	if len(lines) == 0 {
		errs = append(errs, NewValidationError("lines", "must contain at least one line"))
	}
	for i, line := range lines {
		if strings.TrimSpace(line.ItemID) == "" {
			errs = append(errs, NewValidationError(fmt.Sprintf("lines[%d].itemId", i), "is required"))
		}
		if line.Quantity < 1 {
			errs = append(errs, NewValidationError(fmt.Sprintf("lines[%d].quantity", i), "must be at least 1"))
		}
	}

	return errors.Join(errs...)
}

// OrderLine представляет одну позицию оформленного заказа.
type OrderLine struct {
	ID       string
	Item     ItemRef
	Quantity int
	// UnitPriceMinor: цена единицы, зафиксированная в момент оформления.
	UnitPriceMinor int64
	TotalMinor     int64
	CreatedAt      time.Time
}

// NewOrderLine фиксирует цену позиции и считает итог строки.
func NewOrderLine(id string, item CatalogItem, quantity int, now time.Time) (OrderLine, error) {
	total, err := LineTotal(quantity, item.PriceMinor)
	if err != nil {
		return OrderLine{}, err
	}
	return OrderLine{
		ID:             id,
		Item:           item.Ref(),
		Quantity:       quantity,
		UnitPriceMinor: item.PriceMinor,
		TotalMinor:     total,
		CreatedAt:      now,
	}, nil
}

// LineTotal считает quantity x unitPriceMinor. Итог, не помещающийся в int64, отклоняется.
func LineTotal(quantity int, unitPriceMinor int64) (int64, error) {
	total, ok := mulMinor(int64(quantity), unitPriceMinor)
	if !ok {
		return 0, NewValidationError("lineTotal", "overflows the price range")
	}
	return total, nil
}

// AddToTotal прибавляет итог строки к итогу заказа с проверкой переполнения.
func AddToTotal(total, lineTotal int64) (int64, error) {
	sum, ok := addMinor(total, lineTotal)
	if !ok {
		return 0, NewValidationError("total", "overflows the price range")
	}
	return sum, nil
}

func mulMinor(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	c := a * b
	if c/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return 0, false
	}
	return c, true
}

func addMinor(a, b int64) (int64, bool) {
	c := a + b
	if (b > 0 && c < a) || (b < 0 && c > a) {
		return 0, false
	}
	return c, true
}

// Order агрегирует заказ покупателя и его строки.
type Order struct {
	ID         string
	BuyerID    string
	Lines      []OrderLine
	TotalItems int
	TotalMinor int64
	Currency   string
	Address    Address
	Deleted    bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// RecalculateTotals пересчитывает итоги заказа по строкам.
// Итоги никогда не принимаются от вызывающего как есть. При переполнении заказ не меняется.
func (o *Order) RecalculateTotals() error {
	var (
		items int
		total int64
	)
	lineTotals := make([]int64, len(o.Lines))
	for i, line := range o.Lines {
		lineTotal, err := LineTotal(line.Quantity, line.UnitPriceMinor)
		if err != nil {
			return fmt.Errorf("line %d: %w", i+1, err)
		}
		if total, err = AddToTotal(total, lineTotal); err != nil {
			return err
		}
		lineTotals[i] = lineTotal
		items += line.Quantity
	}
	for i := range o.Lines {
		o.Lines[i].TotalMinor = lineTotals[i]
	}
	o.TotalItems = items
	o.TotalMinor = total
	return nil
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.BuyerID == "" {
		errs = append(errs, NewValidationError("buyerId", "is required"))
	}
	if o.Currency == "" {
		errs = append(errs, NewValidationError("currency", "is required"))
	}
	if len(o.Lines) == 0 {
		errs = append(errs, NewValidationError("lines", "must contain at least one line"))
	}

	var (
		items      int
		total      int64
		overflowed bool
	)
	for _, line := range o.Lines {
		if line.Quantity < 1 {
			errs = append(errs, NewValidationError("quantity", "must be at least 1"))
		}
		if line.UnitPriceMinor < 0 {
			errs = append(errs, NewValidationError("unitPrice", "must be non-negative"))
		}
		expected, err := LineTotal(line.Quantity, line.UnitPriceMinor)
		switch {
		case err != nil:
			errs = append(errs, err)
		case line.TotalMinor != expected:
			errs = append(errs, NewValidationError("lineTotal", "does not match quantity x unit price"))
		}
		items += line.Quantity
		if !overflowed {
			if total, err = AddToTotal(total, line.TotalMinor); err != nil {
				errs = append(errs, err)
				overflowed = true
			}
		}
	}
	if items != o.TotalItems {
		errs = append(errs, NewValidationError("totalItems", "does not match lines"))
	}
	if !overflowed && total != o.TotalMinor {
		errs = append(errs, NewValidationError("total", "does not match lines"))
	}
	if o.TotalMinor < 0 {
		errs = append(errs, NewValidationError("total", "must be non-negative"))
	}

	return errs
}

// OrderLineSnapshot: внешнее представление строки заказа.
type OrderLineSnapshot struct {
	ID             string `json:"id"`
	ItemID         string `json:"itemId"`
	ItemName       string `json:"itemName"`
	Quantity       int    `json:"quantity"`
	UnitPriceMinor int64  `json:"unitPriceMinor"`
	TotalMinor     int64  `json:"totalMinor"`
}

// OrderSnapshot: внешнее представление заказа.
type OrderSnapshot struct {
	ID         string              `json:"id"`
	BuyerID    string              `json:"buyerId"`
	Lines      []OrderLineSnapshot `json:"lines"`
	TotalItems int                 `json:"totalItems"`
	TotalMinor int64               `json:"totalMinor"`
	Currency   string              `json:"currency"`
	Address    Address             `json:"address"`
	Deleted    bool                `json:"deleted"`
	CreatedAt  time.Time           `json:"createdAt"`
	UpdatedAt  time.Time           `json:"updatedAt"`
}

// Snapshot строит внешнее представление заказа.
func (o Order) Snapshot() OrderSnapshot {
	lines := make([]OrderLineSnapshot, 0, len(o.Lines))
	for _, line := range o.Lines {
		lines = append(lines, OrderLineSnapshot{
			ID:             line.ID,
			ItemID:         line.Item.ID,
			ItemName:       line.Item.Name,
			Quantity:       line.Quantity,
			UnitPriceMinor: line.UnitPriceMinor,
			TotalMinor:     line.TotalMinor,
		})
	}
	return OrderSnapshot{
		ID:         o.ID,
		BuyerID:    o.BuyerID,
		Lines:      lines,
		TotalItems: o.TotalItems,
		TotalMinor: o.TotalMinor,
		Currency:   o.Currency,
		Address:    o.Address,
		Deleted:    o.Deleted,
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
	}
}
