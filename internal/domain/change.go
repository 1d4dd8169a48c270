package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EntityTag определяет тип сущности в событии изменения.
type EntityTag string

const (
	EntityItems      EntityTag = "ITEMS"
	EntityCategories EntityTag = "CATEGORIES"
	EntityOrders     EntityTag = "ORDERS"
)

// ParseEntityTag разбирает имя сущности без учёта регистра.
func ParseEntityTag(raw string) (EntityTag, error) {
	switch tag := EntityTag(strings.ToUpper(strings.TrimSpace(raw))); tag {
	case EntityItems, EntityCategories, EntityOrders:
		return tag, nil
	default:
		return "", NewValidationError("entity", fmt.Sprintf("unknown entity %q", raw))
	}
}

// OperationKind: вид изменения сущности.
type OperationKind string

const (
	OperationCreate OperationKind = "CREATE"
	OperationUpdate OperationKind = "UPDATE"
	OperationDelete OperationKind = "DELETE"
)

// ChangeEvent: событие изменения каталога. Не сохраняется, живёт только на время рассылки.
type ChangeEvent struct {
	Entity    EntityTag     `json:"entity"`
	Type      OperationKind `json:"type"`
	Data      any           `json:"data"`
	CreatedAt time.Time     `json:"createdAt"`
}

// ChangeHeader: поля закодированного события, по которым sink-и маршрутизируют сообщение.
type ChangeHeader struct {
	Entity EntityTag     `json:"entity"`
	Type   OperationKind `json:"type"`
	// EntityID: идентификатор сущности из data, если он есть.
	EntityID string `json:"-"`
}

// PeekChangeEvent читает заголовок закодированного события, не разбирая payload целиком.
func PeekChangeEvent(msg []byte) (ChangeHeader, error) {
	var raw struct {
		Entity EntityTag     `json:"entity"`
		Type   OperationKind `json:"type"`
		Data   struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return ChangeHeader{}, fmt.Errorf("decode change event header: %w", err)
	}
	if raw.Entity == "" || raw.Type == "" {
		return ChangeHeader{}, NewValidationError("event", "entity and type are required")
	}
	return ChangeHeader{Entity: raw.Entity, Type: raw.Type, EntityID: raw.Data.ID}, nil
}
