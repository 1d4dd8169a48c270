package domain

import (
	"strings"
	"time"
)

// Address: адрес доставки заказа.
type Address struct {
	Street     string `json:"street"`
	Number     string `json:"number,omitempty"`
	City       string `json:"city"`
	Province   string `json:"province,omitempty"`
	Country    string `json:"country"`
	PostalCode string `json:"postalCode"`
}

// IsZero сообщает, что адрес не заполнен.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Buyer: покупатель, от имени которого оформляются заказы.
type Buyer struct {
	ID        string
	FullName  string
	Email     string
	Phone     string
	Address   Address
	CreatedAt time.Time
}

// ValidateInvariants проверяет обязательные поля покупателя.
func (b *Buyer) ValidateInvariants() []error {
	var errs []error
	if len(strings.TrimSpace(b.FullName)) < 3 {
		errs = append(errs, NewValidationError("fullName", "must have at least 3 characters"))
	}
	if !strings.Contains(b.Email, "@") {
		errs = append(errs, NewValidationError("email", "must be a valid address"))
	}
	if strings.TrimSpace(b.Phone) == "" {
		errs = append(errs, NewValidationError("phone", "is required"))
	}
	return errs
}
