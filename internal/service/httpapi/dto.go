package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
)

type addressRequest struct {
	Street     string `json:"street" validate:"required"`
	Number     string `json:"number"`
	City       string `json:"city" validate:"required"`
	Province   string `json:"province"`
	Country    string `json:"country" validate:"required"`
	PostalCode string `json:"postalCode" validate:"required"`
}

func (a *addressRequest) toDomain() domain.Address {
	if a == nil {
		return domain.Address{}
	}
	return domain.Address{
		Street:     a.Street,
		Number:     a.Number,
		City:       a.City,
		Province:   a.Province,
		Country:    a.Country,
		PostalCode: a.PostalCode,
	}
}

type orderLineRequest struct {
	ItemID   string `json:"itemId" validate:"required"`
	Quantity int    `json:"quantity" validate:"required,min=1"`
}

type submitOrderRequest struct {
	BuyerID string             `json:"buyerId" validate:"required"`
	Lines   []orderLineRequest `json:"lines" validate:"required,min=1,dive"`
	Address *addressRequest    `json:"address,omitempty"`
}

type orderResponse struct {
	domain.OrderSnapshot
	Total string `json:"total"`
}

func toOrderResponse(order domain.Order) orderResponse {
	return orderResponse{OrderSnapshot: order.Snapshot(), Total: formatPrice(order.TotalMinor)}
}

type registerBuyerRequest struct {
	FullName string         `json:"fullName" validate:"required,min=3"`
	Email    string         `json:"email" validate:"required,email"`
	Phone    string         `json:"phone" validate:"required"`
	Address  addressRequest `json:"address" validate:"required"`
}

type buyerResponse struct {
	ID        string         `json:"id"`
	FullName  string         `json:"fullName"`
	Email     string         `json:"email"`
	Phone     string         `json:"phone"`
	Address   domain.Address `json:"address"`
	CreatedAt time.Time      `json:"createdAt"`
}

func toBuyerResponse(b domain.Buyer) buyerResponse {
	return buyerResponse{
		ID:        b.ID,
		FullName:  b.FullName,
		Email:     b.Email,
		Phone:     b.Phone,
		Address:   b.Address,
		CreatedAt: b.CreatedAt,
	}
}

type createCategoryRequest struct {
	Name        string `json:"name" validate:"required,min=2,max=100"`
	Description string `json:"description" validate:"max=2000"`
}

type updateCategoryRequest struct {
	Description string `json:"description" validate:"max=2000"`
}

// itemRequest: тело создания и изменения позиции. Цена принимается строкой или числом.
type itemRequest struct {
	Name        string           `json:"name" validate:"required,max=200"`
	Category    string           `json:"category" validate:"required"`
	Price       *decimal.Decimal `json:"price" validate:"required"`
	ReleaseDate string           `json:"releaseDate" validate:"omitempty,datetime=2006-01-02"`
}

type createItemRequest struct {
	Name        string           `json:"name" validate:"required,max=200"`
	Category    string           `json:"category" validate:"required"`
	Price       *decimal.Decimal `json:"price" validate:"required"`
	ReleaseDate string           `json:"releaseDate" validate:"omitempty,datetime=2006-01-02"`
	Stock       int              `json:"stock" validate:"gte=0,max=2147483647"`
}

func (r *createItemRequest) fields() itemRequest {
	return itemRequest{Name: r.Name, Category: r.Category, Price: r.Price, ReleaseDate: r.ReleaseDate}
}

type restockRequest struct {
	Quantity int `json:"quantity" validate:"required,min=1,max=2147483647"`
}

type itemResponse struct {
	domain.ItemSnapshot
	Price string `json:"price"`
}

func toItemResponse(item domain.CatalogItem) itemResponse {
	return itemResponse{ItemSnapshot: item.Snapshot(), Price: formatPrice(item.PriceMinor)}
}
