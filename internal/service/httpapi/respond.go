package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
)

type errorDetail struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type errorResponse struct {
	Error errorDetail `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: errorDetail{Code: code, Message: message}})
}

// writeError переводит доменную ошибку в HTTP-ответ.
// Внутренние ошибки наружу не раскрываются и пишутся в лог.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		message = http.StatusText(status)
	}
	writeErrorCode(w, status, code, message)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "VALIDATION_FAILED"
	case errors.Is(err, domain.ErrBuyerNotFound):
		return http.StatusNotFound, "BUYER_NOT_FOUND"
	case errors.Is(err, domain.ErrItemNotFound):
		return http.StatusNotFound, "ITEM_NOT_FOUND"
	case errors.Is(err, domain.ErrCategoryNotFound):
		return http.StatusNotFound, "CATEGORY_NOT_FOUND"
	case errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound, "ORDER_NOT_FOUND"
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusConflict, "INSUFFICIENT_STOCK"
	case errors.Is(err, domain.ErrStockContention):
		return http.StatusConflict, "STOCK_CONTENTION"
	case errors.Is(err, domain.ErrItemVersionConflict):
		return http.StatusConflict, "VERSION_CONFLICT"
	case errors.Is(err, domain.ErrCategoryAlreadyExists),
		errors.Is(err, domain.ErrBuyerAlreadyExists),
		errors.Is(err, domain.ErrOrderAlreadyExists):
		return http.StatusConflict, "ALREADY_EXISTS"
	case errors.Is(err, domain.ErrCategoryHasItems):
		return http.StatusConflict, "CATEGORY_HAS_ITEMS"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "CANCELED"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}
