package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
)

var validate = newValidator()

var maxPriceMinor = decimal.NewFromInt(math.MaxInt64)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// decodeRequest читает JSON-тело в T и проверяет теги validate.
// При ошибке ответ уже записан и возвращается false.
func decodeRequest[T any](w http.ResponseWriter, r *http.Request) (*T, bool) {
	var req T
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			writeErrorCode(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "request body is too large")
			return nil, false
		}
		writeErrorCode(w, http.StatusBadRequest, "INVALID_JSON", "invalid JSON body")
		return nil, false
	}
	if err := validate.Struct(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: errorDetail{
			Code:    "VALIDATION_FAILED",
			Message: "request validation failed",
			Fields:  formatValidationErrors(err),
		}})
		return nil, false
	}
	return &req, true
}

func formatValidationErrors(err error) map[string]string {
	fields := make(map[string]string)
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return fields
	}
	for _, e := range ve {
		fields[fieldPath(e)] = formatFieldError(e)
	}
	return fields
}

// fieldPath отбрасывает имя корневой структуры: submitOrderRequest.lines[0].itemId -> lines[0].itemId.
func fieldPath(e validator.FieldError) string {
	ns := e.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return e.Field()
}

func formatFieldError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		switch e.Kind() {
		case reflect.String:
			return fmt.Sprintf("must have at least %s characters", e.Param())
		case reflect.Slice:
			return fmt.Sprintf("must have at least %s elements", e.Param())
		}
		return fmt.Sprintf("must be at least %s", e.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", e.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", e.Param())
	case "email":
		return "must be a valid email address"
	case "datetime":
		return fmt.Sprintf("must match layout %s", e.Param())
	default:
		return fmt.Sprintf("failed on %q", e.Tag())
	}
}

// priceToMinor переводит десятичную цену в минимальные единицы: "12.50" -> 1250.
func priceToMinor(price decimal.Decimal) (int64, error) {
	if price.IsNegative() {
		return 0, domain.NewValidationError("price", "must be non-negative")
	}
	minor := price.Shift(2)
	if !minor.IsInteger() {
		return 0, domain.NewValidationError("price", "must have at most 2 decimal places")
	}
	if minor.GreaterThan(maxPriceMinor) {
		return 0, domain.NewValidationError("price", "is too large")
	}
	return minor.IntPart(), nil
}

// formatPrice печатает сумму в минимальных единицах с двумя знаками после точки.
func formatPrice(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}

func parseReleaseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	date, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, domain.NewValidationError("releaseDate", "must be YYYY-MM-DD")
	}
	return date, nil
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, domain.NewValidationError("limit", "must be a positive integer")
	}
	return min(limit, maxListLimit), nil
}
