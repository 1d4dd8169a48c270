package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
)

func TestPriceToMinor(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "12.50", want: 1250},
		{in: "0", want: 0},
		{in: "7", want: 700},
		{in: "1.005", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "92233720368547758.07", want: 9223372036854775807},
		{in: "92233720368547758.08", wantErr: true},
		{in: "184467440737095516.17", wantErr: true},
		{in: "1e30", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := priceToMinor(decimal.RequireFromString(tt.in))
			if tt.wantErr {
				require.ErrorIs(t, err, domain.ErrValidation)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
	require.Equal(t, "0.05", formatPrice(5))
	require.Equal(t, "1234.00", formatPrice(123400))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{domain.BuyerNotFound("b"), http.StatusNotFound, "BUYER_NOT_FOUND"},
		{&domain.InsufficientStockError{ItemID: "i", Requested: 2, Available: 1}, http.StatusConflict, "INSUFFICIENT_STOCK"},
		{fmt.Errorf("wrapped: %w", domain.ErrStockContention), http.StatusConflict, "STOCK_CONTENTION"},
		{domain.ErrItemVersionConflict, http.StatusConflict, "VERSION_CONFLICT"},
		{errors.Join(domain.NewValidationError("a", "b")), http.StatusBadRequest, "VALIDATION_FAILED"},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, "TIMEOUT"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tt := range tests {
		status, code := classify(tt.err)
		require.Equal(t, tt.status, status, tt.err.Error())
		require.Equal(t, tt.code, code, tt.err.Error())
	}
}

func TestParseLimit(t *testing.T) {
	limit, err := parseLimit("")
	require.NoError(t, err)
	require.Equal(t, defaultListLimit, limit)

	limit, err = parseLimit("1000")
	require.NoError(t, err)
	require.Equal(t, maxListLimit, limit)

	_, err = parseLimit("0")
	require.Error(t, err)
}
