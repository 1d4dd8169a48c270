package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/catalog/internal/notify"
	"github.com/vladislavdragonenkov/catalog/internal/service/buyer"
	"github.com/vladislavdragonenkov/catalog/internal/service/catalog"
	"github.com/vladislavdragonenkov/catalog/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/catalog/internal/storage/memory"
)

type apiFixture struct {
	server *httptest.Server
	hub    *notify.Hub
}

func newAPIFixture(t *testing.T, cfg Config) *apiFixture {
	t.Helper()

	store := memory.NewCatalogRepository()
	orders := memory.NewOrderRepository()
	buyers := memory.NewBuyerRepository()

	hub := notify.NewHub(nil, nil, 16)
	registry := notify.NewRegistry(nil, nil)
	registry.Register(hub)
	notifier := notify.NewNotifier(registry)

	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = time.Hour
	}
	router := NewRouter(cfg, Services{
		Orders:  fulfillment.NewService(store, orders, buyers, fulfillment.WithNotifier(notifier)),
		Catalog: catalog.NewService(store, catalog.WithNotifier(notifier)),
		Buyers:  buyer.NewService(buyers, nil),
		Changes: hub,
	}, nil)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	t.Cleanup(func() {
		_ = notifier.Close(context.Background())
		hub.Close()
	})
	return &apiFixture{server: server, hub: hub}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func requireErrorCode(t *testing.T, resp *http.Response, status int, code string) errorDetail {
	t.Helper()
	require.Equal(t, status, resp.StatusCode)
	body := decodeBody[errorResponse](t, resp)
	require.Equal(t, code, body.Error.Code, body.Error.Message)
	return body.Error
}

func (f *apiFixture) seed(t *testing.T, stock int) (buyerID, itemID string) {
	t.Helper()

	resp := f.do(t, http.MethodPost, "/api/v1/categories", map[string]any{"name": "Anime", "description": "Manga and anime"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/v1/buyers", map[string]any{
		"fullName": "Mina Ashido",
		"email":    "Mina@Example.com",
		"phone":    "+34 600 000 000",
		"address":  map[string]any{"street": "Gran Via", "city": "Madrid", "country": "ES", "postalCode": "28013"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	registered := decodeBody[buyerResponse](t, resp)
	require.Equal(t, "mina@example.com", registered.Email)

	resp = f.do(t, http.MethodPost, "/api/v1/items", map[string]any{
		"name":        "Naruto Vol. 1",
		"category":    "anime",
		"price":       "12.50",
		"stock":       stock,
		"releaseDate": "2024-03-01",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	item := decodeBody[itemResponse](t, resp)
	require.Equal(t, int64(1250), item.PriceMinor)
	require.Equal(t, "12.50", item.Price)
	require.Equal(t, "Anime", item.Category)
	require.Equal(t, "2024-03-01", item.ReleaseDate)

	return registered.ID, item.ID
}

func (f *apiFixture) stockOf(t *testing.T, itemID string) int {
	t.Helper()
	resp := f.do(t, http.MethodGet, "/api/v1/items/"+itemID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decodeBody[itemResponse](t, resp).Stock
}

func TestAPI_OrderScenario(t *testing.T) {
	f := newAPIFixture(t, Config{})
	buyerID, itemID := f.seed(t, 5)

	order := map[string]any{"buyerId": buyerID, "lines": []map[string]any{{"itemId": itemID, "quantity": 3}}}

	resp := f.do(t, http.MethodPost, "/api/v1/orders", order)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[orderResponse](t, resp)
	assert.Equal(t, 3, created.TotalItems)
	assert.Equal(t, int64(3750), created.TotalMinor)
	assert.Equal(t, "37.50", created.Total)
	assert.Equal(t, "Madrid", created.Address.City)
	require.Len(t, created.Lines, 1)
	assert.Equal(t, "Naruto Vol. 1", created.Lines[0].ItemName)
	assert.Equal(t, "/api/v1/orders/"+created.ID, resp.Header.Get("Location"))
	require.Equal(t, 2, f.stockOf(t, itemID))

	resp = f.do(t, http.MethodPost, "/api/v1/orders", order)
	requireErrorCode(t, resp, http.StatusConflict, "INSUFFICIENT_STOCK")
	require.Equal(t, 2, f.stockOf(t, itemID))

	resp = f.do(t, http.MethodGet, "/api/v1/orders/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, created.ID, decodeBody[orderResponse](t, resp).ID)

	resp = f.do(t, http.MethodGet, "/api/v1/buyers/"+buyerID+"/orders?limit=10", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	listed := decodeBody[struct {
		Orders []orderResponse `json:"orders"`
	}](t, resp)
	require.Len(t, listed.Orders, 1)
}

func TestAPI_OrderShippingAddressOverride(t *testing.T) {
	f := newAPIFixture(t, Config{})
	buyerID, itemID := f.seed(t, 5)

	resp := f.do(t, http.MethodPost, "/api/v1/orders", map[string]any{
		"buyerId": buyerID,
		"lines":   []map[string]any{{"itemId": itemID, "quantity": 1}},
		"address": map[string]any{"street": "Rambla", "city": "Barcelona", "country": "ES", "postalCode": "08002"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "Barcelona", decodeBody[orderResponse](t, resp).Address.City)
}

func TestAPI_ErrorMapping(t *testing.T) {
	f := newAPIFixture(t, Config{})
	buyerID, itemID := f.seed(t, 5)

	resp := f.do(t, http.MethodPost, "/api/v1/orders", map[string]any{
		"buyerId": "missing", "lines": []map[string]any{{"itemId": itemID, "quantity": 1}},
	})
	requireErrorCode(t, resp, http.StatusNotFound, "BUYER_NOT_FOUND")

	resp = f.do(t, http.MethodPost, "/api/v1/orders", map[string]any{
		"buyerId": buyerID, "lines": []map[string]any{{"itemId": itemID, "quantity": 1}, {"itemId": "missing", "quantity": 1}},
	})
	requireErrorCode(t, resp, http.StatusNotFound, "ITEM_NOT_FOUND")
	require.Equal(t, 5, f.stockOf(t, itemID), "failed order must restore stock")

	resp = f.do(t, http.MethodPost, "/api/v1/orders", map[string]any{"buyerId": buyerID, "lines": []any{}})
	detail := requireErrorCode(t, resp, http.StatusBadRequest, "VALIDATION_FAILED")
	require.Contains(t, detail.Fields, "lines")

	resp = f.do(t, http.MethodPost, "/api/v1/orders", map[string]any{
		"buyerId": buyerID, "lines": []map[string]any{{"itemId": itemID, "quantity": 0}},
	})
	detail = requireErrorCode(t, resp, http.StatusBadRequest, "VALIDATION_FAILED")
	require.Contains(t, detail.Fields, "lines[0].quantity")

	resp = f.do(t, http.MethodPost, "/api/v1/orders", `{"buyerId":`)
	requireErrorCode(t, resp, http.StatusBadRequest, "INVALID_JSON")

	resp = f.do(t, http.MethodPost, "/api/v1/orders", `{"buyerId":"b","lines":[{"itemId":"i","quantity":1}],"total":1}`)
	requireErrorCode(t, resp, http.StatusBadRequest, "INVALID_JSON")

	resp = f.do(t, http.MethodPost, "/api/v1/categories", map[string]any{"name": "ANIME"})
	requireErrorCode(t, resp, http.StatusConflict, "ALREADY_EXISTS")

	resp = f.do(t, http.MethodGet, "/api/v1/orders/missing", nil)
	requireErrorCode(t, resp, http.StatusNotFound, "ORDER_NOT_FOUND")

	resp = f.do(t, http.MethodGet, "/api/v1/buyers/"+buyerID+"/orders?limit=abc", nil)
	requireErrorCode(t, resp, http.StatusBadRequest, "VALIDATION_FAILED")

	resp = f.do(t, http.MethodGet, "/api/v1/items?category=Unknown", nil)
	requireErrorCode(t, resp, http.StatusNotFound, "CATEGORY_NOT_FOUND")

	resp = f.do(t, http.MethodGet, "/api/v1/nowhere", nil)
	requireErrorCode(t, resp, http.StatusNotFound, "NOT_FOUND")
}

func TestAPI_CatalogLifecycle(t *testing.T) {
	f := newAPIFixture(t, Config{})
	_, itemID := f.seed(t, 5)

	resp := f.do(t, http.MethodPut, "/api/v1/items/"+itemID, map[string]any{
		"name": "Naruto Vol. 1 (Deluxe)", "category": "Anime", "price": 15,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decodeBody[itemResponse](t, resp)
	require.Equal(t, "15.00", updated.Price)
	require.Equal(t, 5, updated.Stock, "update must not touch stock")

	resp = f.do(t, http.MethodPut, "/api/v1/items/"+itemID, map[string]any{"name": "x", "category": "Anime", "price": "1.005"})
	requireErrorCode(t, resp, http.StatusBadRequest, "VALIDATION_FAILED")

	resp = f.do(t, http.MethodPut, "/api/v1/items/"+itemID, map[string]any{"name": "Naruto", "category": "Anime", "price": "184467440737095516.17"})
	requireErrorCode(t, resp, http.StatusBadRequest, "VALIDATION_FAILED")

	resp = f.do(t, http.MethodPost, "/api/v1/items/"+itemID+"/restock", map[string]any{"quantity": 4})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 9, decodeBody[itemResponse](t, resp).Stock)

	resp = f.do(t, http.MethodPost, "/api/v1/items/"+itemID+"/restock", `{"quantity":9223372036854775807}`)
	detail := requireErrorCode(t, resp, http.StatusBadRequest, "VALIDATION_FAILED")
	require.Contains(t, detail.Fields, "quantity")

	resp = f.do(t, http.MethodPost, "/api/v1/items/"+itemID+"/restock", map[string]any{"quantity": 2147483647})
	requireErrorCode(t, resp, http.StatusBadRequest, "VALIDATION_FAILED")
	require.Equal(t, 9, f.stockOf(t, itemID))

	resp = f.do(t, http.MethodGet, "/api/v1/items?category=anime", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	listed := decodeBody[struct {
		Items []itemResponse `json:"items"`
	}](t, resp)
	require.Len(t, listed.Items, 1)

	resp = f.do(t, http.MethodDelete, "/api/v1/categories/Anime", nil)
	requireErrorCode(t, resp, http.StatusConflict, "CATEGORY_HAS_ITEMS")

	resp = f.do(t, http.MethodDelete, "/api/v1/items/"+itemID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = f.do(t, http.MethodGet, "/api/v1/items/"+itemID, nil)
	requireErrorCode(t, resp, http.StatusNotFound, "ITEM_NOT_FOUND")

	resp = f.do(t, http.MethodPut, "/api/v1/categories/Anime", map[string]any{"description": "Only anime"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "Only anime", decodeBody[map[string]any](t, resp)["description"])

	resp = f.do(t, http.MethodDelete, "/api/v1/categories/Anime", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = f.do(t, http.MethodGet, "/api/v1/categories/Anime", nil)
	requireErrorCode(t, resp, http.StatusNotFound, "CATEGORY_NOT_FOUND")
}

func TestAPI_ChangeStream(t *testing.T) {
	f := newAPIFixture(t, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.server.URL+"/api/v1/changes?entity=items", nil)
	require.NoError(t, err)
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 16)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	next := func() string {
		select {
		case line, ok := <-lines:
			require.True(t, ok, "stream closed")
			return line
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for event stream")
			return ""
		}
	}
	require.Equal(t, ": connected", next())
	require.Equal(t, "", next())

	f.seed(t, 3)

	require.Equal(t, "event: items", next())
	data := next()
	require.True(t, strings.HasPrefix(data, "data: "), data)

	var event struct {
		Entity string         `json:"entity"`
		Type   string         `json:"type"`
		Data   map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(data, "data: ")), &event))
	require.Equal(t, "ITEMS", event.Entity)
	require.Equal(t, "CREATE", event.Type)
	require.Equal(t, "Naruto Vol. 1", event.Data["name"])

	cancel()
	require.Eventually(t, func() bool { return f.hub.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestAPI_ChangeStreamRejectsUnknownEntity(t *testing.T) {
	f := newAPIFixture(t, Config{})
	resp := f.do(t, http.MethodGet, "/api/v1/changes?entity=buyers", nil)
	requireErrorCode(t, resp, http.StatusBadRequest, "VALIDATION_FAILED")
}

func TestAPI_MiddlewareStack(t *testing.T) {
	f := newAPIFixture(t, Config{RateLimit: 2, CORSAllowedOrigins: "https://shop.example.com"})

	first := f.do(t, http.MethodGet, "/api/v1/categories", nil)
	require.Equal(t, http.StatusOK, first.StatusCode)
	require.Equal(t, "DENY", first.Header.Get("X-Frame-Options"))
	require.Equal(t, "nosniff", first.Header.Get("X-Content-Type-Options"))

	req, err := http.NewRequest(http.MethodOptions, f.server.URL+"/api/v1/categories", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://shop.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	preflight, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer preflight.Body.Close()
	require.Equal(t, "https://shop.example.com", preflight.Header.Get("Access-Control-Allow-Origin"))

	limited := f.do(t, http.MethodGet, "/api/v1/categories", nil)
	require.Equal(t, http.StatusTooManyRequests, limited.StatusCode)
}
