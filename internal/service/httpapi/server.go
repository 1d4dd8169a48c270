// Package httpapi: REST API каталога и поток изменений через Server-Sent Events.
package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	log "github.com/sirupsen/logrus"
	"github.com/unrolled/secure"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
	"github.com/vladislavdragonenkov/catalog/internal/notify"
	"github.com/vladislavdragonenkov/catalog/internal/service/buyer"
	"github.com/vladislavdragonenkov/catalog/internal/service/catalog"
	"github.com/vladislavdragonenkov/catalog/internal/service/fulfillment"
)

// OrderService оформляет и читает заказы.
type OrderService interface {
	Submit(ctx context.Context, req fulfillment.Submission) (domain.Order, error)
	GetOrder(ctx context.Context, id string) (domain.Order, error)
	ListBuyerOrders(ctx context.Context, buyerID string, limit int) ([]domain.Order, error)
}

// CatalogService управляет категориями и позициями.
type CatalogService interface {
	ListCategories(ctx context.Context) ([]domain.Category, error)
	GetCategory(ctx context.Context, name string) (domain.Category, error)
	CreateCategory(ctx context.Context, name, description string) (domain.Category, error)
	UpdateCategory(ctx context.Context, name, description string) (domain.Category, error)
	DeleteCategory(ctx context.Context, name string) (domain.Category, error)

	ListItems(ctx context.Context, categoryName string) ([]domain.CatalogItem, error)
	GetItem(ctx context.Context, id string) (domain.CatalogItem, error)
	CreateItem(ctx context.Context, input catalog.ItemInput, stock int) (domain.CatalogItem, error)
	UpdateItem(ctx context.Context, id string, input catalog.ItemInput) (domain.CatalogItem, error)
	Restock(ctx context.Context, id string, qty int) (domain.CatalogItem, error)
	DeleteItem(ctx context.Context, id string) (domain.CatalogItem, error)
}

// BuyerService регистрирует и читает покупателей.
type BuyerService interface {
	Register(ctx context.Context, reg buyer.Registration) (domain.Buyer, error)
	Get(ctx context.Context, id string) (domain.Buyer, error)
}

// ChangeFeed выдаёт подписки на живую ленту изменений.
type ChangeFeed interface {
	Subscribe(entities ...domain.EntityTag) (*notify.Subscription, error)
	Unsubscribe(sub *notify.Subscription)
}

// Services: зависимости API.
type Services struct {
	Orders  OrderService
	Catalog CatalogService
	Buyers  BuyerService
	Changes ChangeFeed
}

// Config задаёт параметры HTTP-слоя.
type Config struct {
	ServiceName string
	// CORSAllowedOrigins: список origin-ов через запятую, "*" разрешает все.
	CORSAllowedOrigins string
	// RateLimit: запросов в минуту с одного IP; 0 отключает ограничение.
	RateLimit      int
	RequestTimeout time.Duration
	BodyLimit      int64
	// HeartbeatInterval: период комментариев-пингов в SSE-потоке.
	HeartbeatInterval time.Duration
	IsDevelopment     bool
}

func (c Config) withDefaults() Config {
	if c.ServiceName == "" {
		c.ServiceName = "catalog-service"
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.BodyLimit <= 0 {
		c.BodyLimit = 1 << 20
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 15 * time.Second
	}
	return c
}

// Handler обслуживает маршруты /api/v1.
type Handler struct {
	services  Services
	logger    *log.Entry
	heartbeat time.Duration
}

// NewRouter собирает chi-роутер со стандартным набором middleware и маршрутами API.
//
// Порядок middleware снаружи внутрь: Recoverer, RequestID, otelhttp, логирование запроса,
// RealIP, rate limit, CORS, ограничение тела, заголовки безопасности.
// Таймаут обработчика не применяется к SSE-потоку.
func NewRouter(cfg Config, services Services, logger *log.Entry) *chi.Mux {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}
	h := &Handler{services: services, logger: logger, heartbeat: cfg.HeartbeatInterval}

	sec := secure.New(secure.Options{
		STSSeconds:            63072000,
		STSIncludeSubdomains:  true,
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'self'",
		IsDevelopment:         cfg.IsDevelopment,
	})

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer,
		middleware.RequestID,
		otelhttp.NewMiddleware(cfg.ServiceName),
		requestLogger(logger),
		middleware.RealIP,
	)
	if cfg.RateLimit > 0 {
		r.Use(httprate.LimitByIP(cfg.RateLimit, time.Minute))
	}
	r.Use(
		corsMiddleware(cfg.CORSAllowedOrigins),
		requestBodyLimit(cfg.BodyLimit),
		sec.Handler,
	)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/changes", h.streamChanges)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(cfg.RequestTimeout))

			r.Route("/orders", func(r chi.Router) {
				r.Post("/", h.submitOrder)
				r.Get("/{id}", h.getOrder)
			})
			r.Route("/buyers", func(r chi.Router) {
				r.Post("/", h.registerBuyer)
				r.Get("/{id}", h.getBuyer)
				r.Get("/{id}/orders", h.listBuyerOrders)
			})
			r.Route("/categories", func(r chi.Router) {
				r.Get("/", h.listCategories)
				r.Post("/", h.createCategory)
				r.Get("/{name}", h.getCategory)
				r.Put("/{name}", h.updateCategory)
				r.Delete("/{name}", h.deleteCategory)
			})
			r.Route("/items", func(r chi.Router) {
				r.Get("/", h.listItems)
				r.Post("/", h.createItem)
				r.Get("/{id}", h.getItem)
				r.Put("/{id}", h.updateItem)
				r.Delete("/{id}", h.deleteItem)
				r.Post("/{id}/restock", h.restockItem)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeErrorCode(w, http.StatusNotFound, "NOT_FOUND", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeErrorCode(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})
	return r
}

// NewServer возвращает *http.Server с таймаутами чтения и простоя.
// WriteTimeout не задаётся: SSE-поток живёт дольше любого разумного лимита,
// обычные маршруты ограничены middleware.Timeout.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
}

func corsMiddleware(allowedOrigins string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: parseOrigins(allowedOrigins),
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id", "Last-Event-ID"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	})
}

func parseOrigins(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p := strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

func requestBodyLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// requestLogger пишет одну строку на запрос.
func requestLogger(logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			entry := logger.WithFields(log.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"bytes":       ww.BytesWritten(),
				"duration_ms": time.Since(start).Milliseconds(),
				"request_id":  middleware.GetReqID(r.Context()),
			})
			if ww.Status() >= http.StatusInternalServerError {
				entry.Warn("http request failed")
				return
			}
			entry.Debug("http request")
		})
	}
}
