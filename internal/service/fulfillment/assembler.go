// Package fulfillment оформляет заказы: проверяет остатки, списывает их и сохраняет заказ.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
	"github.com/vladislavdragonenkov/catalog/internal/metrics"
)

const (
	defaultMaxStockAttempts    = 3
	defaultRetryBaseDelay      = 5 * time.Millisecond
	defaultCompensationTimeout = 5 * time.Second
	tracerName                 = "github.com/vladislavdragonenkov/catalog/internal/service/fulfillment"
)

// Options задаёт параметры сервиса оформления.
type Options struct {
	Logger              *log.Entry
	Metrics             *metrics.FulfillmentMetrics
	Notifier            domain.ChangeNotifier
	Tracer              trace.Tracer
	MaxStockAttempts    int
	RetryBaseDelay      time.Duration
	CompensationTimeout time.Duration
	Currency            string
	Clock               func() time.Time
	NewID               func() string
}

// Option настраивает Service.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) { opts.Logger = logger }
}

// WithMetrics задаёт метрики оформления.
func WithMetrics(m *metrics.FulfillmentMetrics) Option {
	return func(opts *Options) { opts.Metrics = m }
}

// WithNotifier задаёт получателя событий изменения.
func WithNotifier(n domain.ChangeNotifier) Option {
	return func(opts *Options) { opts.Notifier = n }
}

// WithTracer задаёт tracer; по умолчанию берётся глобальный провайдер.
func WithTracer(tracer trace.Tracer) Option {
	return func(opts *Options) { opts.Tracer = tracer }
}

// WithMaxStockAttempts ограничивает число повторных проверок строки после неудачного списания.
func WithMaxStockAttempts(attempts int) Option {
	return func(opts *Options) { opts.MaxStockAttempts = attempts }
}

// WithRetryBaseDelay задаёт базовую задержку exponential backoff между повторами.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(opts *Options) { opts.RetryBaseDelay = delay }
}

// WithCompensationTimeout ограничивает время возврата остатков.
func WithCompensationTimeout(timeout time.Duration) Option {
	return func(opts *Options) { opts.CompensationTimeout = timeout }
}

// WithCurrency задаёт валюту заказов.
func WithCurrency(currency string) Option {
	return func(opts *Options) { opts.Currency = currency }
}

// WithClock подменяет источник времени.
func WithClock(clock func() time.Time) Option {
	return func(opts *Options) { opts.Clock = clock }
}

// WithIDGenerator подменяет генератор идентификаторов заказов и строк.
func WithIDGenerator(newID func() string) Option {
	return func(opts *Options) { opts.NewID = newID }
}

// Submission: запрос на оформление заказа.
type Submission struct {
	BuyerID string
	Lines   []domain.RequestedLine
	// ShippingAddress переопределяет адрес покупателя, если заполнен.
	ShippingAddress domain.Address
}

// Service оформляет заказы поверх каталога, хранилища заказов и справочника покупателей.
type Service struct {
	stock    domain.StockLedger
	orders   domain.OrderStore
	buyers   domain.BuyerDirectory
	notifier domain.ChangeNotifier
	logger   *log.Entry
	metrics  *metrics.FulfillmentMetrics
	tracer   trace.Tracer

	maxStockAttempts    int
	retryBaseDelay      time.Duration
	compensationTimeout time.Duration
	currency            string
	now                 func() time.Time
	newID               func() string
}

// NewService создаёт сервис оформления заказов.
func NewService(stock domain.StockLedger, orders domain.OrderStore, buyers domain.BuyerDirectory, options ...Option) *Service {
	opts := Options{
		MaxStockAttempts:    defaultMaxStockAttempts,
		RetryBaseDelay:      defaultRetryBaseDelay,
		CompensationTimeout: defaultCompensationTimeout,
		Currency:            domain.DefaultCurrency,
	}
	for _, option := range options {
		option(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "order-assembler")
	}
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}
	if opts.MaxStockAttempts <= 0 {
		opts.MaxStockAttempts = defaultMaxStockAttempts
	}
	if opts.RetryBaseDelay < 0 {
		opts.RetryBaseDelay = 0
	}
	if opts.CompensationTimeout <= 0 {
		opts.CompensationTimeout = defaultCompensationTimeout
	}
	if opts.Currency == "" {
		opts.Currency = domain.DefaultCurrency
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	return &Service{
		stock:               stock,
		orders:              orders,
		buyers:              buyers,
		notifier:            opts.Notifier,
		logger:              opts.Logger,
		metrics:             opts.Metrics,
		tracer:              opts.Tracer,
		maxStockAttempts:    opts.MaxStockAttempts,
		retryBaseDelay:      opts.RetryBaseDelay,
		compensationTimeout: opts.CompensationTimeout,
		currency:            opts.Currency,
		now:                 opts.Clock,
		newID:               opts.NewID,
	}
}

// SubmitOrder оформляет заказ покупателя на адрес из его профиля.
func (s *Service) SubmitOrder(ctx context.Context, buyerID string, lines []domain.RequestedLine) (domain.Order, error) {
	return s.Submit(ctx, Submission{BuyerID: buyerID, Lines: lines})
}

// Submit оформляет заказ. Строки обрабатываются по порядку; любая ошибка после первого
// списания возвращает все списанные единицы на склад до возврата ошибки.
func (s *Service) Submit(ctx context.Context, req Submission) (order domain.Order, err error) {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, "fulfillment.Submit", trace.WithAttributes(
		attribute.String("buyer.id", req.BuyerID),
		attribute.Int("order.lines", len(req.Lines)),
	))
	defer func() {
		s.metrics.RecordOrder(outcomeOf(err), time.Since(started))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("order.id", order.ID))
		}
		span.End()
	}()

	if err := domain.ValidateOrderRequest(req.BuyerID, req.Lines); err != nil {
		return domain.Order{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}

	buyer, err := s.buyers.FindBuyerByID(ctx, req.BuyerID)
	if err != nil {
		return domain.Order{}, err
	}

	now := s.now()
	taken := make([]takenStock, 0, len(req.Lines))
	lines := make([]domain.OrderLine, 0, len(req.Lines))
	var total int64

	for i, requested := range req.Lines {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.Order{}, s.restore(ctx, taken, ctxErr)
		}

		item, lineErr := s.takeLine(ctx, requested, total)
		if lineErr != nil {
			return domain.Order{}, s.restore(ctx, taken, fmt.Errorf("line %d: %w", i+1, lineErr))
		}
		taken = append(taken, takenStock{item: item, qty: requested.Quantity})

		// Цена могла измениться между чтением и списанием, поэтому итог проверяется ещё раз.
		line, lineErr := domain.NewOrderLine(s.newID(), item, requested.Quantity, now)
		if lineErr == nil {
			total, lineErr = domain.AddToTotal(total, line.TotalMinor)
		}
		if lineErr != nil {
			return domain.Order{}, s.restore(ctx, taken, fmt.Errorf("line %d: %w", i+1, lineErr))
		}
		lines = append(lines, line)
	}

	order = domain.Order{
		ID:        s.newID(),
		BuyerID:   buyer.ID,
		Lines:     lines,
		Currency:  s.currency,
		Address:   buyer.Address,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if !req.ShippingAddress.IsZero() {
		order.Address = req.ShippingAddress
	}
	if err := order.RecalculateTotals(); err != nil {
		return domain.Order{}, s.restore(ctx, taken, err)
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, s.restore(ctx, taken, errors.Join(errs...))
	}

	saved, err := s.orders.SaveOrder(ctx, order)
	if err != nil {
		return domain.Order{}, s.restore(ctx, taken, fmt.Errorf("save order: %w", err))
	}

	s.metrics.RecordUnitsSold(saved.TotalItems)
	s.announce(saved, taken)

	s.logger.WithFields(log.Fields{
		"order_id":    saved.ID,
		"buyer_id":    saved.BuyerID,
		"total_items": saved.TotalItems,
		"total_minor": saved.TotalMinor,
	}).Info("order accepted")

	return saved, nil
}

// GetOrder возвращает заказ по идентификатору.
func (s *Service) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	return s.orders.FindOrderByID(ctx, id)
}

// ListBuyerOrders возвращает заказы существующего покупателя от новых к старым.
func (s *Service) ListBuyerOrders(ctx context.Context, buyerID string, limit int) ([]domain.Order, error) {
	if _, err := s.buyers.FindBuyerByID(ctx, buyerID); err != nil {
		return nil, err
	}
	return s.orders.ListOrdersByBuyer(ctx, buyerID, limit)
}

type takenStock struct {
	item domain.CatalogItem
	qty  int
}

// takeLine читает позицию, проверяет итог и остаток и условно списывает его.
// Итог строки, не помещающийся в сумму заказа, отклоняется до списания.
// Если списание не прошло из-за гонки, строка перечитывается и проверяется заново.
func (s *Service) takeLine(ctx context.Context, requested domain.RequestedLine, orderTotal int64) (domain.CatalogItem, error) {
	for attempt := 1; ; attempt++ {
		item, err := s.stock.FindItemByID(ctx, requested.ItemID)
		if err != nil {
			return domain.CatalogItem{}, err
		}
		lineTotal, err := domain.LineTotal(requested.Quantity, item.PriceMinor)
		if err != nil {
			return domain.CatalogItem{}, err
		}
		if _, err := domain.AddToTotal(orderTotal, lineTotal); err != nil {
			return domain.CatalogItem{}, err
		}
		if item.Stock < requested.Quantity {
			return domain.CatalogItem{}, &domain.InsufficientStockError{
				ItemID:    item.ID,
				Requested: requested.Quantity,
				Available: item.Stock,
			}
		}

		updated, err := s.stock.DecrementStock(ctx, item.ID, requested.Quantity)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, domain.ErrInsufficientStock) {
			return domain.CatalogItem{}, err
		}
		if attempt >= s.maxStockAttempts {
			return domain.CatalogItem{}, fmt.Errorf("%w: item %s", domain.ErrStockContention, item.ID)
		}

		s.metrics.RecordStockRetry()
		s.logger.WithFields(log.Fields{
			"item_id": item.ID,
			"attempt": attempt,
		}).Debug("stock changed between check and decrement, re-checking line")

		delay := s.retryBaseDelay * time.Duration(1<<uint(attempt-1))
		select {
		case <-ctx.Done():
			return domain.CatalogItem{}, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// restore возвращает на склад всё, что успели списать, в обратном порядке.
// Работает на отвязанном от отмены контексте: отмена запроса не должна оставлять остаток списанным.
func (s *Service) restore(ctx context.Context, taken []takenStock, cause error) error {
	if len(taken) == 0 {
		return cause
	}

	restoreCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.compensationTimeout)
	defer cancel()

	var failures []error
	for i := len(taken) - 1; i >= 0; i-- {
		t := taken[i]
		if _, err := s.stock.IncrementStock(restoreCtx, t.item.ID, t.qty); err != nil {
			s.metrics.RecordCompensation("failed")
			s.logger.WithError(err).WithFields(log.Fields{
				"item_id": t.item.ID,
				"qty":     t.qty,
			}).Error("failed to restore stock after rejected order")
			failures = append(failures, fmt.Errorf("item %s: %w", t.item.ID, err))
			continue
		}
		s.metrics.RecordCompensation("restored")
	}

	s.logger.WithError(cause).WithField("lines_restored", len(taken)-len(failures)).Warn("order rejected after stock decrement, stock restored")

	if len(failures) > 0 {
		return errors.Join(cause, fmt.Errorf("restore stock: %w", errors.Join(failures...)))
	}
	return cause
}

// announce отправляет одно UPDATE-событие на каждую изменённую позицию и CREATE на заказ.
// Если позиция встречается в нескольких строках, уходит её последнее состояние.
func (s *Service) announce(order domain.Order, taken []takenStock) {
	latest := make(map[string]domain.CatalogItem, len(taken))
	seen := make([]string, 0, len(taken))
	for _, t := range taken {
		if _, ok := latest[t.item.ID]; !ok {
			seen = append(seen, t.item.ID)
		}
		latest[t.item.ID] = t.item
	}

	for _, id := range seen {
		s.notifier.Notify(domain.EntityItems, domain.OperationUpdate, latest[id].Snapshot())
	}
	s.notifier.Notify(domain.EntityOrders, domain.OperationCreate, order.Snapshot())
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeAccepted
	case errors.Is(err, domain.ErrValidation):
		return metrics.OutcomeInvalid
	case domain.NotFound(err):
		return metrics.OutcomeNotFound
	case errors.Is(err, domain.ErrInsufficientStock):
		return metrics.OutcomeInsufficientStock
	case errors.Is(err, domain.ErrStockContention):
		return metrics.OutcomeContention
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return metrics.OutcomeCanceled
	default:
		return metrics.OutcomeError
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(domain.EntityTag, domain.OperationKind, any) {}
