package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
	"github.com/vladislavdragonenkov/catalog/internal/notify"
	"github.com/vladislavdragonenkov/catalog/internal/service/buyer"
	"github.com/vladislavdragonenkov/catalog/internal/service/catalog"
	"github.com/vladislavdragonenkov/catalog/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/catalog/internal/storage/memory"
)

// recordingSink запоминает все доставленные события.
type recordingSink struct {
	mu     sync.Mutex
	events []domain.ChangeHeader
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Deliver(_ context.Context, msg []byte) error {
	head, err := domain.PeekChangeEvent(msg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, head)
	return nil
}

func (s *recordingSink) count(entity domain.EntityTag, kind domain.OperationKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Entity == entity && e.Type == kind {
			n++
		}
	}
	return n
}

// OrderLifecycleTestSuite проверяет оформление заказов поверх настоящих сервисов и in-memory хранилищ.
type OrderLifecycleTestSuite struct {
	suite.Suite
	catalog  *catalog.Service
	orders   *fulfillment.Service
	buyers   *buyer.Service
	hub      *notify.Hub
	notifier *notify.Notifier
	sink     *recordingSink
	buyerID  string
}

func (suite *OrderLifecycleTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel)
	logger := baseLogger.WithField("component", "integration-test")

	store := memory.NewCatalogRepository()
	buyers := memory.NewBuyerRepository()

	suite.sink = &recordingSink{}
	suite.hub = notify.NewHub(logger, nil, 64)
	registry := notify.NewRegistry(logger, nil)
	registry.Register(suite.hub)
	registry.Register(suite.sink)
	suite.notifier = notify.NewNotifier(registry, notify.WithLogger(logger), notify.WithWorkers(4))

	suite.catalog = catalog.NewService(store, catalog.WithLogger(logger), catalog.WithNotifier(suite.notifier))
	suite.orders = fulfillment.NewService(store, memory.NewOrderRepository(), buyers,
		fulfillment.WithLogger(logger),
		fulfillment.WithNotifier(suite.notifier),
		fulfillment.WithMaxStockAttempts(5),
		fulfillment.WithRetryBaseDelay(time.Millisecond),
	)
	suite.buyers = buyer.NewService(buyers, logger)

	ctx := context.Background()
	_, err := suite.catalog.CreateCategory(ctx, "Anime", "Manga and anime")
	suite.Require().NoError(err)

	registered, err := suite.buyers.Register(ctx, buyer.Registration{
		FullName: "Mina Ashido",
		Email:    "mina@example.com",
		Phone:    "+34 600 000 000",
		Address:  domain.Address{Street: "Gran Via", City: "Madrid", Country: "ES", PostalCode: "28013"},
	})
	suite.Require().NoError(err)
	suite.buyerID = registered.ID
}

func (suite *OrderLifecycleTestSuite) TearDownTest() {
	_ = suite.notifier.Close(context.Background())
	suite.hub.Close()
}

// drain дожидается доставки всех поставленных в очередь событий.
func (suite *OrderLifecycleTestSuite) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	suite.Require().NoError(suite.notifier.Close(ctx))
}

func (suite *OrderLifecycleTestSuite) createItem(name string, priceMinor int64, stock int) domain.CatalogItem {
	item, err := suite.catalog.CreateItem(context.Background(), catalog.ItemInput{
		Name:         name,
		CategoryName: "anime",
		PriceMinor:   priceMinor,
	}, stock)
	suite.Require().NoError(err)
	return item
}

func (suite *OrderLifecycleTestSuite) stockOf(id string) int {
	item, err := suite.catalog.GetItem(context.Background(), id)
	suite.Require().NoError(err)
	return item.Stock
}

func (suite *OrderLifecycleTestSuite) submit(lines ...domain.RequestedLine) (domain.Order, error) {
	return suite.orders.Submit(context.Background(), fulfillment.Submission{BuyerID: suite.buyerID, Lines: lines})
}

func (suite *OrderLifecycleTestSuite) TestSecondOrderFailsWhenStockRunsOut() {
	item := suite.createItem("Naruto Vol. 1", 1250, 5)

	order, err := suite.submit(domain.RequestedLine{ItemID: item.ID, Quantity: 3})
	suite.Require().NoError(err)
	suite.Equal(3, order.TotalItems)
	suite.Equal(int64(3750), order.TotalMinor)
	suite.Equal(2, suite.stockOf(item.ID))

	_, err = suite.submit(domain.RequestedLine{ItemID: item.ID, Quantity: 3})
	var stockErr *domain.InsufficientStockError
	suite.Require().ErrorAs(err, &stockErr)
	suite.Equal(item.ID, stockErr.ItemID)
	suite.Equal(2, stockErr.Available)
	suite.Equal(2, suite.stockOf(item.ID))

	suite.drain()
	suite.Equal(1, suite.sink.count(domain.EntityItems, domain.OperationUpdate))
	suite.Equal(1, suite.sink.count(domain.EntityOrders, domain.OperationCreate))
}

func (suite *OrderLifecycleTestSuite) TestTotalsEqualLineSums() {
	naruto := suite.createItem("Naruto Vol. 1", 1250, 10)
	bleach := suite.createItem("Bleach Vol. 1", 999, 10)

	order, err := suite.submit(
		domain.RequestedLine{ItemID: naruto.ID, Quantity: 2},
		domain.RequestedLine{ItemID: bleach.ID, Quantity: 3},
		domain.RequestedLine{ItemID: naruto.ID, Quantity: 1},
	)
	suite.Require().NoError(err)

	var items int
	var total int64
	for _, line := range order.Lines {
		suite.Equal(line.UnitPriceMinor*int64(line.Quantity), line.TotalMinor)
		items += line.Quantity
		total += line.TotalMinor
	}
	suite.Equal(items, order.TotalItems)
	suite.Equal(total, order.TotalMinor)
	suite.Equal(int64(3*1250+3*999), order.TotalMinor)

	stored, err := suite.orders.GetOrder(context.Background(), order.ID)
	suite.Require().NoError(err)
	suite.Equal(order.TotalMinor, stored.TotalMinor)

	suite.drain()
	// Позиция из двух строк даёт одно событие.
	suite.Equal(2, suite.sink.count(domain.EntityItems, domain.OperationUpdate))
}

func (suite *OrderLifecycleTestSuite) TestFailedOrderRestoresStock() {
	naruto := suite.createItem("Naruto Vol. 1", 1250, 5)
	bleach := suite.createItem("Bleach Vol. 1", 999, 1)

	_, err := suite.submit(
		domain.RequestedLine{ItemID: naruto.ID, Quantity: 2},
		domain.RequestedLine{ItemID: bleach.ID, Quantity: 2},
	)
	suite.Require().ErrorIs(err, domain.ErrInsufficientStock)
	suite.Equal(5, suite.stockOf(naruto.ID))
	suite.Equal(1, suite.stockOf(bleach.ID))

	_, err = suite.submit(
		domain.RequestedLine{ItemID: naruto.ID, Quantity: 2},
		domain.RequestedLine{ItemID: "missing", Quantity: 1},
	)
	suite.Require().ErrorIs(err, domain.ErrItemNotFound)
	suite.Equal(5, suite.stockOf(naruto.ID))

	orders, err := suite.orders.ListBuyerOrders(context.Background(), suite.buyerID, 10)
	suite.Require().NoError(err)
	suite.Empty(orders)

	suite.drain()
	suite.Zero(suite.sink.count(domain.EntityItems, domain.OperationUpdate))
	suite.Zero(suite.sink.count(domain.EntityOrders, domain.OperationCreate))
}

func (suite *OrderLifecycleTestSuite) TestUnknownBuyerTouchesNothing() {
	item := suite.createItem("Naruto Vol. 1", 1250, 5)

	_, err := suite.orders.Submit(context.Background(), fulfillment.Submission{
		BuyerID: "nobody",
		Lines:   []domain.RequestedLine{{ItemID: item.ID, Quantity: 1}},
	})
	suite.Require().ErrorIs(err, domain.ErrBuyerNotFound)
	suite.Equal(5, suite.stockOf(item.ID))
}

func (suite *OrderLifecycleTestSuite) TestConcurrentOrdersNeverOversell() {
	const stock, buyers = 7, 20
	item := suite.createItem("Naruto Vol. 1", 1250, stock)

	var wg sync.WaitGroup
	results := make(chan error, buyers)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := suite.submit(domain.RequestedLine{ItemID: item.ID, Quantity: 1})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	accepted := 0
	for err := range results {
		if err == nil {
			accepted++
			continue
		}
		suite.ErrorIs(err, domain.ErrInsufficientStock)
	}
	suite.Equal(stock, accepted)
	suite.Equal(0, suite.stockOf(item.ID))

	suite.drain()
	suite.Equal(stock, suite.sink.count(domain.EntityItems, domain.OperationUpdate))
	suite.Equal(stock, suite.sink.count(domain.EntityOrders, domain.OperationCreate))
}

func (suite *OrderLifecycleTestSuite) TestLiveSubscriberSeesStockChange() {
	item := suite.createItem("Naruto Vol. 1", 1250, 5)

	sub, err := suite.hub.Subscribe(domain.EntityItems)
	suite.Require().NoError(err)
	defer suite.hub.Unsubscribe(sub)

	_, err = suite.submit(domain.RequestedLine{ItemID: item.ID, Quantity: 1})
	suite.Require().NoError(err)

	// Событие создания позиции рассылается асинхронно и может прийти первым.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-sub.C():
			head, err := domain.PeekChangeEvent(msg)
			suite.Require().NoError(err)
			suite.Equal(domain.EntityItems, head.Entity)
			suite.Equal(item.ID, head.EntityID)
			if head.Type == domain.OperationUpdate {
				return
			}
		case <-deadline:
			suite.Fail("subscriber did not receive the stock update")
			return
		}
	}
}

func TestOrderLifecycle(t *testing.T) {
	suite.Run(t, new(OrderLifecycleTestSuite))
}

func TestSubmitValidation(t *testing.T) {
	orders := fulfillment.NewService(memory.NewCatalogRepository(), memory.NewOrderRepository(), memory.NewBuyerRepository())

	_, err := orders.Submit(context.Background(), fulfillment.Submission{BuyerID: "b-1"})
	require.ErrorIs(t, err, domain.ErrValidation)
}
