package grpcsvc

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
	"github.com/vladislavdragonenkov/catalog/internal/notify"
	"github.com/vladislavdragonenkov/catalog/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/catalog/internal/storage/memory"
)

type grpcFixture struct {
	client *Client
	hub    *notify.Hub
	itemID string
}

func newGRPCFixture(t *testing.T, stock int) *grpcFixture {
	t.Helper()
	ctx := context.Background()

	store := memory.NewCatalogRepository()
	orders := memory.NewOrderRepository()
	buyers := memory.NewBuyerRepository()

	category, err := store.CreateCategory(ctx, domain.Category{ID: "cat-1", Name: "Anime"})
	require.NoError(t, err)
	item, err := store.CreateItem(ctx, domain.CatalogItem{ID: "item-1", Name: "Naruto Vol. 1", Category: category.Ref(), PriceMinor: 1250, Stock: stock})
	require.NoError(t, err)
	_, err = buyers.SaveBuyer(ctx, domain.Buyer{ID: "buyer-1", FullName: "Mina Ashido", Email: "mina@example.com", Phone: "+34"})
	require.NoError(t, err)

	hub := notify.NewHub(nil, nil, 8)
	server := grpc.NewServer()
	NewServer(fulfillment.NewService(store, orders, buyers), hub, nil).Register(server)

	lis := bufconn.Listen(1 << 20)
	go func() { _ = server.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		hub.Close()
		server.Stop()
	})
	return &grpcFixture{client: NewClient(conn), hub: hub, itemID: item.ID}
}

func TestServer_SubmitAndReadOrders(t *testing.T) {
	f := newGRPCFixture(t, 5)
	ctx := context.Background()

	reply, err := f.client.SubmitOrder(ctx, &SubmitOrderRequest{BuyerID: "buyer-1", Lines: []OrderLine{{ItemID: f.itemID, Quantity: 3}}})
	require.NoError(t, err)
	require.Equal(t, int64(3750), reply.Order.TotalMinor)
	require.Equal(t, 3, reply.Order.TotalItems)

	got, err := f.client.GetOrder(ctx, &GetOrderRequest{OrderID: reply.Order.ID})
	require.NoError(t, err)
	require.Equal(t, reply.Order.ID, got.Order.ID)

	listed, err := f.client.ListBuyerOrders(ctx, &ListBuyerOrdersRequest{BuyerID: "buyer-1"})
	require.NoError(t, err)
	require.Len(t, listed.Orders, 1)

	_, err = f.client.SubmitOrder(ctx, &SubmitOrderRequest{BuyerID: "buyer-1", Lines: []OrderLine{{ItemID: f.itemID, Quantity: 3}}})
	require.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestServer_ErrorCodes(t *testing.T) {
	f := newGRPCFixture(t, 1)
	ctx := context.Background()

	_, err := f.client.SubmitOrder(ctx, &SubmitOrderRequest{BuyerID: "ghost", Lines: []OrderLine{{ItemID: f.itemID, Quantity: 1}}})
	require.Equal(t, codes.NotFound, status.Code(err))

	_, err = f.client.SubmitOrder(ctx, &SubmitOrderRequest{BuyerID: "buyer-1"})
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = f.client.GetOrder(ctx, &GetOrderRequest{})
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = f.client.GetOrder(ctx, &GetOrderRequest{OrderID: "missing"})
	require.Equal(t, codes.NotFound, status.Code(err))
}

func TestServer_SubscribeStreamsFilteredEvents(t *testing.T) {
	f := newGRPCFixture(t, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := f.client.Subscribe(ctx, &SubscribeRequest{Entities: []string{"orders"}})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.hub.Count() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, f.hub.Deliver(ctx, []byte(`{"entity":"ITEMS","type":"UPDATE","data":{"id":"item-1"}}`)))
	require.NoError(t, f.hub.Deliver(ctx, []byte(`{"entity":"ORDERS","type":"CREATE","data":{"id":"order-1"}}`)))

	msg, err := stream.Recv()
	require.NoError(t, err)
	require.Equal(t, "ORDERS", msg.Entity)
	require.Equal(t, "CREATE", msg.Type)

	var event map[string]any
	require.NoError(t, json.Unmarshal(msg.Event, &event))
	require.Equal(t, "order-1", event["data"].(map[string]any)["id"])

	cancel()
	require.Eventually(t, func() bool { return f.hub.Count() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestServer_SubscribeRejectsUnknownEntity(t *testing.T) {
	f := newGRPCFixture(t, 1)

	stream, err := f.client.Subscribe(context.Background(), &SubscribeRequest{Entities: []string{"buyers"}})
	require.NoError(t, err)
	_, err = stream.Recv()
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestToStatus(t *testing.T) {
	require.NoError(t, toStatus(nil))
	require.Equal(t, codes.Aborted, status.Code(toStatus(domain.ErrStockContention)))
	require.Equal(t, codes.AlreadyExists, status.Code(toStatus(domain.ErrCategoryAlreadyExists)))
	require.Equal(t, codes.DeadlineExceeded, status.Code(toStatus(context.DeadlineExceeded)))

	st := status.Convert(toStatus(errFake("db exploded")))
	require.Equal(t, codes.Internal, st.Code())
	require.Equal(t, "internal error", st.Message())
}

type errFake string

func (e errFake) Error() string { return string(e) }
