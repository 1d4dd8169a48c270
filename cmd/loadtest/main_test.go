package main

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
	"github.com/vladislavdragonenkov/catalog/internal/service/fulfillment"
	grpcsvc "github.com/vladislavdragonenkov/catalog/internal/service/grpc"
	"github.com/vladislavdragonenkov/catalog/internal/storage/memory"
)

type fakeOrderClient struct {
	submitFn func(context.Context, *grpcsvc.SubmitOrderRequest) (*grpcsvc.OrderReply, error)
	getFn    func(context.Context, *grpcsvc.GetOrderRequest) (*grpcsvc.OrderReply, error)
}

func (f *fakeOrderClient) SubmitOrder(ctx context.Context, req *grpcsvc.SubmitOrderRequest, _ ...grpc.CallOption) (*grpcsvc.OrderReply, error) {
	return f.submitFn(ctx, req)
}

func (f *fakeOrderClient) GetOrder(ctx context.Context, req *grpcsvc.GetOrderRequest, _ ...grpc.CallOption) (*grpcsvc.OrderReply, error) {
	if f.getFn == nil {
		return &grpcsvc.OrderReply{}, nil
	}
	return f.getFn(ctx, req)
}

var _ orderClient = (*fakeOrderClient)(nil)

var requiredArgs = []string{"-buyer=b-1", "-item=i-1"}

func TestParseMode(t *testing.T) {
	mode, err := parseMode("submit")
	require.NoError(t, err)
	assert.Equal(t, modeSubmit, mode)

	mode, err = parseMode(" submit-read ")
	require.NoError(t, err)
	assert.Equal(t, modeSubmitRead, mode)

	_, err = parseMode("create-pay")
	require.Error(t, err)
}

func TestParseConfig(t *testing.T) {
	cfg, err := parseConfig(append([]string{"-total=20", "-concurrency=4", "-qty=2", "-expect-stock=10", "-mode=submit-read"}, requiredArgs...))
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.total)
	assert.True(t, cfg.totalSet)
	assert.Equal(t, 4, cfg.concurrency)
	assert.Equal(t, 2, cfg.qty)
	assert.Equal(t, 10, cfg.expectStock)
	assert.Equal(t, modeSubmitRead, cfg.mode)
	assert.Equal(t, 5*time.Second, cfg.timeout)

	cfg, err = parseConfig(append([]string{"-duration=1s"}, requiredArgs...))
	require.NoError(t, err)
	assert.False(t, cfg.totalSet)
	assert.Equal(t, -1, cfg.expectStock)

	invalid := map[string][]string{
		"missing buyer":        {"-item=i-1"},
		"missing item":         {"-buyer=b-1"},
		"zero total":           append([]string{"-total=0"}, requiredArgs...),
		"zero qty":             append([]string{"-qty=0"}, requiredArgs...),
		"zero concurrency":     append([]string{"-concurrency=0"}, requiredArgs...),
		"zero connections":     append([]string{"-connections=0"}, requiredArgs...),
		"bad mode":             append([]string{"-mode=bulk"}, requiredArgs...),
		"bad timeout":          append([]string{"-timeout=0s"}, requiredArgs...),
		"negative duration":    append([]string{"-duration=-1s"}, requiredArgs...),
		"stock check duration": append([]string{"-duration=1s", "-expect-stock=5"}, requiredArgs...),
		"unknown flag":         append([]string{"-sku=X"}, requiredArgs...),
	}
	for name, args := range invalid {
		t.Run(name, func(t *testing.T) {
			_, err := parseConfig(args)
			require.Error(t, err)
		})
	}
}

func TestDispatchJobs(t *testing.T) {
	jobs := make(chan int, 10)
	dispatchJobs(jobs, config{total: 3})
	var got []int
	for id := range jobs {
		got = append(got, id)
	}
	assert.Equal(t, []int{0, 1, 2}, got)

	jobs = make(chan int, 10)
	go dispatchJobs(jobs, config{duration: time.Second, total: 5, totalSet: true})
	got = got[:0]
	for id := range jobs {
		got = append(got, id)
	}
	assert.Len(t, got, 5)

	jobs = make(chan int)
	done := make(chan struct{})
	go func() {
		dispatchJobs(jobs, config{duration: 30 * time.Millisecond})
		close(done)
	}()
	go func() {
		for range jobs {
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("duration mode did not stop")
	}
}

func TestCollectorAndReport(t *testing.T) {
	c := newCollector()
	c.record(scenarioMethod, 10*time.Millisecond, codes.OK)
	c.record(scenarioMethod, 20*time.Millisecond, codes.FailedPrecondition)
	c.record(scenarioMethod, 30*time.Millisecond, codes.Internal)
	c.record("SubmitOrder", 5*time.Millisecond, codes.OK)

	submit, ok := c.snapshot("SubmitOrder")
	require.True(t, ok)
	assert.Equal(t, int64(1), submit.Accepted)
	_, ok = c.snapshot("GetOrder")
	assert.False(t, ok)

	result := c.buildReport(time.Now(), 2*time.Second)
	assert.Equal(t, int64(3), result.TotalScenarios)
	assert.Equal(t, int64(1), result.AcceptedOrders)
	assert.Equal(t, int64(1), result.RejectedOrders)
	assert.Equal(t, int64(1), result.FailedScenarios)
	assert.InDelta(t, 1.0/3.0, result.ErrorRate, 1e-9)
	assert.InDelta(t, 1.5, result.RPS, 1e-9)
	assert.Equal(t, int64(1), result.Methods[scenarioMethod].Codes["Internal"])
	assert.InDelta(t, 20.0, result.ScenarioLatencyMs.P50, 1e-9)
}

func TestUtilityFunctions(t *testing.T) {
	assert.Equal(t, latencySummary{}, buildLatencySummary(nil))
	assert.Equal(t, 0.0, percentile(nil, 50))
	assert.Equal(t, 7.0, percentile([]float64{7}, 99))
	assert.InDelta(t, 2.5, percentile([]float64{1, 2, 3, 4}, 50), 1e-9)
	assert.Equal(t, 0.0, ratio(1, 0))

	assert.Equal(t, "count:10", runTarget(config{total: 10}))
	assert.Equal(t, "duration:1s", runTarget(config{duration: time.Second}))
	assert.Equal(t, "duration:1s,max-total:4", runTarget(config{duration: time.Second, total: 4, totalSet: true}))

	assert.Equal(t, codes.OK, grpcCode(nil))
	assert.Equal(t, codes.Aborted, grpcCode(status.Error(codes.Aborted, "contention")))
	assert.Equal(t, codes.Unknown, grpcCode(errors.New("plain")))
}

func TestVerifyStock(t *testing.T) {
	require.NoError(t, verifyStock(report{}, config{expectStock: -1}))
	require.NoError(t, verifyStock(report{AcceptedOrders: 2}, config{total: 10, qty: 2, expectStock: 5}))
	require.NoError(t, verifyStock(report{AcceptedOrders: 3}, config{total: 3, qty: 1, expectStock: 5}))
	require.ErrorContains(t, verifyStock(report{AcceptedOrders: 6}, config{total: 10, qty: 1, expectStock: 5}), "accepted 6")
}

func TestWriteJSONReport(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.json")
	require.NoError(t, writeJSONReport(path, report{TotalScenarios: 2}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"total_scenarios": 2`)

	require.Error(t, writeJSONReport(".", report{}))
	require.Error(t, writeJSONReport("../escape.json", report{}))
}

func TestRunScenario(t *testing.T) {
	var reads int32
	client := &fakeOrderClient{
		submitFn: func(ctx context.Context, req *grpcsvc.SubmitOrderRequest) (*grpcsvc.OrderReply, error) {
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)
			assert.Equal(t, "b-1", req.BuyerID)
			assert.Equal(t, []grpcsvc.OrderLine{{ItemID: "i-1", Quantity: 2}}, req.Lines)
			return &grpcsvc.OrderReply{Order: domain.OrderSnapshot{ID: "order-1"}}, nil
		},
		getFn: func(_ context.Context, req *grpcsvc.GetOrderRequest) (*grpcsvc.OrderReply, error) {
			atomic.AddInt32(&reads, 1)
			assert.Equal(t, "order-1", req.OrderID)
			return &grpcsvc.OrderReply{}, nil
		},
	}

	cfg := config{buyerID: "b-1", itemID: "i-1", qty: 2, timeout: time.Second, mode: modeSubmitRead}
	c := newCollector()
	require.NoError(t, runScenario(client, cfg, 0, c))
	assert.Equal(t, int32(1), reads)

	rejecting := &fakeOrderClient{submitFn: func(context.Context, *grpcsvc.SubmitOrderRequest) (*grpcsvc.OrderReply, error) {
		return nil, status.Error(codes.FailedPrecondition, "insufficient stock")
	}}
	require.Error(t, runScenario(rejecting, cfg, 1, c))

	empty := &fakeOrderClient{submitFn: func(context.Context, *grpcsvc.SubmitOrderRequest) (*grpcsvc.OrderReply, error) {
		return &grpcsvc.OrderReply{}, nil
	}}
	require.ErrorContains(t, runScenario(empty, cfg, 2, c), "empty order id")

	result := c.buildReport(time.Now(), time.Second)
	assert.Equal(t, int64(1), result.AcceptedOrders)
	assert.Equal(t, int64(1), result.RejectedOrders)
	assert.Equal(t, int64(1), result.FailedScenarios)
}

func TestPrintReport(t *testing.T) {
	var out bytes.Buffer
	printReport(&out, report{
		TotalScenarios: 4,
		AcceptedOrders: 3,
		RejectedOrders: 1,
		Methods: map[string]methodReport{
			scenarioMethod: {Calls: 4},
			"SubmitOrder":  {Calls: 4, Accepted: 3, Rejected: 1},
		},
	}, config{mode: modeSubmit, total: 4})

	text := out.String()
	assert.Contains(t, text, "mode=submit run=count:4 total=4 accepted=3 rejected=1")
	assert.Contains(t, text, "SubmitOrder: calls=4 accepted=3 rejected=1")
	assert.NotContains(t, text, "scenario:")
}

// startOrderServer поднимает gRPC API поверх in-memory хранилищ с одной позицией на складе.
func startOrderServer(t *testing.T, stock int) (addr, buyerID, itemID string) {
	t.Helper()
	ctx := context.Background()

	catalog := memory.NewCatalogRepository()
	buyers := memory.NewBuyerRepository()
	category, err := catalog.CreateCategory(ctx, domain.Category{ID: "c-1", Name: "Anime"})
	require.NoError(t, err)
	item, err := catalog.CreateItem(ctx, domain.CatalogItem{ID: "i-1", Name: "Naruto Vol. 1", Category: category.Ref(), PriceMinor: 1250, Stock: stock})
	require.NoError(t, err)
	buyer, err := buyers.SaveBuyer(ctx, domain.Buyer{
		ID:       "b-1",
		FullName: "Mina Ashido",
		Email:    "mina@example.com",
		Phone:    "+34 600 000 000",
		Address:  domain.Address{Street: "Gran Via", City: "Madrid", Country: "ES", PostalCode: "28013"},
	})
	require.NoError(t, err)

	orders := fulfillment.NewService(catalog, memory.NewOrderRepository(), buyers)
	srv := grpc.NewServer()
	grpcsvc.NewServer(orders, nil, nil).Register(srv)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	return lis.Addr().String(), buyer.ID, item.ID
}

func TestRunAgainstServer_NoOversell(t *testing.T) {
	addr, buyerID, itemID := startOrderServer(t, 5)

	var out bytes.Buffer
	err := run([]string{
		"-addr=" + addr,
		"-buyer=" + buyerID,
		"-item=" + itemID,
		"-total=12",
		"-concurrency=6",
		"-connections=2",
		"-expect-stock=5",
		"-mode=submit-read",
	}, &out)
	require.NoError(t, err, out.String())
	assert.Contains(t, out.String(), "accepted=5 rejected=7 failed=0")
}

func TestRunAgainstServer_StockCheckFails(t *testing.T) {
	addr, buyerID, itemID := startOrderServer(t, 5)

	err := run([]string{
		"-addr=" + addr,
		"-buyer=" + buyerID,
		"-item=" + itemID,
		"-total=3",
		"-expect-stock=" + strconv.Itoa(2),
	}, &bytes.Buffer{})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "stock check failed"))
}
