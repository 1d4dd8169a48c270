// Команда loadtest оформляет заказы на одну позицию параллельно по gRPC и проверяет,
// что остаток не уходит в минус: при остатке S и N заказах принимается ровно min(N, S/qty).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	grpcsvc "github.com/vladislavdragonenkov/catalog/internal/service/grpc"
)

type loadMode string

const (
	modeSubmit     loadMode = "submit"
	modeSubmitRead loadMode = "submit-read"
)

// errFailedScenarios: прогон завершился, но часть сценариев упала с неожиданным кодом.
var errFailedScenarios = errors.New("load test has failed scenarios")

type config struct {
	addr        string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	connections int
	timeout     time.Duration
	mode        loadMode
	buyerID     string
	itemID      string
	qty         int
	// expectStock: остаток позиции перед прогоном; -1 отключает проверку.
	expectStock int
	outputPath  string
}

type orderClient interface {
	SubmitOrder(ctx context.Context, req *grpcsvc.SubmitOrderRequest, opts ...grpc.CallOption) (*grpcsvc.OrderReply, error)
	GetOrder(ctx context.Context, req *grpcsvc.GetOrderRequest, opts ...grpc.CallOption) (*grpcsvc.OrderReply, error)
}

func parseConfig(args []string) (config, error) {
	var cfg config
	var modeValue string

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.StringVar(&cfg.addr, "addr", "localhost:50051", "gRPC target address")
	fs.IntVar(&cfg.total, "total", 400, "total orders in count mode; in duration mode only used when explicitly set")
	fs.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 1m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.IntVar(&cfg.connections, "connections", 10, "number of gRPC client connections")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-RPC timeout")
	fs.StringVar(&modeValue, "mode", string(modeSubmit), "load mode: submit | submit-read")
	fs.StringVar(&cfg.buyerID, "buyer", "", "buyer id placing the orders")
	fs.StringVar(&cfg.itemID, "item", "", "item id every order takes")
	fs.IntVar(&cfg.qty, "qty", 1, "quantity per order")
	fs.IntVar(&cfg.expectStock, "expect-stock", -1, "item stock before the run; enables oversell check in count mode")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	switch {
	case cfg.duration < 0:
		return cfg, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when duration is not set")
	case cfg.duration > 0 && cfg.totalSet && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.connections <= 0:
		return cfg, errors.New("connections must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case cfg.qty <= 0:
		return cfg, errors.New("qty must be > 0")
	case strings.TrimSpace(cfg.buyerID) == "":
		return cfg, errors.New("buyer is required")
	case strings.TrimSpace(cfg.itemID) == "":
		return cfg, errors.New("item is required")
	case cfg.expectStock >= 0 && cfg.duration > 0:
		return cfg, errors.New("expect-stock works only in count mode")
	}

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeSubmit:
		return modeSubmit, nil
	case modeSubmitRead:
		return modeSubmitRead, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "loadtest: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	cfg, err := parseConfig(args)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	conns := make([]*grpc.ClientConn, 0, cfg.connections)
	clients := make([]orderClient, 0, cfg.connections)
	defer func() {
		for _, conn := range conns {
			_ = conn.Close()
		}
	}()
	for i := 0; i < cfg.connections; i++ {
		conn, dialErr := grpc.NewClient(cfg.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if dialErr != nil {
			return fmt.Errorf("failed to create grpc client connection: %w", dialErr)
		}
		conns = append(conns, conn)
		clients = append(clients, grpcsvc.NewClient(conn))
	}

	startedAt := time.Now()
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var failures int64
	var wg sync.WaitGroup

	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		go func(cli orderClient) {
			defer wg.Done()
			for id := range jobs {
				if runErr := runScenario(cli, cfg, id, col); runErr != nil && grpcCode(runErr) != codes.FailedPrecondition {
					atomic.AddInt64(&failures, 1)
				}
			}
		}(clients[workerID%len(clients)])
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	result := col.buildReport(startedAt, time.Since(startedAt))
	if result.FailedScenarios == 0 && failures > 0 {
		result.FailedScenarios = failures
		result.ErrorRate = ratio(result.FailedScenarios, result.TotalScenarios)
	}

	printReport(out, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
	}

	if result.FailedScenarios > 0 {
		return errFailedScenarios
	}
	return verifyStock(result, cfg)
}

// verifyStock сверяет число принятых заказов с остатком до прогона.
func verifyStock(result report, cfg config) error {
	if cfg.expectStock < 0 {
		return nil
	}
	want := int64(cfg.expectStock / cfg.qty)
	if total := int64(cfg.total); total < want {
		want = total
	}
	if result.AcceptedOrders != want {
		return fmt.Errorf("stock check failed: accepted %d orders, want %d (stock %d, qty %d)",
			result.AcceptedOrders, want, cfg.expectStock, cfg.qty)
	}
	return nil
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}

		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

func runScenario(client orderClient, cfg config, index int, col *collector) error {
	scenarioStart := time.Now()
	scenarioCode := codes.OK
	defer func() {
		col.record(scenarioMethod, time.Since(scenarioStart), scenarioCode)
	}()

	reply, err := callSubmitOrder(client, cfg.timeout, &grpcsvc.SubmitOrderRequest{
		BuyerID: cfg.buyerID,
		Lines:   []grpcsvc.OrderLine{{ItemID: cfg.itemID, Quantity: cfg.qty}},
	}, col)
	if err != nil {
		scenarioCode = grpcCode(err)
		return err
	}
	orderID := reply.Order.ID
	if orderID == "" {
		scenarioCode = codes.Internal
		return fmt.Errorf("order %d: submit returned empty order id", index)
	}

	if cfg.mode == modeSubmitRead {
		if err := callGetOrder(client, cfg.timeout, orderID, col); err != nil {
			scenarioCode = grpcCode(err)
			return err
		}
	}
	return nil
}

func callSubmitOrder(client orderClient, timeout time.Duration, req *grpcsvc.SubmitOrderRequest, col *collector) (*grpcsvc.OrderReply, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	reply, err := client.SubmitOrder(ctx, req)
	col.record("SubmitOrder", time.Since(start), grpcCode(err))
	return reply, err
}

func callGetOrder(client orderClient, timeout time.Duration, orderID string, col *collector) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	_, err := client.GetOrder(ctx, &grpcsvc.GetOrderRequest{OrderID: orderID})
	col.record("GetOrder", time.Since(start), grpcCode(err))
	return err
}

func grpcCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	return status.Code(err)
}
