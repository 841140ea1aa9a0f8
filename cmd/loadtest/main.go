package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/esoms/internal/domain"
	"github.com/vladislavdragonenkov/esoms/internal/service/orders"
	"github.com/vladislavdragonenkov/esoms/internal/storage"
	"github.com/vladislavdragonenkov/esoms/internal/storage/memory"
	"github.com/vladislavdragonenkov/esoms/internal/storage/sqlite"
)

const (
	defaultQty      = 1
	scenarioMethod  = "scenario"
	targetHTTP      = "http"
	targetMemory    = "memory"
	targetSQLite    = "sqlite"
	outcomeOK       = "ok"
	outcomeConflict = "conflict"
)

type loadMode string

const (
	modeCreate              loadMode = "create"
	modeCreateConfirm       loadMode = "create-confirm"
	modeCreateConfirmCancel loadMode = "create-confirm-cancel"
	// modeContend: несколько воркеров одновременно добавляют позиции в один заказ.
	modeContend             loadMode = "contend"
)

type config struct {
	target        string
	addr          string
	sqlitePath    string
	total         int
	totalSet      bool
	duration      time.Duration
	concurrency   int
	timeout       time.Duration
	mode          loadMode
	cancelRate    int
	contendOrders int
	retryAttempts int
	currency      string
	sku           string
	unitPrice     decimal.Decimal
	customerTag   string
	outputPath    string
}

// outcomeOf сводит ошибку к категории для отчёта.
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return outcomeOK
	case domain.IsVersionConflict(err):
		return outcomeConflict
	case domain.IsValidation(err):
		return "validation"
	case domain.IsNotFound(err):
		return "not_found"
	case domain.IsIllegalTransition(err):
		return "illegal_transition"
	case domain.IsInvalidOperation(err):
		return "invalid_operation"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeCreate:
		return modeCreate, nil
	case modeCreateConfirm:
		return modeCreateConfirm, nil
	case modeCreateConfirmCancel:
		return modeCreateConfirmCancel, nil
	case modeContend:
		return modeContend, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:  "loadtest",
		Usage: "drive concurrent order scenarios and report latency, errors and version conflicts",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "target", Value: targetHTTP, Usage: "http | memory | sqlite"},
			&cli.StringFlag{Name: "addr", Value: "http://localhost:9090", EnvVars: []string{"LOADTEST_ADDR"}, Usage: "base URL of the order API (target=http)"},
			&cli.StringFlag{Name: "sqlite-path", Usage: "SQLite file for target=sqlite (empty = temp file)"},
			&cli.IntFlag{Name: "total", Value: 400, Usage: "total scenarios in count mode; in duration mode only used when explicitly set"},
			&cli.DurationFlag{Name: "duration", Usage: "optional time-based run duration (e.g. 10m)"},
			&cli.IntFlag{Name: "concurrency", Value: 40, Usage: "number of concurrent workers"},
			&cli.DurationFlag{Name: "timeout", Value: 5 * time.Second, Usage: "per-call timeout"},
			&cli.StringFlag{Name: "mode", Value: string(modeCreate), Usage: "create | create-confirm | create-confirm-cancel | contend"},
			&cli.IntFlag{Name: "cancel-rate", Usage: "cancel probability in percent for create-confirm mode (0..100)"},
			&cli.IntFlag{Name: "contend-orders", Value: 1, Usage: "number of shared orders in contend mode"},
			&cli.IntFlag{Name: "retry-attempts", Value: 5, Usage: "attempts per command on version conflict"},
			&cli.StringFlag{Name: "currency", Value: "USD", Usage: "order currency"},
			&cli.StringFlag{Name: "sku", Value: "SKU-LOAD", Usage: "order item product id"},
			&cli.StringFlag{Name: "unit-price", Value: "10.00", Usage: "order item unit price"},
			&cli.StringFlag{Name: "customer-tag", Value: "load", Usage: "customer id prefix"},
			&cli.StringFlag{Name: "output", Usage: "optional JSON report output file path"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := configFromCLI(c)
			if err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			client, closeFn, err := newOrderClient(c.Context, cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			result, err := run(c.Context, cfg, client)
			if err != nil {
				return err
			}

			printReport(out, result, cfg)
			if cfg.outputPath != "" {
				if err := writeJSONReport(cfg.outputPath, result); err != nil {
					return fmt.Errorf("write report: %w", err)
				}
			}
			if result.FailedScenarios > 0 {
				return cli.Exit(fmt.Sprintf("%d scenarios failed", result.FailedScenarios), 1)
			}
			return nil
		},
	}
}

func configFromCLI(c *cli.Context) (config, error) {
	cfg := config{
		target:        strings.ToLower(strings.TrimSpace(c.String("target"))),
		addr:          strings.TrimRight(strings.TrimSpace(c.String("addr")), "/"),
		sqlitePath:    strings.TrimSpace(c.String("sqlite-path")),
		total:         c.Int("total"),
		totalSet:      c.IsSet("total"),
		duration:      c.Duration("duration"),
		concurrency:   c.Int("concurrency"),
		timeout:       c.Duration("timeout"),
		cancelRate:    c.Int("cancel-rate"),
		contendOrders: c.Int("contend-orders"),
		retryAttempts: c.Int("retry-attempts"),
		currency:      strings.ToUpper(strings.TrimSpace(c.String("currency"))),
		sku:           strings.TrimSpace(c.String("sku")),
		customerTag:   strings.TrimSpace(c.String("customer-tag")),
		outputPath:    strings.TrimSpace(c.String("output")),
	}

	mode, err := parseMode(c.String("mode"))
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	price, err := decimal.NewFromString(strings.TrimSpace(c.String("unit-price")))
	if err != nil {
		return cfg, fmt.Errorf("parse unit-price: %w", err)
	}
	cfg.unitPrice = price

	switch cfg.target {
	case targetHTTP:
		if cfg.addr == "" {
			return cfg, errors.New("addr is required for target=http")
		}
	case targetMemory, targetSQLite:
	default:
		return cfg, fmt.Errorf("unsupported target: %s", cfg.target)
	}
	if cfg.duration < 0 {
		return cfg, errors.New("duration must be >= 0")
	}
	if cfg.duration == 0 && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when duration is not set")
	}
	if cfg.duration > 0 && cfg.totalSet && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	}
	if cfg.concurrency <= 0 {
		return cfg, errors.New("concurrency must be > 0")
	}
	if cfg.timeout <= 0 {
		return cfg, errors.New("timeout must be > 0")
	}
	if !cfg.unitPrice.IsPositive() {
		return cfg, errors.New("unit-price must be > 0")
	}
	if cfg.cancelRate < 0 || cfg.cancelRate > 100 {
		return cfg, errors.New("cancel-rate must be between 0 and 100")
	}
	if cfg.contendOrders <= 0 {
		return cfg, errors.New("contend-orders must be > 0")
	}
	if cfg.retryAttempts <= 0 {
		return cfg, errors.New("retry-attempts must be > 0")
	}
	if len(cfg.currency) != 3 {
		return cfg, errors.New("currency must be a 3-letter code")
	}
	if cfg.sku == "" {
		return cfg, errors.New("sku is required")
	}
	if cfg.customerTag == "" {
		return cfg, errors.New("customer-tag is required")
	}
	return cfg, nil
}

func main() {
	log.SetLevel(log.WarnLevel)
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// orderClient: команды, которыми нагрузочный тест управляет заказом.
type orderClient interface {
	CreateOrder(ctx context.Context, p domain.CreateOrderParams, item domain.AddItemParams) (string, error)
	AddItem(ctx context.Context, orderID string, item domain.AddItemParams) error
	Confirm(ctx context.Context, orderID string) error
	Cancel(ctx context.Context, orderID, reason string) error
}

func newOrderClient(ctx context.Context, cfg config) (orderClient, func(), error) {
	switch cfg.target {
	case targetHTTP:
		return &httpOrderClient{baseURL: cfg.addr, http: &http.Client{}}, func() {}, nil
	case targetMemory:
		repo := storage.NewOrderRepository(memory.NewEventStore(), domain.SystemClock())
		return localOrderClient{svc: orders.NewService(repo, log.WithField("component", "orders"))}, func() {}, nil
	case targetSQLite:
		path := cfg.sqlitePath
		cleanup := func() {}
		if path == "" {
			dir, err := os.MkdirTemp("", "esoms-loadtest-")
			if err != nil {
				return nil, nil, fmt.Errorf("create temp dir: %w", err)
			}
			path = filepath.Join(dir, "loadtest.db")
			cleanup = func() { _ = os.RemoveAll(dir) }
		}
		store, err := sqlite.Open(ctx, path)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		repo := storage.NewOrderRepository(sqlite.NewEventStore(store), domain.SystemClock())
		return localOrderClient{svc: orders.NewService(repo, log.WithField("component", "orders"))}, func() {
			_ = store.Close()
			cleanup()
		}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported target: %s", cfg.target)
	}
}

// localOrderClient гоняет команды через сервис в том же процессе.
type localOrderClient struct {
	svc *orders.Service
}

func (c localOrderClient) CreateOrder(ctx context.Context, p domain.CreateOrderParams, item domain.AddItemParams) (string, error) {
	order, err := c.svc.CreateOrder(ctx, p, item)
	return order.ID, err
}

func (c localOrderClient) AddItem(ctx context.Context, orderID string, item domain.AddItemParams) error {
	_, err := c.svc.AddItem(ctx, orderID, item)
	return err
}

func (c localOrderClient) Confirm(ctx context.Context, orderID string) error {
	_, err := c.svc.ConfirmOrder(ctx, orderID)
	return err
}

func (c localOrderClient) Cancel(ctx context.Context, orderID, reason string) error {
	_, err := c.svc.CancelOrder(ctx, orderID, reason)
	return err
}

// httpOrderClient ходит в REST API сервиса. HTTP-статусы переводятся обратно
// в доменные категории ошибок, чтобы повтор при конфликте работал одинаково.
type httpOrderClient struct {
	baseURL string
	http    *http.Client
}

type httpItem struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	UnitPrice string `json:"unit_price"`
	Currency  string `json:"currency,omitempty"`
	Quantity  int    `json:"quantity"`
}

func toHTTPItem(p domain.AddItemParams) httpItem {
	return httpItem{
		ProductID: p.ProductID,
		Name:      p.Name,
		UnitPrice: p.UnitPrice.Amount.String(),
		Currency:  p.UnitPrice.Currency,
		Quantity:  p.Quantity,
	}
}

func (c *httpOrderClient) CreateOrder(ctx context.Context, p domain.CreateOrderParams, item domain.AddItemParams) (string, error) {
	req := map[string]any{
		"id":               p.ID,
		"customer":         p.Customer,
		"delivery_address": p.DeliveryAddress,
		"business_context": string(p.BusinessContext),
		"currency":         p.Currency,
		"items":            []httpItem{toHTTPItem(item)},
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/orders", req, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", errors.New("create response returned empty order id")
	}
	return resp.ID, nil
}

func (c *httpOrderClient) AddItem(ctx context.Context, orderID string, item domain.AddItemParams) error {
	return c.do(ctx, http.MethodPost, "/api/v1/orders/"+orderID+"/items", toHTTPItem(item), nil)
}

func (c *httpOrderClient) Confirm(ctx context.Context, orderID string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/orders/"+orderID+"/confirm", nil, nil)
}

func (c *httpOrderClient) Cancel(ctx context.Context, orderID, reason string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/orders/"+orderID+"/cancel", map[string]string{"reason": reason}, nil)
}

func (c *httpOrderClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return errorForStatus(resp.StatusCode, apiErr.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func errorForStatus(code int, message string) error {
	var category error
	switch code {
	case http.StatusBadRequest:
		category = domain.ErrInvalidArgument
	case http.StatusNotFound:
		category = domain.ErrOrderNotFound
	case http.StatusConflict:
		category = domain.ErrConcurrencyConflict
	case http.StatusUnprocessableEntity:
		category = domain.ErrInvalidOperation
	default:
		return fmt.Errorf("unexpected status %d: %s", code, message)
	}
	return fmt.Errorf("%w (http %d: %s)", category, code, message)
}

// run раздаёт сценарии воркерам и собирает отчёт.
func run(ctx context.Context, cfg config, client orderClient) (report, error) {
	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()
	r := &runner{cfg: cfg, client: client, runID: runID, col: col}

	if cfg.mode == modeContend {
		shared, err := r.prepareSharedOrders(ctx)
		if err != nil {
			return report{}, err
		}
		r.shared = shared
	}

	jobs := make(chan int, cfg.concurrency*2)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.concurrency; i++ {
		g.Go(func() error {
			for id := range jobs {
				_ = r.runScenario(gctx, id)
			}
			return nil
		})
	}

	dispatchJobs(ctx, jobs, cfg)
	if err := g.Wait(); err != nil {
		return report{}, err
	}
	return col.buildReport(startedAt, time.Since(startedAt)), nil
}

func dispatchJobs(ctx context.Context, jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			select {
			case <-ctx.Done():
				return
			case jobs <- i:
			}
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
		case <-ctx.Done():
			return
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

type runner struct {
	cfg    config
	client orderClient
	runID  string
	col    *collector
	shared []string
}

func (r *runner) orderParams(index int) domain.CreateOrderParams {
	return domain.CreateOrderParams{
		ID:              fmt.Sprintf("lt-%s-%d", r.runID, index),
		Customer:        domain.CustomerInfo{ID: fmt.Sprintf("%s-%s-%d", r.cfg.customerTag, r.runID, index)},
		DeliveryAddress: domain.Address{Line1: "1 Load St", City: "Bench", Country: "US"},
		BusinessContext: domain.BusinessContextECommerce,
		Currency:        r.cfg.currency,
	}
}

func (r *runner) item(productID string) domain.AddItemParams {
	return domain.AddItemParams{
		ProductID: productID,
		Name:      "load item",
		UnitPrice: domain.Money{Amount: r.cfg.unitPrice, Currency: r.cfg.currency},
		Quantity:  defaultQty,
	}
}

func (r *runner) prepareSharedOrders(ctx context.Context) ([]string, error) {
	ids := make([]string, 0, r.cfg.contendOrders)
	for i := 0; i < r.cfg.contendOrders; i++ {
		callCtx, cancel := context.WithTimeout(ctx, r.cfg.timeout)
		id, err := r.client.CreateOrder(callCtx, r.orderParams(-1-i), r.item(r.cfg.sku))
		cancel()
		if err != nil {
			return nil, fmt.Errorf("create shared order: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *runner) runScenario(ctx context.Context, index int) (err error) {
	scenarioStart := time.Now()
	defer func() {
		r.col.record(scenarioMethod, time.Since(scenarioStart), outcomeOf(err))
	}()

	if r.cfg.mode == modeContend {
		orderID := r.shared[index%len(r.shared)]
		productID := fmt.Sprintf("%s-%d", r.cfg.sku, index)
		return r.call(ctx, "AddItem", func(ctx context.Context) error {
			return r.client.AddItem(ctx, orderID, r.item(productID))
		})
	}

	var orderID string
	err = r.call(ctx, "CreateOrder", func(ctx context.Context) error {
		id, createErr := r.client.CreateOrder(ctx, r.orderParams(index), r.item(r.cfg.sku))
		orderID = id
		return createErr
	})
	if err != nil || r.cfg.mode == modeCreate {
		return err
	}

	if err = r.call(ctx, "ConfirmOrder", func(ctx context.Context) error {
		return r.client.Confirm(ctx, orderID)
	}); err != nil {
		return err
	}

	if r.cfg.mode == modeCreateConfirmCancel || (r.cfg.mode == modeCreateConfirm && shouldCancelScenario(index, r.cfg.cancelRate)) {
		return r.call(ctx, "CancelOrder", func(ctx context.Context) error {
			return r.client.Cancel(ctx, orderID, "load-cancel")
		})
	}
	return nil
}

// call выполняет команду с таймаутом и повтором при конфликте версий.
// Каждая попытка попадает в статистику метода отдельно.
func (r *runner) call(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	retry := orders.DefaultRetryConfig()
	retry.MaxAttempts = r.cfg.retryAttempts
	retry.InitialDelay = time.Millisecond
	retry.MaxDelay = 50 * time.Millisecond
	retry.Logger = log.WithField("component", "loadtest")

	attempt := 0
	_, err := orders.RetryOnConflict(ctx, retry, func(ctx context.Context) (struct{}, error) {
		attempt++
		if attempt > 1 {
			r.col.conflicts.Add(1)
		}
		callCtx, cancel := context.WithTimeout(ctx, r.cfg.timeout)
		defer cancel()

		start := time.Now()
		callErr := fn(callCtx)
		r.col.record(method, time.Since(start), outcomeOf(callErr))
		return struct{}{}, callErr
	})
	return err
}

func shouldCancelScenario(index, cancelRate int) bool {
	if cancelRate <= 0 {
		return false
	}
	if cancelRate >= 100 {
		return true
	}
	return index%100 < cancelRate
}
