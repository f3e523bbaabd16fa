package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/orderquery"
	"github.com/vladislavdragonenkov/storefront/internal/service/orderstatus"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/transport/httpapi"
)

// newStorefront поднимает настоящий REST API поверх in-memory хранилища.
func newStorefront(t *testing.T, stock int64) (*httptest.Server, *memory.Store, domain.Product) {
	t.Helper()

	logger := log.New()
	logger.SetOutput(io.Discard)
	entry := log.NewEntry(logger)

	store := memory.NewStore()
	product := store.SeedProduct(domain.Product{Name: "Load Widget", PriceMinor: 1500, Currency: "USD", Stock: stock, Active: true})

	handler := httpapi.NewHandler(httpapi.Deps{
		Checkout:    checkout.NewEngine(store, checkout.WithLogger(entry)),
		Status:      orderstatus.NewMachine(store, orderstatus.WithLogger(entry)),
		Query:       orderquery.NewService(memory.NewOrderRepository(store), memory.NewProductRepository(store), nil, entry),
		Idempotency: idempotency.NewGuard(memory.NewIdempotencyRepository(0), 0, entry),
		Storage:     store,
		Logger:      entry,
	})
	server := httptest.NewServer(httpapi.NewRouter(handler, time.Second))
	t.Cleanup(server.Close)
	return server, store, product
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    loadMode
		wantErr string
	}{
		{name: "checkout", input: "checkout", want: modeCheckout},
		{name: "checkout-pay", input: "checkout-pay", want: modeCheckoutPay},
		{name: "checkout-cancel", input: " checkout-cancel ", want: modeCheckoutCancel},
		{name: "unsupported", input: "bad", wantErr: "unsupported mode"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseMode(tc.input)
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("unexpected mode: got %q want %q", got, tc.want)
			}
		})
	}
}

func TestParseConfig(t *testing.T) {
	t.Run("count mode", func(t *testing.T) {
		cfg, err := parseConfig(flag.NewFlagSet("loadtest", flag.ContinueOnError), []string{
			"-url=http://127.0.0.1:8080/",
			"-mode=checkout-pay",
			"-total=12",
			"-concurrency=3",
			"-timeout=2s",
			"-cancel-rate=10",
			"-product=4",
			"-qty=2",
			"-users=5",
			"-output=out.json",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !cfg.totalSet {
			t.Fatalf("expected totalSet=true")
		}
		if cfg.baseURL != "http://127.0.0.1:8080" {
			t.Fatalf("expected trailing slash to be trimmed, got %s", cfg.baseURL)
		}
		if cfg.mode != modeCheckoutPay {
			t.Fatalf("unexpected mode: %s", cfg.mode)
		}
		if cfg.total != 12 || cfg.concurrency != 3 || cfg.productID != 4 || cfg.qty != 2 || cfg.users != 5 {
			t.Fatalf("unexpected numeric config: %+v", cfg)
		}
		if cfg.timeout != 2*time.Second {
			t.Fatalf("unexpected timeout: %s", cfg.timeout)
		}
	})

	t.Run("duration mode", func(t *testing.T) {
		cfg, err := parseConfig(flag.NewFlagSet("loadtest", flag.ContinueOnError), []string{"-duration=3s", "-concurrency=2"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.duration != 3*time.Second {
			t.Fatalf("unexpected duration: %s", cfg.duration)
		}
		if cfg.totalSet {
			t.Fatalf("expected totalSet=false when -total was not provided")
		}
	})

	t.Run("validation errors", func(t *testing.T) {
		tests := []struct {
			name    string
			args    []string
			wantErr string
		}{
			{name: "invalid duration", args: []string{"-duration=bad"}, wantErr: "invalid value"},
			{name: "negative duration", args: []string{"-duration=-1s"}, wantErr: "duration must be >= 0"},
			{name: "invalid cancel rate", args: []string{"-cancel-rate=101"}, wantErr: "cancel-rate must be between 0 and 100"},
			{name: "empty total", args: []string{"-duration=0s", "-total=0"}, wantErr: "total must be > 0"},
			{name: "empty url", args: []string{"-url= "}, wantErr: "url is required"},
			{name: "bad product", args: []string{"-product=0"}, wantErr: "product must be > 0"},
			{name: "bad qty", args: []string{"-qty=-1"}, wantErr: "qty must be > 0"},
			{name: "bad mode", args: []string{"-mode=refund"}, wantErr: "unsupported mode"},
		}

		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
				fs.SetOutput(io.Discard)
				_, err := parseConfig(fs, tc.args)
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
				}
			})
		}
	})
}

func TestDispatchJobs(t *testing.T) {
	t.Run("count mode", func(t *testing.T) {
		jobs := make(chan int, 16)
		dispatchJobs(jobs, config{total: 5})

		var got []int
		for v := range jobs {
			got = append(got, v)
		}
		if !slices.Equal(got, []int{0, 1, 2, 3, 4}) {
			t.Fatalf("unexpected jobs sequence: %v", got)
		}
	})

	t.Run("duration mode", func(t *testing.T) {
		jobs := make(chan int, 32)
		done := make(chan struct{})
		go func() {
			dispatchJobs(jobs, config{duration: 20 * time.Millisecond})
			close(done)
		}()

		count := 0
		for range jobs {
			count++
		}
		<-done
		if count == 0 {
			t.Fatalf("expected non-zero jobs for duration mode")
		}
	})

	t.Run("duration with explicit max total", func(t *testing.T) {
		jobs := make(chan int, 16)
		dispatchJobs(jobs, config{duration: time.Second, total: 3, totalSet: true})
		count := 0
		for range jobs {
			count++
		}
		if count != 3 {
			t.Fatalf("expected 3 jobs, got %d", count)
		}
	})
}

func TestCollectorAndReport(t *testing.T) {
	c := newCollector()
	c.record(scenarioMethod, 10*time.Millisecond, "201")
	c.record(scenarioMethod, 20*time.Millisecond, "409")
	c.record("Checkout", 15*time.Millisecond, "201")
	c.record("Checkout", 5*time.Millisecond, codeTransportErr)

	r := c.buildReport(time.Now(), 2*time.Second)
	if r.TotalScenarios != 2 || r.SuccessScenarios != 1 || r.FailedScenarios != 1 {
		t.Fatalf("unexpected report totals: %+v", r)
	}
	if r.RPS <= 0 {
		t.Fatalf("expected positive rps, got %f", r.RPS)
	}
	checkoutStats, ok := r.Methods["Checkout"]
	if !ok {
		t.Fatalf("expected Checkout stats in report")
	}
	if checkoutStats.Success != 1 || checkoutStats.Codes[codeTransportErr] != 1 {
		t.Fatalf("unexpected checkout stats: %+v", checkoutStats)
	}
}

func TestUtilityFunctions(t *testing.T) {
	for code, want := range map[string]bool{"200": true, "201": true, "302": false, "409": false, codeTransportErr: false} {
		if got := isSuccessCode(code); got != want {
			t.Fatalf("isSuccessCode(%q) = %v, want %v", code, got, want)
		}
	}

	if got := ratio(1, 4); got != 0.25 {
		t.Fatalf("ratio mismatch: %f", got)
	}
	if got := ratio(1, 0); got != 0 {
		t.Fatalf("ratio with zero total must be 0, got %f", got)
	}

	values := []float64{10, 20, 30, 40}
	summary := buildLatencySummary(values)
	if summary.P50 <= 0 || summary.P95 <= 0 || summary.Max != 40 || summary.Min != 10 {
		t.Fatalf("unexpected latency summary: %+v", summary)
	}
	if got := percentile(values, 50); got != 25 {
		t.Fatalf("unexpected median: %f", got)
	}

	if !shouldCancelScenario(5, 10) || shouldCancelScenario(15, 10) || shouldCancelScenario(1, 0) || !shouldCancelScenario(99, 100) {
		t.Fatal("unexpected cancel sampling")
	}

	if got := runTarget(config{total: 50}); got != "count:50" {
		t.Fatalf("unexpected run target: %s", got)
	}
	if got := runTarget(config{duration: 2 * time.Second}); got != "duration:2s" {
		t.Fatalf("unexpected duration run target: %s", got)
	}
	if got := runTarget(config{duration: 2 * time.Second, total: 10, totalSet: true}); got != "duration:2s,max-total:10" {
		t.Fatalf("unexpected capped duration run target: %s", got)
	}
}

func TestWriteJSONReport(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.json")

	sample := report{TotalScenarios: 2, SuccessScenarios: 2}
	if err := writeJSONReport(path, sample); err != nil {
		t.Fatalf("writeJSONReport error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}

	var decoded report
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if decoded.TotalScenarios != 2 || decoded.SuccessScenarios != 2 {
		t.Fatalf("unexpected decoded report: %+v", decoded)
	}

	if err := writeJSONReport("../escape.json", sample); err == nil {
		t.Fatal("expected error for path outside current directory")
	}
	if err := writeJSONReport(".", sample); err == nil {
		t.Fatal("expected error for directory path")
	}
}

func TestRunScenario_AgainstAPI(t *testing.T) {
	server, store, product := newStorefront(t, 10)
	client := newAPIClient(server.URL, server.Client())
	base := config{timeout: time.Second, productID: product.ID, qty: 1, users: 3, userBase: 100, adminID: 1}

	t.Run("checkout", func(t *testing.T) {
		c := newCollector()
		cfg := base
		cfg.mode = modeCheckout
		if err := runScenario(client, cfg, 0, "run", c); err != nil {
			t.Fatalf("runScenario failed: %v", err)
		}
		r := c.buildReport(time.Now(), time.Second)
		if r.Methods["Checkout"].Codes["201"] != 1 || r.SuccessScenarios != 1 {
			t.Fatalf("unexpected report: %+v", r)
		}
	})

	t.Run("checkout-cancel restocks", func(t *testing.T) {
		c := newCollector()
		cfg := base
		cfg.mode = modeCheckoutCancel
		before, _ := store.Product(product.ID)
		if err := runScenario(client, cfg, 1, "run", c); err != nil {
			t.Fatalf("runScenario failed: %v", err)
		}
		after, _ := store.Product(product.ID)
		if after.Stock != before.Stock {
			t.Fatalf("expected stock to be restored, before=%d after=%d", before.Stock, after.Stock)
		}
		if c.buildReport(time.Now(), time.Second).Methods["Cancel"].Success != 1 {
			t.Fatal("expected successful cancel call")
		}
	})

	t.Run("checkout-pay", func(t *testing.T) {
		c := newCollector()
		cfg := base
		cfg.mode = modeCheckoutPay
		if err := runScenario(client, cfg, 2, "run", c); err != nil {
			t.Fatalf("runScenario failed: %v", err)
		}
		if c.buildReport(time.Now(), time.Second).Methods["AdminPay"].Success != 1 {
			t.Fatal("expected successful admin pay call")
		}
	})

	t.Run("out of stock is a failed scenario", func(t *testing.T) {
		c := newCollector()
		cfg := base
		cfg.mode = modeCheckout
		cfg.qty = 1000
		if err := runScenario(client, cfg, 3, "run", c); err == nil {
			t.Fatal("expected checkout failure")
		}
		r := c.buildReport(time.Now(), time.Second)
		if r.FailedScenarios != 1 || r.Methods["Checkout"].Codes["409"] != 1 {
			t.Fatalf("unexpected report: %+v", r)
		}
	})
}

func TestAPIClient_TransportError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	c := newCollector()
	_, code, err := timed(c, "Checkout", time.Second, func(ctx context.Context) (int64, int, error) {
		return newAPIClient(url, nil).checkout(ctx, 1, 1, 1, "k")
	})
	if err == nil || code != codeTransportErr {
		t.Fatalf("expected transport error, got code=%s err=%v", code, err)
	}
}

func TestExecute_CountModeAgainstAPI(t *testing.T) {
	server, store, product := newStorefront(t, 100)
	cfg := config{
		baseURL:     server.URL,
		total:       20,
		concurrency: 4,
		timeout:     time.Second,
		mode:        modeCheckout,
		productID:   product.ID,
		qty:         2,
		users:       5,
		userBase:    500,
		adminID:     1,
	}

	result := execute(newAPIClient(server.URL, server.Client()), cfg)
	if result.TotalScenarios != 20 || result.FailedScenarios != 0 {
		t.Fatalf("unexpected report: %+v", result)
	}
	if after, _ := store.Product(product.ID); after.Stock != 60 {
		t.Fatalf("expected 40 units sold, stock=%d", after.Stock)
	}

	var out bytes.Buffer
	printReport(&out, result, cfg)
	text := out.String()
	for _, want := range []string{"Load test summary", "mode=checkout run=count:20", "Checkout: calls=20"} {
		if !strings.Contains(text, want) {
			t.Fatalf("report output %q does not contain %q", text, want)
		}
	}
}
