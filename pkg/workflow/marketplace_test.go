package workflow

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dukex/sellflow/pkg/registry"
	"github.com/dukex/sellflow/pkg/remote"
	"github.com/dukex/sellflow/pkg/stages"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeMarketplace serves the four stage endpoints plus the OTP endpoint. It remembers
// every request body and creates at most one product per idempotency key.
type fakeMarketplace struct {
	server *httptest.Server

	mu        sync.Mutex
	bodies    map[string][]map[string]any
	headers   map[string][]http.Header
	overrides map[string]http.HandlerFunc
	products  map[string]string
}

func newFakeMarketplace(t *testing.T) *fakeMarketplace {
	t.Helper()

	m := &fakeMarketplace{
		bodies:    make(map[string][]map[string]any),
		headers:   make(map[string][]http.Header),
		overrides: make(map[string]http.HandlerFunc),
		products:  make(map[string]string),
	}

	m.server = httptest.NewServer(http.HandlerFunc(m.serve))
	t.Cleanup(m.server.Close)

	return m
}

func (m *fakeMarketplace) endpoints() stages.Endpoints {
	return stages.Endpoints{
		RecognitionURL: m.server.URL + "/recognize",
		PricingURL:     m.server.URL + "/price",
		CreativeURL:    m.server.URL + "/creative",
		PublishURL:     m.server.URL + "/publish",
		PublishOTPURL:  m.server.URL + "/publish/otp",
		Timeout:        5 * time.Second,
	}
}

// on replaces the handler of path.
func (m *fakeMarketplace) on(path string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.overrides[path] = h
}

func (m *fakeMarketplace) calls(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.bodies[path])
}

func (m *fakeMarketplace) body(path string, i int) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.bodies[path][i]
}

func (m *fakeMarketplace) header(path string, i int) http.Header {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.headers[path][i]
}

func (m *fakeMarketplace) productCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.products)
}

func (m *fakeMarketplace) serve(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)

	var body map[string]any
	_ = json.Unmarshal(raw, &body)

	m.mu.Lock()
	m.bodies[r.URL.Path] = append(m.bodies[r.URL.Path], body)
	m.headers[r.URL.Path] = append(m.headers[r.URL.Path], r.Header.Clone())
	override := m.overrides[r.URL.Path]
	m.mu.Unlock()

	if override != nil {
		override(w, r)

		return
	}

	switch r.URL.Path {
	case "/recognize":
		writeJSON(w, http.StatusOK, recognitionOK)
	case "/price":
		writeJSON(w, http.StatusOK, pricingOK)
	case "/creative":
		writeJSON(w, http.StatusOK, creativeOK)
	case "/publish", "/publish/otp":
		writeJSON(w, http.StatusOK, m.publish(r.Header.Get(remote.HeaderIdempotencyKey)))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// publish creates a product once per key; later calls with the same key report a duplicate.
func (m *fakeMarketplace) publish(key string) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.products[key]; ok {
		return map[string]any{"success": true, "duplicate": true, "product_id": id, "status": "moderation"}
	}

	id := "P-" + string(rune('A'+len(m.products)))
	m.products[key] = id

	return map[string]any{"success": true, "product_id": id, "sku": "SKU-" + id, "status": "moderation"}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

var recognitionOK = map[string]any{
	"success": true,
	"product": map[string]any{
		"name":       "Wireless Mouse",
		"brand":      "Logitech",
		"category":   "Electronics",
		"confidence": 92,
	},
}

var pricingOK = map[string]any{
	"success": true,
	"price_optimization": map[string]any{
		"min":           60000,
		"optimal":       86900,
		"max":           99000,
		"net_profit":    21000,
		"is_profitable": true,
	},
	"product_card": map[string]any{
		"title":    "Wireless Mouse",
		"category": "Electronics",
	},
}

var creativeOK = map[string]any{
	"success":      true,
	"image_base64": "aW1hZ2U=",
	"mime_type":    "image/png",
}

type harness struct {
	market   *fakeMarketplace
	registry *registry.Registry
	runner   *Runner
	clock    *clockwork.FakeClock
}

func newHarness(t *testing.T, opts ...RunnerOption) *harness {
	t.Helper()

	market := newFakeMarketplace(t)

	reg := registry.NewRegistry(testLogger())
	require.NoError(t, reg.RegisterAll(stages.Marketplace(market.endpoints())))

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))

	opts = append([]RunnerOption{WithRunnerClock(clock)}, opts...)
	invoker := remote.NewHTTPClientWith(market.server.Client(), testLogger())

	return &harness{
		market:   market,
		registry: reg,
		runner:   NewRunner(reg, invoker, testLogger(), opts...),
		clock:    clock,
	}
}

func (h *harness) manager(opts ...ManagerOption) *Manager {
	opts = append([]ManagerOption{WithManagerClock(h.clock)}, opts...)

	return NewManager(h.registry, h.runner, testLogger(), opts...)
}
