// Package plugintest provides a scripted gateway and route harness for plugin
// kind tests.
package plugintest

import (
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"

	"github.com/gavv/httpexpect/v2"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/l0p7/pluginrt/internal/config"
	"github.com/l0p7/pluginrt/internal/credentials"
	"github.com/l0p7/pluginrt/internal/gateway"
	"github.com/l0p7/pluginrt/internal/plugins"
	"github.com/l0p7/pluginrt/internal/runtime/pipeline"
)

// Response is one scripted gateway reply.
type Response struct {
	Status int
	Body   any
}

// OK wraps data in the gateway's {"status":"ok","data":...} envelope.
func OK(data any) Response {
	return Response{Status: http.StatusOK, Body: map[string]any{"status": "ok", "data": data}}
}

// Fail is an error reply with the gateway's error document.
func Fail(status int, message string) Response {
	return Response{Status: status, Body: map[string]any{"status": "error", "error": message}}
}

// Property renders one property document.
func Property(name, propertyType string, value any) map[string]any {
	return map[string]any{
		"technical_name": name,
		"origin":         "INSTANCE",
		"writable":       true,
		"deletable":      false,
		"property_type":  propertyType,
		"value":          value,
	}
}

// StringProperty renders a STRING property document.
func StringProperty(name, value string) map[string]any {
	return Property(name, "STRING", map[string]any{"value": value})
}

// Gateway is an httptest server replaying scripted responses per path. The
// last response for a path repeats once the script is exhausted; unknown paths
// answer 404.
type Gateway struct {
	Server *httptest.Server

	mu      sync.Mutex
	scripts map[string][]Response
	calls   map[string]int
	auth    []string
}

// NewGateway starts a scripted gateway closed with the test.
func NewGateway(t *testing.T) *Gateway {
	t.Helper()
	g := &Gateway{scripts: map[string][]Response{}, calls: map[string]int{}}
	g.Server = httptest.NewServer(http.HandlerFunc(g.serve))
	t.Cleanup(g.Server.Close)
	return g
}

// Handle scripts the replies for method and path.
func (g *Gateway) Handle(method, path string, responses ...Response) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scripts[method+" "+path] = append([]Response(nil), responses...)
}

// Calls counts requests received for method and path.
func (g *Gateway) Calls(method, path string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[method+" "+path]
}

// TotalCalls counts every request received.
func (g *Gateway) TotalCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	total := 0
	for _, n := range g.calls {
		total += n
	}
	return total
}

// BasicAuthUsers lists the basic auth user of every request, in order.
func (g *Gateway) BasicAuthUsers() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.auth...)
}

func (g *Gateway) serve(w http.ResponseWriter, r *http.Request) {
	key := r.Method + " " + r.URL.Path
	user, _, _ := r.BasicAuth()

	g.mu.Lock()
	g.calls[key]++
	g.auth = append(g.auth, user)
	script := g.scripts[key]
	var resp Response
	found := len(script) > 0
	if found {
		resp = script[0]
		if len(script) > 1 {
			g.scripts[key] = script[1:]
		}
	}
	g.mu.Unlock()

	if !found {
		resp = Fail(http.StatusNotFound, "no route "+key)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	_ = json.NewEncoder(w).Encode(resp.Body)
}

// Client returns a gateway client aimed at g with immediate retries.
func (g *Gateway) Client(t *testing.T, creds gateway.CredentialSource) *gateway.Client {
	t.Helper()
	parsed, err := url.Parse(g.Server.URL)
	require.NoError(t, err)
	host, portText, err := net.SplitHostPort(parsed.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portText)
	require.NoError(t, err)
	cfg := config.GatewayConfig{
		Scheme:         "http",
		Host:           host,
		Port:           port,
		TimeoutSeconds: 5,
		MaxRetries:     3,
	}
	return gateway.New(cfg, creds, gateway.Options{HTTPClient: g.Server.Client(), Logger: Logger()})
}

// Logger discards output.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Deps returns plugin dependencies against g with an initialized credential
// store.
func Deps(t *testing.T, g *Gateway) (plugins.Deps, *credentials.Store) {
	t.Helper()
	store := credentials.NewStore()
	store.Initialize("worker-1", "token-1")
	return plugins.Deps{
		Gateway:   g.Client(t, store),
		Readiness: store,
		Cache:     config.CacheConfig{TTLSeconds: 60},
		Logger:    Logger(),
	}, store
}

// Expect serves p behind the correlation-aware router used in production and
// returns an httpexpect client for it.
func Expect(t *testing.T, p plugins.Plugin) *httpexpect.Expect {
	t.Helper()
	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(pipeline.WithCorrelationID(r.Context(), "test")))
		})
	})
	p.Register(router)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return httpexpect.WithConfig(httpexpect.Config{
		BaseURL:  server.URL,
		Reporter: httpexpect.NewRequireReporter(t),
		Client:   server.Client(),
	})
}
