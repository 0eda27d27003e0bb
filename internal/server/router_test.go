package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gavv/httpexpect/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/l0p7/pluginrt/internal/runtime/pipeline"
)

type rejectingGate struct {
	allowed map[string]bool
}

func (g rejectingGate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.allowed[r.URL.Path] {
			pipeline.WriteFailure(w, pipeline.Busy())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func newExpect(t *testing.T, handler http.Handler) *httpexpect.Expect {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return httpexpect.WithConfig(httpexpect.Config{
		BaseURL:  server.URL,
		Reporter: httpexpect.NewRequireReporter(t),
		Client:   server.Client(),
	})
}

func TestRouterPropagatesCorrelationID(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	handler := NewRouter(RouterOptions{
		Logger:            newTestLogger(),
		CorrelationHeader: "X-Request-ID",
		Registrars: []Registrar{RegistrarFunc(func(r chi.Router) {
			r.Get("/v1/status", func(w http.ResponseWriter, req *http.Request) {
				mu.Lock()
				seen = append(seen, pipeline.CorrelationID(req.Context()))
				mu.Unlock()
				w.WriteHeader(http.StatusOK)
			})
		})},
	})
	expect := newExpect(t, handler)

	expect.GET("/v1/status").WithHeader("X-Request-ID", "corr-42").Expect().
		Status(http.StatusOK).
		Header("X-Request-ID").IsEqual("corr-42")

	minted := expect.GET("/v1/status").Expect().Status(http.StatusOK).Header("X-Request-ID").Raw()
	_, err := uuid.Parse(minted)
	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"corr-42", minted}, seen)
}

func TestRouterAppliesGateAndMountsMetrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# HELP pluginrt_up\n"))
	})
	handler := NewRouter(RouterOptions{
		Logger:  newTestLogger(),
		Gate:    rejectingGate{allowed: map[string]bool{MetricsPath: true}},
		Metrics: metrics,
		Registrars: []Registrar{RegistrarFunc(func(r chi.Router) {
			r.Post("/v1/recommendations", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
		})},
	})
	expect := newExpect(t, handler)

	expect.GET(MetricsPath).Expect().Status(http.StatusOK).Body().Contains("pluginrt_up")
	expect.POST("/v1/recommendations").WithText("{}").Expect().
		Status(http.StatusTooManyRequests).
		JSON().Object().HasValue("code", pipeline.CodeBusy)
}

func TestRouterRecoversPanics(t *testing.T) {
	handler := NewRouter(RouterOptions{
		Logger: newTestLogger(),
		Registrars: []Registrar{RegistrarFunc(func(r chi.Router) {
			r.Get("/v1/metadata", func(http.ResponseWriter, *http.Request) {
				panic("metadata unavailable")
			})
		})},
	})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/metadata", nil).WithContext(context.Background()))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Contains(t, rr.Body.String(), pipeline.CodeHandler)
	require.Contains(t, rr.Body.String(), "metadata unavailable")
}

func TestRouterUnknownRoutes(t *testing.T) {
	handler := NewRouter(RouterOptions{
		Logger: newTestLogger(),
		Registrars: []Registrar{nil, RegistrarFunc(func(r chi.Router) {
			r.Post("/v1/bid_decisions", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
		})},
	})
	expect := newExpect(t, handler)

	expect.GET("/v1/unknown").Expect().Status(http.StatusNotFound).JSON().Object().ContainsKey("error")
	expect.GET("/v1/bid_decisions").Expect().Status(http.StatusMethodNotAllowed).JSON().Object().ContainsKey("error")
}
