package bidoptimizer

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/l0p7/pluginrt/internal/plugins/plugintest"
)

const (
	optimizerPath  = "/v1/bid_optimizers/bo-1"
	propertiesPath = optimizerPath + "/properties"
)

type handlerFunc func(context.Context, Request, *Instance) (Result, error)

func (f handlerFunc) Decide(ctx context.Context, req Request, inst *Instance) (Result, error) {
	return f(ctx, req, inst)
}

func double(name string, value float64) map[string]any {
	return plugintest.Property(name, "DOUBLE", map[string]any{"value": value})
}

func TestStatusTable(t *testing.T) {
	want := map[Status]int{
		StatusOK:    http.StatusOK,
		StatusError: http.StatusInternalServerError,
	}
	require.Len(t, Statuses.Statuses(), len(want))
	for status, code := range want {
		require.Equal(t, code, Statuses.Code(status), string(status))
	}
}

func TestBidDecisions(t *testing.T) {
	request := map[string]any{
		"campaign_info": map[string]any{"bid_optimizer_id": "bo-1", "max_bid_price": 2.5, "currency": "EUR"},
		"bid_info": map[string]any{"placements": []any{
			map[string]any{"placement_id": "p-1", "floor_price": 0.5},
			map[string]any{"placement_id": "p-2", "floor_price": 3},
		}},
	}

	tests := map[string]struct {
		props      []map[string]any
		handler    Handler
		body       map[string]any
		wantStatus int
		wantBody   map[string]any
	}{
		"prices placements above floor": {
			props:      []map[string]any{double(PropertyBidPrice, 1.5), double(PropertyMultiplier, 1.2)},
			handler:    Sample{},
			body:       request,
			wantStatus: http.StatusOK,
			wantBody: map[string]any{"status": "ok", "bids": []any{
				map[string]any{"placement_id": "p-1", "bid_price": 1.8, "currency": "EUR"},
			}},
		},
		"caps at max bid price": {
			props:      []map[string]any{double(PropertyBidPrice, 4)},
			handler:    Sample{},
			body:       request,
			wantStatus: http.StatusOK,
			wantBody: map[string]any{"status": "ok", "bids": []any{
				map[string]any{"placement_id": "p-1", "bid_price": 2.5, "currency": "EUR"},
			}},
		},
		"missing price is an error status": {
			handler:    Sample{},
			body:       request,
			wantStatus: http.StatusInternalServerError,
			wantBody:   map[string]any{"status": "error", "message": "bid_price property missing", "bids": []any{}},
		},
		"handler failure": {
			handler: handlerFunc(func(context.Context, Request, *Instance) (Result, error) {
				return Result{}, errors.New("model not loaded")
			}),
			body:       request,
			wantStatus: http.StatusInternalServerError,
			wantBody:   map[string]any{"error": "model not loaded", "code": "RUNTIME_1006"},
		},
		"missing optimizer id": {
			handler:    Sample{},
			body:       map[string]any{"campaign_info": map[string]any{"campaign_id": "c-1"}},
			wantStatus: http.StatusInternalServerError,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			gw := plugintest.NewGateway(t)
			gw.Handle(http.MethodGet, optimizerPath, plugintest.OK(map[string]any{"id": "bo-1"}))
			props := tc.props
			if props == nil {
				props = []map[string]any{}
			}
			gw.Handle(http.MethodGet, propertiesPath, plugintest.OK(props))
			deps, _ := plugintest.Deps(t, gw)
			e := plugintest.Expect(t, New(deps, tc.handler))

			obj := e.POST(PathBidDecisions).WithJSON(tc.body).Expect().Status(tc.wantStatus).JSON().Object()
			if tc.wantBody == nil {
				obj.Value("code").String().IsEqual("RUNTIME_1004")
				require.Zero(t, gw.TotalCalls())
				return
			}
			obj.IsEqual(tc.wantBody)
		})
	}
}
