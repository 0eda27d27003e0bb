package computedfield

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/l0p7/pluginrt/internal/plugins/plugintest"
)

const (
	fieldPath      = "/v1/computed_fields/cf-1"
	propertiesPath = fieldPath + "/properties"

	counter = `{"count": has(state.count) ? state.count + 1.0 : 1.0, "last": input.value}`
)

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

func newGateway(t *testing.T, props ...map[string]any) *plugintest.Gateway {
	t.Helper()
	if props == nil {
		props = []map[string]any{}
	}
	gw := plugintest.NewGateway(t)
	gw.Handle(http.MethodGet, fieldPath, plugintest.OK(map[string]any{"id": "cf-1", "name": "visits"}))
	gw.Handle(http.MethodGet, propertiesPath, plugintest.OK(props))
	return gw
}

func TestUpdates(t *testing.T) {
	tests := map[string]struct {
		path       string
		update     string
		body       map[string]any
		wantStatus int
		wantBody   map[string]any
	}{
		"single folds one record": {
			path:       PathUpdateSingle,
			update:     counter,
			body:       map[string]any{"computed_field_id": "cf-1", "state": map[string]any{"count": 2}, "data": map[string]any{"value": "x"}},
			wantStatus: http.StatusOK,
			wantBody:   map[string]any{"status": "ok", "state": map[string]any{"count": 3, "last": "x"}},
		},
		"batch folds records in order": {
			path:       PathUpdateBatch,
			update:     counter,
			body:       map[string]any{"computed_field_id": "cf-1", "data": []any{map[string]any{"value": "a"}, map[string]any{"value": "b"}}},
			wantStatus: http.StatusOK,
			wantBody:   map[string]any{"status": "ok", "state": map[string]any{"count": 2, "last": "b"}},
		},
		"empty batch keeps state": {
			path:       PathUpdateBatch,
			update:     counter,
			body:       map[string]any{"computed_field_id": "cf-1", "state": map[string]any{"count": 5}, "data": []any{}},
			wantStatus: http.StatusOK,
			wantBody:   map[string]any{"status": "ok", "state": map[string]any{"count": 5}},
		},
		"non map state is an error status": {
			path:       PathUpdateSingle,
			update:     `state.size()`,
			body:       map[string]any{"computed_field_id": "cf-1", "state": map[string]any{"count": 1}, "data": map[string]any{}},
			wantStatus: http.StatusInternalServerError,
			wantBody: map[string]any{
				"status":  "error",
				"message": "update_expression yielded float64, want a map",
				"state":   map[string]any{"count": 1},
			},
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			gw := newGateway(t, plugintest.StringProperty(PropertyUpdateExpression, tc.update))
			deps, _ := plugintest.Deps(t, gw)
			e := plugintest.Expect(t, New(deps, Sample{}))

			e.POST(tc.path).
				WithJSON(tc.body).
				Expect().
				Status(tc.wantStatus).
				JSON().Object().IsEqual(tc.wantBody)
		})
	}
}

func TestMissingUpdateExpression(t *testing.T) {
	deps, _ := plugintest.Deps(t, newGateway(t))
	e := plugintest.Expect(t, New(deps, Sample{}))

	e.POST(PathUpdateSingle).
		WithJSON(map[string]any{"computed_field_id": "cf-1", "data": map[string]any{}}).
		Expect().
		Status(http.StatusInternalServerError).
		JSON().Object().
		HasValue("status", "error").
		HasValue("message", "update_expression is not set")
}

func TestBuildResult(t *testing.T) {
	tests := map[string]struct {
		props      []map[string]any
		wantResult any
	}{
		"state when unset": {
			wantResult: map[string]any{"count": 3},
		},
		"cel expression": {
			props:      []map[string]any{plugintest.StringProperty(PropertyResultExpression, `state.count * 2.0`)},
			wantResult: 6,
		},
		"template expression": {
			props:      []map[string]any{plugintest.StringProperty(PropertyResultExpression, `{{ .state.count }} visits`)},
			wantResult: "3 visits",
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			deps, _ := plugintest.Deps(t, newGateway(t, tc.props...))
			e := plugintest.Expect(t, New(deps, Sample{}))

			want := map[string]any{"status": "ok", "result": tc.wantResult}
			e.POST(PathBuildResult).
				WithJSON(map[string]any{"computed_field_id": "cf-1", "state": map[string]any{"count": 3}}).
				Expect().
				Status(http.StatusOK).
				JSON().Object().IsEqual(want)
		})
	}
}

func TestBrokenExpressionFailsContextBuild(t *testing.T) {
	gw := newGateway(t, plugintest.StringProperty(PropertyResultExpression, `state.count +`))
	deps, _ := plugintest.Deps(t, gw)
	e := plugintest.Expect(t, New(deps, Sample{}))

	obj := e.POST(PathBuildResult).
		WithJSON(map[string]any{"computed_field_id": "cf-1"}).
		Expect().
		Status(http.StatusInternalServerError).
		JSON().Object()
	obj.HasValue("code", 1005)
	obj.Value("error").String().Contains("result_expression")
}
