package emailrenderer

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/l0p7/pluginrt/internal/plugins/plugintest"
)

const (
	rendererPath   = "/v1/email_renderers/er-1"
	propertiesPath = rendererPath + "/properties"
)

func scriptRenderer(gw *plugintest.Gateway, props ...map[string]any) {
	if props == nil {
		props = []map[string]any{}
	}
	gw.Handle(http.MethodGet, rendererPath, plugintest.OK(map[string]any{"id": "er-1", "name": "newsletter"}))
	gw.Handle(http.MethodGet, propertiesPath, plugintest.OK(props))
}

func TestRenderStatusTable(t *testing.T) {
	want := map[RenderStatus]int{
		RenderOK:    http.StatusOK,
		RenderError: http.StatusInternalServerError,
	}
	require.Len(t, RenderStatuses.Statuses(), len(want))
	for status, code := range want {
		require.Equal(t, code, RenderStatuses.Code(status), string(status))
	}
}

func TestEmailContents(t *testing.T) {
	gw := plugintest.NewGateway(t)
	scriptRenderer(gw,
		plugintest.StringProperty(PropertySubjectTemplate, `Hello {{ .User.first_name | title }}`),
		plugintest.StringProperty(PropertyHTMLTemplate, `<p>{{ .Properties.greeting }}</p>`),
		plugintest.StringProperty(PropertyTextTemplate, `{{ .Properties.greeting }}`),
		plugintest.StringProperty("greeting", "Spring is here"),
	)
	deps, _ := plugintest.Deps(t, gw)
	e := plugintest.Expect(t, New(deps, Sample{}))

	want := map[string]any{
		"meta": map[string]any{
			"from_email":   "news@example.com",
			"from_name":    "",
			"to_email":     "ada@example.com",
			"to_name":      "",
			"reply_to":     "",
			"subject_line": "Hello Ada",
		},
		"content": map[string]any{
			"html": `<p>Spring is here</p><img src="https://open.example/p" width="1" height="1" alt=""/>`,
			"text": "Spring is here",
		},
		"data": map[string]any{},
	}

	e.POST(PathEmailContents).
		WithJSON(map[string]any{
			"email_renderer_id":  "er-1",
			"call_id":            "call-1",
			"context":            "LIVE",
			"user_data_bag":      map[string]any{"first_name": "ada"},
			"email_tracking_url": "https://open.example/p",
			"meta":               map[string]any{"from_email": "news@example.com", "to_email": "ada@example.com"},
		}).
		Expect().
		Status(http.StatusOK).
		JSON().Object().IsEqual(want)
}

func TestEmailContentsForceReloadOnPreview(t *testing.T) {
	gw := plugintest.NewGateway(t)
	scriptRenderer(gw, plugintest.StringProperty(PropertyTextTemplate, "hi"))
	deps, _ := plugintest.Deps(t, gw)
	e := plugintest.Expect(t, New(deps, Sample{}))

	for _, callContext := range []string{"LIVE", "LIVE", "PREVIEW"} {
		e.POST(PathEmailContents).
			WithJSON(map[string]any{"email_renderer_id": "er-1", "context": callContext}).
			Expect().
			Status(http.StatusOK)
	}
	require.Equal(t, 2, gw.Calls(http.MethodGet, rendererPath))
}

func TestEmailContentsFailures(t *testing.T) {
	tests := map[string]struct {
		props    []map[string]any
		wantCode string
	}{
		"no body template": {},
		"broken template": {
			props:    []map[string]any{plugintest.StringProperty(PropertyHTMLTemplate, "{{ if }}")},
			wantCode: "RUNTIME_1005",
		},
		"render error": {
			props:    []map[string]any{plugintest.StringProperty(PropertyTextTemplate, `{{ fail "no consent" }}`)},
			wantCode: "RUNTIME_1006",
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			gw := plugintest.NewGateway(t)
			scriptRenderer(gw, tc.props...)
			deps, _ := plugintest.Deps(t, gw)
			e := plugintest.Expect(t, New(deps, Sample{}))

			obj := e.POST(PathEmailContents).
				WithJSON(map[string]any{"email_renderer_id": "er-1"}).
				Expect().
				Status(http.StatusInternalServerError).
				JSON().Object()
			if tc.wantCode == "" {
				obj.Value("status").String().IsEqual("error")
				return
			}
			obj.Value("code").String().IsEqual(tc.wantCode)
		})
	}
}
