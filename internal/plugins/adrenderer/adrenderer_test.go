package adrenderer

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/l0p7/pluginrt/internal/plugins/plugintest"
	"github.com/l0p7/pluginrt/internal/templates"
)

const (
	creativePath   = "/v1/creatives/cr-1"
	propertiesPath = creativePath + "/renderer_properties"
)

type handlerFunc func(ctx context.Context, req Request, inst *Instance) (Result, error)

func (f handlerFunc) Render(ctx context.Context, req Request, inst *Instance) (Result, error) {
	return f(ctx, req, inst)
}

func scriptCreative(gw *plugintest.Gateway, props ...map[string]any) {
	if props == nil {
		props = []map[string]any{}
	}
	gw.Handle(http.MethodGet, creativePath, plugintest.OK(map[string]any{"id": "cr-1", "name": "Spring sale", "format": "300x250"}))
	gw.Handle(http.MethodGet, propertiesPath, plugintest.OK(props))
}

func TestRenderStatusTable(t *testing.T) {
	require.Equal(t, []RenderStatus{RenderError, RenderOK}, RenderStatuses.Statuses())
	require.Equal(t, http.StatusOK, RenderStatuses.Code(RenderOK))
	require.Equal(t, http.StatusInternalServerError, RenderStatuses.Code(RenderError))
	require.Equal(t, http.StatusInternalServerError, RenderStatuses.Code("partial"))
}

func TestAdContentsRendersTemplate(t *testing.T) {
	gw := plugintest.NewGateway(t)
	scriptCreative(gw, plugintest.StringProperty(PropertyTemplate, `<a href="{{ .ClickURL }}">{{ .Creative.Name | upper }}</a>`))
	deps, _ := plugintest.Deps(t, gw)
	e := plugintest.Expect(t, New(deps, Sample{}))

	resp := e.POST(PathAdContents).
		WithJSON(map[string]any{
			"call_id":     "call-1",
			"context":     "LIVE",
			"creative_id": "cr-1",
			"click_urls":  []string{"https://track.example/c?r="},
			"destination": "https://shop.example/",
		}).
		Expect().
		Status(http.StatusOK)
	resp.Header("Content-Type").IsEqual("text/html; charset=utf-8")
	resp.Header(HeaderDisplayContext).IsEqual(`{"call_id":"call-1","creative_id":"cr-1"}`)
	resp.Body().IsEqual(`<a href="https://track.example/c?r=https%3A%2F%2Fshop.example%2F">SPRING SALE</a>`)
}

func TestAdContentsForceReload(t *testing.T) {
	tests := map[string]struct {
		callContext string
		wantBuilds  int
	}{
		"live reuses context":     {callContext: "LIVE", wantBuilds: 1},
		"preview rebuilds":        {callContext: "PREVIEW", wantBuilds: 2},
		"stage rebuilds":          {callContext: "STAGE", wantBuilds: 2},
		"lower case stage counts": {callContext: "stage", wantBuilds: 2},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			gw := plugintest.NewGateway(t)
			scriptCreative(gw, plugintest.Property(PropertyTag, "PIXEL_TAG", map[string]any{"value": "<div/>"}))
			deps, _ := plugintest.Deps(t, gw)
			e := plugintest.Expect(t, New(deps, Sample{}))

			for i := 0; i < 2; i++ {
				e.POST(PathAdContents).
					WithJSON(map[string]any{"creative_id": "cr-1", "context": tc.callContext}).
					Expect().
					Status(http.StatusOK).
					Body().IsEqual("<div/>")
			}
			require.Equal(t, tc.wantBuilds, gw.Calls(http.MethodGet, creativePath))
		})
	}
}

func TestAdContentsFailures(t *testing.T) {
	tests := map[string]struct {
		props      []map[string]any
		handler    Handler
		wantStatus int
		wantCode   string
		wantStack  bool
	}{
		"missing template is a render error": {
			handler:    Sample{},
			wantStatus: http.StatusInternalServerError,
		},
		"invalid template fails context build": {
			props:      []map[string]any{plugintest.StringProperty(PropertyTemplate, "{{ .Broken ")},
			handler:    Sample{},
			wantStatus: http.StatusInternalServerError,
			wantCode:   "RUNTIME_1005",
		},
		"template path without sandbox fails context build": {
			props:      []map[string]any{plugintest.StringProperty(PropertyTemplatePath, "ad.tmpl")},
			handler:    Sample{},
			wantStatus: http.StatusInternalServerError,
			wantCode:   "RUNTIME_1005",
		},
		"handler error carries stack": {
			handler: handlerFunc(func(context.Context, Request, *Instance) (Result, error) {
				return Result{}, errors.New("layout unavailable")
			}),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "RUNTIME_1006",
			wantStack:  true,
		},
		"handler panic carries stack": {
			handler: handlerFunc(func(context.Context, Request, *Instance) (Result, error) {
				panic("nil creative data")
			}),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "RUNTIME_1006",
			wantStack:  true,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			gw := plugintest.NewGateway(t)
			scriptCreative(gw, tc.props...)
			deps, _ := plugintest.Deps(t, gw)
			e := plugintest.Expect(t, New(deps, tc.handler))

			obj := e.POST(PathAdContents).
				WithJSON(map[string]any{"creative_id": "cr-1"}).
				Expect().
				Status(tc.wantStatus).
				JSON().Object()
			if tc.wantCode == "" {
				obj.Value("status").String().IsEqual("error")
				return
			}
			obj.Value("code").String().IsEqual(tc.wantCode)
			if tc.wantStack {
				obj.Value("stack").String().Contains("goroutine")
			} else {
				obj.NotContainsKey("stack")
			}
		})
	}
}

func TestTemplatePathResolvesThroughSandbox(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "ad.tmpl"), []byte(`<p>{{ .Request.CallID }}</p>`), 0o600))
	sandbox, err := templates.NewSandbox(root)
	require.NoError(t, err)

	gw := plugintest.NewGateway(t)
	scriptCreative(gw, plugintest.StringProperty(PropertyTemplatePath, "ad.tmpl"))
	deps, _ := plugintest.Deps(t, gw)
	deps.Templates = templates.NewRenderer(sandbox)
	e := plugintest.Expect(t, New(deps, Sample{}))

	e.POST(PathAdContents).
		WithJSON(map[string]any{"creative_id": "cr-1", "call_id": "call-7"}).
		Expect().
		Status(http.StatusOK).
		Body().IsEqual("<p>call-7</p>")
}

func TestSampleAppendsTrackingPixel(t *testing.T) {
	gw := plugintest.NewGateway(t)
	scriptCreative(gw, plugintest.Property(PropertyTag, "PIXEL_TAG", map[string]any{"value": "<div/>"}))
	deps, _ := plugintest.Deps(t, gw)
	e := plugintest.Expect(t, New(deps, Sample{}))

	e.POST(PathAdContents).
		WithJSON(map[string]any{"creative_id": "cr-1", "display_tracking_url": "https://pixel.example/?a=1&b=2"}).
		Expect().
		Status(http.StatusOK).
		Body().IsEqual(`<div/><img src="https://pixel.example/?a=1&amp;b=2" width="1" height="1" style="display:none"/>`)
}
