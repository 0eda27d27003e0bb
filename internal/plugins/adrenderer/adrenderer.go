// Package adrenderer serves the display ad renderer kind.
package adrenderer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-chi/chi/v5"

	"github.com/l0p7/pluginrt/internal/gateway"
	"github.com/l0p7/pluginrt/internal/plugins"
	"github.com/l0p7/pluginrt/internal/runtime/pipeline"
	"github.com/l0p7/pluginrt/internal/templates"
)

// Name is the plugin.kind value selecting this kind.
const Name = "ad_renderer"

const (
	PathAdContents = "/v1/ad_contents"

	// HeaderDisplayContext carries renderer metadata back to the platform.
	HeaderDisplayContext = "x-mics-display-context"

	PropertyTemplate     = "template"
	PropertyTemplatePath = "template_path"

	defaultContentType = "text/html; charset=utf-8"
)

// Handler renders one ad for a resolved creative.
type Handler interface {
	Render(ctx context.Context, req Request, inst *Instance) (Result, error)
}

type kind struct {
	gw        *gateway.Client
	templates *templates.Renderer
}

func (kind) Name() string { return Name }

// BuildContext loads the creative with its renderer properties and compiles
// its template.
func (k kind) BuildContext(ctx context.Context, creativeID string) (*Instance, error) {
	if k.gw == nil {
		return nil, errors.New("adrenderer: gateway client not configured")
	}
	creative, err := plugins.FetchEntity[Creative](ctx, k.gw, plugins.ResourcePath("creatives", creativeID))
	if err != nil {
		return nil, err
	}
	props, err := plugins.FetchProperties(ctx, k.gw, plugins.ResourcePath("creatives", creativeID, "renderer_properties"))
	if err != nil {
		return nil, err
	}
	inst := &Instance{Creative: creative, Properties: props}
	if source, ok := props.String(PropertyTemplate); ok {
		inst.Template, err = k.templates.CompileInline("creative-"+creativeID, source)
	} else if path, ok := props.String(PropertyTemplatePath); ok {
		inst.Template, err = k.templates.CompileFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("adrenderer: creative %s: %w", creativeID, err)
	}
	return inst, nil
}

// Plugin mounts the ad renderer route.
type Plugin struct {
	plugins.Base[*Instance]
	handler Handler
}

// New wires handler behind the shared pipeline.
func New(deps plugins.Deps, handler Handler) *Plugin {
	k := kind{gw: deps.Gateway, templates: deps.Renderer()}
	return &Plugin{
		Base:    plugins.Base[*Instance]{Dispatcher: plugins.NewDispatcher[*Instance](k, deps)},
		handler: handler,
	}
}

// Register mounts POST /v1/ad_contents.
func (p *Plugin) Register(r chi.Router) {
	plugins.Post(r, p.Dispatcher, pipeline.Route[Request, *Instance]{
		Path:        PathAdContents,
		ResourceID:  func(req Request) string { return req.CreativeID },
		ForceReload: func(req Request) bool { return plugins.ForceReload(req.Context) },
		Handle:      p.render,
	})
}

func (p *Plugin) render(ctx context.Context, req Request, inst *Instance) (pipeline.Outcome, error) {
	res, err := p.handler.Render(ctx, req, inst)
	if err != nil {
		return pipeline.Outcome{}, err
	}
	status := res.Status
	if status == "" {
		status = RenderOK
	}
	if status != RenderOK {
		return pipeline.JSON(RenderStatuses.Code(status), errorBody{Status: status, Message: res.Message}), nil
	}
	contentType := res.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}
	outcome := pipeline.Rendered(RenderStatuses.Code(status), contentType, []byte(res.Content))
	if len(res.DisplayContext) > 0 {
		encoded, err := json.Marshal(res.DisplayContext)
		if err != nil {
			return pipeline.Outcome{}, fmt.Errorf("adrenderer: encode display context: %w", err)
		}
		outcome = outcome.WithHeader(HeaderDisplayContext, string(encoded))
	}
	return outcome, nil
}
