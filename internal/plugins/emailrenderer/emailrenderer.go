// Package emailrenderer serves the e-mail renderer kind.
package emailrenderer

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-chi/chi/v5"

	"github.com/l0p7/pluginrt/internal/gateway"
	"github.com/l0p7/pluginrt/internal/plugins"
	"github.com/l0p7/pluginrt/internal/runtime/pipeline"
	"github.com/l0p7/pluginrt/internal/templates"
)

// Name is the plugin.kind value selecting this kind.
const Name = "email_renderer"

const (
	PathEmailContents = "/v1/email_contents"

	PropertySubjectTemplate = "subject_template"
	PropertyHTMLTemplate    = "html_template"
	PropertyTextTemplate    = "text_template"
)

// Handler renders one e-mail for a resolved renderer.
type Handler interface {
	Render(ctx context.Context, req Request, inst *Instance) (Result, error)
}

type kind struct {
	gw        *gateway.Client
	templates *templates.Renderer
}

func (kind) Name() string { return Name }

// BuildContext loads the renderer and compiles its subject, HTML and text
// templates.
func (k kind) BuildContext(ctx context.Context, id string) (*Instance, error) {
	if k.gw == nil {
		return nil, errors.New("emailrenderer: gateway client not configured")
	}
	renderer, err := plugins.FetchEntity[EmailRenderer](ctx, k.gw, plugins.ResourcePath("email_renderers", id))
	if err != nil {
		return nil, err
	}
	props, err := plugins.FetchProperties(ctx, k.gw, plugins.ResourcePath("email_renderers", id, "properties"))
	if err != nil {
		return nil, err
	}
	inst := &Instance{Renderer: renderer, Properties: props}
	targets := []struct {
		property string
		into     **templates.Template
	}{
		{PropertySubjectTemplate, &inst.Templates.Subject},
		{PropertyHTMLTemplate, &inst.Templates.HTML},
		{PropertyTextTemplate, &inst.Templates.Text},
	}
	for _, target := range targets {
		source, ok := props.String(target.property)
		if !ok {
			continue
		}
		compiled, err := k.templates.CompileInline(id+"-"+target.property, source)
		if err != nil {
			return nil, fmt.Errorf("emailrenderer: renderer %s: %w", id, err)
		}
		*target.into = compiled
	}
	return inst, nil
}

// Plugin mounts the e-mail renderer route.
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

// Register mounts POST /v1/email_contents.
func (p *Plugin) Register(r chi.Router) {
	plugins.Post(r, p.Dispatcher, pipeline.Route[Request, *Instance]{
		Path:        PathEmailContents,
		ResourceID:  func(req Request) string { return req.EmailRendererID },
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
	data := res.Data
	if data == nil {
		data = map[string]any{}
	}
	return pipeline.JSON(RenderStatuses.Code(status), responseBody{
		Meta:    res.Meta,
		Content: content{HTML: res.HTML, Text: res.Text},
		Data:    data,
	}), nil
}
