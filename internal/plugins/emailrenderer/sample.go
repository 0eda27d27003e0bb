package emailrenderer

import (
	"context"
	"fmt"
	"html"

	"github.com/l0p7/pluginrt/internal/plugins"
	"github.com/l0p7/pluginrt/internal/templates"
)

// RenderData is what e-mail templates are executed against.
type RenderData struct {
	Request    Request
	Properties map[string]any
	User       map[string]any
	ClickURL   string
}

// Sample renders the renderer's templates and appends the open tracking
// pixel to the HTML part.
type Sample struct{}

var _ Handler = Sample{}

func (Sample) Render(_ context.Context, req Request, inst *Instance) (Result, error) {
	if inst.Templates.HTML == nil && inst.Templates.Text == nil {
		return Result{Status: RenderError, Message: fmt.Sprintf("email renderer %s has no body template", inst.Renderer.ID)}, nil
	}
	data := RenderData{
		Request:    req,
		Properties: inst.Properties.Values(),
		User:       req.UserDataBag,
		ClickURL:   plugins.ChainClickURLs(req.ClickURLs, ""),
	}

	meta := req.Meta
	subject, err := renderOptional(inst.Templates.Subject, data)
	if err != nil {
		return Result{}, err
	}
	if subject != "" {
		meta.SubjectLine = subject
	}
	htmlPart, err := renderOptional(inst.Templates.HTML, data)
	if err != nil {
		return Result{}, err
	}
	if htmlPart != "" && req.EmailTrackingURL != "" {
		htmlPart += fmt.Sprintf(`<img src="%s" width="1" height="1" alt=""/>`, html.EscapeString(req.EmailTrackingURL))
	}
	textPart, err := renderOptional(inst.Templates.Text, data)
	if err != nil {
		return Result{}, err
	}
	return Result{Meta: meta, HTML: htmlPart, Text: textPart}, nil
}

func renderOptional(tmpl *templates.Template, data RenderData) (string, error) {
	if tmpl == nil {
		return "", nil
	}
	return tmpl.Render(data)
}
