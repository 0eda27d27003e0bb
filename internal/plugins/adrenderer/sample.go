package adrenderer

import (
	"context"
	"fmt"
	"html"

	"github.com/l0p7/pluginrt/internal/plugins"
)

// PropertyTag is a PIXEL_TAG property served verbatim when a creative has no
// template.
const PropertyTag = "tag"

// RenderData is what creative templates are executed against.
type RenderData struct {
	Request    Request
	Creative   Creative
	Properties map[string]any
	ClickURL   string
}

// Sample renders the creative template, or its tag property, and appends the
// display tracking pixel.
type Sample struct{}

var _ Handler = Sample{}

func (Sample) Render(_ context.Context, req Request, inst *Instance) (Result, error) {
	clickURL := plugins.ChainClickURLs(req.ClickURLs, req.Destination)
	var content string
	switch {
	case inst.Template != nil:
		rendered, err := inst.Template.Render(RenderData{
			Request:    req,
			Creative:   inst.Creative,
			Properties: inst.Properties.Values(),
			ClickURL:   clickURL,
		})
		if err != nil {
			return Result{}, err
		}
		content = rendered
	default:
		tag, ok := inst.Properties.PixelTag(PropertyTag)
		if !ok {
			return Result{Status: RenderError, Message: fmt.Sprintf("creative %s has no template", inst.Creative.ID)}, nil
		}
		content = tag
	}
	if req.DisplayTrackingURL != "" {
		content += fmt.Sprintf(`<img src="%s" width="1" height="1" style="display:none"/>`, html.EscapeString(req.DisplayTrackingURL))
	}
	return Result{
		Content: content,
		DisplayContext: map[string]any{
			"creative_id": inst.Creative.ID,
			"call_id":     req.CallID,
		},
	}, nil
}
