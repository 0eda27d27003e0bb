package adrenderer

import (
	"encoding/json"
	"net/http"

	"github.com/l0p7/pluginrt/internal/properties"
	"github.com/l0p7/pluginrt/internal/runtime/pipeline"
	"github.com/l0p7/pluginrt/internal/templates"
)

// RenderStatus is the outcome of rendering one ad.
type RenderStatus string

const (
	RenderOK    RenderStatus = "ok"
	RenderError RenderStatus = "error"
)

var RenderStatuses = pipeline.NewStatusTable(Name, map[RenderStatus]int{
	RenderOK:    http.StatusOK,
	RenderError: http.StatusInternalServerError,
}, http.StatusInternalServerError)

// Creative is the display creative being rendered.
type Creative struct {
	ID               string `json:"id"`
	OrganisationID   string `json:"organisation_id"`
	Name             string `json:"name"`
	Format           string `json:"format"`
	RendererPluginID string `json:"renderer_plugin_id"`
	EditorArtifactID string `json:"editor_artifact_id"`
}

// Instance is the cached context of one creative.
type Instance struct {
	Creative   Creative
	Properties properties.Set
	// Template is compiled from the template or template_path property; nil
	// when the creative declares neither.
	Template *templates.Template
}

// Request is one ad call.
type Request struct {
	CallID             string          `json:"call_id"`
	Context            string          `json:"context"`
	CreativeID         string          `json:"creative_id"`
	CampaignID         string          `json:"campaign_id"`
	AdGroupID          string          `json:"ad_group_id"`
	Protocol           string          `json:"protocol"`
	Destination        string          `json:"destination"`
	UserAgentID        string          `json:"user_agent_id"`
	ClickURLs          []string        `json:"click_urls"`
	DisplayTrackingURL string          `json:"display_tracking_url"`
	Restrictions       json.RawMessage `json:"restrictions,omitempty"`
}

// Result is the rendered ad. A zero Status means RenderOK.
type Result struct {
	Status      RenderStatus
	Message     string
	Content     string
	ContentType string
	// DisplayContext is echoed to the platform in the x-mics-display-context
	// header when non-empty.
	DisplayContext map[string]any
}

type errorBody struct {
	Status  RenderStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}
