package emailrenderer

import (
	"encoding/json"
	"net/http"

	"github.com/l0p7/pluginrt/internal/properties"
	"github.com/l0p7/pluginrt/internal/runtime/pipeline"
	"github.com/l0p7/pluginrt/internal/templates"
)

// RenderStatus is the outcome of rendering one e-mail.
type RenderStatus string

const (
	RenderOK    RenderStatus = "ok"
	RenderError RenderStatus = "error"
)

var RenderStatuses = pipeline.NewStatusTable(Name, map[RenderStatus]int{
	RenderOK:    http.StatusOK,
	RenderError: http.StatusInternalServerError,
}, http.StatusInternalServerError)

// EmailRenderer is the renderer resource.
type EmailRenderer struct {
	ID             string `json:"id"`
	OrganisationID string `json:"organisation_id"`
	Name           string `json:"name"`
}

// Templates holds the compiled parts of an e-mail. Any of them may be nil.
type Templates struct {
	Subject *templates.Template
	HTML    *templates.Template
	Text    *templates.Template
}

// Instance is the cached context of one e-mail renderer.
type Instance struct {
	Renderer   EmailRenderer
	Properties properties.Set
	Templates  Templates
}

// Meta addresses the message.
type Meta struct {
	FromEmail   string `json:"from_email"`
	FromName    string `json:"from_name"`
	ToEmail     string `json:"to_email"`
	ToName      string `json:"to_name"`
	ReplyTo     string `json:"reply_to"`
	SubjectLine string `json:"subject_line"`
}

// Request is one e-mail render call.
type Request struct {
	EmailRendererID  string            `json:"email_renderer_id"`
	CallID           string            `json:"call_id"`
	Context          string            `json:"context"`
	CreativeID       string            `json:"creative_id"`
	CampaignID       string            `json:"campaign_id"`
	UserIdentifiers  []json.RawMessage `json:"user_identifiers"`
	UserDataBag      map[string]any    `json:"user_data_bag"`
	ClickURLs        []string          `json:"click_urls"`
	EmailTrackingURL string            `json:"email_tracking_url"`
	Meta             Meta              `json:"meta"`
}

// Result is the rendered e-mail. A zero Status means RenderOK.
type Result struct {
	Status  RenderStatus
	Message string
	Meta    Meta
	HTML    string
	Text    string
	Data    map[string]any
}

type content struct {
	HTML string `json:"html"`
	Text string `json:"text"`
}

type responseBody struct {
	Meta    Meta           `json:"meta"`
	Content content        `json:"content"`
	Data    map[string]any `json:"data"`
}

type errorBody struct {
	Status  RenderStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}
