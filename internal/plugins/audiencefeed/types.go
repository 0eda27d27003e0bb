package audiencefeed

import (
	"encoding/json"
	"net/http"

	"github.com/l0p7/pluginrt/internal/properties"
	"github.com/l0p7/pluginrt/internal/runtime/pipeline"
)

// Visibility of an externally created segment.
type Visibility string

const (
	VisibilityPublic  Visibility = "PUBLIC"
	VisibilityPrivate Visibility = "PRIVATE"
)

// CreationStatus is the outcome of an external segment creation.
type CreationStatus string

const (
	CreationOK    CreationStatus = "ok"
	CreationError CreationStatus = "error"
)

// ConnectionStatus is the outcome of connecting a segment to its feed.
type ConnectionStatus string

const (
	ConnectionOK       ConnectionStatus = "ok"
	ConnectionNotReady ConnectionStatus = "external_segment_not_ready_yet"
	ConnectionError    ConnectionStatus = "error"
)

// UpdateStatus is the outcome of a single user segment update.
type UpdateStatus string

const (
	UpdateOK                   UpdateStatus = "ok"
	UpdateError                UpdateStatus = "error"
	UpdateRetry                UpdateStatus = "retry"
	UpdateNoEligibleIdentifier UpdateStatus = "no_eligible_identifier"
)

// BatchStatus is the outcome of a batch update. The platform sends these in
// upper case.
type BatchStatus string

const (
	BatchOK    BatchStatus = "OK"
	BatchError BatchStatus = "ERROR"
	BatchRetry BatchStatus = "RETRY"
)

var (
	CreationStatuses = pipeline.NewStatusTable(Name, map[CreationStatus]int{
		CreationOK:    http.StatusOK,
		CreationError: http.StatusInternalServerError,
	}, http.StatusInternalServerError)

	ConnectionStatuses = pipeline.NewStatusTable(Name, map[ConnectionStatus]int{
		ConnectionOK:       http.StatusOK,
		ConnectionNotReady: http.StatusBadGateway,
		ConnectionError:    http.StatusInternalServerError,
	}, http.StatusInternalServerError)

	UpdateStatuses = pipeline.NewStatusTable(Name, map[UpdateStatus]int{
		UpdateOK:                   http.StatusOK,
		UpdateError:                http.StatusInternalServerError,
		UpdateRetry:                http.StatusTooManyRequests,
		UpdateNoEligibleIdentifier: http.StatusBadRequest,
	}, http.StatusInternalServerError)

	BatchStatuses = pipeline.NewStatusTable(Name, map[BatchStatus]int{
		BatchOK:    http.StatusOK,
		BatchError: http.StatusBadRequest,
		BatchRetry: http.StatusServiceUnavailable,
	}, http.StatusInternalServerError)
)

// Feed is the external feed resource.
type Feed struct {
	ID             string `json:"id"`
	PluginID       string `json:"plugin_id"`
	OrganisationID string `json:"organisation_id"`
	GroupID        string `json:"group_id"`
	ArtifactID     string `json:"artifact_id"`
	Status         string `json:"status"`
}

// Instance is the cached context of one feed.
type Instance struct {
	Feed       Feed
	Properties properties.Set
}

// SegmentCreationRequest asks the feed to create the segment on the external
// platform.
type SegmentCreationRequest struct {
	FeedID     string `json:"feed_id"`
	DatamartID string `json:"datamart_id"`
	SegmentID  string `json:"segment_id"`
}

// SegmentCreationResult is the handler's answer to a creation request.
type SegmentCreationResult struct {
	Status     CreationStatus
	Message    string
	Visibility Visibility
}

// SegmentConnectionRequest asks the feed to attach to an existing external
// segment.
type SegmentConnectionRequest struct {
	FeedID     string `json:"feed_id"`
	DatamartID string `json:"datamart_id"`
	SegmentID  string `json:"segment_id"`
}

// SegmentConnectionResult is the handler's answer to a connection request.
type SegmentConnectionResult struct {
	Status  ConnectionStatus
	Message string
}

// UserSegmentUpdateRequest carries one user entering or leaving a segment.
type UserSegmentUpdateRequest struct {
	FeedID          string            `json:"feed_id"`
	SessionID       string            `json:"session_id"`
	DatamartID      string            `json:"datamart_id"`
	SegmentID       string            `json:"segment_id"`
	Operation       string            `json:"operation"`
	UserIdentifiers []json.RawMessage `json:"user_identifiers"`
	UserProfile     json.RawMessage   `json:"user_profile,omitempty"`
}

// UserSegmentUpdateResult is the handler's answer to an update.
type UserSegmentUpdateResult struct {
	Status  UpdateStatus
	Message string
	Data    []json.RawMessage
	// NextMessageDelayMillis paces the caller when positive.
	NextMessageDelayMillis int
}

// BatchContext identifies the feed a batch belongs to.
type BatchContext struct {
	Endpoint    string `json:"endpoint"`
	GroupingKey string `json:"grouping_key"`
	FeedID      string `json:"feed_id"`
	SegmentID   string `json:"segment_id"`
	DatamartID  string `json:"datamart_id"`
}

// BatchUpdateRequest carries items previously grouped by the platform.
type BatchUpdateRequest struct {
	Timestamp    int64             `json:"ts"`
	Context      BatchContext      `json:"context"`
	BatchContent []json.RawMessage `json:"batch_content"`
}

// BatchUpdateResult is the handler's answer to a batch.
type BatchUpdateResult struct {
	Status    BatchStatus
	Message   string
	Succeeded int
	Failed    int
}

type creationBody struct {
	Status     CreationStatus `json:"status"`
	Message    string         `json:"message,omitempty"`
	Visibility Visibility     `json:"visibility"`
}

type connectionBody struct {
	Status  ConnectionStatus `json:"status"`
	Message string           `json:"message,omitempty"`
}

type updateBody struct {
	Status           UpdateStatus      `json:"status"`
	Message          string            `json:"message,omitempty"`
	Data             []json.RawMessage `json:"data,omitempty"`
	NextMsgDelayInMs int               `json:"next_msg_delay_in_ms,omitempty"`
}

type batchBody struct {
	Status             BatchStatus `json:"status"`
	Message            string      `json:"message,omitempty"`
	SentItemsInSuccess int         `json:"sent_items_in_success"`
	SentItemsInError   int         `json:"sent_items_in_error"`
}
