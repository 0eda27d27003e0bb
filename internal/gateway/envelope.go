package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// Envelope is the gateway's standard response wrapper.
type Envelope[T any] struct {
	Status string `json:"status"`
	Data   T      `json:"data"`
	Count  *int   `json:"count,omitempty"`
}

// DecodeData extracts the data member of an envelope. A status other than "ok"
// is reported as an error even when the HTTP status was 2xx.
func DecodeData[T any](raw []byte) (T, error) {
	var env Envelope[T]
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&env); err != nil {
		var zero T
		return zero, fmt.Errorf("gateway: decode envelope: %w", err)
	}
	if env.Status != "" && env.Status != "ok" {
		var zero T
		return zero, fmt.Errorf("gateway: envelope status %q", env.Status)
	}
	return env.Data, nil
}

// Get performs a GET and decodes the envelope data.
func Get[T any](ctx context.Context, c *Client, path string, query url.Values) (T, error) {
	raw, err := c.Call(ctx, http.MethodGet, path, nil, query)
	if err != nil {
		var zero T
		return zero, err
	}
	return DecodeData[T](raw)
}
