package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// UpstreamError is the normalized failure of a gateway call. Transport
// failures carry StatusCode 0 and Transport true; application failures carry
// the response status and whatever the JSON error body exposed.
type UpstreamError struct {
	Method        string `json:"-"`
	Path          string `json:"-"`
	StatusCode    int    `json:"status_code"`
	StatusMessage string `json:"status_message"`
	Message       string `json:"error,omitempty"`
	ErrorCode     string `json:"error_code,omitempty"`
	ErrorID       string `json:"error_id,omitempty"`
	// Body holds the decoded JSON document when the response was JSON,
	// otherwise the raw text.
	Body      any   `json:"-"`
	Transport bool  `json:"-"`
	Attempts  int   `json:"-"`
	Cause     error `json:"-"`
}

func (e *UpstreamError) Error() string {
	if e == nil {
		return "<nil>"
	}
	target := strings.TrimSpace(e.Method + " " + e.Path)
	if e.Transport {
		return fmt.Sprintf("gateway: %s failed after %d attempt(s): %v", target, e.Attempts, e.Cause)
	}
	detail := e.Message
	if detail == "" {
		if text, ok := e.Body.(string); ok {
			detail = text
		} else if e.Body != nil {
			raw, _ := json.Marshal(e.Body)
			detail = string(raw)
		}
	}
	msg := fmt.Sprintf("gateway: %s returned %d %s", target, e.StatusCode, e.StatusMessage)
	if e.ErrorCode != "" {
		msg += " [" + e.ErrorCode + "]"
	}
	if e.ErrorID != "" {
		msg += " (error_id " + e.ErrorID + ")"
	}
	if detail != "" {
		msg += ": " + detail
	}
	return msg
}

func (e *UpstreamError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Retryable reports whether the failure belongs to the retryable set.
func (e *UpstreamError) Retryable() bool {
	if e == nil {
		return false
	}
	if e.Transport {
		return retryableTransport(e.Cause)
	}
	return retryableStatus(e.StatusCode)
}

// AsUpstreamError unwraps err to an *UpstreamError.
func AsUpstreamError(err error) (*UpstreamError, bool) {
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return upstream, true
	}
	return nil, false
}

// retryableStatuses includes the two vendor 5xx codes some edge proxies emit
// when the origin is unreachable.
var retryableStatuses = map[int]struct{}{
	http.StatusRequestTimeout:        {},
	http.StatusRequestEntityTooLarge: {},
	http.StatusTooManyRequests:       {},
	http.StatusInternalServerError:   {},
	http.StatusBadGateway:            {},
	http.StatusServiceUnavailable:    {},
	http.StatusGatewayTimeout:        {},
	521:                              {},
	522:                              {},
}

func retryableStatus(code int) bool {
	_, ok := retryableStatuses[code]
	return ok
}

var retryableMethods = map[string]struct{}{
	http.MethodGet:     {},
	http.MethodHead:    {},
	http.MethodPut:     {},
	http.MethodPost:    {},
	http.MethodDelete:  {},
	http.MethodOptions: {},
}

func retryableMethod(method string) bool {
	_, ok := retryableMethods[strings.ToUpper(method)]
	return ok
}

func retryableTransport(err error) bool {
	return transportReason(err) != ""
}

// transportReason names the connection-level failure class, or returns "" for
// failures that are not worth retrying.
func transportReason(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, syscall.ECONNRESET):
		return "connection_reset"
	case errors.Is(err, syscall.ECONNREFUSED):
		return "connection_refused"
	case errors.Is(err, syscall.EADDRINUSE):
		return "address_in_use"
	case errors.Is(err, syscall.EPIPE):
		return "broken_pipe"
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return "unexpected_eof"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	return ""
}

type errorBody struct {
	Status    string `json:"status"`
	Error     string `json:"error"`
	Message   string `json:"message"`
	ErrorCode string `json:"error_code"`
	ErrorID   string `json:"error_id"`
}

// newStatusError classifies a non-2xx response.
func newStatusError(method, path string, resp *http.Response, body []byte) *UpstreamError {
	ue := &UpstreamError{
		Method:        method,
		Path:          path,
		StatusCode:    resp.StatusCode,
		StatusMessage: statusMessage(resp),
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return ue
	}
	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()
	var doc any
	if err := decoder.Decode(&doc); err != nil {
		ue.Body = string(body)
		return ue
	}
	ue.Body = doc
	var fields errorBody
	if err := json.Unmarshal(trimmed, &fields); err == nil {
		ue.Message = fields.Error
		if ue.Message == "" {
			ue.Message = fields.Message
		}
		ue.ErrorCode = fields.ErrorCode
		ue.ErrorID = fields.ErrorID
	}
	return ue
}

func statusMessage(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprintf("%d", resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return text
}
