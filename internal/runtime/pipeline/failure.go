package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	goerrors "github.com/agilira/go-errors"
)

// Failure codes for conditions the runtime resolves before or around the
// business handler.
const (
	CodeBusy           = "RUNTIME_1001"
	CodeNotInitialized = "RUNTIME_1002"
	CodeEmptyBody      = "RUNTIME_1003"
	CodeMalformedBody  = "RUNTIME_1004"
	CodeContextBuild   = "RUNTIME_1005"
	CodeHandler        = "RUNTIME_1006"
)

// Failure is a runtime-level rejection with the transport status it maps to.
// Business outcomes are never Failures.
type Failure struct {
	Status  int
	Message string
	// Stack is only populated for handler failures.
	Stack string

	code  string
	cause error
	err   *goerrors.Error
}

func (f *Failure) Error() string {
	if f == nil {
		return "<nil>"
	}
	return f.err.Error()
}

// Unwrap exposes the underlying cause, such as a gateway UpstreamError.
func (f *Failure) Unwrap() error {
	if f == nil {
		return nil
	}
	return f.cause
}

// Code returns the RUNTIME_* code.
func (f *Failure) Code() string {
	if f == nil {
		return ""
	}
	return f.code
}

// Structured returns the go-errors value carrying the code and context.
func (f *Failure) Structured() *goerrors.Error {
	if f == nil {
		return nil
	}
	return f.err
}

func newFailure(status int, code, message string, structured *goerrors.Error, cause error) *Failure {
	return &Failure{
		Status:  status,
		Message: message,
		code:    code,
		cause:   cause,
		err:     structured.WithUserMessage(message).WithSeverity("error"),
	}
}

// Busy rejects a request while the admission gate reports overload.
func Busy() *Failure {
	const message = "plugin is busy, retry later"
	return newFailure(http.StatusTooManyRequests, CodeBusy, message, goerrors.New(CodeBusy, message), nil)
}

// NotInitialized rejects business routes before /v1/init supplied credentials.
func NotInitialized() *Failure {
	const message = "plugin is not initialized: credentials missing, call /v1/init first"
	structured := goerrors.New(CodeNotInitialized, message).WithContext("route_requires", "credentials")
	return newFailure(http.StatusInternalServerError, CodeNotInitialized, message, structured, nil)
}

// EmptyBody rejects missing or empty request bodies. The platform has always
// received 500 here and retries on it, so the status stays 500.
func EmptyBody() *Failure {
	const message = "missing request body"
	return newFailure(http.StatusInternalServerError, CodeEmptyBody, message, goerrors.New(CodeEmptyBody, message), nil)
}

// MalformedBody rejects bodies that do not decode or lack the resource id.
func MalformedBody(cause error) *Failure {
	if cause == nil {
		const message = "malformed request body"
		return newFailure(http.StatusInternalServerError, CodeMalformedBody, message, goerrors.New(CodeMalformedBody, message), nil)
	}
	message := fmt.Sprintf("malformed request body: %v", cause)
	return newFailure(http.StatusInternalServerError, CodeMalformedBody, message, goerrors.Wrap(cause, CodeMalformedBody, message), cause)
}

// ContextBuild wraps an instance context build failure.
func ContextBuild(kind, resourceID string, cause error) *Failure {
	if cause == nil {
		cause = errors.New("build failed")
	}
	message := fmt.Sprintf("could not load %s instance context %q: %v", kind, resourceID, cause)
	structured := goerrors.Wrap(cause, CodeContextBuild, message).
		WithContext("kind", kind).
		WithContext("resource_id", resourceID)
	return newFailure(http.StatusInternalServerError, CodeContextBuild, message, structured, cause)
}

// HandlerFailure wraps an error or recovered panic from a business handler.
func HandlerFailure(cause error, stack []byte) *Failure {
	if cause == nil {
		cause = errors.New("handler failed")
	}
	message := cause.Error()
	f := newFailure(http.StatusInternalServerError, CodeHandler, message, goerrors.Wrap(cause, CodeHandler, message), cause)
	f.Stack = string(stack)
	return f
}

type failureBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Stack string `json:"stack,omitempty"`
}

// WriteFailure renders f as {"error","code","stack"} with its status.
func WriteFailure(w http.ResponseWriter, f *Failure) {
	if f == nil {
		f = HandlerFailure(nil, nil)
	}
	status := f.Status
	if status <= 0 {
		status = http.StatusInternalServerError
	}
	WriteJSON(w, status, failureBody{Error: f.Message, Code: f.code, Stack: f.Stack})
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("response encode failed", slog.Any("error", err))
	}
}

// AsFailure unwraps err to a *Failure.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
