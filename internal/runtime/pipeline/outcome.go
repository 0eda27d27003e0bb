package pipeline

import (
	"net/http"
	"sort"
)

// Outcome is what a business handler returns once its domain status has been
// mapped through the kind's status table.
type Outcome struct {
	Status int
	// Body is JSON-encoded unless Raw is set.
	Body any
	// Raw is written verbatim with ContentType, for rendered documents.
	Raw         []byte
	ContentType string
	Headers     http.Header
	// InvalidateContext drops the cached instance context after responding,
	// for failures caused by a stale context.
	InvalidateContext bool
}

// JSON builds an Outcome with a JSON body.
func JSON(status int, body any) Outcome {
	return Outcome{Status: status, Body: body}
}

// Rendered builds an Outcome that writes content verbatim.
func Rendered(status int, contentType string, content []byte) Outcome {
	return Outcome{Status: status, Raw: content, ContentType: contentType}
}

// WithHeader returns a copy of o with header name set to value.
func (o Outcome) WithHeader(name, value string) Outcome {
	headers := o.Headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	headers.Set(name, value)
	o.Headers = headers
	return o
}

func (o Outcome) write(w http.ResponseWriter) {
	for name, values := range o.Headers {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	status := o.Status
	if status <= 0 {
		status = http.StatusOK
	}
	if o.Raw != nil {
		contentType := o.ContentType
		if contentType == "" {
			contentType = "text/plain; charset=utf-8"
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(status)
		_, _ = w.Write(o.Raw)
		return
	}
	if o.Body == nil {
		w.WriteHeader(status)
		return
	}
	WriteJSON(w, status, o.Body)
}

// StatusTable maps one kind's closed domain status enumeration to transport
// codes. Statuses outside the declared set map to the fallback.
type StatusTable[S ~string] struct {
	kind     string
	codes    map[S]int
	fallback int
}

// NewStatusTable copies codes so the table cannot change after construction.
func NewStatusTable[S ~string](kind string, codes map[S]int, fallback int) StatusTable[S] {
	copied := make(map[S]int, len(codes))
	for status, code := range codes {
		copied[status] = code
	}
	if fallback <= 0 {
		fallback = http.StatusInternalServerError
	}
	return StatusTable[S]{kind: kind, codes: copied, fallback: fallback}
}

// Code returns the transport status for s.
func (t StatusTable[S]) Code(s S) int {
	if code, ok := t.codes[s]; ok {
		return code
	}
	return t.fallback
}

// Declared reports whether s belongs to the enumeration.
func (t StatusTable[S]) Declared(s S) bool {
	_, ok := t.codes[s]
	return ok
}

// Statuses lists the declared enumeration in sorted order.
func (t StatusTable[S]) Statuses() []S {
	out := make([]S, 0, len(t.codes))
	for status := range t.codes {
		out = append(out, status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Kind names the plugin kind the table belongs to.
func (t StatusTable[S]) Kind() string { return t.kind }

// Fallback is the code for undeclared statuses.
func (t StatusTable[S]) Fallback() int { return t.fallback }

func (o Outcome) statusOrDefault() int {
	if o.Status <= 0 {
		return http.StatusOK
	}
	return o.Status
}
