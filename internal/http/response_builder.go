package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"membership/internal/cache"
)

// HeaderInvalidate lists the cache tags a successful mutation invalidated,
// so clients holding their own views know what to refetch.
const HeaderInvalidate = "X-Invalidate"

// Envelope is the body of every API response.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// ResponseBuilder assembles an enveloped JSON response.
type ResponseBuilder struct {
	statusCode int
	envelope   Envelope
	headers    map[string]string
	invalidate []cache.Tag
}

// NewResponse starts a successful 200 response.
func NewResponse() *ResponseBuilder {
	return &ResponseBuilder{
		statusCode: http.StatusOK,
		envelope:   Envelope{Success: true},
		headers:    make(map[string]string),
	}
}

func (b *ResponseBuilder) Status(code int) *ResponseBuilder {
	b.statusCode = code
	return b
}

func (b *ResponseBuilder) Message(msg string) *ResponseBuilder {
	b.envelope.Message = msg
	return b
}

func (b *ResponseBuilder) Data(data any) *ResponseBuilder {
	b.envelope.Data = data
	return b
}

func (b *ResponseBuilder) Header(name, value string) *ResponseBuilder {
	b.headers[name] = value
	return b
}

// Invalidate records tags for the X-Invalidate header.
func (b *ResponseBuilder) Invalidate(tags ...cache.Tag) *ResponseBuilder {
	b.invalidate = append(b.invalidate, tags...)
	return b
}

func (b *ResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if len(b.invalidate) > 0 {
		w.Header().Set(HeaderInvalidate, strings.Join(cache.Strings(b.invalidate), ","))
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(b.statusCode)
	_ = json.NewEncoder(w).Encode(b.envelope)
}

// ErrorResponse builds a failed response carrying message.
func ErrorResponse(statusCode int, message string) *ResponseBuilder {
	b := NewResponse().Status(statusCode).Message(message)
	b.envelope.Success = false
	return b
}
