package router

import (
	"encoding/json"
	"net/http"

	"github.com/rotiride/orderd/internal/apperr"
)

// serverIdentifier is the fixed server header value on every response.
const serverIdentifier = "orderd/1.0"

// Response is the descriptor handed back to the dispatcher: status,
// headers and an optional body.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// baseHeader returns the fixed header set every response carries.
func baseHeader(contentType string) http.Header {
	h := make(http.Header)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	h.Set("Server", serverIdentifier)
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	return h
}

// NewJSONResponse marshals the payload into a JSON response.
func NewJSONResponse(status int, payload interface{}) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "encode response body", err)
	}
	return &Response{
		Status: status,
		Header: baseHeader("application/json"),
		Body:   body,
	}, nil
}

// NewNoContentResponse returns an empty 204 response.
func NewNoContentResponse() *Response {
	return &Response{
		Status: http.StatusNoContent,
		Header: baseHeader(""),
	}
}

// NewPreflightResponse is the short-circuit answer to OPTIONS requests:
// 204, empty body, cacheable for a day.
func NewPreflightResponse() *Response {
	resp := NewNoContentResponse()
	resp.Header.Set("Access-Control-Max-Age", "86400")
	return resp
}

// NewErrorResponse converts an application error into its wire form.
func NewErrorResponse(err error, requestID string) *Response {
	appErr := apperr.From(err)
	payload := apperr.NewResponse(appErr, requestID)

	body, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		body = []byte(`{"error":"Internal Error","code":"INTERNAL_ERROR"}`)
	}

	return &Response{
		Status: appErr.Status(),
		Header: baseHeader("application/json"),
		Body:   body,
	}
}

// Finalize stamps per-request headers onto the response.
func (r *Response) Finalize(rc *RequestContext) {
	if rc == nil {
		return
	}
	for key, values := range rc.ResponseHeader {
		for _, v := range values {
			r.Header.Set(key, v)
		}
	}
	if rc.RequestID != "" {
		r.Header.Set("X-Request-Id", rc.RequestID)
	}
}
