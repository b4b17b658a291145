// Package router maps requests to handlers through an ordered middleware
// pipeline. Matching is exact on (method, path); pipelines are resolved
// by name once at startup and shared read-only across requests.
package router

import (
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/rotiride/orderd/internal/auth"
)

// RequestContext carries one in-flight request through the pipeline. It
// is owned by a single request task and destroyed when the response is
// written; middleware may add information to it but never remove any.
type RequestContext struct {
	Method string
	Path   string

	// Query holds the parsed query parameters. Duplicate keys are
	// last-write-wins.
	Query map[string]string

	Header http.Header
	Body   []byte

	// Identity is attached by the auth middleware; nil for anonymous
	// requests.
	Identity *auth.Identity

	// RequestID is the correlation id, generated once per request.
	RequestID string

	// ResponseHeader accumulates headers middleware want on the
	// response.
	ResponseHeader http.Header

	RemoteAddr string
	ReceivedAt time.Time
}

// NewRequestContext builds the context for a parsed request.
func NewRequestContext(method string, u *url.URL, header http.Header, body []byte, remoteAddr string) *RequestContext {
	query := make(map[string]string)
	for key, values := range u.Query() {
		if len(values) > 0 {
			query[key] = values[len(values)-1]
		}
	}

	return &RequestContext{
		Method:         method,
		Path:           u.Path,
		Query:          query,
		Header:         header,
		Body:           body,
		RequestID:      uuid.NewString(),
		ResponseHeader: make(http.Header),
		RemoteAddr:     remoteAddr,
		ReceivedAt:     time.Now(),
	}
}
