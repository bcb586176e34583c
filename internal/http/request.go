package http

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// Request describes a single abstract HTTP call made by a virtual user.
//
// A Request is a plain value: it carries no connection state and can be
// shared by every virtual user running the same scenario.
type Request struct {
	// Name identifies the request in results and metrics
	Name string `json:"name,omitempty"`

	// Method is the HTTP method (GET when empty)
	Method string `json:"method"`

	// URL is the absolute target URL
	URL string `json:"url"`

	// Headers are set on the outgoing request
	Headers map[string]string `json:"headers,omitempty"`

	// Body is sent verbatim when non-empty
	Body string `json:"body,omitempty"`

	// Timeout overrides the client default for this request (0 = default)
	Timeout time.Duration `json:"timeout,omitempty"`
}

// NewRequest creates a new request for the given method and URL.
func NewRequest(method, url string) Request {
	return Request{
		Method:  method,
		URL:     url,
		Headers: make(map[string]string),
	}
}

// WithHeader returns a copy of the request with the header set.
func (r Request) WithHeader(key, value string) Request {
	headers := make(map[string]string, len(r.Headers)+1)
	for k, v := range r.Headers {
		headers[k] = v
	}
	headers[key] = value
	r.Headers = headers
	return r
}

// WithBody returns a copy of the request with the body set.
func (r Request) WithBody(body string) Request {
	r.Body = body
	return r
}

// WithName returns a copy of the request with the name set.
func (r Request) WithName(name string) Request {
	r.Name = name
	return r
}

// Label returns the name used for this request in results.
func (r Request) Label() string {
	if r.Name != "" {
		return r.Name
	}
	return r.method() + " " + r.URL
}

func (r Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(r.Method)
}

// Build constructs an *http.Request bound to ctx.
func (r Request) Build(ctx context.Context) (*http.Request, error) {
	var body *strings.Reader
	if r.Body != "" {
		body = strings.NewReader(r.Body)
	}

	var (
		req *http.Request
		err error
	)
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, r.method(), r.URL, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, r.method(), r.URL, nil)
	}
	if err != nil {
		return nil, err
	}

	for key, value := range r.Headers {
		req.Header.Set(key, value)
	}

	return req, nil
}
