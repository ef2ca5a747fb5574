package apisteps

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Client abstracts the HTTP client used to dispatch built requests.
//
// Requests handed to Send carry relative URLs; resolving them against the
// configured base URL is the client's job.
type Client interface {
	Send(req *http.Request) (*http.Response, error)
	BaseURL() string
}

// ResponseError is a transport failure that still carries a usable response.
//
// Clients surfacing non-2xx statuses as errors should wrap the response in a
// ResponseError; the context then captures the embedded response instead of
// failing the step.
type ResponseError struct {
	Response *http.Response
	Err      error
}

func (e *ResponseError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}

	if e.Response != nil {
		return "http transport error: " + e.Response.Status
	}

	return "http transport error"
}

func (e *ResponseError) Unwrap() error {
	return e.Err
}

// NewClient creates a default Client for a base URL.
func NewClient(baseURL string, options ...func(*HTTPClient)) *HTTPClient {
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}

	baseURL = strings.TrimRight(baseURL, "/")

	c := &HTTPClient{
		baseURL:   baseURL,
		Transport: http.DefaultTransport,
	}

	for _, o := range options {
		o(c)
	}

	return c
}

// HTTPClient is the default Client implementation on top of net/http.
type HTTPClient struct {
	// Transport performs the actual round trip, http.DefaultTransport by default.
	Transport http.RoundTripper

	baseURL string
}

// BaseURL returns the configured base URL without a trailing slash.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// Send resolves the relative request URL against the base URL and performs
// the round trip.
func (c *HTTPClient) Send(req *http.Request) (*http.Response, error) {
	u, err := url.Parse(c.baseURL + "/" + strings.TrimPrefix(req.URL.String(), "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve request url %q: %w", req.URL.String(), err)
	}

	r := req.Clone(req.Context())
	r.URL = u
	r.Host = u.Host

	return c.Transport.RoundTrip(r)
}
