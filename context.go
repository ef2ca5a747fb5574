package apisteps

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/bool64/shared"
)

// BaseURLToken is the placeholder seeded from the attached client's base URL.
const BaseURLToken = "<base_url>"

var (
	errNoClient      = errors.New("no HTTP client attached")
	errNoResponse    = errors.New("undefined response (missing `I send ... request to ...` step)")
	errMalformedForm = errors.New("malformed form line, want key=value")
	errBadTableRow   = errors.New("table rows must have exactly two cells")
)

// NewAPIContext creates scenario state bound to the given client.
//
// A nil client is allowed; sending before AttachClient fails with a
// configuration error.
func NewAPIContext(client Client) *APIContext {
	c := &APIContext{
		Vars:    &shared.Vars{},
		Out:     os.Stdout,
		headers: http.Header{},
	}

	if client != nil {
		c.AttachClient(client)
	}

	return c
}

// APIContext holds the mutable state of a single scenario: pending headers,
// authorization, placeholder table and the last request/response pair.
//
// It is owned by the test runner's scenario lifecycle and must not be shared
// between concurrently running scenarios.
type APIContext struct {
	// Vars is the placeholder table. Collaborating step libraries may
	// register their own tokens here; <base_url> is maintained automatically.
	Vars *shared.Vars

	// Out receives print-response and verbose traffic output, os.Stdout by default.
	Out io.Writer

	// LogAll enables logging of every request sent and response received.
	LogAll bool

	client        Client
	headers       http.Header
	authorization string
	lastReq       *http.Request
	lastResp      *Response
}

// Response is the captured outcome of the last sent request.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Param is an ordered query-parameter pair.
type Param struct {
	Key   string
	Value string
}

// AttachClient injects the HTTP client and seeds the <base_url> placeholder.
func (c *APIContext) AttachClient(client Client) {
	c.client = client
	c.SetPlaceholder(BaseURLToken, client.BaseURL())
}

// SetPlaceholder upserts a literal substitution token.
func (c *APIContext) SetPlaceholder(token, value string) {
	if c.Vars == nil {
		c.Vars = &shared.Vars{}
	}

	c.Vars.Set(token, value)
}

// AddHeader schedules a header for the next requests. Adding the same name
// again appends another value instead of replacing the previous one, so
// repeated headers like Cookie survive.
//
// Pending headers are not cleared after a request is sent; they stay until an
// authenticating step resets them or RemoveHeader drops them.
func (c *APIContext) AddHeader(name, value string) {
	c.headers.Add(name, value)
}

// RemoveHeader drops a pending header, no-op if absent.
func (c *APIContext) RemoveHeader(name string) {
	c.headers.Del(name)
}

// AuthenticateBasic resets pending headers and sets Basic authorization for
// subsequent requests.
func (c *APIContext) AuthenticateBasic(username, password string) {
	c.headers = http.Header{}
	c.authorization = "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

// AuthenticateToken resets pending headers and sets Bearer authorization for
// subsequent requests.
func (c *APIContext) AuthenticateToken(token string) {
	c.headers = http.Header{}
	c.authorization = "Bearer " + token
}

// Reset restores pristine state at scenario start. The attached client and
// its <base_url> placeholder survive.
func (c *APIContext) Reset() {
	c.headers = http.Header{}
	c.authorization = ""
	c.lastReq = nil
	c.lastResp = nil

	if c.Vars != nil {
		c.Vars.Reset()
	}

	if c.client != nil {
		c.SetPlaceholder(BaseURLToken, c.client.BaseURL())
	}
}

// LastRequest returns the most recently built request, nil before the first send.
func (c *APIContext) LastRequest() *http.Request {
	return c.lastReq
}

// LastResponse returns the most recently captured response, nil before the first send.
func (c *APIContext) LastResponse() *Response {
	return c.lastResp
}

// Send sends a request without a body.
func (c *APIContext) Send(method, uri string) error {
	return c.send(method, uri, nil, "")
}

// SendBody sends a raw body verbatim after placeholder substitution. No
// content type is forced, headers stay caller-chosen.
func (c *APIContext) SendBody(method, uri, body string) error {
	return c.send(method, uri, []byte(c.substitute(body)), "")
}

// SendFields serializes field name/value pairs as a JSON object body. Values
// have placeholders substituted.
func (c *APIContext) SendFields(method, uri string, fields map[string]string) error {
	payload := make(map[string]string, len(fields))

	for name, val := range fields {
		payload[name] = c.substitute(val)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to serialize request fields: %w", err)
	}

	return c.send(method, uri, body, "application/json")
}

// SendForm parses newline-delimited key=value pairs and sends them as an
// URL-encoded form body.
func (c *APIContext) SendForm(method, uri, form string) error {
	lines := strings.Split(strings.TrimSpace(c.substitute(form)), "\n")
	pairs := make([]string, 0, len(lines))

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		key, val, found := strings.Cut(line, "=")
		if !found {
			return fmt.Errorf("%w: %q", errMalformedForm, line)
		}

		pairs = append(pairs, url.QueryEscape(key)+"="+url.QueryEscape(val))
	}

	return c.send(method, uri, []byte(strings.Join(pairs, "&")), "application/x-www-form-urlencoded")
}

// SendQuery appends parameters to the URL as a literal query string.
//
// Values have placeholders substituted but are not URL-escaped, and parameter
// order is preserved.
func (c *APIContext) SendQuery(method, uri string, params []Param) error {
	pairs := make([]string, 0, len(params))

	for _, p := range params {
		pairs = append(pairs, p.Key+"="+c.substitute(p.Value))
	}

	return c.send(method, uri+"?"+strings.Join(pairs, "&"), nil, "")
}

func (c *APIContext) send(method, uri string, body []byte, contentType string) error {
	if c.client == nil {
		return errNoClient
	}

	req, err := c.buildRequest(method, uri, body)
	if err != nil {
		return err
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	return c.dispatch(req)
}

// buildRequest substitutes placeholders in the URL, trims a leading slash and
// attaches pending headers and authorization. Base URL composition is left to
// the client.
func (c *APIContext) buildRequest(method, uri string, body []byte) (*http.Request, error) {
	uri = strings.TrimPrefix(c.substitute(uri), "/")

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}

	req, err := http.NewRequest(method, uri, rd)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request to %q: %w", method, uri, err)
	}

	for name, vals := range c.headers {
		for _, v := range vals {
			req.Header.Add(name, v)
		}
	}

	if c.authorization != "" {
		req.Header.Set("Authorization", c.authorization)
	}

	return req, nil
}

func (c *APIContext) dispatch(req *http.Request) error {
	c.lastReq = req

	if c.LogAll {
		fmt.Fprintf(c.out(), "--> %s %s\n", req.Method, req.URL.String())
	}

	resp, err := c.client.Send(req)
	if err != nil {
		var re *ResponseError
		if !errors.As(err, &re) || re.Response == nil {
			return fmt.Errorf("failed to send %s request to %q: %w", req.Method, req.URL.String(), err)
		}

		resp = re.Response
	}

	var body []byte

	if resp.Body != nil {
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		if err := resp.Body.Close(); err != nil {
			return fmt.Errorf("failed to close response body: %w", err)
		}
	}

	c.lastResp = &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}

	if c.LogAll {
		fmt.Fprintf(c.out(), "<-- %d %s\n%s\n", resp.StatusCode, http.StatusText(resp.StatusCode), string(body))
	}

	return nil
}

// substitute applies the placeholder table with literal find/replace. Order
// among distinct tokens is irrelevant.
func (c *APIContext) substitute(s string) string {
	if c.Vars == nil {
		return s
	}

	for token, val := range c.Vars.GetAll() {
		s = strings.ReplaceAll(s, token, fmt.Sprintf("%v", val))
	}

	return s
}

func (c *APIContext) response() (*Response, error) {
	if c.lastResp == nil {
		return nil, errNoResponse
	}

	return c.lastResp, nil
}

func (c *APIContext) out() io.Writer {
	if c.Out == nil {
		return os.Stdout
	}

	return c.Out
}
