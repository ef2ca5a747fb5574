package apisteps

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/fatih/color"
	"github.com/swaggest/assertjson"
	"github.com/swaggest/assertjson/json5"
	"github.com/xeipuuv/gojsonschema"
	"github.com/yalp/jsonpath"
)

// Fixed expectations of the "known" media type and charset assertions and of
// the cacheable composite. The charset constant is lowercase and checked as a
// case-sensitive substring, so "charset=UTF-8" does not satisfy the "known"
// variant.
const (
	knownMediaType       = "application/json"
	knownCharset         = "utf-8"
	cacheControlRequired = "max-age=0, private, must-revalidate"
)

var errDecodeJSON = errors.New("failed to decode JSON")

// ExpectResponseStatus checks the status code of the last response.
func (c *APIContext) ExpectResponseStatus(code int) error {
	resp, err := c.response()
	if err != nil {
		return err
	}

	if resp.StatusCode != code {
		return fmt.Errorf("unexpected response status, expected: %d (%s), received: %d (%s)",
			code, http.StatusText(code), resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	return nil
}

// ExpectMediaType checks that the Content-Type header contains a media type.
func (c *APIContext) ExpectMediaType(mediaType string) error {
	resp, err := c.response()
	if err != nil {
		return err
	}

	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, mediaType) {
		return fmt.Errorf("unexpected media type, expected %q in Content-Type, received: %q", mediaType, ct)
	}

	return nil
}

// ExpectMediaTypeKnown checks the Content-Type header against the fixed known
// media type.
func (c *APIContext) ExpectMediaTypeKnown() error {
	return c.ExpectMediaType(knownMediaType)
}

// ExpectCharset checks that the Content-Type header contains a charset.
func (c *APIContext) ExpectCharset(charset string) error {
	resp, err := c.response()
	if err != nil {
		return err
	}

	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, charset) {
		return fmt.Errorf("unexpected charset, expected %q in Content-Type, received: %q", charset, ct)
	}

	return nil
}

// ExpectCharsetKnown checks the Content-Type header against the fixed known
// charset.
func (c *APIContext) ExpectCharsetKnown() error {
	return c.ExpectCharset(knownCharset)
}

// ExpectHeaderPresent checks that a named response header exists.
func (c *APIContext) ExpectHeaderPresent(name string) error {
	resp, err := c.response()
	if err != nil {
		return err
	}

	if len(resp.Header.Values(name)) == 0 {
		return fmt.Errorf("missing response header %q", name)
	}

	return nil
}

// ExpectHeaderNotEmpty checks that a named response header has a non-empty value.
func (c *APIContext) ExpectHeaderNotEmpty(name string) error {
	resp, err := c.response()
	if err != nil {
		return err
	}

	if resp.Header.Get(name) == "" {
		return fmt.Errorf("response header %q is empty or missing", name)
	}

	return nil
}

// ExpectHeaderAbsent checks that a named response header does not exist.
func (c *APIContext) ExpectHeaderAbsent(name string) error {
	resp, err := c.response()
	if err != nil {
		return err
	}

	if vals := resp.Header.Values(name); len(vals) > 0 {
		return fmt.Errorf("unexpected response header %q: %q", name, vals)
	}

	return nil
}

// ExpectHeaderEquals checks a named response header for an exact value.
func (c *APIContext) ExpectHeaderEquals(name, value string) error {
	resp, err := c.response()
	if err != nil {
		return err
	}

	if v := resp.Header.Get(name); v != value {
		return fmt.Errorf("unexpected value of response header %q, expected: %q, received: %q", name, value, v)
	}

	return nil
}

// ExpectCacheable checks the caching header conjunction: ETag, Date,
// Last-Modified and Cache-Control must be present and Cache-Control must
// equal the fixed revalidation directive.
func (c *APIContext) ExpectCacheable() error {
	for _, name := range []string{"ETag", "Date", "Last-Modified", "Cache-Control"} {
		if err := c.ExpectHeaderPresent(name); err != nil {
			return err
		}
	}

	return c.ExpectHeaderEquals("Cache-Control", cacheControlRequired)
}

// ExpectWellFormed checks the known media type, the known charset and a
// present Cache-Control header.
func (c *APIContext) ExpectWellFormed() error {
	if err := c.ExpectMediaTypeKnown(); err != nil {
		return err
	}

	if err := c.ExpectCharsetKnown(); err != nil {
		return err
	}

	return c.ExpectHeaderPresent("Cache-Control")
}

// ExpectBodyContains checks the raw body for a case-insensitive pattern or
// substring.
func (c *APIContext) ExpectBodyContains(text string) error {
	resp, err := c.response()
	if err != nil {
		return err
	}

	if re, err := regexp.Compile("(?i)" + text); err == nil && re.Match(resp.Body) {
		return nil
	}

	if strings.Contains(strings.ToLower(string(resp.Body)), strings.ToLower(text)) {
		return nil
	}

	return fmt.Errorf("response body does not contain %q, received: %q", text, string(resp.Body))
}

// ExpectBodyNotContains checks that the raw body does not match a
// case-sensitive pattern or substring.
func (c *APIContext) ExpectBodyNotContains(text string) error {
	resp, err := c.response()
	if err != nil {
		return err
	}

	if re, err := regexp.Compile(text); err == nil {
		if re.Match(resp.Body) {
			return fmt.Errorf("response body unexpectedly matches %q, received: %q", text, string(resp.Body))
		}

		return nil
	}

	if strings.Contains(string(resp.Body), text) {
		return fmt.Errorf("response body unexpectedly contains %q, received: %q", text, string(resp.Body))
	}

	return nil
}

// ExpectBodyContainsJSON checks that the body is a JSON object containing
// every key of the expected document with a deep-equal value.
//
// This is a subset match: extra keys in the body are allowed, but the body
// must carry at least as many top-level keys as the expected document.
func (c *APIContext) ExpectBodyContainsJSON(expectedDoc string) error {
	resp, err := c.response()
	if err != nil {
		return err
	}

	exp, err := c.expectedJSON(expectedDoc)
	if err != nil {
		return err
	}

	var expected map[string]json.RawMessage
	if err := json.Unmarshal(exp, &expected); err != nil {
		return fmt.Errorf("%w: %s, document: %s", errDecodeJSON, err, string(exp))
	}

	var actual map[string]json.RawMessage
	if err := json.Unmarshal(resp.Body, &actual); err != nil {
		return fmt.Errorf("%w: %s, document: %s", errDecodeJSON, err, string(resp.Body))
	}

	if len(actual) < len(expected) {
		return fmt.Errorf("response body has %d top-level keys, expected at least %d, received: %s",
			len(actual), len(expected), string(resp.Body))
	}

	for key, expVal := range expected {
		actVal, found := actual[key]
		if !found {
			return fmt.Errorf("missing key %q in response body %s", key, string(resp.Body))
		}

		if err := assertjson.FailNotEqual(expVal, actVal); err != nil {
			return fmt.Errorf("unexpected value of key %q: %w", key, err)
		}
	}

	return nil
}

// ExpectBodyJSONPath checks that evaluating a JSON path over the body yields
// the expected value.
func (c *APIContext) ExpectBodyJSONPath(path, expected string) error {
	resp, err := c.response()
	if err != nil {
		return err
	}

	var doc interface{}
	if err := json.Unmarshal(resp.Body, &doc); err != nil {
		return fmt.Errorf("%w: %s, document: %s", errDecodeJSON, err, string(resp.Body))
	}

	val, err := jsonpath.Read(doc, path)
	if err != nil {
		return fmt.Errorf("failed to read JSON path %q: %w", path, err)
	}

	if got := fmt.Sprintf("%v", val); got != expected {
		return fmt.Errorf("unexpected value at JSON path %q, expected: %q, received: %q", path, expected, got)
	}

	return nil
}

// ExpectBodyMatchesJSONSchema validates the body against a JSON Schema
// document.
func (c *APIContext) ExpectBodyMatchesJSONSchema(schemaDoc string) error {
	resp, err := c.response()
	if err != nil {
		return err
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schemaDoc),
		gojsonschema.NewBytesLoader(resp.Body),
	)
	if err != nil {
		return fmt.Errorf("failed to validate JSON schema: %w", err)
	}

	if result.Valid() {
		return nil
	}

	errs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		errs = append(errs, desc.String())
	}

	return errors.New("JSON schema validation failed: " + strings.Join(errs, "; "))
}

// PrintResponse writes the last request line, response status and body to the
// output writer.
func (c *APIContext) PrintResponse() error {
	resp, err := c.response()
	if err != nil {
		return err
	}

	out := c.out()

	if c.lastReq != nil {
		color.New(color.FgCyan).Fprintf(out, "%s %s\n", c.lastReq.Method, c.lastReq.URL.String())
	}

	statusColor := color.New(color.FgGreen)

	switch {
	case resp.StatusCode >= http.StatusBadRequest:
		statusColor = color.New(color.FgRed)
	case resp.StatusCode >= http.StatusMultipleChoices:
		statusColor = color.New(color.FgYellow)
	}

	statusColor.Fprintf(out, "%d %s\n", resp.StatusCode, http.StatusText(resp.StatusCode))
	fmt.Fprintln(out, string(resp.Body))

	return nil
}

// expectedJSON prepares an expected fragment: placeholders substituted and
// JSON5 downgraded to JSON, same as request bodies.
func (c *APIContext) expectedJSON(doc string) ([]byte, error) {
	body := []byte(c.substitute(doc))

	if json5.Valid(body) {
		var err error

		if body, err = json5.Downgrade(body); err != nil {
			return nil, fmt.Errorf("failed to downgrade JSON5 to JSON: %w", err)
		}
	}

	return body, nil
}
