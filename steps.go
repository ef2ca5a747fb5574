package apisteps

import (
	"context"
	"fmt"

	"github.com/cucumber/godog"
)

// RegisterSteps adds API request and response assertion steps to a godog
// scenario context. The context is reset before every scenario.
//
// # Request Setup
//
// Pending headers accumulate until explicitly removed or replaced by an
// authenticating step; they are applied to every request sent.
//
//	Given I set header "Accept" to "application/json"
//	And I remove header "X-Debug"
//
// Authentication replaces pending headers and sets authorization for
// subsequent requests.
//
//	Given I authenticate with username "jane" and password "secret"
//	Given I authenticate with token "eyJhbGciOi..."
//
// Placeholders are literal tokens substituted into URLs, request bodies and
// expected documents before use. The <base_url> token is maintained
// automatically from the attached client.
//
//	Given I set placeholder "<user_id>" to "42"
//
// # Requests
//
// A request needs at least a method and a URL. A leading slash is trimmed;
// the attached client composes the final URL from its base URL.
//
//	When I send a GET request to "/users/<user_id>"
//
// A table of fields is serialized as a JSON object body.
//
//	When I send a POST request to "/users" with the following fields:
//	  | name | Jane  |
//	  | role | admin |
//
// A table of query parameters is appended to the URL verbatim, preserving
// order and without URL-escaping.
//
//	When I send a GET request to "/search" with query parameters:
//	  | q    | hello |
//	  | page | 2     |
//
// A raw body block is sent as is, with caller-chosen headers.
//
//	When I send a PUT request to "/notes/1" with body:
//	  """
//	  a,b,c
//	  """
//
// A form block of key=value lines is sent URL-encoded.
//
//	When I send a POST request to "/login" with form data:
//	  """
//	  user=jane
//	  pass=secret
//	  """
//
// # Response Expectations
//
// Assertions check the response of the most recent request. A transport
// failure that carries a response (see ResponseError) does not fail the
// sending step; the embedded response is captured for assertions instead.
//
//	Then the response status code should be 200
//	And the response media type should be "application/json"
//	And the response should have header "ETag"
//	And the response header "Cache-Control" should be "max-age=0, private, must-revalidate"
//	And the response body should contain "hello"
//
// JSON body expectations are subset matches over top-level keys; expected
// documents may be JSON5.
//
//	And the response body should contain JSON:
//	  """
//	  {"id":42,"name":"Jane"}
//	  """
//
// XML body expectations compare full documents, count XPath matches or
// validate against an XML Schema.
//
//	And the response body should contain 2 XML elements matching "//user"
func (c *APIContext) RegisterSteps(s *godog.ScenarioContext) {
	s.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		c.Reset()

		return ctx, nil
	})

	// Session setup.
	s.Step(`^I authenticate with username "([^"]*)" and password "([^"]*)"$`, c.iAuthenticateWithUsernameAndPassword)
	s.Step(`^I authenticate with token "([^"]*)"$`, c.iAuthenticateWithToken)
	s.Step(`^I set header "([^"]*)" to "([^"]*)"$`, c.iSetHeader)
	s.Step(`^I remove header "([^"]*)"$`, c.iRemoveHeader)
	s.Step(`^I set placeholder "([^"]*)" to "([^"]*)"$`, c.iSetPlaceholder)

	// Requests.
	s.Step(`^I send an? ([A-Z]+) request to "([^"]*)"$`, c.iSendRequest)
	s.Step(`^I send an? ([A-Z]+) request to "([^"]*)" with the following fields:$`, c.iSendRequestWithFields)
	s.Step(`^I send an? ([A-Z]+) request to "([^"]*)" with query parameters:$`, c.iSendRequestWithQueryParameters)
	s.Step(`^I send an? ([A-Z]+) request to "([^"]*)" with body:$`, c.iSendRequestWithBody)
	s.Step(`^I send an? ([A-Z]+) request to "([^"]*)" with form data:$`, c.iSendRequestWithFormData)

	// Status, media type and headers.
	s.Step(`^the response status code should be (\d+)$`, c.theResponseStatusCodeShouldBe)
	s.Step(`^the response media type should be "([^"]*)"$`, c.theResponseMediaTypeShouldBe)
	s.Step(`^the response media type should be known$`, c.theResponseMediaTypeShouldBeKnown)
	s.Step(`^the response charset should be "([^"]*)"$`, c.theResponseCharsetShouldBe)
	s.Step(`^the response charset should be known$`, c.theResponseCharsetShouldBeKnown)
	s.Step(`^the response should have header "([^"]*)"$`, c.theResponseShouldHaveHeader)
	s.Step(`^the response header "([^"]*)" should not be empty$`, c.theResponseHeaderShouldNotBeEmpty)
	s.Step(`^the response should not have header "([^"]*)"$`, c.theResponseShouldNotHaveHeader)
	s.Step(`^the response header "([^"]*)" should be "([^"]*)"$`, c.theResponseHeaderShouldBe)
	s.Step(`^the response should be cacheable$`, c.theResponseShouldBeCacheable)
	s.Step(`^the response should be well-formed$`, c.theResponseShouldBeWellFormed)

	// Body content.
	s.Step(`^the response body should contain "([^"]*)"$`, c.theResponseBodyShouldContain)
	s.Step(`^the response body should not contain "([^"]*)"$`, c.theResponseBodyShouldNotContain)
	s.Step(`^the response body should contain JSON:$`, c.theResponseBodyShouldContainJSON)
	s.Step(`^the response body should have value "([^"]*)" at JSON path "([^"]*)"$`, c.theResponseBodyShouldHaveValueAtJSONPath)
	s.Step(`^the response body should match the JSON schema:$`, c.theResponseBodyShouldMatchJSONSchema)
	s.Step(`^the response body should contain XML:$`, c.theResponseBodyShouldContainXML)
	s.Step(`^the response body should contain (\d+) XML elements? matching "([^"]*)"$`, c.theResponseBodyShouldContainXMLElementsMatching)
	s.Step(`^the response body should match the XML schema:$`, c.theResponseBodyShouldMatchXMLSchema)

	s.Step(`^I print the response$`, c.iPrintTheResponse)
}

func (c *APIContext) iAuthenticateWithUsernameAndPassword(username, password string) error {
	c.AuthenticateBasic(username, password)

	return nil
}

func (c *APIContext) iAuthenticateWithToken(token string) error {
	c.AuthenticateToken(token)

	return nil
}

func (c *APIContext) iSetHeader(name, value string) error {
	c.AddHeader(name, value)

	return nil
}

func (c *APIContext) iRemoveHeader(name string) error {
	c.RemoveHeader(name)

	return nil
}

func (c *APIContext) iSetPlaceholder(token, value string) error {
	c.SetPlaceholder(token, value)

	return nil
}

func (c *APIContext) iSendRequest(method, uri string) error {
	return c.Send(method, uri)
}

func (c *APIContext) iSendRequestWithFields(method, uri string, table *godog.Table) error {
	fields, err := tableMap(table)
	if err != nil {
		return err
	}

	return c.SendFields(method, uri, fields)
}

func (c *APIContext) iSendRequestWithQueryParameters(method, uri string, table *godog.Table) error {
	params, err := tableParams(table)
	if err != nil {
		return err
	}

	return c.SendQuery(method, uri, params)
}

func (c *APIContext) iSendRequestWithBody(method, uri string, body *godog.DocString) error {
	return c.SendBody(method, uri, body.Content)
}

func (c *APIContext) iSendRequestWithFormData(method, uri string, form *godog.DocString) error {
	return c.SendForm(method, uri, form.Content)
}

func (c *APIContext) theResponseStatusCodeShouldBe(code int) error {
	return c.ExpectResponseStatus(code)
}

func (c *APIContext) theResponseMediaTypeShouldBe(mediaType string) error {
	return c.ExpectMediaType(mediaType)
}

func (c *APIContext) theResponseMediaTypeShouldBeKnown() error {
	return c.ExpectMediaTypeKnown()
}

func (c *APIContext) theResponseCharsetShouldBe(charset string) error {
	return c.ExpectCharset(charset)
}

func (c *APIContext) theResponseCharsetShouldBeKnown() error {
	return c.ExpectCharsetKnown()
}

func (c *APIContext) theResponseShouldHaveHeader(name string) error {
	return c.ExpectHeaderPresent(name)
}

func (c *APIContext) theResponseHeaderShouldNotBeEmpty(name string) error {
	return c.ExpectHeaderNotEmpty(name)
}

func (c *APIContext) theResponseShouldNotHaveHeader(name string) error {
	return c.ExpectHeaderAbsent(name)
}

func (c *APIContext) theResponseHeaderShouldBe(name, value string) error {
	return c.ExpectHeaderEquals(name, value)
}

func (c *APIContext) theResponseShouldBeCacheable() error {
	return c.ExpectCacheable()
}

func (c *APIContext) theResponseShouldBeWellFormed() error {
	return c.ExpectWellFormed()
}

func (c *APIContext) theResponseBodyShouldContain(text string) error {
	return c.ExpectBodyContains(text)
}

func (c *APIContext) theResponseBodyShouldNotContain(text string) error {
	return c.ExpectBodyNotContains(text)
}

func (c *APIContext) theResponseBodyShouldContainJSON(doc *godog.DocString) error {
	return c.ExpectBodyContainsJSON(doc.Content)
}

func (c *APIContext) theResponseBodyShouldHaveValueAtJSONPath(value, path string) error {
	return c.ExpectBodyJSONPath(path, value)
}

func (c *APIContext) theResponseBodyShouldMatchJSONSchema(schema *godog.DocString) error {
	return c.ExpectBodyMatchesJSONSchema(schema.Content)
}

func (c *APIContext) theResponseBodyShouldContainXML(doc *godog.DocString) error {
	return c.ExpectBodyContainsXML(doc.Content)
}

func (c *APIContext) theResponseBodyShouldContainXMLElementsMatching(count int, expr string) error {
	return c.ExpectBodyXPathCount(count, expr)
}

func (c *APIContext) theResponseBodyShouldMatchXMLSchema(schema *godog.DocString) error {
	return c.ExpectBodyMatchesXSD(schema.Content)
}

func (c *APIContext) iPrintTheResponse() error {
	return c.PrintResponse()
}

func tableMap(table *godog.Table) (map[string]string, error) {
	m := make(map[string]string, len(table.Rows))

	for _, row := range table.Rows {
		if len(row.Cells) != 2 {
			return nil, fmt.Errorf("%w: got %d cells", errBadTableRow, len(row.Cells))
		}

		m[row.Cells[0].Value] = row.Cells[1].Value
	}

	return m, nil
}

func tableParams(table *godog.Table) ([]Param, error) {
	params := make([]Param, 0, len(table.Rows))

	for _, row := range table.Rows {
		if len(row.Cells) != 2 {
			return nil, fmt.Errorf("%w: got %d cells", errBadTableRow, len(row.Cells))
		}

		params = append(params, Param{Key: row.Cells[0].Value, Value: row.Cells[1].Value})
	}

	return params, nil
}
