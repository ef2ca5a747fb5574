package apisteps_test

import (
	"bytes"
	"net/http"
	"testing"

	"github.com/godogx/apisteps"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// respond builds a context that has already captured the given response.
func respond(t *testing.T, status int, body string, header http.Header) *apisteps.APIContext {
	t.Helper()

	api := apisteps.NewAPIContext(&stubClient{
		base: "http://localhost",
		resp: textResponse(status, body, header),
	})

	require.NoError(t, api.Send(http.MethodGet, "/"))

	return api
}

func TestAPIContext_ExpectResponseStatus(t *testing.T) {
	api := respond(t, http.StatusNotFound, `{"error":"missing"}`, nil)

	require.NoError(t, api.ExpectResponseStatus(http.StatusNotFound))

	err := api.ExpectResponseStatus(http.StatusOK)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected: 200 (OK), received: 404 (Not Found)")
}

func TestAPIContext_ExpectResponseStatus_noResponse(t *testing.T) {
	api := apisteps.NewAPIContext(okStub())

	err := api.ExpectResponseStatus(http.StatusOK)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undefined response")
}

func TestAPIContext_mediaTypeAndCharset(t *testing.T) {
	api := respond(t, http.StatusOK, "{}", http.Header{
		"Content-Type": []string{"application/json; charset=UTF-8"},
	})

	require.NoError(t, api.ExpectMediaType("application/json"))
	require.NoError(t, api.ExpectCharset("UTF-8"))
	require.NoError(t, api.ExpectMediaTypeKnown())

	// The known charset is a lowercase case-sensitive substring, so the
	// uppercase header value does not satisfy it.
	err := api.ExpectCharsetKnown()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"utf-8"`)

	err = api.ExpectMediaType("text/html")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "application/json; charset=UTF-8")
}

func cacheableHeader() http.Header {
	return http.Header{
		"Content-Type":  []string{"application/json; charset=utf-8"},
		"Etag":          []string{`"abc"`},
		"Date":          []string{"Mon, 02 Jan 2006 15:04:05 GMT"},
		"Last-Modified": []string{"Mon, 02 Jan 2006 15:04:05 GMT"},
		"Cache-Control": []string{"max-age=0, private, must-revalidate"},
	}
}

func TestAPIContext_ExpectCacheable(t *testing.T) {
	api := respond(t, http.StatusOK, "{}", cacheableHeader())
	require.NoError(t, api.ExpectCacheable())
	require.NoError(t, api.ExpectWellFormed())

	// Dropping any constituent header breaks the composite.
	for _, name := range []string{"Etag", "Date", "Last-Modified", "Cache-Control"} {
		h := cacheableHeader()
		h.Del(name)

		api := respond(t, http.StatusOK, "{}", h)
		require.Errorf(t, api.ExpectCacheable(), "missing %s must fail", name)
	}

	// A different Cache-Control value breaks it too.
	h := cacheableHeader()
	h.Set("Cache-Control", "no-store")

	api = respond(t, http.StatusOK, "{}", h)
	err := api.ExpectCacheable()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max-age=0, private, must-revalidate")
}

func TestAPIContext_headerAssertions(t *testing.T) {
	api := respond(t, http.StatusOK, "", http.Header{
		"X-Foo":   []string{"bar"},
		"X-Empty": []string{""},
	})

	require.NoError(t, api.ExpectHeaderPresent("X-Foo"))
	require.NoError(t, api.ExpectHeaderPresent("X-Empty"))
	require.NoError(t, api.ExpectHeaderNotEmpty("X-Foo"))
	require.Error(t, api.ExpectHeaderNotEmpty("X-Empty"))
	require.NoError(t, api.ExpectHeaderAbsent("X-Missing"))
	require.Error(t, api.ExpectHeaderAbsent("X-Foo"))
	require.NoError(t, api.ExpectHeaderEquals("X-Foo", "bar"))

	err := api.ExpectHeaderEquals("X-Foo", "baz")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `received: "bar"`)
}

func TestAPIContext_bodyContains(t *testing.T) {
	api := respond(t, http.StatusOK, `{"user":"jane","count":3}`, nil)

	require.NoError(t, api.ExpectBodyContains("JANE"), "contains is case-insensitive")
	require.NoError(t, api.ExpectBodyContains(`"count":\d+`), "patterns are accepted")
	require.Error(t, api.ExpectBodyContains("bob"))

	require.NoError(t, api.ExpectBodyNotContains("Jane"), "not-contains is case-sensitive")
	require.Error(t, api.ExpectBodyNotContains("jane"))
}

func TestAPIContext_ExpectBodyContainsJSON(t *testing.T) {
	api := respond(t, http.StatusNotFound, `{"error":"missing","hint":"check the id"}`, nil)

	require.NoError(t, api.ExpectBodyContainsJSON(`{"error":"missing"}`), "subset match allows extra keys")
	require.NoError(t, api.ExpectBodyContainsJSON(`{"error":"missing","hint":"check the id"}`))

	err := api.ExpectBodyContainsJSON(`{"error":"missing","hint":"check the id","x":1}`)
	require.Error(t, err, "expected may not have more keys than actual")
	assert.Contains(t, err.Error(), "top-level keys")

	err = api.ExpectBodyContainsJSON(`{"error":"gone"}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"error"`)

	err = api.ExpectBodyContainsJSON(`{"status":"missing"}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing key")
}

func TestAPIContext_ExpectBodyContainsJSON_decodeErrors(t *testing.T) {
	api := respond(t, http.StatusOK, `not json at all`, nil)

	err := api.ExpectBodyContainsJSON(`{"a":1}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not json at all")

	api = respond(t, http.StatusOK, `{"a":1}`, nil)

	err = api.ExpectBodyContainsJSON(`{{{`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to")
}

func TestAPIContext_ExpectBodyContainsJSON_placeholders(t *testing.T) {
	api := apisteps.NewAPIContext(&stubClient{
		base: "http://localhost",
		resp: textResponse(http.StatusOK, `{"id":"42"}`, nil),
	})
	api.SetPlaceholder("<user_id>", "42")

	require.NoError(t, api.Send(http.MethodGet, "/users/42"))
	require.NoError(t, api.ExpectBodyContainsJSON(`{"id":"<user_id>"}`))
}

func TestAPIContext_ExpectBodyJSONPath(t *testing.T) {
	api := respond(t, http.StatusOK, `{"user":{"id":42,"name":"Jane"}}`, nil)

	require.NoError(t, api.ExpectBodyJSONPath("$.user.id", "42"))
	require.NoError(t, api.ExpectBodyJSONPath("$.user.name", "Jane"))

	err := api.ExpectBodyJSONPath("$.user.name", "Bob")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `received: "Jane"`)

	require.Error(t, api.ExpectBodyJSONPath("$.missing.path", "x"))
}

func TestAPIContext_ExpectBodyMatchesJSONSchema(t *testing.T) {
	schema := `{
		"type": "object",
		"required": ["id", "name"],
		"properties": {
			"id": {"type": "integer"},
			"name": {"type": "string"}
		}
	}`

	api := respond(t, http.StatusOK, `{"id":42,"name":"Jane"}`, nil)
	require.NoError(t, api.ExpectBodyMatchesJSONSchema(schema))

	api = respond(t, http.StatusOK, `{"id":"not-a-number"}`, nil)
	err := api.ExpectBodyMatchesJSONSchema(schema)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JSON schema validation failed")
	assert.Contains(t, err.Error(), "id")
}

func TestAPIContext_PrintResponse(t *testing.T) {
	api := respond(t, http.StatusNotFound, `{"error":"missing"}`, nil)

	out := bytes.NewBuffer(nil)
	api.Out = out

	require.NoError(t, api.PrintResponse())

	assert.Contains(t, out.String(), "GET")
	assert.Contains(t, out.String(), "404 Not Found")
	assert.Contains(t, out.String(), `{"error":"missing"}`)
}
