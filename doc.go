// Package apisteps provides step definitions for black-box HTTP API testing
// with github.com/cucumber/godog.
//
//	Feature: Example
//
//	 Scenario: Fetching a user
//	   Given I set header "Accept" to "application/json"
//
//	   When I send a GET request to "/users/42"
//
//	   Then the response status code should be 200
//
//	   And the response body should contain JSON:
//	   """
//	   {"id":42,"name":"Jane"}
//	   """
package apisteps
