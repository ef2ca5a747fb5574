package apisteps

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
	xsdvalidate "github.com/terminalstatic/go-xsd-validate"
)

var errDecodeXML = errors.New("failed to decode XML")

var xsdInit sync.Once

// ExpectBodyContainsXML checks that the body is XML-equivalent to the
// expected document after placeholder substitution.
//
// Despite the step wording this is a full document comparison under
// whitespace normalization: elements present in the body but absent from the
// expected document fail it too.
func (c *APIContext) ExpectBodyContainsXML(expectedDoc string) error {
	resp, err := c.response()
	if err != nil {
		return err
	}

	expectedDoc = c.substitute(expectedDoc)

	exp, err := xmlquery.Parse(strings.NewReader(expectedDoc))
	if err != nil {
		return fmt.Errorf("%w: %s, document: %s", errDecodeXML, err, expectedDoc)
	}

	act, err := xmlquery.Parse(bytes.NewReader(resp.Body))
	if err != nil {
		return fmt.Errorf("%w: %s, document: %s", errDecodeXML, err, string(resp.Body))
	}

	return compareXML(firstElement(exp), firstElement(act), "/")
}

// ExpectBodyXPathCount checks the number of elements matching an XPath
// expression in the body.
func (c *APIContext) ExpectBodyXPathCount(count int, expr string) error {
	resp, err := c.response()
	if err != nil {
		return err
	}

	compiled, err := xpath.Compile(expr)
	if err != nil {
		return fmt.Errorf("failed to compile XPath %q: %w", expr, err)
	}

	doc, err := xmlquery.Parse(bytes.NewReader(resp.Body))
	if err != nil {
		return fmt.Errorf("%w: %s, document: %s", errDecodeXML, err, string(resp.Body))
	}

	if nodes := xmlquery.QuerySelectorAll(doc, compiled); len(nodes) != count {
		return fmt.Errorf("unexpected number of elements matching %q, expected: %d, received: %d", expr, count, len(nodes))
	}

	return nil
}

// ExpectBodyMatchesXSD validates the body against an XML Schema document.
//
// The diagnostic lists every violation with its severity, line number and
// message, followed by the offending source line and a position marker.
func (c *APIContext) ExpectBodyMatchesXSD(schemaDoc string) error {
	resp, err := c.response()
	if err != nil {
		return err
	}

	xsdInit.Do(func() {
		_ = xsdvalidate.Init()
	})

	handler, err := xsdvalidate.NewXsdHandlerMem([]byte(schemaDoc), xsdvalidate.ParsErrDefault)
	if err != nil {
		return fmt.Errorf("failed to parse XML schema: %w", err)
	}

	defer handler.Free()

	err = handler.ValidateMem(resp.Body, xsdvalidate.ValidErrDefault)
	if err == nil {
		return nil
	}

	ve, ok := err.(xsdvalidate.ValidationError)
	if !ok {
		return fmt.Errorf("failed to validate XML schema: %w", err)
	}

	lines := strings.Split(string(resp.Body), "\n")

	var sb strings.Builder

	sb.WriteString("XML schema validation failed:\n")

	for _, e := range ve.Errors {
		fmt.Fprintf(&sb, "%s at line %d: %s\n", xsdSeverity(int(e.Level)), int(e.Line), strings.TrimSpace(e.Message))

		if line := int(e.Line); line >= 1 && line <= len(lines) {
			src := lines[line-1]
			sb.WriteString(src + "\n")
			sb.WriteString(pointerMarker(src) + "\n")
		}
	}

	return errors.New(strings.TrimRight(sb.String(), "\n"))
}

func xsdSeverity(level int) string {
	switch level {
	case 1:
		return "warning"
	case 2:
		return "error"
	case 3:
		return "fatal"
	default:
		return fmt.Sprintf("severity %d", level)
	}
}

// pointerMarker underlines the first significant character of a source line.
func pointerMarker(line string) string {
	indent := len(line) - len(strings.TrimLeft(line, " \t"))

	return strings.Repeat(" ", indent) + "^"
}

func compareXML(expected, actual *xmlquery.Node, path string) error {
	if expected == nil && actual == nil {
		return nil
	}

	if expected == nil || actual == nil {
		return fmt.Errorf("XML documents differ at %s: expected element %s, received %s",
			path, describeElement(expected), describeElement(actual))
	}

	path += elementName(expected)

	if elementName(expected) != elementName(actual) {
		return fmt.Errorf("XML documents differ at %s: expected element <%s>, received <%s>",
			path, elementName(expected), elementName(actual))
	}

	expAttr, actAttr := attrMap(expected), attrMap(actual)

	if len(expAttr) != len(actAttr) {
		return fmt.Errorf("XML documents differ at %s: expected %d attributes, received %d",
			path, len(expAttr), len(actAttr))
	}

	for name, expVal := range expAttr {
		actVal, found := actAttr[name]
		if !found {
			return fmt.Errorf("XML documents differ at %s: missing attribute %q", path, name)
		}

		if actVal != expVal {
			return fmt.Errorf("XML documents differ at %s: attribute %q expected %q, received %q",
				path, name, expVal, actVal)
		}
	}

	if expText, actText := elementText(expected), elementText(actual); expText != actText {
		return fmt.Errorf("XML documents differ at %s: expected text %q, received %q", path, expText, actText)
	}

	expChildren, actChildren := childElements(expected), childElements(actual)

	if len(expChildren) != len(actChildren) {
		return fmt.Errorf("XML documents differ at %s: expected %d child elements, received %d",
			path, len(expChildren), len(actChildren))
	}

	for i := range expChildren {
		if err := compareXML(expChildren[i], actChildren[i], fmt.Sprintf("%s[%d]/", path, i)); err != nil {
			return err
		}
	}

	return nil
}

func firstElement(n *xmlquery.Node) *xmlquery.Node {
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == xmlquery.ElementNode {
			return child
		}
	}

	return nil
}

func childElements(n *xmlquery.Node) []*xmlquery.Node {
	var out []*xmlquery.Node

	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == xmlquery.ElementNode {
			out = append(out, child)
		}
	}

	return out
}

// elementText concatenates the direct text content of an element, trimmed of
// surrounding whitespace.
func elementText(n *xmlquery.Node) string {
	var sb strings.Builder

	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == xmlquery.TextNode || child.Type == xmlquery.CharDataNode {
			sb.WriteString(child.Data)
		}
	}

	return strings.TrimSpace(sb.String())
}

func elementName(n *xmlquery.Node) string {
	if n.Prefix != "" {
		return n.Prefix + ":" + n.Data
	}

	return n.Data
}

func attrMap(n *xmlquery.Node) map[string]string {
	m := make(map[string]string, len(n.Attr))

	for _, a := range n.Attr {
		name := a.Name.Local
		if a.Name.Space != "" {
			name = a.Name.Space + ":" + a.Name.Local
		}

		m[name] = a.Value
	}

	return m
}

func describeElement(n *xmlquery.Node) string {
	if n == nil {
		return "none"
	}

	return "<" + elementName(n) + ">"
}
