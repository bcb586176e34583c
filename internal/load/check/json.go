package check

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"

	"github.com/wesleyorama2/surge/internal/http"
)

// JSONPathEquals passes when the value at Path in a JSON body renders as Value.
//
// Path accepts JSONPath ($.users[0].name) or gjson syntax (users.0.name).
type JSONPathEquals struct {
	Path  string
	Value string
}

func (p JSONPathEquals) Name() string     { return fmt.Sprintf("json %s == %q", p.Path, p.Value) }
func (p JSONPathEquals) Expected() string { return strconv.Quote(p.Value) }
func (p JSONPathEquals) subject() string  { return "json " + p.Path }

func (p JSONPathEquals) Test(resp *http.Response) (string, bool) {
	if !gjson.ValidBytes(resp.Body) {
		return "<invalid json>", false
	}
	result := gjson.GetBytes(resp.Body, gjsonPath(p.Path))
	if !result.Exists() {
		return "<missing>", false
	}
	actual := result.String()
	if result.Type == gjson.Null {
		actual = "null"
	}
	return strconv.Quote(actual), actual == p.Value
}

// gjsonPath converts a JSONPath expression into gjson path syntax.
func gjsonPath(path string) string {
	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return "@this"
	}

	replacer := strings.NewReplacer(`['`, ".", `']`, "", `["`, ".", `"]`, "", "[", ".", "]", "")
	path = replacer.Replace(path)
	return strings.TrimPrefix(path, ".")
}

// BodyMatchesSchema passes when the JSON body validates against a JSON Schema.
type BodyMatchesSchema struct {
	source string
	schema *jsonschema.Schema
}

// NewBodyMatchesSchema compiles schema; an invalid schema is a construction error.
func NewBodyMatchesSchema(schema string) (*BodyMatchesSchema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return &BodyMatchesSchema{source: schema, schema: compiled}, nil
}

func (p *BodyMatchesSchema) Name() string     { return "body matches schema" }
func (p *BodyMatchesSchema) Expected() string { return "valid document" }
func (p *BodyMatchesSchema) subject() string  { return "body" }

func (p *BodyMatchesSchema) Test(resp *http.Response) (string, bool) {
	var doc interface{}
	if err := json.Unmarshal(resp.Body, &doc); err != nil {
		return "invalid JSON", false
	}
	if err := p.schema.Validate(doc); err != nil {
		if ve, ok := err.(*jsonschema.ValidationError); ok {
			return firstCause(ve), false
		}
		return err.Error(), false
	}
	return "valid document", true
}

// firstCause returns the deepest, most specific validation message.
func firstCause(err *jsonschema.ValidationError) string {
	for len(err.Causes) > 0 {
		err = err.Causes[0]
	}
	return fmt.Sprintf("invalid at %q: %s", err.InstanceLocation, err.Message)
}
