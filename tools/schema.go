package tools

import (
	"fmt"
	"sort"
	"strings"

	"github.com/m4xw311/mailtriage/errors"
	"github.com/xeipuuv/gojsonschema"
)

// stringProp describes one string argument.
func stringProp(description string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": description}
}

// requiredString is a string argument that must not be empty.
func requiredString(description string) map[string]interface{} {
	p := stringProp(description)
	p["minLength"] = 1
	return p
}

func objectSchema(props map[string]interface{}, required ...string) map[string]interface{} {
	s := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// argValidator checks tool arguments against the tool's input schema.
type argValidator struct {
	schema *gojsonschema.Schema
}

func newArgValidator(schema map[string]interface{}) (*argValidator, error) {
	s, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid input schema")
	}
	return &argValidator{schema: s}, nil
}

// check returns an empty string when args are valid, otherwise a message
// naming each offending field.
func (v *argValidator) check(args map[string]interface{}) (string, error) {
	if args == nil {
		args = map[string]interface{}{}
	}
	res, err := v.schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return "", errors.Wrapf(err, "failed to validate arguments")
	}
	if res.Valid() {
		return "", nil
	}
	var problems []string
	for _, e := range res.Errors() {
		if e.Field() == "(root)" {
			problems = append(problems, e.Description())
			continue
		}
		problems = append(problems, fmt.Sprintf("%s: %s", e.Field(), e.Description()))
	}
	sort.Strings(problems)
	return "Invalid arguments: " + strings.Join(problems, "; "), nil
}

// argString reads an optional string argument; non-strings read as empty.
func argString(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return strings.TrimSpace(v)
}
