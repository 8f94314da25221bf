package mcp

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// validateArgs checks tool-call arguments against the tool's input
// schema before anything is written to the wire. Tools without a usable
// schema accept any arguments — servers are not required to publish one.
func validateArgs(tool Tool, args map[string]any) error {
	if len(tool.InputSchema) == 0 {
		return nil
	}

	if args == nil {
		args = map[string]any{}
	}

	schema := gojsonschema.NewGoLoader(tool.InputSchema)
	document := gojsonschema.NewGoLoader(args)

	result, err := gojsonschema.Validate(schema, document)
	if err != nil {
		// A schema the library cannot compile is the server's problem,
		// not the caller's. Let the server judge the arguments.
		return nil
	}

	if result.Valid() {
		return nil
	}

	var problems []string
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	return fmt.Errorf("invalid arguments: %s", strings.Join(problems, "; "))
}
