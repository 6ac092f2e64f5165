package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/solweave/chainflow/pkg/schema"
)

// graphSchemaJSON is the structural contract for pipeline graphs. Semantic
// rules that depend on relationships between nodes (edge endpoints, cycles)
// live in the engine's graph parser; this schema only rejects malformed
// documents before they reach it.
const graphSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://chainflow.dev/schemas/graph.json",
  "type": "object",
  "required": ["nodes"],
  "additionalProperties": false,
  "properties": {
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "kind"],
        "additionalProperties": false,
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "kind": {
            "type": "string",
            "enum": [
              "projectInit",
              "sourceInput",
              "compile",
              "extractAbi",
              "extractBytecode",
              "deploy",
              "aiAudit",
              "completion"
            ]
          },
          "label": {"type": "string"},
          "payload": {"type": "object"},
          "status": {"type": "string"}
        }
      }
    },
    "metadata": {"type": "object"},
    "edges": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["source", "target"],
        "additionalProperties": false,
        "properties": {
          "id": {"type": "string"},
          "source": {"type": "string", "minLength": 1},
          "target": {"type": "string", "minLength": 1}
        }
      }
    }
  }
}`

const graphSchemaURL = "https://chainflow.dev/schemas/graph.json"

// GraphValidator validates pipeline graph documents against the embedded
// JSON Schema. The schema is compiled once at construction.
type GraphValidator struct {
	graphSchema *jsonschema.Schema
}

func NewGraphValidator() (*GraphValidator, error) {
	compiler := jsonschema.NewCompiler()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(graphSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("parse graph schema: %w", err)
	}
	if err := compiler.AddResource(graphSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("register graph schema: %w", err)
	}
	compiled, err := compiler.Compile(graphSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile graph schema: %w", err)
	}

	return &GraphValidator{graphSchema: compiled}, nil
}

// ValidateGraph checks a graph document before it is handed to the engine.
// Schema violations are reported together so a caller can surface every
// problem in one round trip.
func (v *GraphValidator) ValidateGraph(g *schema.Graph) error {
	if g == nil {
		return schema.NewError(schema.ErrCodeValidation, "graph is required")
	}

	value, err := toJSONValue(g)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "graph is not serializable").
			WithCause(err)
	}
	if err := v.graphSchema.Validate(value); err != nil {
		return toFlowError(err)
	}

	// Duplicate node IDs pass the schema but make the graph ambiguous.
	seen := make(map[string]bool, len(g.Nodes))
	for _, node := range g.Nodes {
		if seen[node.ID] {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"duplicate node id %q", node.ID)
		}
		seen[node.ID] = true
	}
	return nil
}

// ValidateGraphJSON parses raw JSON and validates it as a graph document.
// The decoded graph is returned so callers avoid a second unmarshal.
func (v *GraphValidator) ValidateGraphJSON(raw []byte) (*schema.Graph, error) {
	var g schema.Graph
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&g); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "graph JSON is malformed").
			WithCause(err)
	}
	if err := v.ValidateGraph(&g); err != nil {
		return nil, err
	}
	return &g, nil
}

// toJSONValue round-trips a Go value through encoding/json so the schema
// library sees plain maps and json.Number instead of struct types.
func toJSONValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func toFlowError(err error) *schema.FlowError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}
	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}
	msg := fmt.Sprintf("graph validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf messages,
// which carry the most specific instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}
	var out []string
	for _, cause := range verr.Causes {
		out = append(out, collectViolations(cause)...)
	}
	return out
}
