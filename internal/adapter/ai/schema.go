package ai

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// SchemaFor renders the JSON schema of T for structured-output prompts.
// Panics on marshal failure; schemas are derived from static types, so a
// failure is a programming error caught at init time.
func SchemaFor[T any]() string {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	var v T
	schema := r.Reflect(&v)
	b, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("ai.SchemaFor: %v", err))
	}
	return string(b)
}

// DecodeJSON parses a structured-output completion into T, tolerating a
// markdown code fence around the object.
func DecodeJSON[T any](completion string) (T, error) {
	var out T
	s := stripFence(completion)
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return out, fmt.Errorf("op=ai.DecodeJSON: %w", err)
	}
	return out, nil
}

func stripFence(s string) string {
	// find the outermost JSON object; handles ```json ... ``` and prose
	start := -1
	depth := 0
	for i, r := range s {
		switch r {
		case '{':
			if start == -1 {
				start = i
			}
			depth++
		case '}':
			if start != -1 {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return s
}
