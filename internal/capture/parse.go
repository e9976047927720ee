package capture

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

var ErrUnparseable = errors.New("la respuesta no contiene JSON válido")

const extractionSchemaURL = "https://ignisos.dev/schemas/extraction.json"

const extractionSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"tasks": {
			"items": {"type": "object"}
		}
	}
}`

var schema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(extractionSchema))
	if err != nil {
		panic(fmt.Sprintf("capture: extraction schema: %v", err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(extractionSchemaURL, doc); err != nil {
		panic(fmt.Sprintf("capture: add extraction schema: %v", err))
	}
	compiled, err := compiler.Compile(extractionSchemaURL)
	if err != nil {
		panic(fmt.Sprintf("capture: compile extraction schema: %v", err))
	}
	return compiled
}

// ParseExtraction reads the completion content and returns the raw task
// objects it lists.
//
// The content is first parsed as a whole. When that fails, brace-balanced
// {...} spans are tried in order of appearance and the first one that is a
// JSON object with a "tasks" key is used. A document without "tasks" yields
// no tasks, and so does a "tasks" value that is not an array. An array holding
// anything other than objects is an error.
func ParseExtraction(content string) ([]map[string]any, error) {
	doc, err := decodeObject(content)
	if err != nil {
		doc = nil
		for _, candidate := range balancedObjects(content) {
			parsed, err := decodeObject(candidate)
			if err != nil {
				continue
			}
			if _, ok := parsed["tasks"]; ok {
				doc = parsed
				break
			}
		}
		if doc == nil {
			return nil, ErrUnparseable
		}
	}

	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}

	rawTasks, _ := doc["tasks"].([]any)
	tasks := make([]map[string]any, 0, len(rawTasks))
	for _, raw := range rawTasks {
		if item, ok := raw.(map[string]any); ok {
			tasks = append(tasks, item)
		}
	}
	return tasks, nil
}

func decodeObject(text string) (map[string]any, error) {
	value, err := jsonschema.UnmarshalJSON(strings.NewReader(strings.TrimSpace(text)))
	if err != nil {
		return nil, err
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, errors.New("not a JSON object")
	}
	return obj, nil
}

// balancedObjects returns every brace-balanced span that starts at a '{'
// outside of a JSON string, in order of their opening brace.
func balancedObjects(text string) []string {
	src := []byte(text)
	var out []string
	for start := bytes.IndexByte(src, '{'); start >= 0; {
		if end := matchBrace(src, start); end > start {
			out = append(out, string(src[start:end+1]))
		}
		next := bytes.IndexByte(src[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return out
}

func matchBrace(src []byte, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(src); i++ {
		c := src[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
