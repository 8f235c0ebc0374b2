// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/poiesic/plansight/core"
)

// maxJSONAttempts bounds retries for responses that do not parse.
const maxJSONAttempts = 3

// ErrMalformedJSON indicates a model response that is not valid JSON or does
// not match the expected schema.
var ErrMalformedJSON = errors.New("malformed JSON response")

// Schema is a compiled JSON schema for model responses.
type Schema struct {
	schema *jsonschema.Schema
}

// CompileSchema compiles a JSON schema document.
func CompileSchema(name string, doc map[string]any) (*Schema, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Schema{schema: schema}, nil
}

// MustCompileSchema is like CompileSchema but panics on error.
// Intended for package-level schema literals.
func MustCompileSchema(name string, doc map[string]any) *Schema {
	s, err := CompileSchema(name, doc)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate checks data against the schema.
func (s *Schema) Validate(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedJSON, err)
	}
	if err := s.schema.Validate(v); err != nil {
		return fmt.Errorf("%w: json does not match schema: %w", ErrMalformedJSON, err)
	}
	return nil
}

// CleanJSON strips markdown code fences and repairs unquoted keys.
func CleanJSON(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	return repairJSON(text)
}

// DecodeJSON cleans text, validates it against schema when one is given,
// and unmarshals it into v.
func DecodeJSON(text string, schema *Schema, v any) error {
	cleaned := []byte(CleanJSON(text))
	if schema != nil {
		if err := schema.Validate(cleaned); err != nil {
			return err
		}
	}
	if err := json.Unmarshal(cleaned, v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedJSON, err)
	}
	return nil
}

// GenerateJSON requests a JSON response and decodes it into v, asking again
// up to maxJSONAttempts times when the response does not parse.
func GenerateJSON(ctx context.Context, gen Generator, req GenerateRequest, schema *Schema, v any) (*GenerateResponse, error) {
	req.JSON = true

	var lastErr error
	for attempt := 0; attempt < maxJSONAttempts; attempt++ {
		resp, err := gen.Generate(ctx, req)
		if err != nil {
			return nil, err
		}
		if err := DecodeJSON(resp.Text, schema, v); err != nil {
			lastErr = err
			continue
		}
		return resp, nil
	}
	return nil, core.ExternalServiceError("llm", lastErr)
}

// repairJSON attempts to fix common JSON formatting issues from LLM responses.
// It specifically handles missing opening quotes before keys in JSON objects.
func repairJSON(s string) string {
	// Pattern: after { or , followed by optional whitespace, then a word followed by ":
	// Example: `, type":` -> `, "type":`
	result := []rune(s)
	fixed := make([]rune, 0, len(result)+100)

	i := 0
	for i < len(result) {
		ch := result[i]
		if ch != '{' && ch != ',' {
			fixed = append(fixed, ch)
			i++
			continue
		}

		fixed = append(fixed, ch)
		i++

		// Skip whitespace
		for i < len(result) && (result[i] == ' ' || result[i] == '\n' || result[i] == '\t') {
			fixed = append(fixed, result[i])
			i++
		}

		if i >= len(result) || result[i] == '"' || !isLetter(result[i]) {
			continue
		}

		keyStart := i
		for i < len(result) && (isLetter(result[i]) || result[i] == '_') {
			i++
		}
		if i+1 < len(result) && result[i] == '"' && result[i+1] == ':' {
			fixed = append(fixed, '"')
		}
		fixed = append(fixed, result[keyStart:i]...)
	}

	return string(fixed)
}

// isLetter returns true if the rune is an ASCII letter.
func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
