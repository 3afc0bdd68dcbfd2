package agent

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"

	invopop "github.com/invopop/jsonschema"
	"github.com/kaptinlin/jsonrepair"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// outputSchema is the reflected JSON schema of a stage output type: the wire
// form sent to the model and the compiled form used to validate replies.
type outputSchema struct {
	name      string
	wire      json.RawMessage
	validator *jsonschema.Schema
}

var schemaCache sync.Map // reflect.Type -> *outputSchema

// ReflectSchema returns the JSON schema of v's type without the $schema
// keyword. Fields without omitempty are required.
func ReflectSchema(v any) (json.RawMessage, error) {
	return reflectType(reflect.TypeOf(v))
}

func reflectType(t reflect.Type) (json.RawMessage, error) {
	r := &invopop.Reflector{DoNotReference: true, Anonymous: true}
	s := r.ReflectFromType(t)
	s.Version = ""
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("agent: marshal schema for %s: %w", t, err)
	}
	return b, nil
}

func schemaFor(t reflect.Type) (*outputSchema, error) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if cached, ok := schemaCache.Load(t); ok {
		return cached.(*outputSchema), nil
	}

	wire, err := reflectType(t)
	if err != nil {
		return nil, err
	}
	url := "kiko://schemas/" + t.PkgPath() + "/" + t.Name()
	compiled, err := jsonschema.CompileString(url, string(wire))
	if err != nil {
		return nil, fmt.Errorf("agent: compile schema for %s: %w", t, err)
	}
	s := &outputSchema{name: schemaName(t), wire: wire, validator: compiled}
	actual, _ := schemaCache.LoadOrStore(t, s)
	return actual.(*outputSchema), nil
}

// schemaName derives a response format name matching ^[a-zA-Z0-9_-]+$.
func schemaName(t reflect.Type) string {
	name := t.Name()
	if name == "" {
		return "output"
	}
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// decodeOutput parses a final model reply into out. Malformed JSON is
// repaired before giving up; null members are treated as absent; the result
// must satisfy the reflected schema and, when out implements it, Validate.
func (s *outputSchema) decodeOutput(content string, out any) error {
	doc, err := parseLenient(content)
	if err != nil {
		return err
	}
	doc = dropNulls(doc)
	if err := s.validator.Validate(doc); err != nil {
		return fmt.Errorf("output does not match schema: %w", err)
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("re-encode output: %w", err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode output: %w", err)
	}
	if v, ok := out.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("invalid output: %w", err)
		}
	}
	return nil
}

// parseLenient decodes text as JSON, falling back to jsonrepair.
func parseLenient(text string) (any, error) {
	var doc any
	if err := json.Unmarshal([]byte(text), &doc); err == nil {
		return doc, nil
	}
	repaired, err := jsonrepair.JSONRepair(text)
	if err != nil {
		return nil, fmt.Errorf("output is not JSON: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), &doc); err != nil {
		return nil, fmt.Errorf("repaired output is not JSON: %w", err)
	}
	return doc, nil
}

// dropNulls removes null object members recursively.
func dropNulls(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, val := range x {
			if val == nil {
				delete(x, k)
				continue
			}
			x[k] = dropNulls(val)
		}
		return x
	case []any:
		for i := range x {
			x[i] = dropNulls(x[i])
		}
		return x
	default:
		return v
	}
}
