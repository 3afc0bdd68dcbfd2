package runrecord

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/kiko-hq/kiko/internal/model"
)

// ParseArguments converts raw tool-call arguments into a Payload. Empty text
// is an empty mapping; text that is not a JSON object is kept as raw text.
func ParseArguments(v any) model.Payload {
	if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
		return model.Structured(nil)
	}
	return parse(v, model.RawArgumentsKey)
}

// ParseOutput converts a raw tool output into a Payload.
func ParseOutput(v any) model.Payload {
	return parse(v, model.RawOutputKey)
}

func parse(v any, rawKey string) model.Payload {
	switch x := v.(type) {
	case nil:
		return model.Structured(nil)
	case map[string]any:
		return model.Structured(x)
	case json.RawMessage:
		return parseText(string(x), rawKey)
	case []byte:
		return parseText(string(x), rawKey)
	case string:
		return parseText(x, rawKey)
	default:
		// Other mappings and structs go through their JSON form; anything
		// that is not an object ends up raw under rawKey.
		b, err := json.Marshal(x)
		if err != nil {
			return model.Raw(rawKey, fmt.Sprint(x))
		}
		if m, ok := decodeObject(string(b)); ok {
			return model.Structured(m)
		}
		return model.Raw(rawKey, string(b))
	}
}

// parseText decodes text as a JSON object, retrying through jsonrepair.
func parseText(text, rawKey string) model.Payload {
	if m, ok := decodeObject(text); ok {
		return model.Structured(m)
	}
	if repaired, err := jsonrepair.JSONRepair(text); err == nil {
		if m, ok := decodeObject(repaired); ok {
			return model.Structured(m)
		}
	}
	return model.Raw(rawKey, text)
}

func decodeObject(text string) (map[string]any, bool) {
	var m map[string]any
	if err := json.Unmarshal([]byte(text), &m); err != nil || m == nil {
		return nil, false
	}
	return m, true
}
