package model

import (
	"encoding/json"
	"maps"
)

// Keys under which raw text is stored when a payload is not a JSON object.
const (
	RawArgumentsKey = "raw_arguments"
	RawOutputKey    = "value"
)

// PayloadKind tags the representation held by a Payload.
type PayloadKind uint8

const (
	PayloadStructured PayloadKind = iota
	PayloadRaw
)

// Payload is a tool argument or output. It is either a structured mapping or
// raw text that could not be parsed as one; raw text is never dropped.
type Payload struct {
	kind   PayloadKind
	fields map[string]any
	raw    string
	rawKey string
}

// Structured returns a payload holding m. A nil map is treated as empty.
func Structured(m map[string]any) Payload {
	if m == nil {
		m = map[string]any{}
	}
	return Payload{kind: PayloadStructured, fields: m}
}

// Raw returns a payload holding unparsed text. key names the single field
// the text is rendered under when the payload is serialized.
func Raw(key, text string) Payload {
	return Payload{kind: PayloadRaw, raw: text, rawKey: key}
}

func (p Payload) Kind() PayloadKind { return p.kind }

// Fields returns the structured mapping, or nil for raw payloads.
func (p Payload) Fields() map[string]any {
	if p.kind != PayloadStructured {
		return nil
	}
	return p.fields
}

// Text returns the raw text, or "" for structured payloads.
func (p Payload) Text() string { return p.raw }

// Map renders the payload as a mapping. Raw payloads become a single-field
// mapping under their raw key.
func (p Payload) Map() map[string]any {
	if p.kind == PayloadRaw {
		return map[string]any{p.rawKey: p.raw}
	}
	if p.fields == nil {
		return map[string]any{}
	}
	return maps.Clone(p.fields)
}

// MarshalJSON encodes the mapping form.
func (p Payload) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Map())
}

// UnmarshalJSON decodes a stored mapping. Payloads read back from storage
// are always structured.
func (p *Payload) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	*p = Structured(m)
	return nil
}
