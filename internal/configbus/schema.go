package configbus

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Document is the generic form of a section: a JSON-compatible map.
type Document map[string]any

// Schema describes one section: its name, default value, and how to turn an
// arbitrary payload into a validated canonical document.
type Schema struct {
	Name      string
	defaults  func() (Document, error)
	normalize func(Document) (Document, error)
}

// NewSchema builds a schema backed by the typed struct T. Payloads are
// decoded strictly into T, so unknown keys and wrong types are rejected,
// then validate may reject or adjust the value before it is re-encoded.
func NewSchema[T any](name string, defaults T, validate func(*T) error) Schema {
	normalize := func(doc Document) (Document, error) {
		value, err := Decode[T](doc)
		if err != nil {
			return nil, err
		}
		if validate != nil {
			if err := validate(&value); err != nil {
				return nil, err
			}
		}
		return toDocument(value)
	}
	return Schema{
		Name: name,
		defaults: func() (Document, error) {
			return normalize(mustDocument(defaults))
		},
		normalize: normalize,
	}
}

// Decode converts a section document into its typed form.
func Decode[T any](doc Document) (T, error) {
	var value T
	raw, err := json.Marshal(doc)
	if err != nil {
		return value, fmt.Errorf("encode document: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&value); err != nil {
		return value, err
	}
	return value, nil
}

func toDocument(value any) (Document, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode section: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode section: %w", err)
	}
	return doc, nil
}

func mustDocument(value any) Document {
	doc, err := toDocument(value)
	if err != nil {
		panic(err)
	}
	return doc
}

func cloneDocument(doc Document) Document {
	if doc == nil {
		return nil
	}
	return cloneValue(map[string]any(doc)).(map[string]any)
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = cloneValue(item)
		}
		return out
	case Document:
		return cloneValue(map[string]any(v))
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
