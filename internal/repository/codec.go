package repository

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"
)

// EncodeFields converts a tagged struct (or map) into document fields. The
// "id" key is dropped since ids address documents rather than live in them.
func EncodeFields(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode fields: %w", err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("failed to encode fields: %w", err)
	}
	delete(fields, "id")
	return fields, nil
}

// DecodeDocument fills out from doc, exposing doc.ID as the "id" field.
func DecodeDocument(doc Document, out interface{}) error {
	merged := make(map[string]interface{}, len(doc.Fields)+1)
	for k, v := range doc.Fields {
		merged[k] = v
	}
	merged["id"] = doc.ID
	data, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("failed to decode document %s: %w", doc.ID, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode document %s: %w", doc.ID, err)
	}
	return nil
}

// NormalizeValue maps v onto the JSON value space (string, float64, bool, nil,
// map[string]interface{}, []interface{}) so stored values and filter values
// compare the same way regardless of the Go type that produced them.
func NormalizeValue(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// NormalizeFields applies NormalizeValue to every field.
func NormalizeFields(fields map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		nv, err := NormalizeValue(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = nv
	}
	return out, nil
}

// Matches reports whether fields satisfy every filter. Filter values must
// already be normalized.
func Matches(fields map[string]interface{}, filters []Filter) bool {
	for _, f := range filters {
		actual, present := fields[f.Field]
		if !present {
			actual = nil
		}
		if !matchOne(actual, f.Op, f.Value) {
			return false
		}
	}
	return true
}

func matchOne(actual interface{}, op FilterOp, expected interface{}) bool {
	switch op {
	case OpEqual:
		return Compare(actual, expected) == 0
	case OpNotEqual:
		return Compare(actual, expected) != 0
	case OpIn:
		list, ok := expected.([]interface{})
		if !ok {
			return false
		}
		for _, item := range list {
			if Compare(actual, item) == 0 {
				return true
			}
		}
		return false
	}

	if actual == nil || expected == nil {
		return false
	}
	c := Compare(actual, expected)
	switch op {
	case OpLess:
		return c < 0
	case OpLessEqual:
		return c <= 0
	case OpGreater:
		return c > 0
	case OpGreaterEqual:
		return c >= 0
	}
	return false
}

// Compare orders two normalized values. nil sorts first; RFC 3339 strings are
// compared as instants; values of different kinds are ordered by kind name.
func Compare(a, b interface{}) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}

	switch av := a.(type) {
	case float64:
		if bv, ok := b.(float64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case string:
		if bv, ok := b.(string); ok {
			if at, err := time.Parse(time.RFC3339Nano, av); err == nil {
				if bt, err := time.Parse(time.RFC3339Nano, bv); err == nil {
					return at.Compare(bt)
				}
			}
			return strings.Compare(av, bv)
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0
			case !av:
				return -1
			}
			return 1
		}
	}

	if reflect.DeepEqual(a, b) {
		return 0
	}
	return strings.Compare(fmt.Sprintf("%T", a), fmt.Sprintf("%T", b))
}

// SortDocuments orders docs by the query's OrderBy, falling back to id.
func SortDocuments(docs []Document, order *OrderBy) {
	sort.SliceStable(docs, func(i, j int) bool {
		if order != nil {
			c := Compare(docs[i].Fields[order.Field], docs[j].Fields[order.Field])
			if c != 0 {
				if order.Desc {
					return c > 0
				}
				return c < 0
			}
		}
		return docs[i].ID < docs[j].ID
	})
}
