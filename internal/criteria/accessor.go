package criteria

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// FieldAccessor extracts one criterion's raw value from an item's attribute
// map. The second return is false when the attribute is absent.
type FieldAccessor func(attrs map[string]interface{}) (float64, bool)

// BuildAccessors compiles a typed accessor per active criterion at
// configuration-load time, so bad data_source references fail here rather
// than mid-batch.
func BuildAccessors(cfg *Configuration) (map[string]FieldAccessor, error) {
	accessors := make(map[string]FieldAccessor)
	for _, cr := range cfg.ActiveCriteria() {
		if cr.DataSource == "" {
			return nil, &ConfigurationError{Msg: fmt.Sprintf("criterion %q has empty data_source", cr.ID)}
		}
		acc, err := accessorFor(cr)
		if err != nil {
			return nil, err
		}
		accessors[cr.ID] = acc
	}
	return accessors, nil
}

func accessorFor(cr Criterion) (FieldAccessor, error) {
	key := cr.DataSource
	switch cr.DataType {
	case "number", "":
		return func(attrs map[string]interface{}) (float64, bool) {
			return numericAttr(attrs, key)
		}, nil
	case "boolean":
		return func(attrs map[string]interface{}) (float64, bool) {
			v, ok := attrs[key]
			if !ok {
				return 0, false
			}
			b, ok := v.(bool)
			if !ok {
				return 0, false
			}
			if b {
				return 1, true
			}
			return 0, true
		}, nil
	case "string":
		// String attributes score by presence and length bucket; semantic
		// content is the analyzer's job, not the criteria engine's.
		return func(attrs map[string]interface{}) (float64, bool) {
			v, ok := attrs[key]
			if !ok {
				return 0, false
			}
			s, ok := v.(string)
			if !ok || s == "" {
				return 0, false
			}
			if n, err := strconv.ParseFloat(s, 64); err == nil {
				return n, true
			}
			return 1, true
		}, nil
	default:
		return nil, &ConfigurationError{
			Msg: fmt.Sprintf("criterion %q has unsupported data_type %q", cr.ID, cr.DataType),
		}
	}
}

func numericAttr(attrs map[string]interface{}, key string) (float64, bool) {
	v, ok := attrs[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
