package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

// VisibilityCondition maps a variable name to its allowed values. Values of
// one variable are OR-ed, variables are AND-ed. A nil condition is always
// visible.
type VisibilityCondition map[string][]string

// Variables returns the condition's variable names in sorted order.
func (c VisibilityCondition) Variables() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate reports structural defects: empty variable names or empty
// allowed-value sets.
func (c VisibilityCondition) Validate() error {
	for _, name := range c.Variables() {
		if name == "" {
			return &VisibilityConditionError{Reason: "empty variable name"}
		}
		if len(c[name]) == 0 {
			return &VisibilityConditionError{Variable: name, Reason: "empty allowed-value set"}
		}
	}
	return nil
}

// ParseVisibilityCondition decodes a JSON condition document as stored in the
// catalog. Each value may be a scalar or a list of scalars.
func ParseVisibilityCondition(raw []byte) (VisibilityCondition, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &VisibilityConditionError{Reason: "invalid JSON: " + err.Error()}
	}
	return conditionFromAny(doc)
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *VisibilityCondition) UnmarshalJSON(data []byte) error {
	parsed, err := ParseVisibilityCondition(data)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (c *VisibilityCondition) UnmarshalYAML(node *yaml.Node) error {
	var doc any
	if err := node.Decode(&doc); err != nil {
		return &VisibilityConditionError{Reason: "invalid YAML: " + err.Error()}
	}
	parsed, err := conditionFromAny(doc)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func conditionFromAny(doc any) (VisibilityCondition, error) {
	if doc == nil {
		return nil, nil
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, &VisibilityConditionError{Reason: fmt.Sprintf("expected an object, got %T", doc)}
	}
	if len(obj) == 0 {
		return nil, nil
	}

	cond := make(VisibilityCondition, len(obj))
	for name, v := range obj {
		var values []string
		switch tv := v.(type) {
		case []any:
			for _, item := range tv {
				s, ok := CanonicalString(item)
				if !ok {
					return nil, &VisibilityConditionError{Variable: name, Reason: fmt.Sprintf("unsupported value type %T", item)}
				}
				values = append(values, s)
			}
		default:
			s, ok := CanonicalString(v)
			if !ok {
				return nil, &VisibilityConditionError{Variable: name, Reason: fmt.Sprintf("unsupported value type %T", v)}
			}
			values = []string{s}
		}
		cond[name] = values
	}
	if err := cond.Validate(); err != nil {
		return nil, err
	}
	return cond, nil
}

// CanonicalString renders a scalar variable value the way conditions compare
// it. Numbers use the shortest decimal form, so 6 and 6.0 both become "6".
func CanonicalString(v any) (string, bool) {
	switch tv := v.(type) {
	case string:
		return tv, true
	case bool:
		return strconv.FormatBool(tv), true
	case float64:
		return strconv.FormatFloat(tv, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(tv), 'f', -1, 64), true
	case int:
		return strconv.Itoa(tv), true
	case int32:
		return strconv.FormatInt(int64(tv), 10), true
	case int64:
		return strconv.FormatInt(tv, 10), true
	case uint:
		return strconv.FormatUint(uint64(tv), 10), true
	case uint64:
		return strconv.FormatUint(tv, 10), true
	case json.Number:
		if f, err := tv.Float64(); err == nil {
			return strconv.FormatFloat(f, 'f', -1, 64), true
		}
		return tv.String(), true
	default:
		return "", false
	}
}
