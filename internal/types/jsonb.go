package types

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

var (
	_ sql.Scanner   = (*JSONMap)(nil)
	_ driver.Valuer = JSONMap(nil)
	_ sql.Scanner   = (*TriggerRuleList)(nil)
	_ driver.Valuer = TriggerRuleList(nil)
)

// scanJSONB decodes a JSONB column into dest. Drivers hand JSONB over as
// either []byte or string.
func scanJSONB(dest any, value any) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("jsonb: unsupported scan type %T", value)
	}
	return json.Unmarshal(data, dest)
}

// JSONMap is free-form metadata stored as a JSONB object.
type JSONMap map[string]any

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	return scanJSONB(m, value)
}

// Value implements driver.Valuer. A nil map is stored as SQL NULL.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(map[string]any(m))
}

// Clone returns a shallow copy so callers can mutate metadata without
// touching a snapshot taken for auditing.
func (m JSONMap) Clone() JSONMap {
	if m == nil {
		return nil
	}
	out := make(JSONMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// TriggerRuleList is the JSONB-encoded rule set of a ReminderPolicy.
type TriggerRuleList []TriggerRule

// Scan implements sql.Scanner.
func (l *TriggerRuleList) Scan(value any) error {
	if value == nil {
		*l = nil
		return nil
	}
	return scanJSONB(l, value)
}

// Value implements driver.Valuer. An empty list is stored as '[]' so the
// NOT NULL column constraint holds.
func (l TriggerRuleList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]TriggerRule(l))
}

// Matching returns the rules that fire for trigger, in declaration order.
func (l TriggerRuleList) Matching(trigger ReminderTrigger) []TriggerRule {
	var out []TriggerRule
	for _, r := range l {
		if r.Trigger == trigger {
			out = append(out, r)
		}
	}
	return out
}
