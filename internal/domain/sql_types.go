package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StringList stores a slice of strings inside a JSON column.
type StringList []string

// Value implements driver.Valuer so StringList can be stored as JSON.
func (s StringList) Value() (driver.Value, error) {
	if len(s) == 0 {
		return []byte("[]"), nil
	}

	data, err := json.Marshal([]string(s))
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Scan implements sql.Scanner to hydrate the StringList from the database.
func (s *StringList) Scan(value any) error {
	if value == nil {
		*s = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return s.unmarshalList(v)
	case string:
		return s.unmarshalList([]byte(v))
	default:
		return fmt.Errorf("domain.StringList: unsupported type %T", value)
	}
}

func (s *StringList) unmarshalList(data []byte) error {
	if len(data) == 0 {
		*s = nil
		return nil
	}

	var parsed []string
	if err := json.Unmarshal(data, &parsed); err != nil {
		return err
	}
	*s = parsed
	return nil
}

// JSONMap stores an arbitrary JSON object inside a JSON column. It carries
// the full event payload so no upstream field is lost on persistence.
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}

	data, err := json.Marshal(map[string]any(m))
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (m *JSONMap) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return m.unmarshalMap(v)
	case string:
		return m.unmarshalMap([]byte(v))
	default:
		return fmt.Errorf("domain.JSONMap: unsupported type %T", value)
	}
}

func (m *JSONMap) unmarshalMap(data []byte) error {
	if len(data) == 0 {
		*m = nil
		return nil
	}

	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return err
	}
	*m = parsed
	return nil
}
