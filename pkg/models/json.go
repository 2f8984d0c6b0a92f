package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jsenecal/netbox-notices/pkg/messaging"
)

// JSON column wrappers for the structured fields our models persist.
// These work with both PostgreSQL JSONB and SQLite JSON columns, avoiding
// a gorm.io/datatypes dependency.

func scanJSONBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, errors.New("unsupported JSON column type")
	}
}

// StringMap stores a map[string]string as a JSON object.
type StringMap map[string]string

func (m StringMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshaling string map: %w", err)
	}
	return string(data), nil
}

func (m *StringMap) Scan(value interface{}) error {
	data, err := scanJSONBytes(value)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		*m = StringMap{}
		return nil
	}
	return json.Unmarshal(data, m)
}

// StringList stores a []string as a JSON array.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("marshaling string list: %w", err)
	}
	return string(data), nil
}

func (l *StringList) Scan(value interface{}) error {
	data, err := scanJSONBytes(value)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(data, l)
}

// Int64List stores a []int64 as a JSON array. Used for the mutable contact
// selection on draft messages.
type Int64List []int64

func (l Int64List) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("marshaling id list: %w", err)
	}
	return string(data), nil
}

func (l *Int64List) Scan(value interface{}) error {
	data, err := scanJSONBytes(value)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(data, l)
}

// RecipientList stores the immutable recipient snapshot as a JSON array.
type RecipientList []messaging.Recipient

func (l RecipientList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("marshaling recipients: %w", err)
	}
	return string(data), nil
}

func (l *RecipientList) Scan(value interface{}) error {
	data, err := scanJSONBytes(value)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(data, l)
}
