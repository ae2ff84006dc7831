package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONText is a raw JSON column value. It round-trips through JSONB without
// forcing a concrete shape at scan time.
type JSONText json.RawMessage

// MarshalJSON returns the stored document as-is.
func (j JSONText) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

// UnmarshalJSON stores the document as-is.
func (j *JSONText) UnmarshalJSON(data []byte) error {
	*j = append((*j)[0:0], data...)
	return nil
}

// Value implements driver.Valuer.
func (j JSONText) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return []byte(j), nil
}

// Scan implements sql.Scanner.
func (j *JSONText) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*j = nil
		return nil
	case []byte:
		*j = append((*j)[0:0], v...)
		return nil
	case string:
		*j = JSONText(v)
		return nil
	default:
		return fmt.Errorf("JSONText.Scan: expected []byte or string, got %T", src)
	}
}

// Unmarshal decodes the stored document into dest.
func (j JSONText) Unmarshal(dest any) error {
	if len(j) == 0 {
		return nil
	}
	return json.Unmarshal([]byte(j), dest)
}

// MarshalJSONText encodes v for storage in a JSONB column.
func MarshalJSONText(v any) (JSONText, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return JSONText(b), nil
}
