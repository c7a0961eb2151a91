package models

import (
	"database/sql/driver"
	"encoding/json"
)

// JSONMap is a type alias for map[string]interface{} that implements sql.Scanner and driver.Valuer
type JSONMap map[string]interface{}

// Value implements driver.Valuer for JSONMap
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for JSONMap
func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, (*map[string]interface{})(m))
	case string:
		return json.Unmarshal([]byte(v), (*map[string]interface{})(m))
	default:
		return json.Unmarshal([]byte(v.(string)), (*map[string]interface{})(m))
	}
}

// Clone returns a deep copy of the map
func (m JSONMap) Clone() JSONMap {
	if m == nil {
		return nil
	}
	copied := DeepCopyValue(map[string]interface{}(m))
	return JSONMap(copied.(map[string]interface{}))
}
