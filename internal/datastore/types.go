// types.go custom column types serialized as JSON text
package datastore

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// FloatArray stores a float64 slice in a single text column. Spectra carry
// thousands of samples per array, so a JSON text column beats one row per
// sample by a wide margin on both backends.
type FloatArray []float64

// Value implements driver.Valuer
func (a FloatArray) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	b, err := json.Marshal([]float64(a))
	if err != nil {
		return nil, fmt.Errorf("failed to encode float array: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (a *FloatArray) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*a = nil
		return nil
	case []byte:
		return json.Unmarshal(v, (*[]float64)(a))
	case string:
		return json.Unmarshal([]byte(v), (*[]float64)(a))
	default:
		return fmt.Errorf("unsupported scan type for FloatArray: %T", src)
	}
}

// StringList stores a string slice in a single text column, used for token
// ACLs and analysis service input data types.
type StringList []string

// Value implements driver.Valuer
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, fmt.Errorf("failed to encode string list: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (l *StringList) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		return json.Unmarshal(v, (*[]string)(l))
	case string:
		return json.Unmarshal([]byte(v), (*[]string)(l))
	default:
		return fmt.Errorf("unsupported scan type for StringList: %T", src)
	}
}

// Contains reports whether the list holds the given entry.
func (l StringList) Contains(s string) bool {
	for _, e := range l {
		if e == s {
			return true
		}
	}
	return false
}

// IDList stores a list of row ids in a single text column, used for the
// target groups of a followup request.
type IDList []uint

// Value implements driver.Valuer
func (l IDList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	b, err := json.Marshal([]uint(l))
	if err != nil {
		return nil, fmt.Errorf("failed to encode id list: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (l *IDList) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		return json.Unmarshal(v, (*[]uint)(l))
	case string:
		return json.Unmarshal([]byte(v), (*[]uint)(l))
	default:
		return fmt.Errorf("unsupported scan type for IDList: %T", src)
	}
}

// Contains reports whether the list holds the given id.
func (l IDList) Contains(id uint) bool {
	for _, e := range l {
		if e == id {
			return true
		}
	}
	return false
}
