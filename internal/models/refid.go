package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// RefID is an identifier the API may encode as a JSON string, number, or null.
type RefID string

// UnmarshalJSON accepts "12", 12 and null.
func (r *RefID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*r = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = RefID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*r = RefID(n.String())
	return nil
}

func (r RefID) String() string { return string(r) }
