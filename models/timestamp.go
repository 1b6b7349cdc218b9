package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// parseTimestamp accepts RFC3339 strings and epoch milliseconds, the format older
// data.json files were written with. null and missing values yield the zero time.
func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, nil
	}
	if raw[0] == '"' {
		var t time.Time
		if err := json.Unmarshal(raw, &t); err != nil {
			return time.Time{}, err
		}
		return t, nil
	}

	var ms float64
	if err := json.Unmarshal(raw, &ms); err != nil {
		return time.Time{}, fmt.Errorf("timestamp %s: want RFC3339 string or epoch milliseconds", raw)
	}
	return time.UnixMilli(int64(ms)).UTC(), nil
}

func (e *SeenEntry) UnmarshalJSON(data []byte) error {
	type plain SeenEntry
	aux := struct {
		*plain
		FirstSeenAt json.RawMessage `json:"ts"`
	}{plain: (*plain)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	t, err := parseTimestamp(aux.FirstSeenAt)
	if err != nil {
		return err
	}
	e.FirstSeenAt = t
	return nil
}

func (s *Search) UnmarshalJSON(data []byte) error {
	type plain Search
	aux := struct {
		*plain
		CreatedAt json.RawMessage `json:"createdAt"`
	}{plain: (*plain)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	t, err := parseTimestamp(aux.CreatedAt)
	if err != nil {
		return err
	}
	s.CreatedAt = t
	return nil
}
