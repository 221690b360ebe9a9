// Package models provides data model definitions for the POS sync subsystem.
package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Collection names owned by the sync subsystem.
const (
	CollectionSyncQueue    = "sync_queue"
	CollectionDeletedItems = "sync_deleted_items"
	CollectionSyncLogs     = "sync_logs"
	CollectionSettings     = "settings"
)

// Transport discriminators attached to assembled records.
const (
	FieldAction     = "_action"
	FieldEntityType = "_entity_type"
)

// Record is a schemaless JSON document as kept by the local store and
// shipped to the remote spreadsheet.
type Record map[string]interface{}

// ID returns the record's "id" field as a string.
func (r Record) ID() string {
	return r.String("id")
}

// String returns field as a string; numbers are formatted without exponent.
func (r Record) String(field string) string {
	v, ok := r[field]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// Float returns field as a float64, or 0 when absent or not numeric.
func (r Record) Float(field string) float64 {
	switch t := r[field].(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case json.Number:
		f, _ := t.Float64()
		return f
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Encode converts a typed model into a Record via its JSON form.
func Encode(v interface{}) (Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return rec, nil
}

// Decode converts a Record into a typed model via its JSON form.
func Decode(rec Record, v interface{}) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return nil
}

// UnixMillis returns t as milliseconds since the epoch.
func UnixMillis(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}

// MillisTime converts epoch milliseconds back into a time.Time.
func MillisTime(ms int64) time.Time {
	return time.Unix(0, ms*int64(time.Millisecond))
}
