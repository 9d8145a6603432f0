package models

import (
	"strconv"
	"strings"
	"time"
)

// Collection names as stored upstream.
const (
	CollectionQueues              = "queue generation"
	CollectionTokens              = "queue_token"
	CollectionParticipantProducts = "participantsproduct"
	CollectionEventParticipations = "event participation request"
	CollectionArenaEvents         = "arena events"
)

// Document is one loosely-typed record from the record store.
type Document struct {
	ID        string         `json:"id"`
	Data      map[string]any `json:"data"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// String returns the field as a trimmed string. Non-string values yield "".
func (d Document) String(field string) string {
	v, ok := d.Data[field].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

// FirstString returns the first non-empty string among fields.
func (d Document) FirstString(fields ...string) string {
	for _, f := range fields {
		if s := d.String(f); s != "" {
			return s
		}
	}
	return ""
}

// Time parses the field as RFC3339 text or unix seconds. ok is false when absent or unparseable.
func (d Document) Time(field string) (time.Time, bool) {
	switch v := d.Data[field].(type) {
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t, true
		}
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Unix(n, 0).UTC(), true
		}
	case float64:
		return time.Unix(int64(v), 0).UTC(), true
	case int64:
		return time.Unix(v, 0).UTC(), true
	case int:
		return time.Unix(int64(v), 0).UTC(), true
	}
	return time.Time{}, false
}
