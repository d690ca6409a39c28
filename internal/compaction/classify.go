package compaction

import (
	"encoding/json"
	"strconv"
)

// messageRequiredFields lists the parsed-object field names the messaging
// schema is recognized by; only the presence of these names is checked,
// not the total field count.
var messageRequiredFields = []string{"msg_id", "from_username", "to_username", "msg_type", "create_time", "content"}

// contactRequiredFields describes the contact-sync schema's recognized
// shape.
var contactRequiredFields = []string{"username"}

type recordKind int

const (
	kindUnknown recordKind = iota
	kindMessage
	kindContact
)

// classify inspects a parsed delivery body's shape and reports which
// schema it matches, if any. Deliveries matching neither are reported as
// kindUnknown so the caller can log-and-skip rather than fail the run.
func classify(parsed json.RawMessage) recordKind {
	if len(parsed) == 0 {
		return kindUnknown
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(parsed, &obj); err != nil {
		return kindUnknown
	}

	if hasAll(obj, messageRequiredFields) {
		return kindMessage
	}
	if hasAll(obj, contactRequiredFields) && !hasAny(obj, messageRequiredFields) {
		return kindContact
	}
	return kindUnknown
}

func hasAll(obj map[string]json.RawMessage, fields []string) bool {
	for _, f := range fields {
		if _, ok := obj[f]; !ok {
			return false
		}
	}
	return true
}

func hasAny(obj map[string]json.RawMessage, fields []string) bool {
	for _, f := range fields {
		if _, ok := obj[f]; ok {
			return true
		}
	}
	return false
}

// coerceSource normalizes the source field to a string regardless of
// whether the original payload carried it as an integer or a string, per
// the invariant that the canonical form is always string.
func coerceSource(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatInt(n, 10)
	}
	return string(raw)
}
