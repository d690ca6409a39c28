// Package rawlog implements the append-only daily raw-record log that
// backs the webhook ingestion endpoint: one newline-delimited JSON record
// per accepted delivery, serialized across concurrent writers by a
// per-day advisory lock.
package rawlog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sqrtqiezi/diting/internal/atomicfile"
	"github.com/sqrtqiezi/diting/internal/chatlakeerr"
)

// Header is one ordered header name/value pair, kept ordered (rather than
// a map) because headers may repeat and callers may care about order. It
// marshals as a 2-element JSON array (["name","value"]), matching the
// byte-exact raw-log example in spec.md §6.
type Header struct {
	Name  string
	Value string
}

func (h Header) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{h.Name, h.Value})
}

func (h *Header) UnmarshalJSON(data []byte) error {
	var pair [2]string
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	h.Name, h.Value = pair[0], pair[1]
	return nil
}

// Delivery is one webhook payload captured at the endpoint, before it is
// durably appended.
type Delivery struct {
	ReceivedAt time.Time
	ClientAddr string
	Headers    []Header
	BodyBytes  []byte
	ContentType string
}

// Record is the self-describing structured document written to the day
// log, one per line. Exactly one of ParsedObject or ParseError is set.
type Record struct {
	ReceivedAt       time.Time       `json:"received_at"`
	ClientIP         string          `json:"client_ip"`
	Headers          []Header        `json:"headers"`
	BodyText         string          `json:"body_text"`
	BodyBytesLength  int             `json:"body_bytes_length"`
	ProcessingTimeMs int64           `json:"processing_time_ms"`
	ParsedObject     json.RawMessage `json:"parsed_object,omitempty"`
	ParseError       string          `json:"parse_error,omitempty"`
}

// Writer durably appends deliveries to per-day log files under dir,
// serialized by per-day advisory locks held for at most lockTimeout.
type Writer struct {
	dir         string
	lockTimeout time.Duration

	degraded bool
}

// NewWriter returns a Writer rooted at dir, creating it if necessary.
func NewWriter(dir string, lockTimeout time.Duration) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, chatlakeerr.NewIoError(chatlakeerr.IoOther, "creating raw log directory", err)
	}
	return &Writer{dir: dir, lockTimeout: lockTimeout}, nil
}

// Degraded reports whether the last Append failed with a disk-full or
// permission error. It never resets itself to healthy; callers should
// create a fresh health probe to confirm recovery (see ops health surface).
func (w *Writer) Degraded() bool { return w.degraded }

// Append durably writes one record for delivery, returning the path it was
// appended to. The day bucket is delivery.ReceivedAt's UTC calendar date.
func (w *Writer) Append(delivery Delivery, start time.Time) (string, error) {
	var day = delivery.ReceivedAt.UTC().Format("2006-01-02")
	var logPath = filepath.Join(w.dir, day+".jsonl")
	var lockPath = filepath.Join(w.dir, ".locks", day+".lock")

	var record = buildRecord(delivery, start)
	line, err := json.Marshal(record)
	if err != nil {
		// This can only happen if BodyText somehow isn't valid UTF-8 after
		// our lossy decode below, which json.Marshal tolerates anyway; kept
		// defensive since Append must never panic on malformed input.
		return "", chatlakeerr.NewParseError("marshalling raw record", err)
	}
	line = append(line, '\n')

	err = atomicfile.WithLock(lockPath, w.lockTimeout, func() error {
		f, openErr := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if openErr != nil {
			return classifyOpenErr(openErr)
		}
		defer f.Close()

		if _, writeErr := f.Write(line); writeErr != nil {
			return classifyOpenErr(writeErr)
		}
		return f.Sync()
	})

	if err != nil {
		if ioErr, ok := err.(*chatlakeerr.IoError); ok &&
			(ioErr.Reason == chatlakeerr.IoDiskFull || ioErr.Reason == chatlakeerr.IoPermission) {
			w.degraded = true
		}
		return logPath, err
	}
	return logPath, nil
}

func classifyOpenErr(err error) error {
	if os.IsPermission(err) {
		return chatlakeerr.NewIoError(chatlakeerr.IoPermission, "writing day log", err)
	}
	if strings.Contains(err.Error(), "no space left on device") {
		return chatlakeerr.NewIoError(chatlakeerr.IoDiskFull, "writing day log", err)
	}
	return chatlakeerr.NewIoError(chatlakeerr.IoOther, "writing day log", err)
}

func buildRecord(d Delivery, start time.Time) Record {
	var record = Record{
		ReceivedAt:       d.ReceivedAt,
		ClientIP:         d.ClientAddr,
		Headers:          d.Headers,
		BodyText:         lossyDecode(d.BodyBytes),
		BodyBytesLength:  len(d.BodyBytes),
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}

	parsed, parseErr := parseBody(d.BodyBytes, d.ContentType)
	if parseErr != nil {
		record.ParseError = parseErr.Error()
	} else {
		record.ParsedObject = parsed
	}
	return record
}

// lossyDecode never fails: invalid UTF-8 bytes are replaced, never dropped,
// so binary payloads are still preserved as readable text alongside the
// exact byte length.
func lossyDecode(body []byte) string {
	if bytes.HasPrefix(body, []byte{0xEF, 0xBB, 0xBF}) {
		body = body[3:]
	}
	return strings.ToValidUTF8(string(body), "�")
}

// parseBody attempts a structured decode of body as JSON, then as
// form-urlencoded, matching the two shapes spec.md names as recognized
// structured formats. Any other shape returns a parse error, never panics.
func parseBody(body []byte, contentType string) (json.RawMessage, error) {
	var trimmed = bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty body")
	}

	if looksLikeJSON(trimmed) {
		var v interface{}
		if err := json.Unmarshal(trimmed, &v); err == nil {
			return json.RawMessage(trimmed), nil
		}
	}

	mediaType, _, _ := mime.ParseMediaType(contentType)
	// Without a form content type, only a body holding at least one
	// key=value pair is taken as form-urlencoded.
	if mediaType == "application/x-www-form-urlencoded" || (!looksLikeJSON(trimmed) && bytes.Contains(trimmed, []byte("="))) {
		if values, err := url.ParseQuery(string(trimmed)); err == nil && len(values) > 0 {
			var obj = make(map[string]interface{}, len(values))
			for k, vs := range values {
				if len(vs) == 1 {
					obj[k] = vs[0]
				} else {
					obj[k] = vs
				}
			}
			encoded, err := json.Marshal(obj)
			if err == nil {
				return json.RawMessage(encoded), nil
			}
		}
	}

	return nil, fmt.Errorf("body does not parse as JSON or form-urlencoded")
}

func looksLikeJSON(b []byte) bool {
	return len(b) > 0 && (b[0] == '{' || b[0] == '[' || b[0] == '"')
}
