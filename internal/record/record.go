// Package record defines the JSON payloads exchanged through the
// probable-delete index, the object metadata indexes and the work queue.
package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrCorrupt marks a payload that could not be decoded. Callers treat it as
// a data-corruption event: the payload is logged and skipped, never retried.
var ErrCorrupt = errors.New("record: corrupt payload")

// ErrNoOID is returned when an object metadata record carries none of the
// known current-oid fields.
var ErrNoOID = errors.New("record: metadata has no object id")

// timestampLayouts are tried in order when decoding create_timestamp.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
}

// ParseTimestamp parses an ISO-8601 timestamp. Values without a zone are
// taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: invalid timestamp %q", ErrCorrupt, s)
}

// FormatTimestamp renders t the way the storage write path does.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// ProbableDelete is a candidate storage-unit read from the probable-delete
// index. Key is the storage-unit oid; the rest comes from the JSON value.
type ProbableDelete struct {
	Key                string    `json:"-"`
	IndexID            string    `json:"index_id"`
	ObjectLayoutID     int       `json:"object_layout_id"`
	ObjectMetadataPath string    `json:"object_metadata_path"`
	GlobalInstanceID   string    `json:"global_instance_id"`
	CreateTimestamp    time.Time `json:"-"`
}

type probableDeleteJSON struct {
	IndexID            string      `json:"index_id"`
	ObjectLayoutID     json.Number `json:"object_layout_id"`
	ObjectMetadataPath string      `json:"object_metadata_path"`
	GlobalInstanceID   string      `json:"global_instance_id"`
	CreateTimestamp    string      `json:"create_timestamp"`
}

// ParseProbableDelete decodes the index value stored under key. Any decode
// failure wraps ErrCorrupt.
func ParseProbableDelete(key, value string) (ProbableDelete, error) {
	var raw probableDeleteJSON
	if err := json.Unmarshal([]byte(value), &raw); err != nil {
		return ProbableDelete{}, fmt.Errorf("%w: candidate %q: %v", ErrCorrupt, key, err)
	}
	if raw.IndexID == "" || raw.ObjectMetadataPath == "" {
		return ProbableDelete{}, fmt.Errorf("%w: candidate %q: missing index_id or object_metadata_path", ErrCorrupt, key)
	}

	ts, err := ParseTimestamp(raw.CreateTimestamp)
	if err != nil {
		return ProbableDelete{}, fmt.Errorf("candidate %q: %w", key, err)
	}

	var layout int64
	if raw.ObjectLayoutID != "" {
		layout, err = raw.ObjectLayoutID.Int64()
		if err != nil {
			return ProbableDelete{}, fmt.Errorf("%w: candidate %q: object_layout_id: %v", ErrCorrupt, key, err)
		}
	}

	return ProbableDelete{
		Key:                key,
		IndexID:            raw.IndexID,
		ObjectLayoutID:     int(layout),
		ObjectMetadataPath: raw.ObjectMetadataPath,
		GlobalInstanceID:   raw.GlobalInstanceID,
		CreateTimestamp:    ts,
	}, nil
}

// Encode renders the candidate value as stored in the probable-delete index.
func (p ProbableDelete) Encode() (string, error) {
	data, err := json.Marshal(map[string]any{
		"index_id":             p.IndexID,
		"object_layout_id":     p.ObjectLayoutID,
		"object_metadata_path": p.ObjectMetadataPath,
		"global_instance_id":   p.GlobalInstanceID,
		"create_timestamp":     FormatTimestamp(p.CreateTimestamp),
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Age returns how long ago the candidate was created, relative to now.
func (p ProbableDelete) Age(now time.Time) time.Duration {
	return now.Sub(p.CreateTimestamp)
}

// ObjectMetadata is the current-state record of a logical object key.
// Only the fields naming the referenced storage-unit are decoded.
type ObjectMetadata struct {
	MeroOID   string `json:"mero_oid"`
	MotrOID   string `json:"motr_oid"`
	MeroOIDHi string `json:"mero_oid_u_hi"`
	MeroOIDLo string `json:"mero_oid_u_lo"`
}

// ParseObjectMetadata decodes an object metadata value.
func ParseObjectMetadata(value string) (ObjectMetadata, error) {
	var md ObjectMetadata
	if err := json.Unmarshal([]byte(value), &md); err != nil {
		return ObjectMetadata{}, fmt.Errorf("%w: object metadata: %v", ErrCorrupt, err)
	}
	return md, nil
}

// CurrentOID returns the storage-unit id the metadata currently references.
// Newer records use mero_oid or motr_oid; older ones split the id into
// base64 hi/lo halves joined with "-".
func (m ObjectMetadata) CurrentOID() (string, error) {
	switch {
	case m.MeroOID != "":
		return m.MeroOID, nil
	case m.MotrOID != "":
		return m.MotrOID, nil
	case m.MeroOIDHi != "" && m.MeroOIDLo != "":
		return m.MeroOIDHi + "-" + m.MeroOIDLo, nil
	}
	return "", ErrNoOID
}

// CreateTimestampOf extracts create_timestamp from an arbitrary JSON object
// value. ok is false when the value is not a JSON object; err is set when
// the object parses but the timestamp is missing or malformed.
func CreateTimestampOf(value string) (ts time.Time, ok bool, err error) {
	var obj map[string]json.RawMessage
	if jerr := json.Unmarshal([]byte(value), &obj); jerr != nil {
		return time.Time{}, false, nil
	}
	raw, found := obj["create_timestamp"]
	if !found {
		return time.Time{}, true, fmt.Errorf("%w: missing create_timestamp", ErrCorrupt)
	}
	var s string
	if jerr := json.Unmarshal(raw, &s); jerr != nil {
		return time.Time{}, true, fmt.Errorf("%w: create_timestamp is not a string", ErrCorrupt)
	}
	ts, err = ParseTimestamp(s)
	return ts, true, err
}
