package storage

import (
	"encoding/json"
	"fmt"
)

// SchemeJSON marks a record whose Data is a JSON document.
const SchemeJSON = "json"

// Record is a stored payload with its format and optimistic-lock version.
type Record struct {
	Ver     int    `json:"ver"`
	Scheme  string `json:"scheme"`
	Data    []byte `json:"data"`
	Version uint64 `json:"version,omitempty"`
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	return &Record{
		Ver:     r.Ver,
		Scheme:  r.Scheme,
		Data:    append([]byte(nil), r.Data...),
		Version: r.Version,
	}
}

// EncodeJSON wraps v in a version 1 JSON record.
func EncodeJSON(v any, version uint64) (*Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	return &Record{Ver: 1, Scheme: SchemeJSON, Data: data, Version: version}, nil
}

// DecodeJSON unmarshals a JSON record into v.
func DecodeJSON(rec *Record, v any) error {
	if rec.Ver != 1 {
		return fmt.Errorf("unsupported record version: %d", rec.Ver)
	}
	if rec.Scheme != SchemeJSON {
		return fmt.Errorf("unsupported record scheme: %s", rec.Scheme)
	}
	return json.Unmarshal(rec.Data, v)
}
