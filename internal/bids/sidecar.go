package bids

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// Metadata is a parsed JSON sidecar. Numbers decode as json.Number so that
// values the passes do not touch are written back exactly as read.
type Metadata map[string]any

// Has reports whether key is present.
func (m Metadata) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// String returns the value of key when it is a JSON string.
func (m Metadata) String(key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Float returns the value of key when it is a JSON number (or a numeric
// string, which some converters emit).
func (m Metadata) Float(key string) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// Map returns the value of key when it is a JSON object.
func (m Metadata) Map(key string) (map[string]any, bool) {
	v, ok := m[key]
	if !ok {
		return nil, false
	}
	obj, ok := v.(map[string]any)
	return obj, ok
}

// Clone returns a shallow copy of m.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// SameValue reports whether two JSON values encode identically.
func SameValue(a, b any) bool {
	ea, errA := json.Marshal(a)
	eb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ea, eb)
}

// ReadMetadata parses the JSON sidecar at path.
func ReadMetadata(path string) (Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeMetadata(data)
}

// DecodeMetadata parses sidecar bytes.
func DecodeMetadata(data []byte) (Metadata, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	meta := Metadata{}
	if err := dec.Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode sidecar: %w", err)
	}
	if meta == nil {
		meta = Metadata{}
	}
	return meta, nil
}

// EncodeMetadata renders meta with sorted keys and four-space indentation.
func EncodeMetadata(meta Metadata) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(map[string]any(meta)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteMetadata rewrites the sidecar at path, keeping its file mode.
func WriteMetadata(path string, meta Metadata) error {
	data, err := EncodeMetadata(meta)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	return os.WriteFile(path, data, mode)
}
