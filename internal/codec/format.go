package codec

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format is an on-disk encoding of a Record.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts "json", "yaml" and "yml".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown record format %q", s)
}

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	return ParseFormat(filepath.Ext(path))
}

// Marshal encodes rec in the given format.
func Marshal(rec Record, f Format) ([]byte, error) {
	switch f {
	case FormatJSON:
		return json.MarshalIndent(rec, "", "  ")
	case FormatYAML:
		return yaml.Marshal(rec)
	}
	return nil, fmt.Errorf("marshal record: unknown format %q", f)
}

// Unmarshal decodes a record in the given format.
func Unmarshal(data []byte, f Format) (Record, error) {
	var rec Record
	var err error
	switch f {
	case FormatJSON:
		err = json.Unmarshal(data, &rec)
	case FormatYAML:
		err = yaml.Unmarshal(data, &rec)
	default:
		return rec, fmt.Errorf("unmarshal record: unknown format %q", f)
	}
	if err != nil {
		return rec, fmt.Errorf("unmarshal %s record: %w", f, err)
	}
	return rec, nil
}

// ReadFile loads a record, choosing the format from the extension.
func ReadFile(path string) (Record, error) {
	f, err := FormatFromPath(path)
	if err != nil {
		return Record{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, fmt.Errorf("read record %s: %w", path, err)
	}
	return Unmarshal(data, f)
}

// WriteFile stores a record, choosing the format from the extension.
func WriteFile(path string, rec Record) error {
	f, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	data, err := Marshal(rec, f)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write record %s: %w", path, err)
	}
	return nil
}
