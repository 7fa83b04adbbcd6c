package bootstrap

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mandelsoft/vfs/pkg/vfs"
	"gopkg.in/yaml.v3"
)

// Record is one song row of a bootstrap file. String fields may carry a
// b'...' byte-literal wrapper, which is stripped on import.
type Record struct {
	SongID     string  `json:"SongID" yaml:"SongID"`
	Title      string  `json:"Title" yaml:"Title"`
	Duration   float64 `json:"Duration" yaml:"Duration"`
	ArtistID   string  `json:"ArtistID" yaml:"ArtistID"`
	ArtistName string  `json:"ArtistName" yaml:"ArtistName"`
}

// Format selects the decoder for a bootstrap file.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatOf picks the format from a file extension. Unknown extensions are
// read as JSON.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Decode parses a list of records.
func Decode(data []byte, format Format) ([]Record, error) {
	var records []Record
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&records); err != nil {
			return nil, fmt.Errorf("decode yaml records: %w", err)
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&records); err != nil {
			return nil, fmt.Errorf("decode json records: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown record format %q", format)
	}
	return records, nil
}

// LoadFile reads and decodes a record file from fs.
func LoadFile(fs vfs.FileSystem, path string) ([]Record, error) {
	data, err := vfs.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	records, err := Decode(data, FormatOf(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}

// TrimByteLiteral strips a leading b' and a trailing ' from s.
func TrimByteLiteral(s string) string {
	s = strings.TrimPrefix(s, "b'")
	return strings.TrimSuffix(s, "'")
}

// Normalize returns r with byte-literal wrappers removed and surrounding
// whitespace trimmed.
func (r Record) Normalize() Record {
	clean := func(s string) string {
		return strings.TrimSpace(TrimByteLiteral(strings.TrimSpace(s)))
	}
	r.SongID = clean(r.SongID)
	r.Title = clean(r.Title)
	r.ArtistID = clean(r.ArtistID)
	r.ArtistName = clean(r.ArtistName)
	return r
}
