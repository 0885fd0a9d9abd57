// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/yaml.v3"
)

// Format is a record file encoding
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatCBOR Format = "cbor"
)

// ParseFormat validates a format name, case-insensitively
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatJSON, FormatYAML, FormatCBOR:
		return f, nil
	case "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown record format %q (use json, yaml or cbor)", s)
	}
}

// Encode writes records to w
func Encode(w io.Writer, format Format, records []*Record) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(records); err != nil {
			return err
		}
		return enc.Close()
	case FormatCBOR:
		return cbor.NewEncoder(w).Encode(records)
	default:
		return fmt.Errorf("unknown record format %q", format)
	}
}

// Decode reads records written by Encode
func Decode(r io.Reader, format Format) ([]*Record, error) {
	var records []*Record
	var err error
	switch format {
	case FormatJSON:
		err = json.NewDecoder(r).Decode(&records)
	case FormatYAML:
		err = yaml.NewDecoder(r).Decode(&records)
	case FormatCBOR:
		err = cbor.NewDecoder(r).Decode(&records)
	default:
		return nil, fmt.Errorf("unknown record format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s records: %w", format, err)
	}
	return records, nil
}

// Save writes records to path, replacing the file
func Save(path string, format Format, records []*Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create record file: %w", err)
	}
	if err := Encode(f, format, records); err != nil {
		f.Close()
		return fmt.Errorf("failed to write records: %w", err)
	}
	return f.Close()
}
