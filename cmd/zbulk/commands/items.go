package commands

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/teranos/zbulk/errors"
)

// utf8BOM is written by spreadsheet exports and must not end up in the
// first header name
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// itemRows are the rows of an item file. numbers holds each row's position
// in the file when some were dropped; nil means the rows are numbered in order.
type itemRows struct {
	rows    []map[string]any
	numbers []int
}

// loadItemRows reads the rows of an item file. The format follows the
// extension: .csv, .json, .yaml or .yml.
func loadItemRows(path string) (itemRows, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return itemRows{}, errors.Wrapf(err, "failed to read items file %s", path)
	}

	var items itemRows
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		items.rows, items.numbers, err = parseCSVRows(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
	case ".json":
		items.rows, err = parseJSONRows(data)
	case ".yaml", ".yml":
		items.rows, err = parseYAMLRows(data)
	default:
		return itemRows{}, errors.WithHint(
			errors.Newf("unsupported items file type %q", ext),
			"use a .csv, .json, .yaml or .yml file")
	}
	if err != nil {
		return itemRows{}, errors.Wrapf(err, "failed to parse %s", path)
	}
	if len(items.rows) == 0 {
		return itemRows{}, errors.Newf("%s contains no items", path)
	}
	return items, nil
}

// parseCSVRows maps every record onto the header row. Empty cells are left
// out so a blank column reads as a missing field. Blank records are dropped
// but still counted, so numbers match the records' positions in the file.
func parseCSVRows(r io.Reader) ([]map[string]any, []int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to read header")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
		if header[i] == "" {
			return nil, nil, errors.Newf("header column %d is empty", i+1)
		}
	}

	var rows []map[string]any
	var numbers []int
	for position := 1; ; position++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to read record")
		}
		if len(record) > len(header) {
			line, _ := reader.FieldPos(0)
			return nil, nil, errors.Newf("line %d has %d fields, header has %d", line, len(record), len(header))
		}

		row := make(map[string]any, len(record))
		for i, value := range record {
			if value = strings.TrimSpace(value); value != "" {
				row[header[i]] = value
			}
		}
		if len(row) > 0 {
			rows = append(rows, row)
			numbers = append(numbers, position)
		}
	}
	return rows, numbers, nil
}

// parseJSONRows accepts a top-level array of objects, or an object holding
// that array under "items". Numbers keep their literal text.
func parseJSONRows(data []byte) ([]map[string]any, error) {
	decode := func(v any) error {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		return dec.Decode(v)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapped struct {
			Items []map[string]any `json:"items"`
		}
		if err := decode(&wrapped); err != nil {
			return nil, errors.Wrap(err, "invalid JSON")
		}
		return wrapped.Items, nil
	}

	var rows []map[string]any
	if err := decode(&rows); err != nil {
		return nil, errors.Wrap(err, "invalid JSON")
	}
	return rows, nil
}

// parseYAMLRows accepts the same shapes as parseJSONRows
func parseYAMLRows(data []byte) ([]map[string]any, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, errors.Wrap(err, "invalid YAML")
	}
	if len(node.Content) == 0 {
		return nil, nil
	}

	var rows []map[string]any
	doc := node.Content[0]
	if doc.Kind == yaml.MappingNode {
		var wrapped struct {
			Items []map[string]any `yaml:"items"`
		}
		if err := doc.Decode(&wrapped); err != nil {
			return nil, errors.Wrap(err, "invalid YAML")
		}
		return wrapped.Items, nil
	}
	if err := doc.Decode(&rows); err != nil {
		return nil, errors.Wrap(err, "invalid YAML")
	}
	return rows, nil
}
