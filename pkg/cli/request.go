package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadRequest loads a YAML or JSON request file into v. The path "-" reads
// stdin. Unknown fields are rejected so a typo never silently drops a
// setting.
func LoadRequest(path string, v any) error {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("cli: read request: %w", err)
	}
	return ParseRequest(data, path, v)
}

// ParseRequest decodes data by the extension of filename, trying YAML and
// then JSON when the extension says neither.
func ParseRequest(data []byte, filename string, v any) error {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return decodeYAML(data, v)
	case ".json":
		return decodeJSON(data, v)
	}
	yerr := decodeYAML(data, v)
	if yerr == nil {
		return nil
	}
	if jerr := decodeJSON(data, v); jerr != nil {
		return fmt.Errorf("cli: parse request (tried YAML and JSON): %w", errors.Join(yerr, jerr))
	}
	return nil
}

func decodeYAML(data []byte, v any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("cli: parse YAML: %w", err)
	}
	return nil
}

func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("cli: parse JSON: %w", err)
	}
	return nil
}
