package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-yaml"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	// FormatCard renders a styled card for values that provide one and
	// falls back to YAML otherwise. Default for terminals.
	FormatCard OutputFormat = "card"
	// FormatYAML outputs as YAML
	FormatYAML OutputFormat = "yaml"
	// FormatJSON outputs as JSON
	FormatJSON OutputFormat = "json"
)

// ParseFormat validates a --output flag value.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(s); f {
	case FormatCard, FormatYAML, FormatJSON:
		return f, nil
	case "":
		return FormatCard, nil
	default:
		return "", fmt.Errorf("unsupported output format %q (card, yaml, json)", s)
	}
}

// Carder is implemented by values that render as a card.
type Carder interface {
	Card() Card
}

// OutputOptions configures output behavior
type OutputOptions struct {
	Format OutputFormat

	// File is the output file path (empty for stdout)
	File string

	// Writer overrides File
	Writer io.Writer

	// Styles used for FormatCard. Zero value uses DefaultStyles.
	Styles *Styles
}

// Output writes result to the configured destination
func Output(result any, opts OutputOptions) error {
	var w io.Writer = os.Stdout
	if opts.Writer != nil {
		w = opts.Writer
	} else if opts.File != "" {
		f, err := os.Create(opts.File)
		if err != nil {
			return fmt.Errorf("cli: create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	switch opts.Format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case FormatYAML:
		return outputYAML(w, result)
	case FormatCard, "":
		c, ok := result.(Carder)
		if !ok {
			return outputYAML(w, result)
		}
		styles := DefaultStyles()
		if opts.Styles != nil {
			styles = *opts.Styles
		}
		_, err := fmt.Fprintln(w, c.Card().Render(styles))
		return err
	default:
		return fmt.Errorf("cli: unsupported output format: %s", opts.Format)
	}
}

func outputYAML(w io.Writer, result any) error {
	data, err := yaml.Marshal(result)
	if err != nil {
		return fmt.Errorf("cli: format output: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// OutputBytes writes binary data to path
func OutputBytes(data []byte, path string) error {
	if path == "" {
		return fmt.Errorf("cli: output file path is required for binary data")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("cli: write output: %w", err)
	}
	return nil
}

// PrintError prints an error message to stderr
func PrintError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}

// PrintSuccess prints a success message with checkmark
func PrintSuccess(format string, args ...any) {
	fmt.Printf("✓ "+format+"\n", args...)
}
