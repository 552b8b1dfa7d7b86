package commands

import (
	"fmt"
	"os"
)

// printVerbose prints to stderr when --verbose is set.
func printVerbose(format string, args ...any) {
	if verbose {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}
