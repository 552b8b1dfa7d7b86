// Package main provides the voicever CLI tool.
//
// Usage:
//
//	voicever [flags] <command> [args]
//
// Commands:
//
//	identity  - Identity records: date of birth, versions, ledger
//	evaluate  - Evaluate a recording against an identity's history
//	playback  - Show the playback decision for a target age
//	play      - Synthesize text in an identity's voice at a target age
//	cache     - Synthesis cache maintenance
//	serve     - Hot-reload config, serve metrics, purge the cache
//
// Configuration:
//
//	The CLI reads ~/.voicever/voicever.yaml unless --config is given.
package main

import (
	"fmt"
	"os"

	"github.com/GreenCodr/voice-evolution-system/cmd/voicever/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
