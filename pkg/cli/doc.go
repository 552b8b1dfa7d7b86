// Package cli provides the shared pieces of the voicever command line:
// output formatting (YAML, JSON, styled cards), strict request file
// loading and the ~/.voicever directory layout.
//
// Example usage:
//
//	var req pipeline.PlayRequest
//	if err := cli.LoadRequest("play.yaml", &req); err != nil {
//	    return err
//	}
//
//	cli.Output(result, cli.OutputOptions{Format: cli.FormatCard})
package cli
