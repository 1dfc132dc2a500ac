package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/runlet/runlet/internal/config"
	"github.com/runlet/runlet/internal/docstore"
	"github.com/runlet/runlet/internal/engine"
)

// NewRunCommand creates the run command: execute one script against a
// stored document directly, without going through the HTTP server.
func NewRunCommand(opts *RootOptions) *cobra.Command {
	var (
		scriptPath string
		inputJSON  string
		testMode   bool
	)

	cmd := &cobra.Command{
		Use:   "run <document-id>",
		Short: "Execute a script against a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := &OutputFormatter{
				Format:    opts.Format,
				Writer:    cmd.OutOrStdout(),
				ErrWriter: cmd.ErrOrStderr(),
				Verbose:   opts.Verbose,
			}

			cfg, err := config.Load(opts.Config)
			if err != nil {
				return WrapExitError(ExitCommandError, "load configuration", err)
			}

			script, err := os.ReadFile(scriptPath)
			if err != nil {
				return WrapExitError(ExitCommandError, "read script", err)
			}

			var input map[string]any
			if inputJSON != "" {
				if err := json.Unmarshal([]byte(inputJSON), &input); err != nil {
					return WrapExitError(ExitCommandError, "parse --input", err)
				}
			}

			docs, err := docstore.Open(cfg.Database)
			if err != nil {
				return WrapExitError(ExitCommandError, "open database", err)
			}
			defer docs.Close()

			executor := engine.New(docs, newGenerator(cfg))
			resp, err := executor.Execute(cmd.Context(), engine.Request{
				DocumentID: args[0],
				Script:     string(script),
				Input:      input,
				EnvVars:    envVars(),
				TestMode:   testMode,
				Type:       engine.TypeAction,
			})
			if err != nil {
				return WrapExitError(ExitCommandError, "execute", err)
			}

			if opts.Format == "json" {
				if err := formatter.Success(resp); err != nil {
					return err
				}
			} else {
				printResponse(formatter, resp)
			}

			if !resp.Success {
				return NewExitError(ExitFailure, "script failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&scriptPath, "script", "s", "", "path to the script file (required)")
	cmd.Flags().StringVar(&inputJSON, "input", "", "input parameters as a JSON object")
	cmd.Flags().BoolVar(&testMode, "test", false, "simulate all effects without persisting")
	_ = cmd.MarkFlagRequired("script")

	return cmd
}

// envVars exposes the process environment to the script as a string map.
func envVars() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				out[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return out
}

func printResponse(f *OutputFormatter, resp *engine.Response) {
	if resp.Success {
		fmt.Fprintln(f.Writer, "Execution succeeded")
	} else {
		fmt.Fprintf(f.Writer, "Execution failed: %s\n", resp.Error)
	}
	fmt.Fprintf(f.Writer, "  duration: %dms  test mode: %v  database updated: %v\n",
		resp.ExecutionTimeMs, resp.TestMode, resp.DatabaseUpdated)

	if resp.Result != nil {
		if encoded, err := json.MarshalIndent(resp.Result, "  ", "  "); err == nil {
			fmt.Fprintf(f.Writer, "  result: %s\n", encoded)
		}
	}
	for _, m := range resp.ModelsAffected {
		fmt.Fprintf(f.Writer, "  model %s: %d records, %d changes\n", m.Name, m.RecordCount, len(m.Changes))
	}
}
