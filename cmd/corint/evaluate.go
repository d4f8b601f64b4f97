package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/corintai/corint/internal/engine"
)

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate [flags] <event.json>",
		Short: "Evaluates an event against the loaded rule repository",
		Long: `corint evaluate --program my_pipeline event.json

Reads the event payload from the given JSON file ("-" for stdin), runs the
selected program, and prints the decision as JSON.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, lg, err := loadConfig()
			if err != nil {
				return err
			}

			event, err := readEvent(args[0])
			if err != nil {
				return exitErr(exitLoad, err)
			}

			eng, cleanup, err := engine.Build(cmd.Context(), cfg, lg)
			if err != nil {
				return exitErr(exitLoad, err)
			}
			defer cleanup()

			program, _ := cmd.Flags().GetString("program")
			eventKind, _ := cmd.Flags().GetString("event-kind")
			includeTrace, _ := cmd.Flags().GetBool("trace")

			resp, err := eng.Decide(cmd.Context(), engine.DecisionRequest{
				Program:   program,
				EventKind: eventKind,
				Event:     event,
				Options:   engine.RequestOptions{IncludeTrace: includeTrace},
			})
			if errors.Is(err, engine.ErrDeadlineExceeded) {
				printJSON(cmd, resp)
				return exitErr(exitDeadline, err)
			}
			if err != nil {
				return exitErr(exitRuntime, err)
			}

			printJSON(cmd, resp)
			return nil
		},
	}

	cmd.Flags().StringP("program", "p", "", "program id to run")
	cmd.Flags().StringP("event-kind", "k", "", "event kind resolved through the registry")
	cmd.Flags().Bool("trace", false, "include the step trace in the output")
	return cmd
}

func readEvent(path string) (map[string]any, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path) //nolint:gosec // user-specified input file
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read event: %w", err)
	}
	var event map[string]any
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("failed to parse event JSON: %w", err)
	}
	return event, nil
}

func printJSON(cmd *cobra.Command, v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
}
