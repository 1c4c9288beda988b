package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ehr/cohortbuilder/internal/domain/cohortquery"
	"github.com/ehr/cohortbuilder/internal/domain/composition"
)

// fileHistory serves a history blob saved to disk, such as one exported
// from GET /api/v1/history.
type fileHistory struct {
	path string
}

func (f fileHistory) RawHistory(context.Context) (json.RawMessage, error) {
	if f.path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history file: %w", err)
	}
	return json.RawMessage(data), nil
}

type compileOutput struct {
	Query  cohortquery.SearchParams `json:"query"`
	Report composition.Report       `json:"report"`
}

func composeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compose",
		Short: "Work with composition expressions offline",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate <expression>",
		Short: "Check a composition expression",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !composition.IsValid(args[0]) {
				return fmt.Errorf("composition is not valid: %q", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), "valid")
			return nil
		},
	})

	compileCmd := &cobra.Command{
		Use:   "compile <expression>",
		Short: "Compile an expression against a saved history file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("history")
			return runCompile(cmd.Context(), cmd.OutOrStdout(), args[0], fileHistory{path: path})
		},
	}
	compileCmd.Flags().String("history", "", "Path to a JSON history blob")
	cmd.AddCommand(compileCmd)

	return cmd
}

func runCompile(ctx context.Context, out io.Writer, expr string, slots composition.SlotSource) error {
	if !composition.IsValid(expr) {
		return fmt.Errorf("composition is not valid: %q", expr)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	params, report := composition.CompileWithReport(ctx, expr, slots)

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(compileOutput{Query: params, Report: report})
}
