package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corintai/corint/internal/compiler"
	"github.com/corintai/corint/internal/parser"
)

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [flags] [rules-dir]",
		Short: "Parses and compiles the rule repository without evaluating",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			dir := cfg.RulesDir
			if len(args) == 1 {
				dir = args[0]
			}

			repo, err := parser.LoadRoot(dir)
			if err != nil {
				printLoadError(cmd, err)
				return exitErr(exitLoad, err)
			}
			programs, err := compiler.New(repo).CompileAll(repo)
			if err != nil {
				printCompileError(cmd, err)
				return exitErr(exitLoad, err)
			}

			for _, w := range repo.Warnings {
				fmt.Fprintf(cmd.OutOrStdout(), "warning: %s\n", w)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d documents, %d programs\n",
				len(repo.Documents), len(programs))
			return nil
		},
	}
}

func printLoadError(cmd *cobra.Command, err error) {
	var loadErr *parser.LoadError
	if errors.As(err, &loadErr) {
		fmt.Fprintf(cmd.ErrOrStderr(), "parse error in %s: field %s expected %s, got %s\n",
			loadErr.Source, loadErr.Field, loadErr.Expected, loadErr.Actual)
		return
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "parse error: %v\n", err)
}

func printCompileError(cmd *cobra.Command, err error) {
	var compileErr *compiler.Error
	if errors.As(err, &compileErr) {
		fmt.Fprintf(cmd.ErrOrStderr(), "compile error [%s] in %s: %v\n",
			compileErr.Code, compileErr.Program, compileErr.Err)
		return
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "compile error: %v\n", err)
}
