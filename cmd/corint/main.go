// Command corint evaluates events against a rule repository and validates
// DSL sources. Exit codes: 0 ok, 2 parse or compile error, 3 runtime
// error, 4 deadline exceeded.
package main

import (
	"errors"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/corintai/corint/internal/config"
	"github.com/corintai/corint/internal/logger"
)

// CLI exit codes.
const (
	exitOK       = 0
	exitLoad     = 2
	exitRuntime  = 3
	exitDeadline = 4
)

var (
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "corint",
		Short: "Rule-based decision engine",
		Long: `Corint compiles a YAML rule repository (rules, rulesets, pipelines)
and evaluates incoming events against it, producing an action, a score,
triggered rules, and an explanation trace.
`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		code := exitRuntime
		var ec *exitCoder
		if errors.As(err, &ec) {
			code = ec.code
		}
		logger.Default().Error("command failed", "err", err)
		os.Exit(code)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file")
	cobra.OnInitialize(func() {
		// Optional dotenv; missing files are fine.
		_ = godotenv.Load()
	})

	rootCmd.AddCommand(evaluateCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(healthCmd())
}

// loadConfig loads the engine configuration and a logger per its settings.
func loadConfig() (*config.Config, logger.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, exitErr(exitLoad, err)
	}
	opts := []logger.Option{logger.WithFormat(cfg.LogFormat)}
	if cfg.Debug {
		opts = append(opts, logger.WithDebug())
	}
	return cfg, logger.New(opts...), nil
}

// exitCoder carries the process exit code alongside the error.
type exitCoder struct {
	code int
	err  error
}

func (e *exitCoder) Error() string { return e.err.Error() }

func (e *exitCoder) Unwrap() error { return e.err }

func exitErr(code int, err error) error {
	return &exitCoder{code: code, err: err}
}
