package main

import (
	stderrors "errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	wasmtuner "github.com/wippyai/wasm-tuner"
	"github.com/wippyai/wasm-tuner/config"
	"github.com/wippyai/wasm-tuner/errors"
)

var (
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#87CEEB"))
	pathStyle   = lipgloss.NewStyle().Bold(true)
	errorPrefix = color.New(color.FgRed, color.Bold)
)

var rootCmd = &cobra.Command{
	Use:   "wasm-tuner",
	Short: "Generate native interop tables for WebAssembly .NET builds",
	Long: `wasm-tuner scans managed assemblies for P/Invoke imports and runtime
internal calls and writes the C tables and trampolines the WebAssembly
runtime links against.`,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return errors.Usage("no mode given")
		}
		return errors.Usage("unknown mode %q", args[0])
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "settings file (default ./"+config.FileName+" when present)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log debug details")
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return errors.Usage("%v", err)
	})

	rootCmd.AddCommand(icallCmd)
	rootCmd.AddCommand(pinvokeCmd)
	rootCmd.AddCommand(emptyCmd)
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	args, err := normalizeArgs(args)
	if err != nil {
		printError(err)
		return 1
	}
	rootCmd.SetArgs(args)

	cmd, err := rootCmd.ExecuteC()
	if err == nil {
		return 0
	}
	var e *errors.Error
	if stderrors.As(err, &e) && e.Phase == errors.PhaseUsage {
		fmt.Fprintln(os.Stdout, e.Detail)
		fmt.Fprint(os.Stdout, cmd.UsageString())
		return 1
	}
	printError(err)
	return 1
}

func printError(err error) {
	errorPrefix.Fprint(os.Stderr, "error:")
	fmt.Fprintf(os.Stderr, " %v\n", err)
}

func status(msg, path string) {
	fmt.Fprintln(os.Stdout, statusStyle.Render(msg)+" "+pathStyle.Render(path))
}

// newTuner loads settings and installs the logger for a subcommand run.
func newTuner(cmd *cobra.Command) (*wasmtuner.Tuner, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Resolve(path, "")
	if err != nil {
		return nil, err
	}
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = zapcore.DebugLevel
	}
	log := newLogger(level, isTerminal(os.Stderr))
	installLogger(log)
	log.Debug("settings loaded", zap.String("config", path), zap.String("level", level.String()))
	return wasmtuner.New(cfg), nil
}

// minArgs returns a validator that fails with a usage error below n
// positional arguments.
func minArgs(n int, names ...string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) < n {
			return errors.Usage("%s needs %s", cmd.Name(), strings.Join(names, " "))
		}
		return nil
	}
}
