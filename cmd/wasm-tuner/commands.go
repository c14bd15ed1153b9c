package main

import (
	"strings"

	"github.com/spf13/cobra"

	wasmtuner "github.com/wippyai/wasm-tuner"
)

var icallCmd = &cobra.Command{
	Use:   "gen-icall-table <output> <icall-table.json> <assemblies...>",
	Short: "Write the linked internal call table",
	Args:  minArgs(2, "<output>", "<icall-table.json>"),
	RunE: func(cmd *cobra.Command, args []string) error {
		tuner, err := newTuner(cmd)
		if err != nil {
			return err
		}
		status("Generating to", args[0])
		_, err = tuner.GenIcallTable(args[0], args[1], args[2:])
		return err
	},
}

var pinvokeCmd = &cobra.Command{
	Use:   "gen-pinvoke-table <output> <module1,module2,...> <icall-table.json> <assemblies...>",
	Short: "Write the P/Invoke import table and interpreter trampolines",
	Long: `Write the P/Invoke import table for the allowed native modules, then the
trampoline header wasm_m2n_invoke.g.h next to it. The internal call table of
the same scan is written only when --icall-output is given.`,
	Args: minArgs(3, "<output>", "<modules>", "<icall-table.json>"),
	RunE: func(cmd *cobra.Command, args []string) error {
		tuner, err := newTuner(cmd)
		if err != nil {
			return err
		}
		req := wasmtuner.PinvokeRequest{
			Output:     args[0],
			Modules:    strings.Split(args[1], ","),
			IcallIndex: args[2],
			Assemblies: args[3:],
		}
		req.IcallOutput, _ = cmd.Flags().GetString("icall-output")
		req.NativeLibs, _ = cmd.Flags().GetStringArray("native-lib")
		req.StrictLink, _ = cmd.Flags().GetBool("strict-link")

		status("Generating to", req.Output)
		res, err := tuner.GenPinvokeTable(cmd.Context(), req)
		if res != nil && res.Header != "" {
			status("Generating interp to native to", res.Header)
		}
		return err
	},
}

var emptyCmd = &cobra.Command{
	Use:   "gen-empty-assemblies <filenames...>",
	Short: "Write placeholder assemblies for missing module files",
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tuner, err := newTuner(cmd)
		if err != nil {
			return err
		}
		written, err := tuner.GenEmptyAssemblies(args)
		for _, path := range written {
			status("Generated empty assembly", path)
		}
		return err
	},
}

func init() {
	pinvokeCmd.Flags().String("icall-output", "", "also write the internal call table to this file")
	pinvokeCmd.Flags().StringArray("native-lib", nil, "wasm native library to check imports against (repeatable)")
	pinvokeCmd.Flags().Bool("strict-link", false, "fail when native libraries do not satisfy the import table")
}
