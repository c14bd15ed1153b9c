package main

import (
	"os"
	"strings"

	"github.com/wippyai/wasm-tuner/errors"
)

// legacyModes maps the original mode switches to subcommand names.
var legacyModes = map[string]string{
	"--gen-icall-table":      "gen-icall-table",
	"--gen-pinvoke-table":    "gen-pinvoke-table",
	"--gen-empty-assemblies": "gen-empty-assemblies",
}

// expandResponseFiles replaces every "@path" argument in place by the
// whitespace separated contents of path.
func expandResponseFiles(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for _, arg := range args {
		if !strings.HasPrefix(arg, "@") || len(arg) == 1 {
			out = append(out, arg)
			continue
		}
		path := arg[1:]
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Load(path, err)
		}
		out = append(out, strings.Fields(string(data))...)
	}
	return out, nil
}

// normalizeArgs expands response files and rewrites a legacy mode switch in
// first position to its subcommand.
func normalizeArgs(args []string) ([]string, error) {
	args, err := expandResponseFiles(args)
	if err != nil {
		return nil, err
	}
	if len(args) > 0 {
		if sub, ok := legacyModes[args[0]]; ok {
			args[0] = sub
		}
	}
	return args, nil
}
