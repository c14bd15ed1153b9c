// Package wasmtuner generates the native interop glue a WebAssembly build of
// the .NET runtime links against.
//
// The interpreter cannot load native libraries at run time, so every
// P/Invoke import and runtime internal call reachable from the shipped
// assemblies has to be resolved at build time. The tuner reads the
// assemblies' ECMA-335 metadata, collapses each call site's signature to a
// small native ABI and writes deterministic C tables plus one shared
// trampoline per signature shape.
//
// # Architecture Overview
//
//	wasmtuner/           Root package: the three generation pipelines
//	├── cmd/wasm-tuner/  Command line front end
//	├── config/          wasm-tuner.toml settings
//	├── metadata/        PE/COFF + ECMA-335 reader and assembly builder
//	├── abi/             Signature normalization to native categories
//	├── scan/            Call-site extraction
//	├── pinvoke/         Import table generation and allow-list
//	├── icall/           Internal call index and table generation
//	├── trampoline/      Interpreter to native trampolines
//	├── emptymod/        Placeholder assemblies for missing modules
//	├── linkcheck/       Verification against wasm native libraries
//	└── errors/          Structured error types
//
// # Quick Start
//
//	t := wasmtuner.New(config.Default())
//	res, err := t.GenPinvokeTable(ctx, wasmtuner.PinvokeRequest{
//	    Output:     "pinvoke-table.h",
//	    Modules:    []string{"libSystem.Native"},
//	    IcallIndex: "runtime-icall-table.json",
//	    Assemblies: []string{"System.Private.CoreLib.dll", "App.dll"},
//	})
//
// # Cookies
//
// Each accepted call site gets a cookie: its position in the table it was
// written to. The runtime looks up trampolines by absolute cookie, which is
// the import position, or the import count plus the internal call position.
// Both tables must therefore come from the same scan of the same assembly
// list, which is why GenPinvokeTable produces the trampoline header itself.
//
// # Determinism
//
// Outputs depend only on the inputs and their order. Running the tuner
// twice over the same files produces byte-identical results, so build
// systems can compare outputs to skip relinking.
package wasmtuner
