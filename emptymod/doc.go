// Package emptymod synthesizes placeholder managed modules.
//
// The build references some assemblies that are never produced. For each
// requested .dll that does not exist yet, Synthesize writes a valid empty
// assembly (version 0.0.0.0, named after the file) together with
// zero-length .aot-only and .pdb sentinels so later build steps find every
// file they expect.
package emptymod
