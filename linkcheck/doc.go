// Package linkcheck verifies that generated import tables can be linked.
//
// The WebAssembly runtime cannot load native code dynamically, so every
// P/Invoke entry accepted into the import table must be satisfied by one of
// the native side modules linked into the final binary. Checker compiles
// those modules with wazero, without instantiating them, and compares each
// import against the exported functions:
//
//	Int            i32
//	Int64, UInt64  i64
//	Float          f32
//	Double         f64
//	Void           no result
//
// Missing symbols are reported as a MissingImportsError, signature
// differences as TypeMismatch errors.
package linkcheck
