// Package errors provides structured error types for the wasm-tuner pipeline.
//
// Errors are categorized by Phase (which pipeline stage failed) and Kind (error category).
// The Error type carries the offending file, a location path, the symbol involved and
// the cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseParse, errors.KindInvalidData).
//		File("System.Runtime.dll").
//		Path("#~", "MethodDef", "12").
//		Detail("signature blob truncated").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.ParseFailed(path, cause)
//	err := errors.Unsupported(errors.PhaseGenerate, "internal call tables")
//
// All errors implement the standard error interface and support errors.Is/As.
// Two *Error values match under errors.Is when Phase and Kind agree.
package errors
