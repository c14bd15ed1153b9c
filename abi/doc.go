// Package abi collapses managed signatures to the native calling vocabulary
// understood by the WebAssembly interpreter.
//
// Every managed type maps to exactly one of six categories:
//
//	Void    void
//	Double  double
//	Single  float
//	Int64   int64_t
//	UInt64  uint64_t
//	*       int
//
// A Shape (return category plus ordered parameter categories) is the key
// under which call sites share a trampoline. Shape.Key renders it as a
// compact letter string ("VII", "DDL", ...).
package abi
