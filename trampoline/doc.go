// Package trampoline generates the interpreter-to-native bridge header.
//
// The interpreter calls native code through one C function per distinct
// signature shape. Each trampoline unpacks the interpreter's argument
// buffers (margs->iargs for integers, margs->fargs for floating point,
// two integer slots for 64-bit values), calls the target and stores the
// result in margs->retval. Every cookie of the import and internal call
// tables is mapped to the index of its trampoline, so the header size grows
// with the number of shapes rather than the number of call sites.
package trampoline
