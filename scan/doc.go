// Package scan extracts native interop call sites from managed modules.
//
// Two kinds of call site exist:
//
//   - Imports: P/Invoke methods, bound to a symbol in a named native module.
//   - Internal calls: methods the runtime implements, bound through an
//     externally produced index keyed by "Namespace.Type::Method".
//
// Each call site carries its ABI shape. Modules are visited in the order
// supplied and methods in token order, so the result is reproducible for
// identical inputs.
package scan
