// Package pinvoke generates the P/Invoke import table.
//
// Only call sites whose declared native module is on the allow-list
// (Policy) become table entries; everything else is left to fail at run
// time and consumes no cookie. The table lists one PinvokeImport array per
// allowed module, in allow-list order, followed by the pinvoke_tables and
// pinvoke_names indexes the runtime walks when resolving an import.
package pinvoke
