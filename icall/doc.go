// Package icall generates the linked internal call table.
//
// The runtime build produces an index of every internal call it implements.
// Generate intersects that index with the internal calls the given modules
// actually declare and writes one C table group per assembly: token indexes,
// function pointers and handle flags, each sorted by token.
//
// Builds tagged tuner_noicall cannot generate tables; every entry point then
// returns an Unsupported error.
package icall
