//go:build !tuner_noicall

package icall

// Supported reports whether this build can generate internal call tables.
const Supported = true
