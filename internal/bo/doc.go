// Package bo provides native byte order selection.
//
// Wayland requires host byte order on both ends of a connection, so the wire
// codec in internal/wire resolves this once at init time instead of fixing
// an endianness. Implementation is architecture-specific via build tags where
// commonly known, and falls back to a portable runtime detection elsewhere.
package bo
