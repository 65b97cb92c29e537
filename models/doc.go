// Package models holds the typed transport objects exchanged with the
// LittleBrother server and the tag registry that maps the server's
// jsonpickle class names onto them.
//
// # Architecture boundaries
//
// Types here are plain data plus presentation helpers (durations, times, full
// names). Fetching them is the client's job; decoding is done by unpickle
// with [Registry].
//
// # What this package must NOT do
//
//   - Perform I/O or hold session state.
//   - Register tags anywhere but the package-level registry.
package models
