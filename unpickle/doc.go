// Package unpickle rebuilds typed Go values from the tagged JSON payloads the
// LittleBrother server produces with jsonpickle.
//
// # Tag convention
//
// A JSON object carrying the reserved key "py/object" is a tagged object. The
// key's value is the dotted, module-qualified class name of the server-side
// transport object and the sibling keys are its fields. Everything else
// (primitives, arrays, untagged objects) is plain data.
//
// # Decoding
//
// [Decode] walks the value graph produced by encoding/json bottom-up. Children
// are decoded before their parent, so a [HandlerFunc] always receives a field
// mapping whose nested tagged objects are already typed. Unknown tags decode to
// nil with a diagnostic and never abort the rest of the document.
//
// # Architecture boundaries
//
// This package owns the traversal and the [Registry]. Which tags exist and
// which Go types they map to is owned by the models package.
//
// # What this package must NOT do
//
//   - Perform I/O or import HTTP, session or client packages.
//   - Mutate its inputs or a frozen [Registry].
//   - Fail a whole decode because one branch carries an unknown tag.
package unpickle
