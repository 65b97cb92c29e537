// Package events implements the client event bus and the login navigation
// queue.
//
// # Components
//
//   - [Sink] is the consumer interface (channel, JSON writer, no-op).
//   - [Dispatcher] has two lanes. The event lane is a buffered relay with
//     drop-if-full or block-if-full semantics. The login lane hands every
//     login request to a [NavigateFunc] in order, never drops one and never
//     blocks the requester.
//   - [Event] is the record: type, timestamp, user, outcome, metadata.
//
// # Architecture boundaries
//
// This package owns buffering and delivery. It does NOT decide which events
// to emit or when the user must log in again; the client does.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on their type.
//   - Make a login requester wait for the navigator.
//   - Import lbclient or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package events
