// Package session keeps the client-side login state of an lbclient profile:
// whether the user is logged in, whether a credential refresh is running, the
// credential cookies, and where to go after the next login.
//
// # Persistence
//
// [Info] is stored through a [Store]. [MemoryStore] keeps it in process,
// [RedisStore] shares it between processes (several lbctl invocations, a
// dashboard and a poller) and [FileStore] writes one file per profile for
// command-line use. All of them use a compact versioned binary encoding with
// forward migration on read.
//
// # Architecture boundaries
//
// This package owns the [Manager] state machine and its persistence. It does
// NOT issue HTTP requests; the client performs login, logout and refresh and
// reports the outcome here.
//
// # What this package must NOT do
//
//   - Import lbclient, transport or models (no upward imports).
//   - Verify token signatures; tokens are only inspected for their expiry.
//   - Store passwords.
package session
