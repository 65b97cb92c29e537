// Package transport provides the authenticated request pipeline: an
// http.RoundTripper that attaches session credentials to every request and
// recovers from an expired credential by refreshing once and retrying.
//
// # Refresh protocol
//
// A 401 response triggers a refresh unless the request targets the login
// endpoint or the session is not logged in. At most one refresh runs at a
// time; every request that fails while it runs waits for that same refresh.
// A request whose credential was replaced by a refresh that completed after
// it was sent is retried without refreshing again. Each request is retried at
// most once, so a second 401 reaches the caller.
//
// # Architecture boundaries
//
// The pipeline reads session state and triggers refreshes through the
// [Session] collaborator. It never stores session data itself.
//
// # What this package must NOT do
//
//   - Decode response bodies.
//   - Apply timeouts or backoff; cancellation comes from the request context.
//   - Block on navigation; [Navigator] implementations must return promptly.
package transport
