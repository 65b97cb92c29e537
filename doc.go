// Package lbclient is a Go client for the LittleBrother parental-monitoring
// API. It keeps one login session, transparently renews its credential when
// the server answers 401, and decodes the server's tagged transport objects
// into the types of package models.
//
// A Client is safe for concurrent use after [Builder.Build]:
//
//	c, err := lbclient.New().WithConfig(cfg).WithRedis(rdb).Build()
//	if err != nil { ... }
//	defer c.Close()
//	_ = c.Restore(ctx)
//	statuses, err := c.UserStatus(ctx)
//
// # Architecture boundaries
//
// lbclient is the public surface. It exposes [Client], [Builder], [Config],
// events and metrics. The refresh protocol lives in package transport, session
// state and its persistence in package session, and tag decoding in package
// unpickle. None of them import lbclient.
//
// # What this package must NOT do
//
//   - Perform I/O in Build. The persisted session is loaded by Client.Restore.
//   - Refresh the credential outside the transport pipeline, except for the
//     optional proactive refresh in EnsureAuthenticated.
//   - Block an error return on navigation or event delivery.
package lbclient
