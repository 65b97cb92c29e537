// Package fakeserver is an in-process LittleBrother API for tests, the
// refresh benchmark and local demos.
//
// It issues HS256 access and refresh tokens as cookies, checks bcrypt
// password hashes, and answers every endpoint the client uses with
// "py/object" tagged payloads the way the real server does.
//
// # Architecture boundaries
//
// fakeserver depends on models, session (cookie names) and unpickle (tag
// key) only. Nothing outside tests and cmd/ imports it.
//
// # What this package must NOT do
//
//   - Persist anything. State lives in memory for the life of the Server.
//   - Implement monitoring logic. Statuses and schedules are canned data.
package fakeserver
