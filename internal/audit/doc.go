// Package audit implements async event dispatching for login and factor-management
// outcomes.
//
// # Components
//
//   - [Sink]: event consumer (channel, JSON lines, zap logger, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full or block-if-full semantics.
//   - [Event]: structured record with timestamp, type, user, method, IP and metadata.
//
// # Architecture boundaries
//
// This package owns buffering and delivery. It does NOT decide which events to
// emit; the Engine does.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import gatekeeper or any sibling internal package.
//   - Receive secrets: codes, answers and tokens never appear in an Event.
package audit
