// Package session is the registry of client sessions seen by the relay.
//
// A session is one running instance of a CLI tool. The proxy reports what it
// can observe about a request as a RawIdentity; DeriveHandle turns that into
// a stable session id, trying the request body's metadata.user_id first,
// then the tool's session header, then the TCP connection.
//
// The Manager sits between the proxy and the Store:
//
//   - Identify and RecordActivity keep bookkeeping off the response path.
//     Activity is written by a background worker through UpsertSession.
//   - ResolveRoute caches the effective upstream per session. Every config
//     or note change, delete, clear and retention sweep invalidates the
//     cache while holding the cache lock, so the next request observes it.
//   - Subscribe delivers lifecycle events to the management API.
//
// The store implementation lives in the storage subpackage; retention
// scheduling lives in the retention subpackage.
package session
