// Package route computes the effective upstream of a session.
//
// Precedence, highest first:
//
//  1. the named profile the session is pinned to (custom_profile_name)
//  2. the session's own url and api_key
//  3. the global default of the session's tool
//
// A resolution that ends without both a URL and an API key fails with
// ErrNoRoute, which the proxy reports as a local configuration error.
package route
