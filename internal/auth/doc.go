// Package auth owns the authentication lifecycle: the coordinator that
// checks, refreshes and exchanges tokens against the media server, the
// redirect guard that keeps an unauthenticated session from looping through
// the login entry point, and the browser login flow.
//
// The coordinator is the sole writer of the authentication status projection
// published on [bus.TopicAuthStatus]. Concurrent refresh callers coalesce
// onto a single in-flight request; the server invalidates tokens issued
// concurrently, so parallel refreshes would log the session out.
package auth
