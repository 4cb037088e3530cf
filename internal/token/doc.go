// Package token owns the session token: layered persistence and structural
// validation.
//
// The store fans a single token value out across ordered layers (in-memory
// cache, sqlite database, token file) under one storage key, so a read takes
// the first non-empty hit and a clear is exhaustive across every layer. The
// validator checks shape and expiry only; signature verification belongs to
// the server.
package token
