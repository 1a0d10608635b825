// Package session owns the on-disk lifecycle of a planning session.
//
// A session is a directory named {sequence}_{hash} under the session
// root, where sequence is a zero-padded monotonically increasing integer
// and hash is the first 12 hex characters of the SHA-256 of the source
// requirements document. The directory holds an immutable snapshot of
// the document, the evolving backlog (rewritten only via an atomic
// temp-file-and-rename), an optional parent-session link recording the
// predecessor this session was forked from when the document changed,
// and opaque per-node artifact subdirectories.
//
// The manager assumes a single writer process per session directory and
// serializes all backlog writes behind a mutex.
package session
