package domain

// The pipeline stage types below are deliberately distinct: each stage
// of the trust pipeline consumes the previous stage's type and produces
// its own, so reordering stages fails to compile instead of silently
// letting the sanitizer strip the cid: and redirector references the
// earlier stages exist to fix.

// RawHTML is a message body exactly as fetched, untrusted.
type RawHTML string

// UnwrappedHTML has redirector-wrapped links resolved to their real
// destinations. Still untrusted.
type UnwrappedHTML string

// ResolvedHTML additionally has cid: image references rewritten to
// local asset paths. Still untrusted.
type ResolvedHTML string

// SanitizedHTML is allow-listed markup safe to persist and serve.
type SanitizedHTML string
