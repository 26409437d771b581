// Package license drives license exchanges over the session core.
//
// It creates a session, sends each challenge the engine produces to the
// license server, and feeds the answers back until the key is usable, the
// round limit is hit, or the engine reports an error. Persistent licenses
// can be restored from the license store and released again.
package license
