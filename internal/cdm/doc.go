// Package cdm coordinates decryption sessions against a content decryption
// engine.
//
// The engine notifies asynchronously (key messages, key readiness, errors,
// key-status changes) while callers use synchronous operations (load,
// update, remove, decrypt). This package is the bridge:
//
//   - State records which license-exchange milestones have fired and lets
//     callers wait for any of a set of them, with a timeout.
//   - Session is one decryption context. Its license-exchange calls drain
//     notifications already delivered, clear the stale milestones, call
//     the engine and wait for the outcome.
//   - Registry indexes live sessions and resolves the session holding a key,
//     waiting until the engine reports that key usable.
//   - Accessor creates sessions and forwards system-level queries.
//   - Media is the single-session convenience context with a selected key
//     system.
//
// # Notifications
//
// A session either applies notifications to its own State or forwards them
// to caller supplied Callbacks; the choice is made at creation. Sessions
// with Callbacks never block in Load, Update or Remove.
//
// # Lifetime
//
// Callers own *Session values. The Registry holds weak references, and a
// session whose last reference is dropped without Close has its engine
// handle released by a runtime cleanup.
package cdm
