// Package main runs the in-memory ClearKey license server used by ocdm during
// development and tests.
//
// HTTP API
//
//	POST /license
//	    Answer a ClearKey license request with the known keys it names, as a
//	    JWK set. Release requests are acknowledged. 404 when no requested key
//	    is known.
//
//	GET /healthz
//	    Liveness probe.
//
// Behaviour
//
//   - Keys come from the server.keys table of the yaml config (hex key id to
//     hex key). All state is held in memory.
//   - A lightweight access log records method, path, remote, status, bytes and
//     duration for each request.
//   - The default listen address is :8080.
package main
