// Package licenseserver moves ClearKey license challenges over HTTP.
//
// Client implements domain.LicenseClient: it POSTs a challenge to a license
// URL and returns the response body. Server is the matching http.Handler,
// answering license requests from an in-memory key table.
//
// HTTP API
//
//	POST /license
//	    Body is a ClearKey license or release request. A license request is
//	    answered with a JWK set of the known requested keys (404 when none is
//	    known); a release request is acknowledged.
//
//	GET /healthz
//	    Returns 200 "ok".
//
// Requests accept a context for cancellation and deadlines. Non-2xx statuses
// are returned as errors with the HTTP method, full URL, and status text to
// aid diagnostics.
package licenseserver
