// Package clearkey implements the message formats of the org.w3.clearkey
// key system.
//
// # Messages
//
// A license request is a JSON object listing the requested key ids:
//
//	{"kids":["<b64url>",...],"type":"temporary"}
//
// A release request adds "release":true and is answered with a release
// acknowledgement of the same shape, without "type". A license is a JSON Web
// Key set of symmetric keys:
//
//	{"keys":[{"kty":"oct","kid":"<b64url>","k":"<b64url>"}],"type":"temporary"}
//
// All binary values use unpadded base64url.
//
// # Init data
//
// ParseInitData accepts the "keyids" (JSON), "cenc" (one or more PSSH boxes;
// key ids are taken from version 1 boxes) and "webm" (the raw key id) init
// data types.
package clearkey
