// Package app wires application dependencies for the CLIs.
//
// LoadConfig reads the yaml configuration. NewWire builds the clock, license
// store, ClearKey engine, accessor, license client and high-level services
// from it, exposing them via the Wire struct for commands to use.
// NewLicenseServer builds the HTTP server run by cmd/licenseserver.
package app
