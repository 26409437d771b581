// Package commands defines the ocdm CLI and wires dependencies for subcommands.
//
// Commands
//
//   - supported   Report whether a key system and mime type are supported
//   - license     Acquire a license for key ids from the license server
//   - restore     Restore a persisted license by name
//   - release     Release a persisted license by name
//   - decrypt     Decrypt a CENC sample file with a freshly acquired key
//   - stream      Load and play a yaml stream descriptor
//
// # Implementation
//
// The root command loads the yaml configuration (or defaults), builds the
// logger and the dependency graph before any subcommand runs, and closes
// every open session after it finishes.
package commands
