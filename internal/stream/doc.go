// Package stream is a narrow player-facing stream built on the license and
// media services.
//
// A stream is loaded from a YAML descriptor. Loading a protected stream
// acquires its license; playing it decrypts the descriptor's samples.
//
//	Idle --Load--> Loading --> Prepared --Play--> Playing --Pause--> Paused
//	                  \                                  <--Play--
//	                   `--> Error
//
// Close returns the stream to Idle from any state and releases its session.
package stream
