// Package model defines the typed payloads of the DVote governance event
// stream.
//
// The realtime layer treats payloads as opaque bytes; consumers that care
// about content decode them here.
//
// Conventions:
//   - Addresses and 32-byte hashes: 0x-prefixed hex strings
//   - Token and ETH amounts: decimal strings (wei does not fit in float64)
//   - Timestamps: int64 seconds since Unix epoch, as emitted on-chain
package model
