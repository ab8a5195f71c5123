// Package storage is linkguard's optional persistence layer.
//
// It holds:
//   - the moderation audit trail (one entry per delete/warn/remove attempt)
//   - small settings such as the owner bound through pairing
//
// Warning counts are deliberately not stored here; they live in memory only.
package storage
