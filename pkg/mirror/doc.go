// Package mirror contains the normalized package model and the synchronizer
// that reconciles a remote feed's catalog into the local metadata store.
//
// The model is a fixed internal schema: whatever shape the remote API
// returns, the catalog client reduces it to [Identity] and [UpstreamVersion]
// values, and [Normalize] turns those into the [Package] documents the rest
// of the system reads. The synchronizer's invariants therefore never depend
// on upstream wire formats.
//
// # Synchronization
//
// A [Synchronizer] runs one cycle at a time. Each cycle lists every package
// identity in the feed, then fetches, normalizes, and upserts each package
// independently with bounded parallelism. One broken package never blocks
// the rest of the catalog; a failed listing aborts the whole cycle and is
// retried on the next tick.
package mirror
