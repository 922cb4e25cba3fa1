// Package store provides metadata store backends for mirrored package
// records.
//
// Two implementations exist:
//   - Mongo: one document per package in a MongoDB collection, the
//     production backend shared by the sync daemon and the HTTP adapter
//   - Memory: a mutex-guarded map for tests and local development
//
// Both expose the same four logical operations (upsert-one, get-one,
// get-all, delete-all) plus Ping. Consumers declare their own narrow
// interfaces over the subset they use; this package only returns concrete
// types.
package store

import "github.com/matzehuels/upmirror/pkg/errors"

// ErrNotFound reports a lookup for a package that has never been synced.
// It carries the NOT_FOUND code so callers can distinguish it from store
// connectivity failures.
var ErrNotFound = errors.New(errors.ErrCodeNotFound, "package not found")
