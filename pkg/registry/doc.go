// Package registry exposes the mirrored metadata through the subset of the
// npm registry protocol needed for discovery: package documents, the bulk
// /-/all listing the upstream provider itself does not support, and search.
//
// The adapter is read-only. Every response is projected from the records in
// the metadata store; clients fetch package archives directly from the
// upstream registry with their own credentials using the tarball locators
// embedded in the documents.
package registry
