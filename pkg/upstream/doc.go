// Package upstream implements the remote catalog client for an Azure DevOps
// Artifacts feed.
//
// The provider exposes package metadata through two APIs, both behind a
// personal access token: the Artifacts feed API (package listing and
// per-package version documents) and the feed's npm registry view (per
// version: download locator, checksum, author, and editor-facing fields).
// One logical Fetch joins both so the synchronizer sees a single coherent
// snapshot per package.
//
// Authentication is HTTP Basic with an empty username and the token as
// password. The provider signals a rejected token with status 203 rather
// than 401.
package upstream
