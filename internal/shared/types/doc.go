// Package types provides the shared data structures of the mini-app backend.
//
// Core Types:
//   - Manifest: required/optional permissions and custom metadata of a version
//   - CachedManifest: manifest plus the version id it was fetched for
//   - PermissionRecord, PermissionSet: stored custom permission grants
//   - GrantState: ALLOWED, DENIED, NOT_YET_SET
//
// Errors:
//   - NetworkError, NotFoundError, NoPublishedVersionError, FetchError
//   - RequiredPermissionsNotGrantedError
//   - PersistenceError
//
// Every typed error matches a sentinel (ErrNetwork, ErrNotFound, ...) through
// errors.Is, so callers can branch without type assertions.
//
// Example Usage:
//
//	if manifest.Equal(cached.Manifest) {
//	    return nil // nothing changed
//	}
//	missing := perms.MissingGrants(manifest.RequiredKinds())
package types
