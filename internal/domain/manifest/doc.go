// Package manifest provides the persistent cache of downloaded mini-app
// manifests.
//
// Each mini-app has at most one cached manifest, stored together with the
// version id it was fetched for so the two can never drift apart. The stored
// bytes are also what the integrity verifier digests; ManifestFile returns a
// handle on them.
//
// Example Usage:
//
//	cache := manifest.NewCache(kv)
//	cached, err := cache.Read(ctx, "app-1")
//	err = cache.Store(ctx, "app-1", types.CachedManifest{VersionID: "v2", Manifest: m})
//	file := cache.ManifestFile("app-1")
package manifest
