// Command server runs the mini-app host.
//
// It verifies mini-app manifests against the platform API before launch,
// keeps the cached manifests and the user's permission grants, and exposes
// both over HTTP.
//
// Usage:
//
//	server [--config host.yaml] [--port 8000] [--dev]
//
// Without --config every setting is read from the environment, for example
// MANIFEST_BASE_URL, MANIFEST_PROJECT_ID, STORAGE_BACKEND and LOG_LEVEL.
// A config file replaces environment loading entirely.
package main
