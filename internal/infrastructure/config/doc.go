// Package config provides 12-factor configuration management for the
// mini-app host backend.
//
// Configuration is loaded from environment variables with sensible defaults,
// or from a YAML/TOML file passed with --config. A file replaces the
// environment entirely; sections it omits keep their defaults.
//
// Configuration Sections:
//   - Server: HTTP server settings (port, host, shutdown timeout)
//   - Storage: persistence backend (file, redis, memory)
//   - Fetcher: manifest API location, retries, rate limit and breaker
//   - Integrity: manifest digest algorithm
//   - Logging: Log level and output format
//   - RateLimit: Per-IP rate limiting configuration
//   - CORS: allowed API origins
//
// Example Usage:
//
//	cfg, err := config.Load()
//	cfg, err := config.LoadFile("/etc/miniapp/config.yaml")
//
// Environment Variables:
//   - PORT, HOST, SHUTDOWN_TIMEOUT
//   - STORAGE_BACKEND, STORAGE_DIR, REDIS_URL, REDIS_PREFIX
//   - MANIFEST_BASE_URL, MANIFEST_PROJECT_ID, MANIFEST_SUBSCRIPTION_KEY,
//     MANIFEST_PREVIEW, MANIFEST_LANG, MANIFEST_TIMEOUT, MANIFEST_MAX_RETRIES,
//     MANIFEST_RATE_LIMIT, MANIFEST_BREAKER_FAILURES, MANIFEST_BREAKER_TIMEOUT
//   - DIGEST_ALGORITHM, DIGEST_DRAIN_TIMEOUT
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
//   - CORS_ORIGINS
package config
