// Package fetcher downloads mini-app manifests from the platform API.
//
// Built on go-resty/resty over a go-retryablehttp transport:
//   - Transport retries with backoff for connection errors and 5xx
//   - Rate limiting per client instance
//   - A circuit breaker that only counts connectivity failures
//   - A fresh X-Request-ID per request
//
// Status mapping:
//
//	200            manifest
//	404            NotFoundError, or NoPublishedVersionError when the body says so
//	429, 5xx       NetworkError (after retries)
//	other          FetchError
//	breaker open   NetworkError
//
// Example Usage:
//
//	f, err := fetcher.New(fetcher.Config{BaseURL: url, ProjectID: "p1"}, logger, metrics)
//	m, err := f.FetchManifest(ctx, "app-1", "v1", "en")
package fetcher
