// Package server assembles the mini-app host: storage, manifest fetcher,
// reconciliation engine and HTTP API, and owns their shutdown order.
package server
