/*
Package monitoring provides Prometheus metrics for the mini-app host.

# Overview

Metrics are registered on an injected prometheus.Registerer so the server
and each test own their registry. Besides HTTP request metrics the package
tracks the reconciliation pipeline: fetches, cache stores, integrity checks,
background digest writes and permission pruning.

# Usage

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)

	// Add middleware to Gin router
	router.Use(monitoring.Middleware(metrics))

	// Time operations
	timer := monitoring.NewTimer(metrics, "reconcile", "verify_manifest")
	// ... perform operation ...
	timer.Stop("success")

# Metrics Endpoint

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
*/
package monitoring
