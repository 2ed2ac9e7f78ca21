/*
Package monitoring provides Prometheus metrics for the terminal server.

# Overview

Metrics are registered against a caller-supplied prometheus.Registerer so
that each server (and each test) owns its own registry.

# Features

- HTTP request metrics (count and latency per route)
- Internal operation timing (spawn, cleanup)
- Terminal session lifecycle: active, spawned, reattached, cleanups by reason
- Capacity rejections and spawn failures
- WebSocket connections, messages and relayed bytes

# Usage

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)

	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	timer := monitoring.NewTimer(metrics, "terminal", "spawn")
	// ... start the shell ...
	timer.Stop("success")
*/
package monitoring
