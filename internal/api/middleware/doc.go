// Package middleware provides the HTTP middleware for the terminal server.
//
// Middleware stack includes:
//   - RequestLogger: request IDs and structured access logs via zap
//   - CORS: cross-origin access to the session API
//   - RateLimit: per-IP token bucket, also covering WebSocket upgrades
//
// Example Usage:
//
//	router.Use(middleware.RequestLogger(logger))
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig(origins)))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
