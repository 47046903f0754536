// Package handlers contains health checks and reusable middleware for the
// dashboard HTTP interface.
//
// # Health Checks
//
// Checks are registered by name and run in parallel. Critical checks decide
// readiness; optional ones only degrade health:
//
//	checker := handlers.NewCompositeHealthChecker("v1.0.0")
//	checker.AddCheck("postgres", handlers.NewPingCheck(conn))
//	checker.AddCheck("postgres_breaker", handlers.NewBreakerCheck(source.BreakerState))
//	checker.AddOptionalCheck("redis", handlers.NewPingCheck(cache))
//
//	status := checker.Check(ctx)
//	if !status.Ready {
//	    log.Printf("not ready: %s", status.Message)
//	}
//
// # Middleware
//
// Middleware is composed with Chain, outermost first:
//
//	h := handlers.ChainHandler(mux,
//	    handlers.SecurityHeadersMiddleware,
//	    handlers.NoCacheMiddleware,
//	    handlers.RequestSizeLimitMiddleware(1<<20),
//	)
package handlers
