// Package handlers contains the health checker and reusable middleware used
// by the puzzle hub HTTP server.
//
// # Health Checks
//
// Checks run in parallel with a per-check timeout. Critical checks decide
// readiness; optional ones only mark the service degraded:
//
//	checker := handlers.NewCompositeHealthChecker("0.1.0")
//	checker.AddDetailedCheck("postgres", true, db.HealthCheck)
//	checker.AddOptionalCheck("redis", handlers.NewPingCheck(cache))
//	checker.AddDetailedCheck("gamestate_breaker", false, handlers.NewBreakerCheck(breaker))
//
// # Middleware
//
//	limiter := handlers.NewRateLimiter(20, 40)
//	h := handlers.ChainHandler(
//	    mux,
//	    handlers.SecurityHeadersMiddleware,
//	    limiter.Middleware(clientIP, reject),
//	    handlers.UserIdentity("default_user"),
//	)
//
// UserIdentity resolves the acting user from the X-User-ID header and falls
// back to the configured default user. It identifies, it does not
// authenticate.
package handlers
