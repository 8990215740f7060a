// Package health aggregates component checks into one report.
//
// The management API serves the report at /health. Checks registered by the
// relay cover the session store, the global configuration snapshot and the
// tool listeners:
//
//	checker := health.New(2*time.Second, version)
//	checker.RegisterCheck("store", store.Ping)
//	mux.Handle("/health", checker.Handler())
//
// Any failing or timed out check turns the status to "degraded" and the
// response code to 503.
package health
