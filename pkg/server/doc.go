// Package server runs the per-tool proxy listeners.
//
// A Supervisor owns one http.Server per configured tool. Each listener binds
// 127.0.0.1:<port> (0.0.0.0 when allow_public is set), tags every accepted
// connection with a nonce for connection-scoped sessions and wraps the
// tool's proxy handler with recovery, request id and logging middleware.
//
// Listeners can be started and stopped individually while the relay runs:
//
//	sup := server.NewSupervisor(cfg.Server, cfg.Tools, factory, logger)
//	if err := sup.Start(ctx, "codex"); err != nil { ... }
//	defer sup.Stop(ctx, "codex")
//
// Run starts every enabled tool and blocks until the context is cancelled.
// No write timeout is set on the servers; streamed completions may run for
// minutes.
package server
