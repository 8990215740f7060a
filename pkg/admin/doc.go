// Package admin serves the management API of the relay.
//
// The API lists, edits and removes sessions, starts and stops the per-tool
// listeners, applies the network proxy and streams session events over a
// websocket at /api/events. It binds to 127.0.0.1:8790 by default. When a
// token is configured every route except /health requires
// "Authorization: Bearer <token>".
//
//	api := admin.New(admin.Options{Sessions: manager, Proxies: supervisor, Network: applier})
//	srv := admin.NewServer(&cfg.Admin, &cfg.Server, api, logger)
//	err := srv.Run(ctx)
package admin
