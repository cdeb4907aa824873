// Package dev provides the development loop: file watching, serialized
// rebuilds, served-process supervision, and browser reload.
//
// # Architecture
//
//   - Watcher: fsnotify-backed recursive watcher with ignore rules
//   - Coordinator: the rebuild state machine (Idle, Building, BuildingStale)
//   - Process: runs <runtime> <out>/server/server.js with PORT set
//   - ReloadServer: notifies browsers of builds via WebSocket
//   - Server: wires the pieces together behind a chi front proxy
//
// Change notifications only bump the rebuild token; they never wait for a
// build. One build runs at a time and is never interrupted. When the token
// moved while a build ran, the next build starts for the latest token as
// soon as the current one finishes. The served process is restarted only
// after a successful build, so a failed build leaves the last good instance
// running.
//
// # Usage
//
//	srv := dev.NewServer(dev.ServerOptions{Config: cfg, Logger: logger})
//	if err := srv.Run(ctx); err != nil {
//	    return err
//	}
//
// # Front proxy
//
// With dev.hotReload enabled the front server listens on dev.port and
// forwards to the served process on dev.port+1. It also serves:
//
//	/_isosplit/reload   WebSocket reload channel
//	/_isosplit/routes   route table of the last successful build
//	/_isosplit/metrics  Prometheus metrics
//
// Reload messages are JSON-encoded:
//
//	{"type": "reload", "token": 3}                 // full page reload
//	{"type": "css", "token": 4}                    // stylesheet refresh
//	{"type": "error", "code": "E101", "error": "..."} // error overlay
//	{"type": "clear"}                              // clear the overlay
package dev
