// Package httpserver exposes a read-only observer HTTP API over a running
// game session.
//
// The observer lets tooling watch a game without taking part in it: the
// roster of live agents and the session status are readable, but no endpoint
// can start rounds, spawn agents, or touch the roster file. All mutation
// stays with the session owner.
//
// # Endpoints
//
//   - /livez: liveness check
//   - /readyz: readiness check
//   - /roster: the current agent descriptor list
//   - /status: population counts and game settings
//
// # Usage Example
//
//	handler := httpserver.NewGameHandler(g)
//	srv, err := httpserver.New(cfg, handler)
//	if err != nil {
//	    return err
//	}
//	srv.RunInBackground()
//	defer srv.Shutdown()
package httpserver
