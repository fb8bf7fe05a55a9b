// Package auth provides authentication middleware for twin-server.
//
// APIKey(mode, header, key) returns HTTP middleware that validates the API
// key from the named request header. The server wraps the mutating routes
// (ingest, command, history clear, admin) with it; read-only routes stay open.
//
// When mode != "apikey" or key == "", all requests pass through (useful for
// local development with auth disabled). When the key is incorrect or absent,
// the middleware answers 401 immediately.
package auth
