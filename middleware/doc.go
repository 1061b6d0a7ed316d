// Package middleware adapts engine authentication to net/http.
//
// [Guard] reads the Authorization header, authenticates the bearer token
// through the engine, and injects the result into the request context for
// [AuthResultFromContext]. It makes no authorization decisions beyond
// pass or reject; everything else is delegated to the engine.
package middleware
