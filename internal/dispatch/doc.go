// Package dispatch implements the HTTP dispatch core: an ordered route
// table with named path parameters, a continuation-style middleware
// pipeline, CORS response decoration with preflight short-circuiting,
// and the Server that composes them behind a single request entry
// point.
//
// The four pieces are populated during a configuration phase and become
// read-only once the server starts, so request handling needs no
// locking. Requests are served concurrently by net/http; within one
// request the pipeline runs depth-first and sequentially.
//
// WebSocket upgrades are delegated to the socket package; the server
// hands every upgraded connection to a single registered handler.
package dispatch
