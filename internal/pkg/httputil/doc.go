// Package httputil provides shared HTTP response/request utilities for handlers.
//
// Admin API handlers and the public tracking endpoints use these helpers
// instead of raw http.ResponseWriter calls so error envelopes stay uniform
// and internal failures never reach unauthenticated callers.
package httputil
