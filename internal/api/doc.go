// Package api implements the HTTP handlers for the task service. Handlers
// validate input, delegate to the task store, and translate store and domain
// errors into sanitized HTTP responses.
package api
