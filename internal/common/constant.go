// Package common contains shared constants and sentinel errors used across
// the media service components.
package common

// AccessTokenHeaderName is the request header that may carry the access
// token instead of an "Authorization: Bearer" header.
const AccessTokenHeaderName = "access_token"

// AccessTokenQueryName is the query parameter used by push-channel clients,
// which cannot set headers on a browser WebSocket handshake.
const AccessTokenQueryName = "token"
