// Package common holds wire-level names shared by the collector's HTTP
// client and its upload records.
package common

const (
	// AuthorizationHeaderName carries the participant credential on every
	// request to the API.
	AuthorizationHeaderName = "Authorization"

	// OrbitIDHeaderName repeats the server-assigned ID of a created video.
	// Background transfers may lose the response body; this header survives.
	OrbitIDHeaderName = "orbit-id"

	ContentTypeHeaderName = "Content-Type"
	JSONContentType       = "application/json"
)
