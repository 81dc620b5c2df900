/*
Package errs provides custom error types and application-level error code constants.

These error codes identify business and system failures both inside the server
and on the wire: HTTP responses carry them in the JSON envelope and websocket
error frames carry them in their code field.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request header Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body JSON format is incorrect.
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates that the request body contained extra content after valid JSON data.
	ErrExtraContentInBody = 1004

	// ErrRateLimitExceeded indicates that the request or frame rate exceeded the configured limit.
	ErrRateLimitExceeded = 1007

	// ErrMalformedFrame indicates a websocket frame that could not be decoded.
	ErrMalformedFrame = 1008
)

// 2xxx: Direct Message Errors
const (
	// ErrMessageContentEmpty indicates a message with no visible content.
	ErrMessageContentEmpty = 2200

	// ErrMessageContentTooLong indicates that the message content exceeded the maximum length limit.
	ErrMessageContentTooLong = 2201

	// ErrUnknownRecipient indicates that the addressed user does not exist.
	ErrUnknownRecipient = 2202

	// ErrSelfMessage indicates an attempt to message oneself.
	ErrSelfMessage = 2203
)

// 3xxx: Session and Security Errors
const (
	// ErrAuthFailed indicates the websocket auth frame carried a missing, invalid, or expired token.
	ErrAuthFailed = 3001

	// ErrNotAuthenticated indicates a frame other than auth arrived before authentication.
	ErrNotAuthenticated = 3002

	// ErrSessionClosed indicates the server ended the session, e.g. on logout elsewhere.
	ErrSessionClosed = 3004

	// ErrUnauthorized indicates an HTTP request without a valid session.
	ErrUnauthorized = 3010
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000

	// ErrStoreUnavailable indicates the message store could not be reached.
	ErrStoreUnavailable = 5001
)
