package errs

import "net/http"

// errorMap stores the CustomError template for every application error code.
var errorMap = map[int]CustomError{
	// 1xxx
	ErrInvalidParams:        {Code: ErrInvalidParams, Message: "Invalid request parameters.", Status: http.StatusBadRequest},
	ErrUnsupportedMediaType: {Code: ErrUnsupportedMediaType, Message: "Unsupported request format.", Status: http.StatusUnsupportedMediaType},
	ErrInvalidJSONFormat:    {Code: ErrInvalidJSONFormat, Message: "Unsupported request format.", Status: http.StatusBadRequest},
	ErrExtraContentInBody:   {Code: ErrExtraContentInBody, Message: "Request contains unexpected data.", Status: http.StatusBadRequest},
	ErrRateLimitExceeded:    {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},
	ErrMalformedFrame:       {Code: ErrMalformedFrame, Message: "Malformed message."},

	// 2xxx
	ErrMessageContentEmpty:   {Code: ErrMessageContentEmpty, Message: "Message is empty."},
	ErrMessageContentTooLong: {Code: ErrMessageContentTooLong, Message: "Message is too long (max %d bytes)."},
	ErrUnknownRecipient:      {Code: ErrUnknownRecipient, Message: "Recipient not found.", Status: http.StatusNotFound},
	ErrSelfMessage:           {Code: ErrSelfMessage, Message: "You cannot message yourself.", Status: http.StatusBadRequest},

	// 3xxx
	ErrAuthFailed:       {Code: ErrAuthFailed, Message: "Authentication failed. Please sign in again.", Status: http.StatusUnauthorized},
	ErrNotAuthenticated: {Code: ErrNotAuthenticated, Message: "Authenticate before sending messages."},
	ErrSessionClosed:    {Code: ErrSessionClosed, Message: "Your session was closed."},
	ErrUnauthorized:     {Code: ErrUnauthorized, Message: "Please sign in to continue.", Status: http.StatusUnauthorized},

	// 5xxx
	ErrUnknown:          {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
	ErrStoreUnavailable: {Code: ErrStoreUnavailable, Message: "Messages are temporarily unavailable.", Status: http.StatusServiceUnavailable},
}
