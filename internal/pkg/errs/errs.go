package errs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"forumdm/internal/pkg/logx"
)

// CustomError is the error type surfaced to clients. It carries a business
// code, a user-facing message, and the HTTP status used when the error is
// returned from a REST handler.
type CustomError struct {
	Code    int
	Message string
	Status  int
}

// Error implements the error interface.
func (e CustomError) Error() string {
	return fmt.Sprintf("Error Code %d (HTTP %d): %s", e.Code, e.Status, e.Message)
}

// Is matches any CustomError with the same code, so callers can write
// errors.Is(err, errs.NewError(errs.ErrStoreUnavailable)).
func (e *CustomError) Is(target error) bool {
	var other *CustomError
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

// NewError returns a *CustomError built from the template registered for code.
// details are applied printf-style when the template has placeholders.
// Unknown codes fall back to ErrUnknown.
func NewError(code int, details ...any) *CustomError {
	templateErr, ok := errorMap[code]

	if !ok {
		logx.Error(
			fmt.Errorf("attempted to create an error with an unknown code in errorMap"),
			"Unknown error code requested",
			"requested_code", code,
		)

		unknownErr := errorMap[ErrUnknown]
		return &unknownErr
	}

	customErr := templateErr

	if customErr.Status == 0 {
		customErr.Status = http.StatusOK
	}

	if code == ErrUnknown && len(details) > 0 {
		if originalErr, ok := details[0].(error); ok {
			logx.Error(originalErr, "Handling ErrUnknown with underlying error")
		}
	} else if len(details) > 0 {
		if strings.Contains(customErr.Message, "%") {
			customErr.Message = fmt.Sprintf(customErr.Message, details...)
		} else {
			logx.Warn("Details provided for error, but message template has no formatting placeholders. Details ignored.")
		}
	}

	return &customErr
}

// FromError converts err into a *CustomError. Errors that already carry a
// CustomError in their chain are returned as-is; anything else becomes ErrUnknown.
func FromError(err error) *CustomError {
	if err == nil {
		return nil
	}
	var customErr *CustomError
	if errors.As(err, &customErr) {
		return customErr
	}
	return NewError(ErrUnknown, err)
}

// Message returns the registered user-facing message for code, or "" if unknown.
func Message(code int) string {
	if tmpl, ok := errorMap[code]; ok {
		return tmpl.Message
	}
	return ""
}
