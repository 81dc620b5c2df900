package chat

import (
	"forumdm/internal/pkg/errs"
	"forumdm/internal/protocol"
)

// Hub errors. They are *errs.CustomError values so the websocket client can
// turn them into error frames and HTTP handlers into envelopes; wrap them with
// %w and match with errors.Is.
var (
	ErrStoreUnavailable = errs.NewError(errs.ErrStoreUnavailable)
	ErrUnknownRecipient = errs.NewError(errs.ErrUnknownRecipient)
	ErrContentEmpty     = errs.NewError(errs.ErrMessageContentEmpty)
	ErrSelfMessage      = errs.NewError(errs.ErrSelfMessage)
	ErrHubClosed        = errs.NewError(errs.ErrSessionClosed)
)

const (
	CloseSessionEnded = protocol.CloseSessionEnded
	CloseAuthFailed   = protocol.CloseAuthFailed
)
