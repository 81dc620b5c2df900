package handler

import (
	"errors"
	"net/http"

	"forumdm/internal/app/store"
	"forumdm/internal/pkg/auth/jwt"
	"forumdm/internal/pkg/errs"
	"forumdm/internal/pkg/logx"
	"forumdm/internal/pkg/req"
	"forumdm/internal/pkg/resp"
	"forumdm/internal/protocol"
)

// HandleListUsers returns every other forum user with presence, last message
// preview and unread count, most recent conversation first.
func HandleListUsers(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)
		if identity == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		summaries, err := deps.Store.ListUsers(r.Context(), identity.UserID)
		if err != nil {
			logx.Error(err, "list_users: store query failed", "user_id", identity.UserID)
			resp.RespondError(w, r, errs.NewError(errs.ErrStoreUnavailable))
			return
		}

		entries := make([]protocol.UserEntry, 0, len(summaries))
		for _, s := range summaries {
			avatar, err := deps.Avatars.AvatarURL(r.Context(), s.AvatarKey)
			if err != nil {
				avatar = ""
			}
			entries = append(entries, protocol.UserEntry{
				ID:                 s.ID,
				DisplayName:        s.DisplayName,
				AvatarRef:          avatar,
				IsOnline:           deps.Hub.IsOnline(r.Context(), s.ID),
				LastSeen:           s.LastSeen,
				LastMessagePreview: s.LastMessagePreview,
				LastMessageAt:      s.LastMessageAt,
				UnreadCount:        s.UnreadCount,
			})
		}

		resp.RespondSuccess(w, r, entries)
	}
}

// HandleHistory returns one page of the conversation with recipient_id,
// newest first, skipping offset messages.
func HandleHistory(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)
		if identity == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		counterpart, customErr := req.QueryInt64(r, "recipient_id")
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}
		offset, customErr := req.QueryOffset(r, "offset")
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if _, err := deps.Store.GetUser(r.Context(), counterpart); err != nil {
			if errors.Is(err, store.ErrUserNotFound) {
				resp.RespondError(w, r, errs.NewError(errs.ErrUnknownRecipient))
				return
			}
			logx.Error(err, "history: user lookup failed", "counterpart_id", counterpart)
			resp.RespondError(w, r, errs.NewError(errs.ErrStoreUnavailable))
			return
		}

		page, err := deps.Store.History(r.Context(), identity.UserID, counterpart, offset, deps.Config.PageSize)
		if err != nil {
			logx.Error(err, "history: store query failed", "user_id", identity.UserID, "counterpart_id", counterpart)
			resp.RespondError(w, r, errs.NewError(errs.ErrStoreUnavailable))
			return
		}

		out := make([]protocol.HistoryMessage, 0, len(page))
		for _, m := range page {
			hm := protocol.HistoryMessage{
				ID:              m.ID,
				SenderID:        m.SenderID,
				RecipientID:     m.RecipientID,
				Content:         m.Content,
				CreatedAt:       m.CreatedAt,
				IsRead:          m.IsRead,
				IsOwnedByCaller: m.SenderID == identity.UserID,
			}
			if hm.IsOwnedByCaller {
				hm.CorrelationToken = m.CorrelationToken
			}
			out = append(out, hm)
		}

		resp.RespondSuccess(w, r, out)
	}
}
