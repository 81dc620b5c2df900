package handler

import (
	"errors"
	"net/http"
	"strings"

	"forumdm/internal/app/chat"
	"forumdm/internal/app/store"
	"forumdm/internal/app/user"
	"forumdm/internal/pkg/auth/jwt"
	"forumdm/internal/pkg/errs"
	"forumdm/internal/pkg/logx"
	"forumdm/internal/pkg/req"
	"forumdm/internal/pkg/resp"
	"forumdm/internal/protocol"
)

// HandleCurrentUser answers who the session cookie or bearer token belongs to.
func HandleCurrentUser(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)
		if identity == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		u, err := deps.Store.GetUser(r.Context(), identity.UserID)
		switch {
		case errors.Is(err, store.ErrUserNotFound):
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		case err != nil:
			logx.Error(err, "current_user: lookup failed", "user_id", identity.UserID)
			resp.RespondError(w, r, errs.NewError(errs.ErrStoreUnavailable))
			return
		}

		resp.RespondSuccess(w, r, protocol.Identity{UserID: u.ID, DisplayName: u.DisplayName})
	}
}

// HandleLogout clears the session cookie and closes every open connection of the user.
func HandleLogout(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)
		if identity == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		http.SetCookie(w, &http.Cookie{
			Name:     deps.Config.SessionCookie,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   !deps.Config.IsDevelopment(),
			SameSite: http.SameSiteLaxMode,
		})

		closed := deps.Hub.DisconnectUser(identity.UserID, chat.CloseSessionEnded, "logged out")
		logx.Info("User logged out", "user_id", identity.UserID, "closed_connections", closed)

		resp.RespondSuccess(w, r, map[string]int{"closedConnections": closed})
	}
}

// HandleDevSession provisions a user and signs a session for it. It is only
// routed in development, standing in for the forum's login.
func HandleDevSession(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input protocol.DevSessionRequest
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		input.DisplayName = strings.TrimSpace(input.DisplayName)
		if input.UserID <= 0 || input.DisplayName == "" {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		u := user.User{ID: input.UserID, DisplayName: input.DisplayName, AvatarKey: input.AvatarKey}
		if err := deps.Store.UpsertUser(r.Context(), u); err != nil {
			logx.Error(err, "dev_session: upsert failed", "user_id", u.ID)
			resp.RespondError(w, r, errs.NewError(errs.ErrStoreUnavailable))
			return
		}

		token, err := deps.Sessions.Issue(u)
		if err != nil {
			logx.Error(err, "dev_session: token generation failed", "user_id", u.ID)
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		http.SetCookie(w, &http.Cookie{
			Name:     deps.Config.SessionCookie,
			Value:    token,
			Path:     "/",
			MaxAge:   int(jwt.SessionExpiration.Seconds()),
			HttpOnly: true,
			Secure:   !deps.Config.IsDevelopment(),
			SameSite: http.SameSiteLaxMode,
		})

		resp.RespondSuccess(w, r, protocol.DevSessionResponse{UserID: u.ID, Token: token})
	}
}
