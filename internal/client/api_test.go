package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forumdm/internal/pkg/errs"
	"forumdm/internal/protocol"
)

func writeEnvelope(w http.ResponseWriter, status, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"code": code, "message": "m", "data": data})
}

func TestHTTPAPI(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			writeEnvelope(w, http.StatusUnauthorized, errs.ErrUnauthorized, nil)
			return
		}
		assert.Equal(t, "2", r.URL.Query().Get("recipient_id"))
		assert.Equal(t, "10", r.URL.Query().Get("offset"))
		writeEnvelope(w, http.StatusOK, 0, []protocol.HistoryMessage{hist(5, other, me)})
	})
	mux.HandleFunc("/api/chat/users", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusServiceUnavailable, errs.ErrStoreUnavailable, nil)
	})
	mux.HandleFunc("/api/current-user", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusNotFound, errs.ErrUnknownRecipient, nil)
	})
	mux.HandleFunc("/api/dev/session", func(w http.ResponseWriter, r *http.Request) {
		var req protocol.DevSessionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		writeEnvelope(w, http.StatusOK, 0, protocol.DevSessionResponse{UserID: req.UserID, Token: "tok"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	ctx := context.Background()
	api := NewHTTPAPI(srv.URL+"/", "")

	_, err := api.History(ctx, other, 10)
	assert.ErrorIs(t, err, ErrAuthFailed)

	sess, err := api.DevSession(ctx, protocol.DevSessionRequest{UserID: me, DisplayName: "ada"})
	require.NoError(t, err)
	assert.Equal(t, me, sess.UserID)
	assert.Equal(t, "tok", api.Token)

	page, err := api.History(ctx, other, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, int64(5), page[0].ID)

	_, err = api.Users(ctx)
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = api.CurrentUser(ctx)
	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, errs.ErrUnknownRecipient, rejected.Code)
	assert.ErrorIs(t, err, ErrRejected)
}

func TestHTTPAPIServerUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	_, err := NewHTTPAPI(srv.URL, "tok").Users(context.Background())
	assert.ErrorIs(t, err, ErrTransportDropped)
}
