package handler

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forumdm/internal/client"
	"forumdm/internal/protocol"
)

type liveClient struct {
	ctl  *client.Controller
	done chan error
}

// startClient signs in as uid through the dev session route and runs a
// controller against the test server.
func (s *testServer) startClient(t *testing.T, uid int64, name string) (*liveClient, *client.HTTPAPI) {
	t.Helper()

	api := client.NewHTTPAPI(s.URL, "")
	_, err := api.DevSession(context.Background(), protocol.DevSessionRequest{UserID: uid, DisplayName: name})
	require.NoError(t, err)

	return s.runClient(t, api), api
}

func (s *testServer) runClient(t *testing.T, api *client.HTTPAPI) *liveClient {
	t.Helper()

	dialer := client.WebSocketDialer{URL: "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"}
	lc := &liveClient{
		ctl:  client.New(api.Token, dialer, api, client.DefaultConfig()),
		done: make(chan error, 1),
	}
	t.Cleanup(lc.ctl.Close)
	go func() { lc.done <- lc.ctl.Run(context.Background()) }()

	require.Eventually(t, func() bool { return lc.ctl.State() == client.Live }, 3*time.Second, 10*time.Millisecond)
	return lc
}

func userEntry(users []protocol.UserEntry, id int64) (protocol.UserEntry, bool) {
	for _, u := range users {
		if u.ID == id {
			return u, true
		}
	}
	return protocol.UserEntry{}, false
}

func TestControllerAgainstServer(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	ada, adaAPI := s.startClient(t, 1, "ada")
	bobAPI := client.NewHTTPAPI(s.URL, "")
	_, err := bobAPI.DevSession(ctx, protocol.DevSessionRequest{UserID: 2, DisplayName: "bob"})
	require.NoError(t, err)

	require.NoError(t, ada.ctl.OpenConversation(ctx, 2))
	sent, err := ada.ctl.Send(ctx, "are you there?")
	require.NoError(t, err)
	assert.Equal(t, client.Pending, sent.State)

	require.Eventually(t, func() bool {
		_, entries := ada.ctl.Conversation()
		return len(entries) == 1 && entries[0].State == client.Confirmed
	}, 3*time.Second, 10*time.Millisecond, "the echo confirms the bubble")
	_, entries := ada.ctl.Conversation()
	assert.Positive(t, entries[0].ID)
	assert.Equal(t, "are you there?", entries[0].Content)

	// Bob was offline; the message waits for him as unread.
	bob := s.runClient(t, bobAPI)
	require.Eventually(t, func() bool {
		u, ok := userEntry(bob.ctl.Users(), 1)
		return ok && u.UnreadCount == 1 && u.IsOnline
	}, 3*time.Second, 10*time.Millisecond)
	u, _ := userEntry(bob.ctl.Users(), 1)
	assert.Equal(t, "are you there?", u.LastMessagePreview)

	require.Eventually(t, func() bool {
		u, ok := userEntry(ada.ctl.Users(), 2)
		return ok && u.IsOnline
	}, 3*time.Second, 10*time.Millisecond, "ada sees bob come online")

	// A second tab of ada's session ends when the first one logs out.
	otherTab := s.runClient(t, client.NewHTTPAPI(s.URL, adaAPI.Token))
	require.NoError(t, ada.ctl.Logout(ctx))

	select {
	case err := <-otherTab.done:
		assert.ErrorIs(t, err, client.ErrSessionEnded)
	case <-time.After(3 * time.Second):
		t.Fatal("other tab kept running after logout")
	}
	assert.Equal(t, client.Disconnected, otherTab.ctl.State())

	select {
	case err := <-ada.done:
		// The server's 4001 can race the controller's own close.
		if err != nil {
			assert.ErrorIs(t, err, client.ErrSessionEnded)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("logged out controller kept running")
	}
}
