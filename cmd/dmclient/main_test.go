package main

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forumdm/internal/client"
)

func TestLoadOptions(t *testing.T) {
	t.Setenv("DMCLIENT_TOKEN", "from-env")

	o, err := loadOptions([]string{"--to", "2", "--server", "http://chat.example/"})
	require.NoError(t, err)
	assert.Equal(t, "from-env", o.Token)
	assert.Equal(t, int64(2), o.To)
	assert.Equal(t, "http://chat.example", o.Server)
	assert.Equal(t, 3*time.Second, o.Reconnect)

	o, err = loadOptions([]string{"--to", "2", "--token", "flag"})
	require.NoError(t, err)
	assert.Equal(t, "flag", o.Token, "flag beats env")

	_, err = loadOptions([]string{"--token", "x"})
	assert.Error(t, err)
}

func TestWSURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8080/ws", wsURL("http://localhost:8080"))
	assert.Equal(t, "wss://chat.example/ws", wsURL("https://chat.example"))
}

func TestViewPrintsEachStateOnce(t *testing.T) {
	var buf bytes.Buffer
	v := newView(&buf)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	pending := client.Entry{State: client.Pending, Token: "t1", SenderID: 1, RecipientID: 2, Content: "hi", CreatedAt: at}
	v.conversation(2, []client.Entry{pending})
	assert.Empty(t, buf.String())

	failed := pending
	failed.State, failed.Err = client.Failed, errors.New("boom")
	v.conversation(2, []client.Entry{failed})
	v.conversation(2, []client.Entry{failed})
	assert.Equal(t, "!! not delivered (boom); /resend t1\n", buf.String())

	buf.Reset()
	confirmed := client.Entry{State: client.Confirmed, ID: 9, SenderID: 2, RecipientID: 1, Content: "yo", CreatedAt: at}
	v.conversation(2, []client.Entry{confirmed})
	v.conversation(2, []client.Entry{confirmed})
	assert.Contains(t, buf.String(), "them: yo")
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("\n")))
}
