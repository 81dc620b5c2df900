package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forumdm/internal/pkg/clock"
	"forumdm/internal/protocol"
)

func TestTypingEmitterThrottlesAndStopsAfterQuiet(t *testing.T) {
	clk := clock.Fake(epoch)
	var sent []protocol.Frame
	e := NewTypingEmitter(clk, time.Second, 3*time.Second, func(f protocol.Frame) { sent = append(sent, f) })

	// Typing for two seconds at ten keystrokes a second.
	for i := 0; i < 20; i++ {
		e.Keystroke(other)
		clk.Advance(100 * time.Millisecond)
	}
	require.Len(t, sent, 2)
	assert.Equal(t, protocol.Typing{RecipientID: other, IsTyping: true}, sent[0])
	assert.Equal(t, protocol.Typing{RecipientID: other, IsTyping: true}, sent[1])

	clk.Advance(2800 * time.Millisecond)
	assert.Len(t, sent, 2, "quiet period restarts on every keystroke")

	clk.Advance(200 * time.Millisecond)
	require.Len(t, sent, 3)
	assert.Equal(t, protocol.StopTyping{RecipientID: other}, sent[2])
	assert.False(t, e.Active())
	assert.Zero(t, clk.Pending())
}

func TestTypingEmitterSwitchingRecipientStopsFirst(t *testing.T) {
	clk := clock.Fake(epoch)
	var sent []protocol.Frame
	e := NewTypingEmitter(clk, time.Second, 3*time.Second, func(f protocol.Frame) { sent = append(sent, f) })

	e.Keystroke(other)
	e.Keystroke(third)

	assert.Equal(t, []protocol.Frame{
		protocol.Typing{RecipientID: other, IsTyping: true},
		protocol.StopTyping{RecipientID: other},
		protocol.Typing{RecipientID: third, IsTyping: true},
	}, sent)
}

func TestTypingEmitterHaltIsSilent(t *testing.T) {
	clk := clock.Fake(epoch)
	var sent []protocol.Frame
	e := NewTypingEmitter(clk, time.Second, 3*time.Second, func(f protocol.Frame) { sent = append(sent, f) })

	e.Keystroke(other)
	e.Halt()
	clk.Advance(10 * time.Second)

	assert.Len(t, sent, 1)
	e.Stop()
	assert.Len(t, sent, 1, "nothing to stop after a halt")
}

type typingChange struct {
	user   int64
	typing bool
	name   string
}

func TestTypingIndicatorsExpireWithoutStopFrame(t *testing.T) {
	clk := clock.Fake(epoch)
	var changes []typingChange
	ind := NewTypingIndicators(clk, 3*time.Second, func(u int64, typing bool, name string) {
		changes = append(changes, typingChange{u, typing, name})
	})

	ind.Apply(protocol.TypingStatus{UserID: other, IsTyping: true, Username: "bob"})
	clk.Advance(2 * time.Second)
	ind.Apply(protocol.TypingStatus{UserID: other, IsTyping: true})
	assert.Equal(t, []typingChange{{other, true, "bob"}}, changes, "refresh does not re-announce")

	clk.Advance(2 * time.Second)
	assert.True(t, ind.IsTyping(other), "refresh extended the flag")

	clk.Advance(time.Second)
	assert.False(t, ind.IsTyping(other))
	assert.Equal(t, []typingChange{{other, true, "bob"}, {other, false, "bob"}}, changes)
	assert.Zero(t, clk.Pending())
}

func TestTypingIndicatorsExplicitStopAndReset(t *testing.T) {
	clk := clock.Fake(epoch)
	var changes []typingChange
	ind := NewTypingIndicators(clk, 3*time.Second, func(u int64, typing bool, name string) {
		changes = append(changes, typingChange{u, typing, name})
	})

	ind.Apply(protocol.TypingStatus{UserID: other, IsTyping: true, Username: "bob"})
	ind.Apply(protocol.TypingStatus{UserID: third, IsTyping: true, Username: "cyd"})
	ind.Apply(protocol.TypingStatus{UserID: other, IsTyping: false})
	assert.False(t, ind.IsTyping(other))
	assert.True(t, ind.IsTyping(third))

	ind.Apply(protocol.TypingStatus{UserID: other, IsTyping: false})
	ind.Reset()
	assert.False(t, ind.IsTyping(third))

	clk.Advance(5 * time.Second)
	assert.Equal(t, []typingChange{
		{other, true, "bob"},
		{third, true, "cyd"},
		{other, false, "bob"},
		{third, false, "cyd"},
	}, changes)
}
