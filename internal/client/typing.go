package client

import (
	"time"

	"forumdm/internal/pkg/clock"
	"forumdm/internal/protocol"
)

// TypingEmitter turns keystrokes into typing frames: typing=true at most
// once per throttle interval, and stop-typing after a quiet period with no
// keystrokes. It is not safe for concurrent use; timer callbacks must be
// serialized with the caller by the supplied clock.
type TypingEmitter struct {
	clock    clock.Clock
	throttle time.Duration
	quiet    time.Duration
	send     func(protocol.Frame)

	recipient int64
	active    bool
	lastSent  time.Time
	timer     clock.Timer
	seq       uint64
}

// NewTypingEmitter returns an idle emitter that hands its frames to send.
func NewTypingEmitter(c clock.Clock, throttle, quiet time.Duration, send func(protocol.Frame)) *TypingEmitter {
	return &TypingEmitter{clock: c, throttle: throttle, quiet: quiet, send: send}
}

// Keystroke records local input in the conversation with recipient.
func (e *TypingEmitter) Keystroke(recipient int64) {
	if e.active && e.recipient != recipient {
		e.Stop()
	}

	now := e.clock.Now()
	if !e.active || now.Sub(e.lastSent) >= e.throttle {
		e.send(protocol.Typing{RecipientID: recipient, IsTyping: true})
		e.lastSent = now
	}
	e.active = true
	e.recipient = recipient

	e.stopTimer()
	e.seq++
	seq := e.seq
	e.timer = e.clock.AfterFunc(e.quiet, func() {
		if e.seq == seq {
			e.Stop()
		}
	})
}

// Stop sends stop-typing if typing was announced.
func (e *TypingEmitter) Stop() {
	e.stopTimer()
	if !e.active {
		return
	}
	e.active = false
	e.lastSent = time.Time{}
	e.send(protocol.StopTyping{RecipientID: e.recipient})
}

// Halt forgets the typing state without sending anything, as when the
// connection is gone.
func (e *TypingEmitter) Halt() {
	e.stopTimer()
	e.active = false
	e.lastSent = time.Time{}
}

// Active reports whether a typing indication is currently on.
func (e *TypingEmitter) Active() bool { return e.active }

func (e *TypingEmitter) stopTimer() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.seq++
}

type indicator struct {
	username string
	timer    clock.Timer
}

// TypingIndicators tracks who is typing to us. A flag expires after ttl even
// if the matching typing=false frame is lost.
type TypingIndicators struct {
	clock    clock.Clock
	ttl      time.Duration
	onChange func(userID int64, typing bool, username string)
	active   map[int64]*indicator
}

// NewTypingIndicators returns an empty set. onChange runs on every
// started/stopped transition.
func NewTypingIndicators(c clock.Clock, ttl time.Duration, onChange func(userID int64, typing bool, username string)) *TypingIndicators {
	return &TypingIndicators{clock: c, ttl: ttl, onChange: onChange, active: make(map[int64]*indicator)}
}

// Apply records a typing-status frame.
func (t *TypingIndicators) Apply(s protocol.TypingStatus) {
	if !s.IsTyping {
		t.clear(s.UserID)
		return
	}

	old, wasTyping := t.active[s.UserID]
	if wasTyping {
		old.timer.Stop()
	}
	username := s.Username
	if username == "" && wasTyping {
		username = old.username
	}

	ind := &indicator{username: username}
	t.active[s.UserID] = ind
	ind.timer = t.clock.AfterFunc(t.ttl, func() {
		if t.active[s.UserID] == ind {
			delete(t.active, s.UserID)
			t.onChange(s.UserID, false, ind.username)
		}
	})

	if !wasTyping {
		t.onChange(s.UserID, true, username)
	}
}

// IsTyping reports whether userID is shown as typing.
func (t *TypingIndicators) IsTyping(userID int64) bool {
	_, ok := t.active[userID]
	return ok
}

func (t *TypingIndicators) clear(userID int64) {
	ind, ok := t.active[userID]
	if !ok {
		return
	}
	ind.timer.Stop()
	delete(t.active, userID)
	t.onChange(userID, false, ind.username)
}

// Reset drops every flag, announcing each as stopped.
func (t *TypingIndicators) Reset() {
	for id := range t.active {
		t.clear(id)
	}
}
