/*
Package client is the browser-side half of direct messaging, written as a Go
library: a session controller that keeps one live connection to the hub, and
the state it renders from it (the open conversation, the user list, typing
indicators).

The Controller serializes all state behind one mutex. Timers created through
its clock run under the same mutex, and UI hooks are delivered in order on a
separate goroutine, so hooks may call back into the Controller.
*/
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"forumdm/internal/pkg/clock"
	"forumdm/internal/pkg/logx"
	"forumdm/internal/protocol"
)

// State is the connection state of a Controller.
type State int

const (
	Disconnected State = iota
	Connecting
	Authenticating
	Live
	// AuthFailed is terminal: the token was rejected and Run has returned.
	AuthFailed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Authenticating:
		return "authenticating"
	case Live:
		return "live"
	case AuthFailed:
		return "auth-failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

const (
	closeNormal    = 1000
	closeGoingAway = 1001
)

// Hooks receive snapshots of controller state. Every hook is optional.
type Hooks struct {
	OnState          func(State)
	OnUsers          func([]protocol.UserEntry)
	OnConversation   func(counterpart int64, entries []Entry)
	OnTyping         func(userID int64, typing bool, username string)
	OnConnectionLost func(failures int, err error)
	OnError          func(err error)
}

// Config tunes a Controller. Zero fields take the defaults of DefaultConfig.
type Config struct {
	Reconnect        ReconnectPolicy
	PingInterval     time.Duration
	MaxMissedPongs   int
	HandshakeTimeout time.Duration

	TypingThrottle time.Duration
	TypingQuiet    time.Duration
	TypingTTL      time.Duration

	PageSize         int
	ScrollThrottle   time.Duration
	NearTopThreshold int

	// FailureThreshold is the number of consecutive failed connection
	// attempts after which OnConnectionLost fires.
	FailureThreshold int
	OutboundBuffer   int

	Clock  clock.Clock
	Logger *zerolog.Logger
	Hooks  Hooks
}

// DefaultConfig returns the settings the forum's web client uses.
func DefaultConfig() Config {
	return Config{
		Reconnect:        ConstantReconnect(3 * time.Second),
		PingInterval:     30 * time.Second,
		MaxMissedPongs:   2,
		HandshakeTimeout: 10 * time.Second,
		TypingThrottle:   time.Second,
		TypingQuiet:      3 * time.Second,
		TypingTTL:        3 * time.Second,
		PageSize:         10,
		ScrollThrottle:   200 * time.Millisecond,
		NearTopThreshold: 100,
		FailureThreshold: 3,
		OutboundBuffer:   64,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Reconnect == nil {
		c.Reconnect = d.Reconnect
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.MaxMissedPongs <= 0 {
		c.MaxMissedPongs = d.MaxMissedPongs
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.TypingThrottle <= 0 {
		c.TypingThrottle = d.TypingThrottle
	}
	if c.TypingQuiet <= 0 {
		c.TypingQuiet = d.TypingQuiet
	}
	if c.TypingTTL <= 0 {
		c.TypingTTL = d.TypingTTL
	}
	if c.PageSize <= 0 {
		c.PageSize = d.PageSize
	}
	if c.ScrollThrottle <= 0 {
		c.ScrollThrottle = d.ScrollThrottle
	}
	if c.NearTopThreshold <= 0 {
		c.NearTopThreshold = d.NearTopThreshold
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.OutboundBuffer <= 0 {
		c.OutboundBuffer = d.OutboundBuffer
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	return c
}

// session is one authenticated connection.
type session struct {
	conn   Conn
	out    chan protocol.Frame
	ctx    context.Context
	cancel context.CancelFunc
	ping   clock.Timer
	missed int
}

// Controller drives one user's messaging session.
type Controller struct {
	cfg    Config
	token  string
	dialer Dialer
	api    API
	clock  clock.Clock // raw; see timers for the locked variant
	timers clock.Clock
	tokens *TokenSource
	notify *notifier
	logger zerolog.Logger

	mu         sync.Mutex
	state      State
	self       int64
	sess       *session
	failures   int
	presence   *PresenceTracker
	emitter    *TypingEmitter
	indicators *TypingIndicators
	conv       *Reconciler
	pager      *Paginator
	running    bool
	closed     bool
	cancelRun  context.CancelFunc
	runDone    chan struct{}
}

// New returns a Controller that authenticates with token. Call Run to connect.
func New(token string, dialer Dialer, api API, cfg Config) *Controller {
	cfg = cfg.withDefaults()

	c := &Controller{
		cfg:      cfg,
		token:    token,
		dialer:   dialer,
		api:      api,
		clock:    cfg.Clock,
		tokens:   NewTokenSource(cfg.Clock),
		notify:   newNotifier(),
		presence: NewPresenceTracker(),
		pager:    NewPaginator(cfg.PageSize, cfg.ScrollThrottle),
	}
	if cfg.Logger != nil {
		c.logger = cfg.Logger.With().Str("component", "client").Logger()
	} else {
		c.logger = logx.Component("client")
	}
	c.timers = lockedClock{Clock: cfg.Clock, mu: &c.mu}
	c.emitter = NewTypingEmitter(c.timers, cfg.TypingThrottle, cfg.TypingQuiet, func(f protocol.Frame) {
		c.enqueueLocked(f)
	})
	c.indicators = NewTypingIndicators(c.timers, cfg.TypingTTL, func(userID int64, typing bool, username string) {
		if h := c.cfg.Hooks.OnTyping; h != nil {
			c.notify.post(func() { h(userID, typing, username) })
		}
	})

	go c.notify.run()
	return c
}

// Run connects and keeps reconnecting until ctx is done, Close is called,
// the token is rejected (ErrAuthFailed) or the server ends the session
// (ErrSessionEnded). Cancellation returns nil.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running || c.closed {
		c.mu.Unlock()
		return errors.New("client: controller already running or closed")
	}
	ctx, cancel := context.WithCancel(ctx)
	c.running = true
	c.cancelRun = cancel
	c.runDone = make(chan struct{})
	done := c.runDone
	c.mu.Unlock()

	defer func() {
		cancel()
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		close(done)
	}()

	backoff := c.cfg.Reconnect.NewBackoff()
	for {
		wentLive, err := c.connect(ctx)

		switch {
		case ctx.Err() != nil:
			c.setState(Disconnected)
			return nil
		case errors.Is(err, ErrAuthFailed):
			c.logger.Warn().Err(err).Msg("Session token rejected; not reconnecting")
			c.setState(AuthFailed)
			return err
		case errors.Is(err, ErrSessionEnded):
			c.logger.Info().Msg("Session ended by server")
			c.setState(Disconnected)
			return err
		}

		if wentLive {
			backoff = c.cfg.Reconnect.NewBackoff()
		}
		c.recordFailure(err)

		delay, stop := backoff.Next()
		if stop {
			return err
		}
		c.logger.Debug().Err(err).Dur("delay", delay).Msg("Reconnecting")
		if c.sleep(ctx, delay) != nil {
			c.setState(Disconnected)
			return nil
		}
	}
}

func (c *Controller) recordFailure(err error) {
	c.mu.Lock()
	c.failures++
	n := c.failures
	c.mu.Unlock()

	if n == c.cfg.FailureThreshold {
		c.logger.Warn().Err(err).Int("failures", n).Msg("Connection lost")
		if h := c.cfg.Hooks.OnConnectionLost; h != nil {
			c.notify.post(func() { h(n, err) })
		}
	}
}

func (c *Controller) sleep(ctx context.Context, d time.Duration) error {
	fired := make(chan struct{})
	t := c.clock.AfterFunc(d, func() { close(fired) })
	select {
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	case <-fired:
		return nil
	}
}

// connect runs one connection from dial to teardown. It reports whether the
// connection reached Live.
func (c *Controller) connect(ctx context.Context) (bool, error) {
	c.setState(Connecting)

	hctx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()

	conn, err := c.dialer.Dial(hctx)
	if err != nil {
		c.setState(Disconnected)
		return false, err
	}

	c.setState(Authenticating)
	early, err := c.authenticate(hctx, conn)
	if err == nil {
		_, err = c.identity(hctx)
	}
	if err != nil {
		_ = conn.Close(closeNormal, "")
		c.setState(Disconnected)
		return false, err
	}

	sess := c.startSession(ctx, conn)
	c.reload(sess)

	for _, f := range early {
		c.dispatch(sess, f)
	}
	for {
		f, err := conn.Read(sess.ctx)
		if err != nil {
			c.teardown(sess, err)
			return true, err
		}
		c.dispatch(sess, f)
	}
}

// authenticate sends the auth frame and waits for auth-ok. Frames that
// arrive first are returned for dispatch once the session is live.
func (c *Controller) authenticate(ctx context.Context, conn Conn) ([]protocol.Frame, error) {
	if err := conn.Write(ctx, protocol.Auth{Token: c.token}); err != nil {
		return nil, err
	}

	var early []protocol.Frame
	for {
		f, err := conn.Read(ctx)
		if err != nil {
			return nil, err
		}
		switch f := f.(type) {
		case protocol.AuthOK:
			return early, nil
		case protocol.Error:
			if err := errorForCode(f.Code, f.Message); errors.Is(err, ErrAuthFailed) {
				return nil, err
			}
			early = append(early, f)
		default:
			early = append(early, f)
		}
	}
}

// identity returns the signed-in user id. It asks the server once per
// controller rather than trusting anything cached client-side.
func (c *Controller) identity(ctx context.Context) (int64, error) {
	c.mu.Lock()
	id := c.self
	c.mu.Unlock()
	if id != 0 {
		return id, nil
	}

	me, err := c.api.CurrentUser(ctx)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.self = me.UserID
	c.mu.Unlock()
	return me.UserID, nil
}

func (c *Controller) startSession(ctx context.Context, conn Conn) *session {
	sctx, cancel := context.WithCancel(ctx)
	sess := &session{
		conn:   conn,
		out:    make(chan protocol.Frame, c.cfg.OutboundBuffer),
		ctx:    sctx,
		cancel: cancel,
	}
	go c.writePump(sess)

	c.mu.Lock()
	c.sess = sess
	c.failures = 0
	c.armPingLocked(sess)
	if c.conv != nil {
		c.enqueueLocked(protocol.MarkRead{SenderID: c.conv.Counterpart()})
	}
	c.setStateLocked(Live)
	c.mu.Unlock()

	c.logger.Info().Msg("Connected")
	return sess
}

func (c *Controller) writePump(sess *session) {
	for {
		select {
		case <-sess.ctx.Done():
			return
		case f := <-sess.out:
			if err := sess.conn.Write(sess.ctx, f); err != nil {
				c.logger.Debug().Err(err).Msg("Write failed")
				sess.cancel()
				return
			}
		}
	}
}

func (c *Controller) armPingLocked(sess *session) {
	sess.ping = c.timers.AfterFunc(c.cfg.PingInterval, func() {
		if c.sess != sess {
			return
		}
		if sess.missed >= c.cfg.MaxMissedPongs {
			c.logger.Warn().Int("missed", sess.missed).Msg("Liveness probe timed out")
			go sess.conn.Close(closeGoingAway, "liveness probe timed out")
			sess.cancel()
			return
		}
		sess.missed++
		c.enqueueLocked(protocol.Ping{})
		c.armPingLocked(sess)
	})
}

// reload repairs state that may have drifted while disconnected: the user
// list, and the newest page of the open conversation.
func (c *Controller) reload(sess *session) {
	c.reloadUsers(sess)

	c.mu.Lock()
	var cp int64
	if c.conv != nil {
		cp = c.conv.Counterpart()
	}
	c.mu.Unlock()
	if cp == 0 {
		return
	}

	page, err := c.api.History(sess.ctx, cp, 0)
	if err != nil {
		c.logger.Warn().Err(err).Int64("counterpart", cp).Msg("Failed to reload conversation")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conv == nil || c.conv.Counterpart() != cp {
		return
	}
	// The paginator's offset is left alone; dedup absorbs the overlap. The
	// page may also confirm sends whose echo was lost, so always notify.
	if len(page) > 0 {
		c.conv.MergeHistory(page)
		c.notifyConversationLocked()
	}
}

func (c *Controller) reloadUsers(sess *session) {
	users, err := c.api.Users(sess.ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to reload user list")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != sess {
		return
	}
	c.presence.Load(users)
	c.notifyUsersLocked()
}

func (c *Controller) dispatch(sess *session, f protocol.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != sess {
		return
	}
	sess.missed = 0

	switch f := f.(type) {
	case protocol.MessageAck:
		var open int64
		if c.conv != nil {
			open = c.conv.Counterpart()
			if out := c.conv.Apply(f); out == Replaced || out == Inserted {
				c.notifyConversationLocked()
			}
			if f.SenderID == open && f.RecipientID == c.self {
				c.enqueueLocked(protocol.MarkRead{SenderID: open})
			}
		}
		c.presence.NoteMessage(f, c.self, open)
		c.notifyUsersLocked()

	case protocol.StatusUpdate:
		if !c.presence.Apply(f, c.clock.Now()) {
			go c.reloadUsers(sess)
			return
		}
		c.notifyUsersLocked()

	case protocol.TypingStatus:
		c.indicators.Apply(f)

	case protocol.MessagesRead:
		if c.conv != nil && c.conv.Counterpart() == f.RecipientID && c.conv.MarkReadByCounterpart() > 0 {
			c.notifyConversationLocked()
		}

	case protocol.Ping:
		c.enqueueLocked(protocol.Pong{})

	case protocol.Pong:
		// missed was reset above

	case protocol.Error:
		err := errorForCode(f.Code, f.Message)
		if f.CorrelationToken != "" && c.conv != nil && c.conv.MarkFailed(f.CorrelationToken, err) {
			c.notifyConversationLocked()
		}
		c.logger.Debug().Int("code", f.Code).Str("token", f.CorrelationToken).Msg(f.Message)
		if h := c.cfg.Hooks.OnError; h != nil {
			c.notify.post(func() { h(err) })
		}

	case protocol.AuthOK:
	default:
		c.logger.Debug().Str("type", string(f.FrameType())).Msg("Ignoring unexpected frame")
	}
}

// teardown ends sess. Unacknowledged sends fail rather than stay pending.
func (c *Controller) teardown(sess *session, err error) {
	sess.cancel()
	_ = sess.conn.Close(closeNormal, "")

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != sess {
		return
	}
	c.sess = nil
	if sess.ping != nil {
		sess.ping.Stop()
	}
	c.emitter.Halt()
	c.indicators.Reset()
	if c.conv != nil && len(c.conv.FailPending(ErrTransportDropped)) > 0 {
		c.notifyConversationLocked()
	}
	c.setStateLocked(Disconnected)
	c.logger.Info().Err(err).Msg("Disconnected")
}

// Close tears the controller down: the live connection is closed normally,
// timers stop and Run returns. Hooks queued before Close are still
// delivered, so Close must not be called from a hook.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	sess := c.sess
	cancel := c.cancelRun
	done := c.runDone
	running := c.running
	c.emitter.Halt()
	c.mu.Unlock()

	if sess != nil {
		_ = sess.conn.Close(closeNormal, "logout")
	}
	if running {
		cancel()
		<-done
	}

	c.mu.Lock()
	c.indicators.Reset()
	c.mu.Unlock()
	c.notify.stop()
}

// Logout ends the session server-side, which also closes every other tab,
// and then closes the controller.
func (c *Controller) Logout(ctx context.Context) error {
	err := c.api.Logout(ctx)
	c.Close()
	return err
}

// Send posts content to the open conversation. The returned entry is
// pending until the server echoes it back.
func (c *Controller) Send(ctx context.Context, content string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Live || c.sess == nil {
		return Entry{}, ErrNotConnected
	}
	if c.conv == nil {
		return Entry{}, ErrNoConversation
	}

	token := c.tokens.Next()
	e := c.conv.AddPending(token, content, c.clock.Now())
	c.emitter.Stop()
	if !c.enqueueLocked(protocol.Message{RecipientID: c.conv.Counterpart(), Content: content, CorrelationToken: token}) {
		c.conv.MarkFailed(token, ErrTransportDropped)
		c.notifyConversationLocked()
		return Entry{}, ErrTransportDropped
	}
	c.notifyConversationLocked()
	return e, nil
}

// Resend retries a failed entry under its original token.
func (c *Controller) Resend(ctx context.Context, token string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Live || c.sess == nil {
		return Entry{}, ErrNotConnected
	}
	if c.conv == nil {
		return Entry{}, ErrNoConversation
	}
	e, ok := c.conv.Retry(token)
	if !ok {
		return Entry{}, fmt.Errorf("client: no failed message with token %q", token)
	}
	if !c.enqueueLocked(protocol.Message{RecipientID: e.RecipientID, Content: e.Content, CorrelationToken: token}) {
		c.conv.MarkFailed(token, ErrTransportDropped)
		c.notifyConversationLocked()
		return Entry{}, ErrTransportDropped
	}
	c.notifyConversationLocked()
	return e, nil
}

// OpenConversation switches to counterpart and loads its newest page.
func (c *Controller) OpenConversation(ctx context.Context, counterpart int64) error {
	self, err := c.identity(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.conv != nil && c.conv.Counterpart() == counterpart {
		c.mu.Unlock()
		return nil
	}
	c.emitter.Stop()
	c.conv = NewReconciler(self, counterpart)
	c.pager.Reset(counterpart)
	c.presence.ClearUnread(counterpart)
	if c.state == Live {
		c.enqueueLocked(protocol.MarkRead{SenderID: counterpart})
	}
	c.notifyConversationLocked()
	c.notifyUsersLocked()
	c.mu.Unlock()

	_, err = c.LoadOlder(ctx)
	return err
}

// CloseConversation leaves the open conversation. Page results still in
// flight are discarded when they arrive.
func (c *Controller) CloseConversation() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conv == nil {
		return
	}
	c.emitter.Stop()
	c.conv = nil
	c.pager.Reset(0)
	c.notifyConversationLocked()
}

// LoadOlder fetches the next page back in history and returns how many new
// messages it rendered. It is a no-op while another page is in flight or
// once history is exhausted.
func (c *Controller) LoadOlder(ctx context.Context) (int, error) {
	c.mu.Lock()
	if c.conv == nil {
		c.mu.Unlock()
		return 0, ErrNoConversation
	}
	req, ok := c.pager.Begin()
	c.mu.Unlock()
	if !ok {
		return 0, nil
	}

	page, err := c.api.History(ctx, req.Counterpart, req.Offset)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.pager.Complete(req, len(page), err) {
		return 0, err
	}
	n := c.conv.MergeHistory(page)
	if len(page) > 0 {
		c.notifyConversationLocked()
	}
	return n, nil
}

// OnScroll reports the view's distance from the top of the conversation.
// Near the top it loads an older page, at most once per scroll throttle.
func (c *Controller) OnScroll(ctx context.Context, distanceFromTop int) (int, error) {
	if distanceFromTop > c.cfg.NearTopThreshold {
		return 0, nil
	}
	c.mu.Lock()
	throttled := c.conv == nil || c.pager.InFlight() || c.pager.Exhausted() || c.pager.Throttled(c.clock.Now())
	c.mu.Unlock()
	if throttled {
		return 0, nil
	}
	return c.LoadOlder(ctx)
}

// Keystroke records local input in the open conversation's composer.
func (c *Controller) Keystroke() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Live || c.sess == nil {
		return ErrNotConnected
	}
	if c.conv == nil {
		return ErrNoConversation
	}
	c.emitter.Keystroke(c.conv.Counterpart())
	return nil
}

// State returns the connection state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Self returns the signed-in user id, or 0 before the first connection.
func (c *Controller) Self() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

// Users returns the user list, most recent conversation first.
func (c *Controller) Users() []protocol.UserEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.presence.Users()
}

// Conversation returns the open counterpart and its entries; 0 and nil when
// no conversation is open.
func (c *Controller) Conversation() (int64, []Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conv == nil {
		return 0, nil
	}
	return c.conv.Counterpart(), c.conv.Entries()
}

// IsTyping reports whether userID is typing to us.
func (c *Controller) IsTyping(userID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.indicators.IsTyping(userID)
}

// enqueueLocked queues f on the live session without blocking. A full
// buffer means the connection is stuck, so it is dropped.
func (c *Controller) enqueueLocked(f protocol.Frame) bool {
	sess := c.sess
	if sess == nil {
		return false
	}
	select {
	case sess.out <- f:
		return true
	default:
		c.logger.Warn().Str("type", string(f.FrameType())).Msg("Outbound buffer full; dropping connection")
		sess.cancel()
		return false
	}
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setStateLocked(s)
}

func (c *Controller) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	if h := c.cfg.Hooks.OnState; h != nil {
		c.notify.post(func() { h(s) })
	}
}

func (c *Controller) notifyUsersLocked() {
	if h := c.cfg.Hooks.OnUsers; h != nil {
		users := c.presence.Users()
		c.notify.post(func() { h(users) })
	}
}

func (c *Controller) notifyConversationLocked() {
	h := c.cfg.Hooks.OnConversation
	if h == nil {
		return
	}
	var cp int64
	var entries []Entry
	if c.conv != nil {
		cp, entries = c.conv.Counterpart(), c.conv.Entries()
	}
	c.notify.post(func() { h(cp, entries) })
}

// lockedClock runs timer callbacks under mu.
type lockedClock struct {
	clock.Clock
	mu *sync.Mutex
}

func (l lockedClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	return l.Clock.AfterFunc(d, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		f()
	})
}

// notifier runs hook calls one at a time, in the order they were posted.
type notifier struct {
	mu      sync.Mutex
	queue   []func()
	stopped bool
	wake    chan struct{}
	done    chan struct{}
}

func newNotifier() *notifier {
	return &notifier{wake: make(chan struct{}, 1), done: make(chan struct{})}
}

func (n *notifier) post(f func()) {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return
	}
	n.queue = append(n.queue, f)
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *notifier) run() {
	defer close(n.done)
	for {
		n.mu.Lock()
		batch := n.queue
		n.queue = nil
		stopped := n.stopped
		n.mu.Unlock()

		for _, f := range batch {
			f()
		}
		if len(batch) > 0 {
			continue
		}
		if stopped {
			return
		}
		<-n.wake
	}
}

// stop delivers what is queued and then ends run.
func (n *notifier) stop() {
	n.mu.Lock()
	n.stopped = true
	n.mu.Unlock()
	select {
	case n.wake <- struct{}{}:
	default:
	}
	<-n.done
}
