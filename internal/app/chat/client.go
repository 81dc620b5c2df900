package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"forumdm/internal/app/user"
	"forumdm/internal/pkg/errs"
	"forumdm/internal/pkg/logx"
	"forumdm/internal/protocol"
)

// Authenticator resolves the token carried by an auth frame to a user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (user.User, error)
}

// ConnConfig tunes one websocket connection.
type ConnConfig struct {
	// WriteWait bounds a single frame write.
	WriteWait time.Duration

	// HeartbeatInterval is how often the server pings. A connection that
	// stays silent for HeartbeatInterval*MaxMissedHeartbeats is dropped.
	HeartbeatInterval   time.Duration
	MaxMissedHeartbeats int

	// AuthTimeout is how long a new connection may take to send its auth frame.
	AuthTimeout time.Duration

	MaxFrameBytes int64
	SendBuffer    int

	InboundRate  rate.Limit
	InboundBurst int

	// RequestID tags the connection's log lines with the upgrade request.
	RequestID string

	// UpgradeToken is the session carried by the upgrade request (cookie or
	// bearer header). An auth frame with an empty token falls back to it.
	UpgradeToken string
}

// DefaultConnConfig returns the production connection settings.
func DefaultConnConfig() ConnConfig {
	return ConnConfig{
		WriteWait:           10 * time.Second,
		HeartbeatInterval:   25 * time.Second,
		MaxMissedHeartbeats: 3,
		AuthTimeout:         10 * time.Second,
		MaxFrameBytes:       8192,
		SendBuffer:          256,
		InboundRate:         rate.Limit(20),
		InboundBurst:        40,
	}
}

func (c ConnConfig) pongWait() time.Duration {
	missed := c.MaxMissedHeartbeats
	if missed < 1 {
		missed = 1
	}
	return c.HeartbeatInterval * time.Duration(missed)
}

// Client is one websocket connection: unauthenticated until its first
// frame, then registered with the hub as a Peer.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	cfg  ConnConfig
	auth Authenticator

	// user is set once, before the client is registered.
	user user.User

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	closeMu   sync.Mutex
	closeCode int
	closeMsg  string

	ctx    context.Context
	cancel context.CancelFunc

	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewClient wraps an upgraded websocket connection.
func NewClient(hub *Hub, wsConn *websocket.Conn, auth Authenticator, cfg ConnConfig) *Client {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())

	lc := logx.Component("ws").With().Str("conn_id", id)
	if cfg.RequestID != "" {
		lc = lc.Str("request_id", cfg.RequestID)
	}

	return &Client{
		id:      id,
		hub:     hub,
		conn:    wsConn,
		cfg:     cfg,
		auth:    auth,
		send:    make(chan []byte, cfg.SendBuffer),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		limiter: rate.NewLimiter(cfg.InboundRate, cfg.InboundBurst),
		logger:  lc.Logger(),
	}
}

// ID implements Peer.
func (c *Client) ID() string { return c.id }

// UserID implements Peer.
func (c *Client) UserID() int64 { return c.user.ID }

// Enqueue implements Peer.
func (c *Client) Enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Close implements Peer. Frames queued before Close are flushed ahead of the
// close frame.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeMu.Lock()
		c.closeCode, c.closeMsg = code, reason
		c.closeMu.Unlock()
		c.cancel()
		close(c.done)
	})
}

// Serve runs the connection until it closes: the write pump in a goroutine
// and the read pump on the caller's goroutine.
func (c *Client) Serve() {
	go c.WritePump()
	c.ReadPump()
}

// ReadPump authenticates the connection and then dispatches inbound frames.
func (c *Client) ReadPump() {
	registered := false
	defer func() {
		if registered {
			c.hub.Unregister(c)
		}
		c.Close(websocket.CloseNormalClosure, "")
	}()

	c.conn.SetReadLimit(c.cfg.MaxFrameBytes)

	if !c.authenticate() {
		return
	}

	if err := c.hub.Register(c.ctx, c); err != nil {
		c.SendError(err, "")
		c.Close(websocket.CloseTryAgainLater, "hub unavailable")
		return
	}
	registered = true
	c.enqueueFrame(protocol.AuthOK{UserID: c.user.ID, DisplayName: c.user.DisplayName})
	c.logger.Info().Int64("user_id", c.user.ID).Msg("Connection authenticated")

	pongWait := c.cfg.pongWait()
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.hub.Heartbeat(c.ctx, c.user.ID)
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Int64("user_id", c.user.ID).Msg("Connection closed unexpectedly")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if !c.limiter.Allow() {
			c.SendError(errs.NewError(errs.ErrRateLimitExceeded), "")
			continue
		}

		c.processInboundMessage(data)
	}
}

// authenticate reads the first frame, which must be auth. On failure the
// client gets an error frame and a CloseAuthFailed close.
func (c *Client) authenticate() bool {
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.AuthTimeout))

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		c.logger.Debug().Err(err).Msg("Connection closed before authenticating")
		return false
	}

	frame, err := protocol.Decode(data)
	auth, ok := frame.(protocol.Auth)
	if err != nil || !ok {
		c.SendError(errs.NewError(errs.ErrNotAuthenticated), "")
		c.Close(CloseAuthFailed, "auth required")
		return false
	}

	ctx, cancel := context.WithTimeout(c.ctx, storeTimeout)
	defer cancel()

	token := auth.Token
	if token == "" {
		token = c.cfg.UpgradeToken
	}

	u, err := c.auth.Authenticate(ctx, token)
	if err != nil {
		c.logger.Info().Err(err).Msg("Authentication rejected")
		c.SendError(errs.NewError(errs.ErrAuthFailed), "")
		c.Close(CloseAuthFailed, "auth failed")
		return false
	}

	c.user = u
	return true
}

func (c *Client) processInboundMessage(data []byte) {
	frame, err := protocol.Decode(data)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Client sent invalid frame")
		c.SendError(errs.NewError(errs.ErrMalformedFrame), "")
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, storeTimeout)
	defer cancel()

	switch f := frame.(type) {
	case protocol.Message:
		if _, err := c.hub.Deliver(ctx, c.user.ID, f); err != nil {
			c.SendError(err, f.CorrelationToken)
		}

	case protocol.Typing:
		c.hub.SetTyping(ctx, c.user, f.RecipientID, true)

	case protocol.StopTyping:
		c.hub.SetTyping(ctx, c.user, f.RecipientID, false)

	case protocol.MarkRead:
		if _, err := c.hub.MarkRead(ctx, c.user.ID, f.SenderID); err != nil {
			c.SendError(err, "")
		}

	case protocol.Ping:
		c.hub.Heartbeat(ctx, c.user.ID)
		c.enqueueFrame(protocol.Pong{})

	case protocol.Pong, protocol.Auth:
		// Nothing to do: liveness was already refreshed by the read.

	default:
		c.logger.Warn().Str("frame_type", string(frame.FrameType())).Msg("Client sent server-only frame")
		c.SendError(errs.NewError(errs.ErrMalformedFrame), "")
	}
}

// WritePump drains the send queue, pings on the heartbeat interval, and on
// Close flushes what is queued before writing the close frame.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)

	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Connection close error in WritePump")
		}
	}()

	for {
		select {
		case message := <-c.send:
			if !c.write(websocket.TextMessage, message) {
				c.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}

		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				c.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}

		case <-c.done:
			c.flushAndClose()
			return
		}
	}
}

func (c *Client) flushAndClose() {
	// WritePump is the only reader of send, so a non-empty queue never blocks.
	for len(c.send) > 0 {
		if !c.write(websocket.TextMessage, <-c.send) {
			return
		}
	}

	c.closeMu.Lock()
	code, reason := c.closeCode, c.closeMsg
	c.closeMu.Unlock()

	if code == websocket.CloseAbnormalClosure {
		return
	}
	c.write(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
}

func (c *Client) write(messageType int, data []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		if !errors.Is(err, websocket.ErrCloseSent) {
			c.logger.Debug().Err(err).Msg("Error writing frame")
		}
		return false
	}
	return true
}

func (c *Client) enqueueFrame(f protocol.Frame) {
	if !c.Enqueue(protocol.MustEncode(f)) {
		c.logger.Warn().Int("queue_len", len(c.send)).Str("frame_type", string(f.FrameType())).Msg("Client send queue full, dropping frame")
	}
}

// SendError queues an error frame for err. correlationToken ties it to a specific send.
func (c *Client) SendError(err error, correlationToken string) {
	customErr := errs.FromError(err)
	c.enqueueFrame(protocol.Error{
		Code:             customErr.Code,
		Message:          customErr.Message,
		CorrelationToken: correlationToken,
	})
}
