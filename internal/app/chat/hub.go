/*
Package chat is the connection hub: it tracks which users are reachable,
persists and fans out direct messages, relays typing state and read receipts,
and owns the websocket pumps of every authenticated connection.

Locking: the connection registry is split into shards keyed by user id, each
guarded by its own mutex, and no code path holds two shard locks at once.
Operations that must be ordered per user take a striped lock first (one
stripe set for presence announcements, one for a sender's deliveries) and
only then touch shards, so lock acquisition always follows stripe → shard and
cross-user fan-out cannot deadlock.

Presence transitions are decided under the shard lock and numbered. Store
and mirror calls run with no lock held; the announcement is then sent under
the presence stripe only if its transition is still the latest, so peers see
a user's online and offline events in order.
*/
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"forumdm/internal/app/store"
	"forumdm/internal/app/user"
	"forumdm/internal/pkg/clock"
	"forumdm/internal/pkg/errs"
	"forumdm/internal/pkg/logx"
	"forumdm/internal/protocol"
)

const (
	numShards  = 64
	numStripes = 64

	// storeTimeout bounds a single persistence call made on behalf of a connection.
	storeTimeout = 5 * time.Second
)

// PresenceScope selects who receives a user's online/offline announcements.
type PresenceScope string

const (
	// ScopeAll announces to every connected user.
	ScopeAll PresenceScope = "all"

	// ScopeContacts announces only to users with conversation history.
	ScopeContacts PresenceScope = "contacts"
)

// Config holds the hub's tunables.
type Config struct {
	NodeID          string
	MaxContentBytes int
	TypingTTL       time.Duration
	OfflineGrace    time.Duration
	PresenceScope   PresenceScope
}

// DefaultConfig returns the settings the forum runs with.
func DefaultConfig() Config {
	return Config{
		NodeID:          "local",
		MaxContentBytes: 5000,
		TypingTTL:       3 * time.Second,
		PresenceScope:   ScopeAll,
	}
}

// Peer is one live, authenticated connection as the hub sees it.
type Peer interface {
	ID() string
	UserID() int64

	// Enqueue queues an encoded frame without blocking. It returns false if
	// the connection is closed or its buffer is full.
	Enqueue(frame []byte) bool

	// Close ends the connection with a websocket close code.
	Close(code int, reason string)
}

type userConns struct {
	conns map[string]Peer

	// announced is true while peers have been told this user is online.
	announced bool

	offlineTimer clock.Timer

	// gen counts presence transitions (first connection, last disconnect).
	// Announcements are sent only for the latest one.
	gen uint64
}

type shard struct {
	mu    sync.Mutex
	users map[int64]*userConns
}

// Hub is the single writer of durable messages and the source of truth for
// which users are reachable on this node.
type Hub struct {
	cfg     Config
	store   store.Store
	clock   clock.Clock
	mirror  PresenceMirror
	bus     Bus
	metrics *Metrics
	logger  zerolog.Logger

	shards         [numShards]shard
	presenceStripe [numStripes]sync.Mutex
	senderStripe   [numStripes]sync.Mutex

	typing *typingRegistry
	closed atomic.Bool
}

// Option customizes a Hub.
type Option func(*Hub)

// WithClock replaces the real clock.
func WithClock(c clock.Clock) Option { return func(h *Hub) { h.clock = c } }

// WithPresenceMirror publishes presence to a shared store for other nodes.
func WithPresenceMirror(m PresenceMirror) Option { return func(h *Hub) { h.mirror = m } }

// WithBus fans frames out to other nodes.
func WithBus(b Bus) Option { return func(h *Hub) { h.bus = b } }

// WithMetrics sets the collectors the hub reports to.
func WithMetrics(m *Metrics) Option { return func(h *Hub) { h.metrics = m } }

// NewHub constructs a Hub over st.
func NewHub(st store.Store, cfg Config, opts ...Option) *Hub {
	if cfg.PresenceScope == "" {
		cfg.PresenceScope = ScopeAll
	}
	if cfg.NodeID == "" {
		cfg.NodeID = "local"
	}

	h := &Hub{
		cfg:    cfg,
		store:  st,
		clock:  clock.Real(),
		mirror: nopMirror{},
		bus:    nopBus{},
		logger: logx.Component("hub").With().Str("node_id", cfg.NodeID).Logger(),
	}
	for i := range h.shards {
		h.shards[i].users = make(map[int64]*userConns)
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics = NewMetrics(nil)
	}
	h.typing = newTypingRegistry(h.clock, cfg.TypingTTL)

	return h
}

func (h *Hub) shardFor(userID int64) *shard {
	return &h.shards[uint64(userID)%numShards]
}

func stripe(locks *[numStripes]sync.Mutex, userID int64) *sync.Mutex {
	return &locks[uint64(userID)%numStripes]
}

// Register binds peer to its user. The user's first connection announces
// them online, unless an offline announcement was still pending from a
// recent disconnect, in which case peers never saw them leave.
func (h *Hub) Register(ctx context.Context, peer Peer) error {
	if h.closed.Load() {
		return ErrHubClosed
	}

	uid := peer.UserID()
	s := h.shardFor(uid)
	s.mu.Lock()
	uc, ok := s.users[uid]
	if !ok {
		uc = &userConns{conns: make(map[string]Peer)}
		s.users[uid] = uc
	}
	if _, dup := uc.conns[peer.ID()]; dup {
		s.mu.Unlock()
		return nil
	}
	first := len(uc.conns) == 0
	uc.conns[peer.ID()] = peer
	if first {
		if uc.offlineTimer != nil {
			uc.offlineTimer.Stop()
			uc.offlineTimer = nil
		}
		uc.gen++
	}
	gen := uc.gen
	announce := first && !uc.announced
	if announce {
		uc.announced = true
	}
	s.mu.Unlock()

	h.metrics.Connections.Inc()
	h.logger.Debug().Int64("user_id", uid).Str("conn_id", peer.ID()).Bool("first", first).Msg("Connection registered")

	if !first {
		return nil
	}
	if err := h.mirror.Online(ctx, uid); err != nil {
		h.logger.Warn().Err(err).Int64("user_id", uid).Msg("Presence mirror update failed")
	}
	if !announce {
		return nil
	}
	h.metrics.OnlineUsers.Inc()

	audience, err := h.presenceAudience(ctx, uid)
	if err != nil {
		h.logger.Warn().Err(err).Int64("user_id", uid).Msg("Failed to load contacts for presence broadcast")
		return nil
	}

	mu := stripe(&h.presenceStripe, uid)
	mu.Lock()
	defer mu.Unlock()
	if h.transitionCurrent(uid, uc, gen, true) {
		h.broadcastPresence(ctx, uid, true, audience)
	}
	return nil
}

// Unregister removes peer. Calling it again for the same peer is a no-op.
// When the user's last connection goes, last-seen is recorded and the
// offline announcement is made now or after the configured grace period.
func (h *Hub) Unregister(peer Peer) {
	uid := peer.UserID()
	s := h.shardFor(uid)
	s.mu.Lock()
	uc, ok := s.users[uid]
	if !ok {
		s.mu.Unlock()
		return
	}
	if _, ok := uc.conns[peer.ID()]; !ok {
		s.mu.Unlock()
		return
	}
	delete(uc.conns, peer.ID())
	last := len(uc.conns) == 0
	if last {
		uc.gen++
	}
	gen := uc.gen
	deferred := last && h.cfg.OfflineGrace > 0 && uc.announced && !h.closed.Load()
	s.mu.Unlock()

	h.metrics.Connections.Dec()
	h.logger.Debug().Int64("user_id", uid).Str("conn_id", peer.ID()).Bool("last", last).Msg("Connection unregistered")

	if !last {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := h.store.TouchLastSeen(ctx, uid, h.clock.Now()); err != nil {
		h.logger.Warn().Err(err).Int64("user_id", uid).Msg("Failed to record last seen")
	}
	if err := h.mirror.Offline(ctx, uid); err != nil {
		h.logger.Warn().Err(err).Int64("user_id", uid).Msg("Presence mirror update failed")
	}
	if h.ConnectionCount(uid) > 0 {
		// Reconnected while the lease was being dropped.
		if err := h.mirror.Online(ctx, uid); err != nil {
			h.logger.Warn().Err(err).Int64("user_id", uid).Msg("Presence mirror update failed")
		}
	}

	if deferred {
		timer := h.clock.AfterFunc(h.cfg.OfflineGrace, func() { h.expireOffline(uid, uc, gen) })
		s.mu.Lock()
		if s.currentLocked(uid, uc, gen, false) {
			uc.offlineTimer = timer
		} else {
			timer.Stop()
		}
		s.mu.Unlock()
		return
	}

	h.goOffline(ctx, uid, uc, gen)
}

func (h *Hub) expireOffline(uid int64, uc *userConns, gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	h.goOffline(ctx, uid, uc, gen)
}

// goOffline drops uid's registry entry and announces them offline, provided
// the disconnect at gen is still the latest transition.
func (h *Hub) goOffline(ctx context.Context, uid int64, uc *userConns, gen uint64) {
	s := h.shardFor(uid)
	s.mu.Lock()
	if !s.currentLocked(uid, uc, gen, false) {
		s.mu.Unlock()
		return
	}
	announced := uc.announced
	if !announced {
		delete(s.users, uid)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	audience, err := h.presenceAudience(ctx, uid)
	if err != nil {
		h.logger.Warn().Err(err).Int64("user_id", uid).Msg("Failed to load contacts for presence broadcast")
	}

	mu := stripe(&h.presenceStripe, uid)
	mu.Lock()
	defer mu.Unlock()

	s.mu.Lock()
	if !s.currentLocked(uid, uc, gen, false) {
		s.mu.Unlock()
		return
	}
	delete(s.users, uid)
	s.mu.Unlock()

	h.metrics.OnlineUsers.Dec()
	if err == nil {
		h.broadcastPresence(ctx, uid, false, audience)
	}
}

// transitionCurrent reports whether the presence transition made at gen on
// uc is still the latest one for uid.
func (h *Hub) transitionCurrent(uid int64, uc *userConns, gen uint64, online bool) bool {
	s := h.shardFor(uid)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked(uid, uc, gen, online)
}

func (s *shard) currentLocked(uid int64, uc *userConns, gen uint64, online bool) bool {
	return s.users[uid] == uc && uc.gen == gen && (len(uc.conns) > 0) == online
}

// IsOnline reports whether userID has at least one live connection on this
// node, or on another node according to the presence mirror.
func (h *Hub) IsOnline(ctx context.Context, userID int64) bool {
	if h.ConnectionCount(userID) > 0 {
		return true
	}
	online, err := h.mirror.IsOnline(ctx, userID)
	if err != nil {
		h.logger.Warn().Err(err).Int64("user_id", userID).Msg("Presence mirror lookup failed")
		return false
	}
	return online
}

// ConnectionCount returns userID's live connections on this node.
func (h *Hub) ConnectionCount(userID int64) int {
	s := h.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if uc, ok := s.users[userID]; ok {
		return len(uc.conns)
	}
	return 0
}

// Heartbeat records that a connection of userID answered a liveness probe.
func (h *Hub) Heartbeat(ctx context.Context, userID int64) {
	if err := h.mirror.Refresh(ctx, userID); err != nil {
		h.logger.Debug().Err(err).Int64("user_id", userID).Msg("Presence lease refresh failed")
	}
}

// Deliver validates, persists, and fans out a direct message from sender.
// The returned message carries the durable id and the echoed correlation
// token. A correlation token already stored for this sender yields the
// original message, re-acknowledged to the sender's connections only.
func (h *Hub) Deliver(ctx context.Context, senderID int64, in protocol.Message) (store.Message, error) {
	if h.closed.Load() {
		return store.Message{}, ErrHubClosed
	}
	if err := h.validate(ctx, senderID, in); err != nil {
		h.metrics.DeliveryFailures.WithLabelValues(failureReason(err)).Inc()
		return store.Message{}, err
	}

	mu := stripe(&h.senderStripe, senderID)
	mu.Lock()
	saved, duplicated, err := h.store.SaveMessage(ctx, store.NewMessage{
		SenderID:         senderID,
		RecipientID:      in.RecipientID,
		Content:          in.Content,
		CorrelationToken: in.CorrelationToken,
		CreatedAt:        h.clock.Now().UTC(),
	})
	if err != nil {
		mu.Unlock()
		h.metrics.DeliveryFailures.WithLabelValues("store").Inc()
		h.logger.Error().Err(err).Int64("sender_id", senderID).Int64("recipient_id", in.RecipientID).Msg("Failed to persist message")
		return store.Message{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	frame := protocol.MustEncode(ackFrame(saved))
	if duplicated {
		h.sendToUsers(ctx, frame, senderID)
	} else {
		h.sendToUsers(ctx, frame, senderID, in.RecipientID)
	}
	mu.Unlock()

	if duplicated {
		h.metrics.Duplicates.Inc()
		return saved, nil
	}

	h.metrics.Delivered.Inc()
	if h.typing.clear(senderID, in.RecipientID) {
		h.sendTyping(ctx, senderID, in.RecipientID, "", false)
	}
	return saved, nil
}

func (h *Hub) validate(ctx context.Context, senderID int64, in protocol.Message) error {
	if strings.TrimSpace(in.Content) == "" {
		return ErrContentEmpty
	}
	if h.cfg.MaxContentBytes > 0 && len(in.Content) > h.cfg.MaxContentBytes {
		return errs.NewError(errs.ErrMessageContentTooLong, h.cfg.MaxContentBytes)
	}
	if in.RecipientID == senderID {
		return ErrSelfMessage
	}

	_, err := h.store.GetUser(ctx, in.RecipientID)
	switch {
	case errors.Is(err, store.ErrUserNotFound):
		return ErrUnknownRecipient
	case err != nil:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func failureReason(err error) string {
	switch errs.FromError(err).Code {
	case errs.ErrMessageContentEmpty:
		return "empty"
	case errs.ErrMessageContentTooLong:
		return "too_long"
	case errs.ErrUnknownRecipient:
		return "unknown_recipient"
	case errs.ErrSelfMessage:
		return "self"
	case errs.ErrStoreUnavailable:
		return "store"
	default:
		return "other"
	}
}

func ackFrame(m store.Message) protocol.MessageAck {
	return protocol.MessageAck{
		ID:               m.ID,
		CorrelationToken: m.CorrelationToken,
		SenderID:         m.SenderID,
		RecipientID:      m.RecipientID,
		Content:          m.Content,
		CreatedAt:        m.CreatedAt,
	}
}

// MarkRead marks counterpart's messages to reader as read and, if any
// changed, tells counterpart's connections. Repeating it is a no-op.
func (h *Hub) MarkRead(ctx context.Context, readerID, counterpartID int64) (int64, error) {
	n, err := h.store.MarkRead(ctx, readerID, counterpartID)
	if err != nil {
		h.logger.Error().Err(err).Int64("reader_id", readerID).Int64("counterpart_id", counterpartID).Msg("Failed to mark messages read")
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if n > 0 {
		h.sendToUsers(ctx, protocol.MustEncode(protocol.MessagesRead{RecipientID: readerID}), counterpartID)
	}
	return n, nil
}

// SetTyping records, refreshes, or clears sender's typing entry for
// recipient and tells recipient's connections immediately. Entries expire
// after the typing TTL with a typing=false notification.
func (h *Hub) SetTyping(ctx context.Context, sender user.User, recipientID int64, isTyping bool) {
	if sender.ID == recipientID {
		return
	}
	if isTyping {
		h.typing.set(sender.ID, recipientID, func() {
			expCtx, cancel := context.WithTimeout(context.Background(), storeTimeout)
			defer cancel()
			h.sendTyping(expCtx, sender.ID, recipientID, sender.DisplayName, false)
		})
	} else {
		h.typing.clear(sender.ID, recipientID)
	}
	h.sendTyping(ctx, sender.ID, recipientID, sender.DisplayName, isTyping)
}

func (h *Hub) sendTyping(ctx context.Context, senderID, recipientID int64, username string, isTyping bool) {
	h.sendToUsers(ctx, protocol.MustEncode(protocol.TypingStatus{
		UserID:   senderID,
		IsTyping: isTyping,
		Username: username,
	}), recipientID)
}

// DisconnectUser closes every connection of userID and unregisters them
// immediately, as on logout.
func (h *Hub) DisconnectUser(userID int64, code int, reason string) int {
	peers := h.peersOf(userID)
	for _, p := range peers {
		p.Close(code, reason)
		h.Unregister(p)
	}
	return len(peers)
}

// Shutdown closes every connection with "going away" and stops timers.
// Subsequent Register and Deliver calls fail with ErrHubClosed.
func (h *Hub) Shutdown() {
	if !h.closed.CompareAndSwap(false, true) {
		return
	}
	h.logger.Info().Msg("Shutting down hub...")

	h.typing.stopAll()

	var peers []Peer
	for i := range h.shards {
		s := &h.shards[i]
		s.mu.Lock()
		for _, uc := range s.users {
			if uc.offlineTimer != nil {
				uc.offlineTimer.Stop()
				uc.offlineTimer = nil
			}
			for _, p := range uc.conns {
				peers = append(peers, p)
			}
		}
		s.mu.Unlock()
	}

	for _, p := range peers {
		p.Close(1001, "server shutting down")
		h.Unregister(p)
	}

	h.logger.Info().Int("closed_connections", len(peers)).Msg("Hub shutdown complete.")
}

// DeliverRemote hands an envelope received from another node to local connections.
func (h *Hub) DeliverRemote(env Envelope) {
	if env.Origin == h.cfg.NodeID {
		return
	}
	if env.All {
		for _, uid := range h.localUsers() {
			if uid != env.Exclude {
				h.sendLocal(uid, env.Frame)
			}
		}
		return
	}
	for _, uid := range env.Targets {
		h.sendLocal(uid, env.Frame)
	}
}

// presenceAudience returns who hears about uid's presence: its contacts
// under ScopeContacts, or nil meaning everyone.
func (h *Hub) presenceAudience(ctx context.Context, uid int64) ([]int64, error) {
	if h.cfg.PresenceScope != ScopeContacts {
		return nil, nil
	}
	contacts, err := h.store.Contacts(ctx, uid)
	if err != nil {
		return nil, err
	}
	if contacts == nil {
		contacts = []int64{}
	}
	return contacts, nil
}

// broadcastPresence sends uid's status to audience. Callers hold uid's
// presence stripe.
func (h *Hub) broadcastPresence(ctx context.Context, uid int64, online bool, audience []int64) {
	state := "offline"
	if online {
		state = "online"
	}
	h.metrics.PresenceEvents.WithLabelValues(state).Inc()

	frame := protocol.MustEncode(protocol.StatusUpdate{UserID: uid, IsOnline: online})

	if audience != nil {
		h.sendToUsers(ctx, frame, audience...)
		return
	}

	for _, other := range h.localUsers() {
		if other != uid {
			h.sendLocal(other, frame)
		}
	}
	h.publish(ctx, Envelope{All: true, Exclude: uid, Frame: frame})
}

// sendToUsers delivers frame to every local connection of the given users
// and forwards it to other nodes.
func (h *Hub) sendToUsers(ctx context.Context, frame []byte, userIDs ...int64) {
	if len(userIDs) == 0 {
		return
	}
	for _, uid := range userIDs {
		h.sendLocal(uid, frame)
	}
	h.publish(ctx, Envelope{Targets: userIDs, Frame: frame})
}

func (h *Hub) publish(ctx context.Context, env Envelope) {
	env.Origin = h.cfg.NodeID
	if err := h.bus.Publish(ctx, env); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to publish frame to cluster bus")
	}
}

// sendLocal enqueues frame on each of userID's connections. A connection
// whose buffer is full is dropped so one slow reader cannot stall others.
func (h *Hub) sendLocal(userID int64, frame []byte) {
	for _, p := range h.peersOf(userID) {
		if p.Enqueue(frame) {
			continue
		}
		h.metrics.DroppedFrames.Inc()
		h.logger.Warn().Int64("user_id", userID).Str("conn_id", p.ID()).Msg("Send buffer full, dropping connection")
		p.Close(1008, "send buffer overflow")
		go h.Unregister(p)
	}
}

func (h *Hub) peersOf(userID int64) []Peer {
	s := h.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	uc, ok := s.users[userID]
	if !ok {
		return nil
	}
	peers := make([]Peer, 0, len(uc.conns))
	for _, p := range uc.conns {
		peers = append(peers, p)
	}
	return peers
}

func (h *Hub) localUsers() []int64 {
	var out []int64
	for i := range h.shards {
		s := &h.shards[i]
		s.mu.Lock()
		for uid, uc := range s.users {
			if len(uc.conns) > 0 {
				out = append(out, uid)
			}
		}
		s.mu.Unlock()
	}
	return out
}
