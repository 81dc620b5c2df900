package client

import (
	"time"

	"forumdm/internal/protocol"
)

// EntryState is the phase of a rendered message.
type EntryState int

const (
	// Pending: sent optimistically, keyed by correlation token, not yet confirmed.
	Pending EntryState = iota
	// Confirmed: persisted by the server, keyed by durable id.
	Confirmed
	// Failed: the send was not acknowledged; it can be resent.
	Failed
)

func (s EntryState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Confirmed:
		return "confirmed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Entry is one message of the rendered conversation. Entries change phase
// by being replaced, never by editing a field of an existing entry in
// another phase: pending and failed entries carry Token, confirmed ones ID.
type Entry struct {
	State       EntryState
	Token       string
	ID          int64
	SenderID    int64
	RecipientID int64
	Content     string
	CreatedAt   time.Time
	IsRead      bool
	Err         error
}

// Owned reports whether self sent the entry.
func (e Entry) Owned(self int64) bool { return e.SenderID == self }

func pendingEntry(token string, sender, recipient int64, content string, at time.Time) Entry {
	return Entry{State: Pending, Token: token, SenderID: sender, RecipientID: recipient, Content: content, CreatedAt: at}
}

func failedEntry(from Entry, err error) Entry {
	return Entry{State: Failed, Token: from.Token, SenderID: from.SenderID, RecipientID: from.RecipientID, Content: from.Content, CreatedAt: from.CreatedAt, Err: err}
}

func confirmedFromAck(a protocol.MessageAck) Entry {
	return Entry{State: Confirmed, ID: a.ID, SenderID: a.SenderID, RecipientID: a.RecipientID, Content: a.Content, CreatedAt: a.CreatedAt}
}

func confirmedFromHistory(m protocol.HistoryMessage) Entry {
	return Entry{State: Confirmed, ID: m.ID, SenderID: m.SenderID, RecipientID: m.RecipientID, Content: m.Content, CreatedAt: m.CreatedAt, IsRead: m.IsRead}
}

// Outcome says what Apply did with a durable message.
type Outcome int

const (
	// Ignored: the message belongs to another conversation.
	Ignored Outcome = iota
	// Replaced: a pending or failed entry with the same token became confirmed in place.
	Replaced
	// Inserted: a message not seen before was added.
	Inserted
	// Duplicate: the durable id was already rendered; nothing changed.
	Duplicate
)

// Reconciler keeps one conversation's rendered list: oldest first, at most
// one entry per durable id, and every correlation token resolved exactly once.
// It is not safe for concurrent use.
type Reconciler struct {
	self        int64
	counterpart int64

	entries []Entry
	tokens  map[string]struct{} // unresolved: pending or failed
	seen    map[int64]struct{}
}

// NewReconciler returns an empty conversation between self and counterpart.
func NewReconciler(self, counterpart int64) *Reconciler {
	return &Reconciler{
		self:        self,
		counterpart: counterpart,
		tokens:      make(map[string]struct{}),
		seen:        make(map[int64]struct{}),
	}
}

// Counterpart is the other participant.
func (r *Reconciler) Counterpart() int64 { return r.counterpart }

// Entries returns a copy of the rendered list.
func (r *Reconciler) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Has reports whether durable id is rendered.
func (r *Reconciler) Has(id int64) bool {
	_, ok := r.seen[id]
	return ok
}

// PendingCount returns how many entries await confirmation.
func (r *Reconciler) PendingCount() int {
	n := 0
	for _, e := range r.entries {
		if e.State == Pending {
			n++
		}
	}
	return n
}

// AddPending renders an optimistic entry for an outbound message.
func (r *Reconciler) AddPending(token, content string, at time.Time) Entry {
	e := pendingEntry(token, r.self, r.counterpart, content, at)
	r.entries = append(r.entries, e)
	r.tokens[token] = struct{}{}
	return e
}

func (r *Reconciler) belongs(sender, recipient int64) bool {
	return (sender == r.self && recipient == r.counterpart) ||
		(sender == r.counterpart && recipient == r.self)
}

func (r *Reconciler) indexOfToken(token string) int {
	for i := len(r.entries) - 1; i >= 0; i-- {
		if e := r.entries[i]; e.State != Confirmed && e.Token == token {
			return i
		}
	}
	return -1
}

// Apply merges a durable echo from the server.
func (r *Reconciler) Apply(a protocol.MessageAck) Outcome {
	if !r.belongs(a.SenderID, a.RecipientID) {
		return Ignored
	}

	if a.SenderID == r.self && a.CorrelationToken != "" {
		if _, ok := r.tokens[a.CorrelationToken]; ok {
			delete(r.tokens, a.CorrelationToken)
			i := r.indexOfToken(a.CorrelationToken)
			if r.Has(a.ID) {
				// A history page already rendered it.
				r.entries = append(r.entries[:i], r.entries[i+1:]...)
				return Duplicate
			}
			r.entries[i] = confirmedFromAck(a)
			r.seen[a.ID] = struct{}{}
			return Replaced
		}
	}

	if r.Has(a.ID) {
		return Duplicate
	}
	r.insertConfirmed(confirmedFromAck(a))
	return Inserted
}

// insertConfirmed places e by durable id among the confirmed entries.
// Pending entries keep their positions relative to what they were sent after.
func (r *Reconciler) insertConfirmed(e Entry) {
	r.seen[e.ID] = struct{}{}

	at := len(r.entries)
	for i := len(r.entries) - 1; i >= 0; i-- {
		if c := r.entries[i]; c.State == Confirmed {
			if c.ID < e.ID {
				break
			}
			at = i
		}
	}

	r.entries = append(r.entries, Entry{})
	copy(r.entries[at+1:], r.entries[at:])
	r.entries[at] = e
}

// MergeHistory merges a newest-first history page and returns how many
// entries were new. Already-rendered ids are dropped silently. A row that
// carries the token of one of self's unresolved sends confirms that entry in
// place, as its echo would have.
func (r *Reconciler) MergeHistory(page []protocol.HistoryMessage) int {
	fresh := make([]Entry, 0, len(page))
	for i := len(page) - 1; i >= 0; i-- {
		m := page[i]
		if !r.belongs(m.SenderID, m.RecipientID) {
			continue
		}
		if r.resolveFromHistory(m) || r.Has(m.ID) {
			continue
		}
		r.seen[m.ID] = struct{}{}
		fresh = append(fresh, confirmedFromHistory(m))
	}
	if len(fresh) == 0 {
		return 0
	}

	// The common case: an older page lands entirely before what is rendered.
	if first, ok := r.firstConfirmed(); !ok || fresh[len(fresh)-1].ID < first {
		r.entries = append(fresh, r.entries...)
		return len(fresh)
	}
	for _, e := range fresh {
		delete(r.seen, e.ID)
		r.insertConfirmed(e)
	}
	return len(fresh)
}

func (r *Reconciler) resolveFromHistory(m protocol.HistoryMessage) bool {
	if m.SenderID != r.self || m.CorrelationToken == "" {
		return false
	}
	if _, ok := r.tokens[m.CorrelationToken]; !ok {
		return false
	}
	delete(r.tokens, m.CorrelationToken)
	i := r.indexOfToken(m.CorrelationToken)
	if r.Has(m.ID) {
		r.entries = append(r.entries[:i], r.entries[i+1:]...)
		return true
	}
	r.entries[i] = confirmedFromHistory(m)
	r.seen[m.ID] = struct{}{}
	return true
}

func (r *Reconciler) firstConfirmed() (int64, bool) {
	for _, e := range r.entries {
		if e.State == Confirmed {
			return e.ID, true
		}
	}
	return 0, false
}

// MarkFailed fails the pending entry for token. It reports whether one existed.
func (r *Reconciler) MarkFailed(token string, err error) bool {
	if _, ok := r.tokens[token]; !ok {
		return false
	}
	i := r.indexOfToken(token)
	if r.entries[i].State != Pending {
		return false
	}
	r.entries[i] = failedEntry(r.entries[i], err)
	return true
}

// FailPending fails every pending entry, as when the connection drops
// before their echoes arrive, and returns their tokens.
func (r *Reconciler) FailPending(err error) []string {
	var failed []string
	for i, e := range r.entries {
		if e.State == Pending {
			r.entries[i] = failedEntry(e, err)
			failed = append(failed, e.Token)
		}
	}
	return failed
}

// Retry moves a failed entry back to pending under the same token, so a
// send the server did persist is acknowledged rather than duplicated.
func (r *Reconciler) Retry(token string) (Entry, bool) {
	if _, ok := r.tokens[token]; !ok {
		return Entry{}, false
	}
	i := r.indexOfToken(token)
	if r.entries[i].State != Failed {
		return Entry{}, false
	}
	old := r.entries[i]
	r.entries[i] = pendingEntry(old.Token, old.SenderID, old.RecipientID, old.Content, old.CreatedAt)
	return r.entries[i], true
}

// MarkReadByCounterpart flips every confirmed message self sent to read.
func (r *Reconciler) MarkReadByCounterpart() int {
	n := 0
	for i, e := range r.entries {
		if e.State == Confirmed && e.SenderID == r.self && !e.IsRead {
			r.entries[i].IsRead = true
			n++
		}
	}
	return n
}
