package client

import (
	"time"
)

// PageRequest identifies one history fetch. Results are applied only if the
// request is still current when they arrive.
type PageRequest struct {
	Counterpart int64
	Offset      int
	generation  uint64
}

// Paginator walks a conversation's history backward in fixed-size pages.
// It is not safe for concurrent use.
type Paginator struct {
	pageSize int
	throttle time.Duration

	counterpart int64
	generation  uint64
	offset      int
	exhausted   bool
	inFlight    bool
	lastTrigger time.Time
}

// NewPaginator returns a paginator with no conversation selected.
func NewPaginator(pageSize int, throttle time.Duration) *Paginator {
	if pageSize <= 0 {
		pageSize = 10
	}
	return &Paginator{pageSize: pageSize, throttle: throttle}
}

// Reset starts over for counterpart (0 for none). Requests issued before the
// reset become stale.
func (p *Paginator) Reset(counterpart int64) {
	p.generation++
	p.counterpart = counterpart
	p.offset = 0
	p.exhausted = false
	p.inFlight = false
	p.lastTrigger = time.Time{}
}

// Offset is the raw number of rows fetched so far.
func (p *Paginator) Offset() int { return p.offset }

// Exhausted reports that an empty page ended history.
func (p *Paginator) Exhausted() bool { return p.exhausted }

// InFlight reports whether a page request is outstanding.
func (p *Paginator) InFlight() bool { return p.inFlight }

// Counterpart is the conversation being paged.
func (p *Paginator) Counterpart() int64 { return p.counterpart }

// Begin claims the single in-flight slot. It fails with no conversation,
// with a request already running, or once history is exhausted.
func (p *Paginator) Begin() (PageRequest, bool) {
	if p.counterpart == 0 || p.inFlight || p.exhausted {
		return PageRequest{}, false
	}
	p.inFlight = true
	return PageRequest{Counterpart: p.counterpart, Offset: p.offset, generation: p.generation}, true
}

// Throttled reports whether a scroll-triggered load at now comes too soon
// after the last one, and records now otherwise.
func (p *Paginator) Throttled(now time.Time) bool {
	if !p.lastTrigger.IsZero() && now.Sub(p.lastTrigger) < p.throttle {
		return true
	}
	p.lastTrigger = now
	return false
}

// Complete records the outcome of req and reports whether the page should
// be merged. The offset advances by the raw page length even when every
// message turns out to be a duplicate; only an empty page ends history.
func (p *Paginator) Complete(req PageRequest, rawLen int, err error) bool {
	if req.generation != p.generation {
		return false
	}
	p.inFlight = false
	if err != nil {
		return false
	}
	if rawLen == 0 {
		p.exhausted = true
		return false
	}
	p.offset += rawLen
	return true
}
