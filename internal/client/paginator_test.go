package client

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaginatorWalksBackUntilEmptyPage(t *testing.T) {
	p := NewPaginator(10, 0)
	_, ok := p.Begin()
	require.False(t, ok, "no conversation")

	p.Reset(other)
	req, ok := p.Begin()
	require.True(t, ok)
	assert.Equal(t, 0, req.Offset)
	assert.Equal(t, other, req.Counterpart)

	_, ok = p.Begin()
	assert.False(t, ok, "one request at a time")

	assert.True(t, p.Complete(req, 10, nil))
	assert.Equal(t, 10, p.Offset())

	req, ok = p.Begin()
	require.True(t, ok)
	assert.Equal(t, 10, req.Offset)
	assert.True(t, p.Complete(req, 3, nil))

	req, _ = p.Begin()
	assert.False(t, p.Complete(req, 0, nil))
	assert.True(t, p.Exhausted())
	_, ok = p.Begin()
	assert.False(t, ok)

	p.Reset(third)
	assert.False(t, p.Exhausted())
	assert.Zero(t, p.Offset())
}

func TestPaginatorDropsStaleResults(t *testing.T) {
	p := NewPaginator(10, 0)
	p.Reset(other)
	req, _ := p.Begin()

	p.Reset(third)
	assert.False(t, p.Complete(req, 10, nil))
	assert.Zero(t, p.Offset())
	assert.False(t, p.InFlight())

	fresh, ok := p.Begin()
	require.True(t, ok)
	assert.Equal(t, third, fresh.Counterpart)
}

func TestPaginatorFailedRequestCanBeRetried(t *testing.T) {
	p := NewPaginator(10, 0)
	p.Reset(other)
	req, _ := p.Begin()

	assert.False(t, p.Complete(req, 0, errors.New("boom")))
	assert.False(t, p.Exhausted())
	assert.False(t, p.InFlight())

	again, ok := p.Begin()
	require.True(t, ok)
	assert.Equal(t, 0, again.Offset)
}

func TestPaginatorThrottle(t *testing.T) {
	p := NewPaginator(10, 200*time.Millisecond)
	p.Reset(other)

	assert.False(t, p.Throttled(epoch))
	assert.True(t, p.Throttled(epoch.Add(100*time.Millisecond)))
	assert.False(t, p.Throttled(epoch.Add(200*time.Millisecond)))
}
