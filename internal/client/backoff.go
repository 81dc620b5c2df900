package client

import (
	"time"

	"github.com/sethvargo/go-retry"
)

// ReconnectPolicy produces the delays between reconnect attempts. A fresh
// Backoff is taken after every successful connection.
type ReconnectPolicy interface {
	NewBackoff() retry.Backoff
}

// ReconnectPolicyFunc adapts a function to ReconnectPolicy.
type ReconnectPolicyFunc func() retry.Backoff

// NewBackoff calls f.
func (f ReconnectPolicyFunc) NewBackoff() retry.Backoff { return f() }

// ConstantReconnect waits d between every attempt, forever.
func ConstantReconnect(d time.Duration) ReconnectPolicy {
	return ReconnectPolicyFunc(func() retry.Backoff {
		return retry.NewConstant(d)
	})
}

// ExponentialReconnect doubles the delay from base up to max, with 10% jitter.
func ExponentialReconnect(base, max time.Duration) ReconnectPolicy {
	return ReconnectPolicyFunc(func() retry.Backoff {
		b := retry.NewExponential(base)
		b = retry.WithCappedDuration(max, b)
		return retry.WithJitterPercent(10, b)
	})
}
