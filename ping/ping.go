// Package ping tracks outstanding connectionless latency probes.
//
// A probe is recorded per destination address when a ping datagram is sent
// and resolved when the matching pong arrives. There is no retry: callers
// decide whether to probe again. Unmatched pongs are ignored.
package ping

import (
	"net"
	"time"

	"github.com/opd-ai/netchannel/clock"
	"github.com/sirupsen/logrus"
)

const (
	// RequestHeader is the single byte sent as a connectionless ping.
	RequestHeader byte = 0x77
	// ResponseHeader is the single byte sent back in reply.
	ResponseHeader byte = 0x78
)

// Callback receives the measured round trip of a probe.
type Callback func(rtt time.Duration)

type pendingPing struct {
	issuedAt time.Time
	callback Callback
}

// Helper stores one pending probe per address. Not safe for concurrent use.
type Helper struct {
	pending map[string]pendingPing
	clock   clock.TimeProvider
}

// NewHelper creates a Helper. A nil time provider uses the system clock.
func NewHelper(tp clock.TimeProvider) *Helper {
	return &Helper{
		pending: make(map[string]pendingPing),
		clock:   clock.Or(tp),
	}
}

// AddListener records a probe to addr issued now. A probe already pending
// for the same address is replaced and its callback will never fire.
func (h *Helper) AddListener(addr net.Addr, cb Callback) {
	key := addr.String()
	if _, exists := h.pending[key]; exists {
		logrus.WithFields(logrus.Fields{
			"function": "Helper.AddListener",
			"address":  key,
		}).Debug("Replacing pending ping")
	}
	h.pending[key] = pendingPing{issuedAt: h.clock.Now(), callback: cb}
}

// ReceivePong resolves the probe pending for addr, invoking its callback
// with the elapsed time. It reports whether a probe was pending.
func (h *Helper) ReceivePong(addr net.Addr) bool {
	key := addr.String()
	p, ok := h.pending[key]
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function": "Helper.ReceivePong",
			"address":  key,
		}).Debug("Ignoring unmatched pong")
		return false
	}
	delete(h.pending, key)

	rtt := h.clock.Since(p.issuedAt)
	if rtt < 0 {
		rtt = 0
	}
	if p.callback != nil {
		p.callback(rtt)
	}
	return true
}

// Expire drops probes older than ttl without invoking their callbacks and
// returns how many were dropped. A non-positive ttl disables expiry.
func (h *Helper) Expire(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	now := h.clock.Now()
	expired := 0
	for key, p := range h.pending {
		if now.Sub(p.issuedAt) > ttl {
			delete(h.pending, key)
			expired++
		}
	}
	if expired > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "Helper.Expire",
			"expired":  expired,
			"ttl":      ttl,
		}).Debug("Expired pending pings")
	}
	return expired
}

// Clear abandons every pending probe.
func (h *Helper) Clear() {
	clear(h.pending)
}

// Pending returns the number of outstanding probes.
func (h *Helper) Pending() int {
	return len(h.pending)
}
