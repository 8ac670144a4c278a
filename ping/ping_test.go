package ping

import (
	"net"
	"testing"
	"time"

	"github.com/opd-ai/netchannel/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAddr(port int) net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

func newMockHelper() (*Helper, *clock.MockTimeProvider) {
	mock := clock.NewMockTimeProvider(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return NewHelper(mock), mock
}

func TestPongInvokesCallbackOnce(t *testing.T) {
	h, mock := newMockHelper()
	calls := 0
	var measured time.Duration

	h.AddListener(testAddr(9000), func(rtt time.Duration) {
		calls++
		measured = rtt
	})
	mock.Advance(42 * time.Millisecond)

	require.True(t, h.ReceivePong(testAddr(9000)))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 42*time.Millisecond, measured)

	// A duplicate pong is ignored.
	assert.False(t, h.ReceivePong(testAddr(9000)))
	assert.Equal(t, 1, calls)
	assert.Zero(t, h.Pending())
}

func TestUnmatchedPongIgnored(t *testing.T) {
	h, _ := newMockHelper()
	fired := false
	h.AddListener(testAddr(9000), func(time.Duration) { fired = true })

	assert.False(t, h.ReceivePong(testAddr(9001)))
	assert.False(t, fired)
	assert.Equal(t, 1, h.Pending())
}

func TestSecondPingReplacesFirst(t *testing.T) {
	h, _ := newMockHelper()
	var first, second int

	h.AddListener(testAddr(9000), func(time.Duration) { first++ })
	h.AddListener(testAddr(9000), func(time.Duration) { second++ })
	h.ReceivePong(testAddr(9000))

	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
}

func TestElapsedNeverNegative(t *testing.T) {
	h, mock := newMockHelper()
	var measured time.Duration = -1

	h.AddListener(testAddr(9000), func(rtt time.Duration) { measured = rtt })
	mock.Advance(-time.Second)
	h.ReceivePong(testAddr(9000))

	assert.Equal(t, time.Duration(0), measured)
}

func TestClearAbandonsPings(t *testing.T) {
	h, _ := newMockHelper()
	fired := false
	h.AddListener(testAddr(9000), func(time.Duration) { fired = true })

	h.Clear()

	assert.False(t, h.ReceivePong(testAddr(9000)))
	assert.False(t, fired)
}

func TestExpire(t *testing.T) {
	h, mock := newMockHelper()
	fired := false
	h.AddListener(testAddr(9000), func(time.Duration) { fired = true })
	mock.Advance(5 * time.Second)
	h.AddListener(testAddr(9001), func(time.Duration) {})

	assert.Equal(t, 0, h.Expire(0))
	assert.Equal(t, 1, h.Expire(3*time.Second))
	assert.Equal(t, 1, h.Pending())

	assert.False(t, h.ReceivePong(testAddr(9000)))
	assert.False(t, fired)
}
