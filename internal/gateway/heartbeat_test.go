package gateway

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logx "briefbot/pkg/logx"
)

func TestHeartbeatBeatsWhileAcked(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	beats := 0
	m := newHeartbeatMonitor(func() error {
		mu.Lock()
		beats++
		mu.Unlock()
		return nil
	}, func() { t.Error("onMissed fired despite acks") }, logx.Nop())

	m.start(10 * time.Millisecond)
	defer m.stop()

	// Keep acking every beat; the monitor must never declare the peer dead.
	require.Eventually(t, func() bool {
		m.noteAck()
		mu.Lock()
		defer mu.Unlock()
		return beats >= 3
	}, time.Second, 2*time.Millisecond)
}

func TestHeartbeatMissedAckForcesClose(t *testing.T) {
	t.Parallel()
	missed := make(chan struct{}, 1)
	m := newHeartbeatMonitor(func() error { return nil }, func() {
		select {
		case missed <- struct{}{}:
		default:
		}
	}, logx.Nop())

	// Never ack: the second tick sees the unacked beat and gives up.
	m.start(10 * time.Millisecond)
	defer m.stop()

	select {
	case <-missed:
	case <-time.After(time.Second):
		t.Fatal("missed ack never reported")
	}
	// The session's close handler is responsible for stop(); the monitor only
	// reports once.
	time.Sleep(50 * time.Millisecond)
	require.Len(t, missed, 0, "missed ack reported more than once")
}

func TestHeartbeatRestartReplacesTimer(t *testing.T) {
	t.Parallel()
	m := newHeartbeatMonitor(func() error { return nil }, func() {}, logx.Nop())

	m.start(time.Hour)
	require.True(t, m.running())
	m.start(time.Hour) // reconnect delivers a new hello
	require.True(t, m.running())
	m.stop()
	require.False(t, m.running())
	m.stop() // idempotent
}
