package gateway

import (
	"sync"
	"time"

	logx "briefbot/pkg/logx"
)

// heartbeatMonitor owns the periodic heartbeat timer for one transport.
// The interval comes from the server hello; the monitor is started before
// identify is sent and stopped on every exit from the live states.
type heartbeatMonitor struct {
	mu     sync.Mutex
	stopCh chan struct{}
	acked  bool

	beat     func() error // sends one heartbeat with the last seen sequence
	onMissed func()       // invoked when the previous beat was never acked

	log logx.Logger
}

func newHeartbeatMonitor(beat func() error, onMissed func(), log logx.Logger) *heartbeatMonitor {
	return &heartbeatMonitor{beat: beat, onMissed: onMissed, log: log}
}

// start begins ticking at interval. Any previous timer is cancelled first, so
// a reconnect that delivers a new hello cannot leave two tickers running.
func (m *heartbeatMonitor) start(interval time.Duration) {
	m.mu.Lock()
	if m.stopCh != nil {
		close(m.stopCh)
	}
	stopCh := make(chan struct{})
	m.stopCh = stopCh
	m.acked = true
	m.mu.Unlock()

	go m.run(interval, stopCh)
}

func (m *heartbeatMonitor) stop() {
	m.mu.Lock()
	if m.stopCh != nil {
		close(m.stopCh)
		m.stopCh = nil
	}
	m.mu.Unlock()
}

// running reports whether a timer has been started and not yet stopped.
func (m *heartbeatMonitor) running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopCh != nil
}

// noteAck records the server heartbeat ack for the current beat.
func (m *heartbeatMonitor) noteAck() {
	m.mu.Lock()
	m.acked = true
	m.mu.Unlock()
}

func (m *heartbeatMonitor) run(interval time.Duration, stopCh chan struct{}) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-t.C:
			m.mu.Lock()
			missed := !m.acked
			m.acked = false
			m.mu.Unlock()

			if missed {
				// One full interval elapsed without an ack: the connection is
				// presumed dead. Force a close and let reconnection handle it.
				m.log.Warn("heartbeat ack missed; forcing close",
					logx.Duration("interval", interval))
				if m.onMissed != nil {
					m.onMissed()
				}
				return
			}
			if err := m.beat(); err != nil {
				m.log.Debug("heartbeat send failed", logx.Err(err))
				return
			}
		}
	}
}
