// Package gateway implements the client side of the Discord real-time
// gateway: handshake, heartbeat liveness, event dispatch, and reconnection
// with backoff.
//
// One Session owns one transport at a time. All session state lives on the
// Session instance (no package globals), so multiple independent sessions in
// one process remain possible.
package gateway

import (
	"context"
	"encoding/json"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"briefbot/internal/buffer"
	logx "briefbot/pkg/logx"
)

// DefaultIntents is guilds + guild messages + message content.
const DefaultIntents = 513

const defaultGatewayURL = "wss://gateway.discord.gg/?v=10&encoding=json"

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingIdentifyAck
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingIdentifyAck:
		return "awaiting_identify_ack"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

type Config struct {
	Token      string
	GatewayURL string // defaults to the public gateway
	Intents    int    // defaults to DefaultIntents

	// Policy decides redial behavior after an abnormal close.
	// Defaults to ImmediatePolicy.
	Policy ReconnectPolicy

	// Dial is injectable for tests. Defaults to a gorilla/websocket dialer.
	Dial Dialer
}

// EventSink receives accepted message events. Satisfied by *buffer.Buffer.
type EventSink interface {
	Record(ev buffer.Event, authorIsBot bool) bool
}

// Session is the gateway session state machine. It is the exclusive owner of
// the connection state; no other component transitions it.
type Session struct {
	cfg  Config
	log  logx.Logger
	sink EventSink

	mu        sync.Mutex
	state     State
	conn      Conn
	gen       uint64 // bumped per live transport; stale close callbacks no-op
	seq       int64
	seqSet    bool
	sessionID string
	attempts  int  // reconnect counter; reset on every Connected transition
	active    bool // true between Start and Stop
	redial    *time.Timer

	// writeMu serializes frame writes (heartbeat timer vs. identify vs.
	// out-of-band heartbeat requests).
	writeMu sync.Mutex

	hb *heartbeatMonitor
}

func New(cfg Config, sink EventSink, log logx.Logger) *Session {
	if strings.TrimSpace(cfg.GatewayURL) == "" {
		cfg.GatewayURL = defaultGatewayURL
	}
	if cfg.Intents == 0 {
		cfg.Intents = DefaultIntents
	}
	if cfg.Policy == nil {
		cfg.Policy = ImmediatePolicy{}
	}
	if cfg.Dial == nil {
		cfg.Dial = defaultDialer
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Session{cfg: cfg, sink: sink, log: log}
	s.hb = newHeartbeatMonitor(s.sendHeartbeat, s.forceClose, log)
	return s
}

// Start marks the session active and dials. Idempotent.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return nil
	}
	s.active = true
	s.mu.Unlock()
	return s.Connect(ctx)
}

// Connect dials the gateway. It is a no-op while a connection attempt is in
// flight or the session is already connected; the session never holds two
// live transports.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if !s.active || s.state != StateDisconnected {
		s.mu.Unlock()
		return nil
	}
	s.state = StateConnecting
	url := s.cfg.GatewayURL
	s.mu.Unlock()

	s.log.Info("gateway dialing", logx.String("url", url))
	conn, err := s.cfg.Dial(ctx, url)

	s.mu.Lock()
	if !s.active {
		// Stopped mid-dial.
		s.state = StateDisconnected
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return nil
	}
	if err != nil {
		s.log.Warn("gateway dial failed", logx.Err(err))
		s.abnormalCloseLocked()
		s.mu.Unlock()
		return err
	}

	s.conn = conn
	s.gen++
	gen := s.gen
	// Fresh connection, fresh identify: the sequence restarts server-side.
	s.seq = 0
	s.seqSet = false
	s.state = StateAwaitingIdentifyAck
	s.mu.Unlock()

	go s.readLoop(conn, gen)
	return nil
}

// EnsureConnected redials if the session is active but disconnected. Used by
// the keepalive tick under the deferred reconnect policy.
func (s *Session) EnsureConnected(ctx context.Context) error {
	s.mu.Lock()
	need := s.active && s.state == StateDisconnected
	s.mu.Unlock()
	if !need {
		return nil
	}
	return s.Connect(ctx)
}

// Stop deactivates the session: the heartbeat timer and any pending reconnect
// timer are cancelled, and the transport is closed.
func (s *Session) Stop(ctx context.Context) error {
	_ = ctx
	s.mu.Lock()
	s.active = false
	if s.redial != nil {
		s.redial.Stop()
		s.redial = nil
	}
	conn := s.conn
	s.conn = nil
	s.gen++ // invalidate the read loop's close callback
	s.state = StateDisconnected
	s.mu.Unlock()

	s.hb.stop()
	if conn != nil {
		_ = conn.Close()
	}
	s.log.Info("gateway session stopped")
	return nil
}

// ---- status accessors ----

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Connected() bool { return s.State() == StateConnected }

func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *Session) ReconnectAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// ---- read path ----

func (s *Session) readLoop(conn Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.closed(gen, err)
			return
		}
		s.handleFrame(conn, data)
	}
}

func (s *Session) handleFrame(conn Conn, data []byte) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		// Malformed frame: protocol error, never fatal.
		s.log.Warn("malformed gateway frame", logx.Err(err))
		return
	}

	if p.S != nil {
		s.mu.Lock()
		s.seq = *p.S
		s.seqSet = true
		s.mu.Unlock()
	}

	switch p.Op {
	case opHello:
		var hello helloData
		if err := json.Unmarshal(p.D, &hello); err != nil || hello.HeartbeatInterval <= 0 {
			s.log.Warn("bad hello payload", logx.Err(err))
			return
		}
		interval := time.Duration(hello.HeartbeatInterval) * time.Millisecond
		s.log.Debug("hello received", logx.Duration("heartbeat_interval", interval))
		// Heartbeating must be running before identify goes out.
		s.hb.start(interval)
		if err := s.sendIdentify(conn); err != nil {
			s.log.Warn("identify send failed", logx.Err(err))
			_ = conn.Close()
		}

	case opHeartbeat:
		// Server-requested heartbeat: answer immediately, independent of the timer.
		if err := s.sendHeartbeat(); err != nil {
			s.log.Debug("requested heartbeat failed", logx.Err(err))
		}

	case opHeartbeatACK:
		s.hb.noteAck()

	case opDispatch:
		s.handleDispatch(p)

	default:
		// Forward-compatible no-op.
		s.log.Debug("ignoring gateway frame", logx.Int("op", p.Op))
	}
}

func (s *Session) handleDispatch(p payload) {
	switch p.T {
	case eventReady:
		var ready readyData
		if err := json.Unmarshal(p.D, &ready); err != nil {
			s.log.Warn("bad ready payload", logx.Err(err))
			return
		}
		s.mu.Lock()
		s.sessionID = ready.SessionID
		s.state = StateConnected
		s.attempts = 0
		s.mu.Unlock()
		s.log.Info("gateway ready", logx.String("session_id", ready.SessionID))

	case eventMessageCreate:
		var msg messageCreateData
		if err := json.Unmarshal(p.D, &msg); err != nil {
			s.log.Warn("bad message payload", logx.Err(err))
			return
		}
		receivedAt := time.Now()
		if ts, err := time.Parse(time.RFC3339, msg.Timestamp); err == nil {
			receivedAt = ts
		}
		ev := buffer.Event{
			ID:         msg.ID,
			AuthorID:   msg.Author.ID,
			AuthorName: msg.Author.DisplayName(),
			Content:    msg.Content,
			ReceivedAt: receivedAt,
			ChannelID:  msg.ChannelID,
		}
		if s.sink != nil && s.sink.Record(ev, msg.Author.Bot || msg.Author.System) {
			s.log.Trace("message recorded", logx.String("id", msg.ID))
		}

	default:
		s.log.Debug("ignoring dispatch", logx.String("type", p.T))
	}
}

// ---- write path ----

func (s *Session) sendIdentify(conn Conn) error {
	id := identifyData{
		Token:   s.cfg.Token,
		Intents: s.cfg.Intents,
		Properties: identifyProperties{
			OS:      runtime.GOOS,
			Browser: "briefbot",
			Device:  "briefbot",
		},
	}
	d, err := json.Marshal(id)
	if err != nil {
		return err
	}
	return s.write(conn, payload{Op: opIdentify, D: d})
}

// sendHeartbeat echoes the last seen server sequence (null if none yet).
func (s *Session) sendHeartbeat() error {
	s.mu.Lock()
	conn := s.conn
	var seq *int64
	if s.seqSet {
		v := s.seq
		seq = &v
	}
	s.mu.Unlock()
	if conn == nil {
		return nil
	}

	frame := struct {
		Op int    `json:"op"`
		D  *int64 `json:"d"`
	}{Op: opHeartbeat, D: seq}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Session) write(conn Conn, p payload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// ---- close / reconnect path ----

// forceClose tears down the current transport (missed heartbeat ack).
// The read loop surfaces the close and drives reconnection.
func (s *Session) forceClose() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// closed is called by the read loop when the transport dies. gen guards
// against a stale loop racing a Stop() or a newer connection.
func (s *Session) closed(gen uint64, err error) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.state = StateDisconnected
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.log.Warn("gateway connection closed", logx.Err(err))
	s.abnormalCloseLocked()
	s.mu.Unlock()

	s.hb.stop()
}

// abnormalCloseLocked bumps the reconnect counter and, under the immediate
// policy, schedules the backoff redial. Callers hold s.mu.
func (s *Session) abnormalCloseLocked() {
	s.state = StateDisconnected
	s.attempts++
	delay, redial := s.cfg.Policy.NextDelay(s.attempts)
	if !redial {
		s.log.Info("reconnect deferred to keepalive", logx.Int("attempt", s.attempts))
		return
	}
	s.log.Info("reconnect scheduled",
		logx.Int("attempt", s.attempts), logx.Duration("delay", delay))
	if s.redial != nil {
		s.redial.Stop()
	}
	s.redial = time.AfterFunc(delay, func() {
		_ = s.Connect(context.Background())
	})
}
