package gateway

import "encoding/json"

// Gateway opcodes. Anything outside this set is logged and ignored.
const (
	opDispatch     = 0
	opHeartbeat    = 1 // bidirectional: server may request one out of band
	opIdentify     = 2
	opHello        = 10
	opHeartbeatACK = 11
)

// Dispatch event types consumed.
const (
	eventReady         = "READY"
	eventMessageCreate = "MESSAGE_CREATE"
)

// payload is the outer frame envelope. S carries the server sequence number;
// the client must echo the last seen value in heartbeats, never a local count.
type payload struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  *int64          `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

type helloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"` // milliseconds
}

type identifyData struct {
	Token      string             `json:"token"`
	Intents    int                `json:"intents"`
	Properties identifyProperties `json:"properties"`
}

type identifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

type readyData struct {
	SessionID string `json:"session_id"`
}

type messageAuthor struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name"`
	Bot        bool   `json:"bot"`
	System     bool   `json:"system"`
}

type messageCreateData struct {
	ID        string        `json:"id"`
	ChannelID string        `json:"channel_id"`
	Content   string        `json:"content"`
	Timestamp string        `json:"timestamp"`
	Author    messageAuthor `json:"author"`
}

// DisplayName prefers the global display name over the account username.
func (a messageAuthor) DisplayName() string {
	if a.GlobalName != "" {
		return a.GlobalName
	}
	return a.Username
}
