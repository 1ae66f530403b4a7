package observerproto

import "packetworld.ai/internal/sim/events"

// Version is the observer protocol version.
const Version = "1"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeEvent     = "EVENT"
)

// Client -> Server. First message on the observer WS connection. An empty
// Events list subscribes to every event type.
type SubscribeMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	Events          []string `json:"events,omitempty"`
	Buffer          int      `json:"buffer,omitempty"`
}

// HTTP response for GET /v1/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string      `json:"protocol_version"`
	RunID           string      `json:"run_id"`
	Tick            uint64      `json:"tick"`
	GameOver        bool        `json:"game_over"`
	Scenario        string      `json:"scenario"`
	Grid            GridParams  `json:"grid"`
	Agents          []AgentInfo `json:"agents"`
}

type GridParams struct {
	Width  int `json:"width"`
	Height int `json:"height"`
	View   int `json:"view"`
}

type AgentInfo struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Priority string `json:"priority"`
	Behavior string `json:"behavior"`
}

// Server -> Client. One per bus event that passed the subscription filter.
type EventMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	Event           events.Event `json:"event"`
}

// KnownEvent reports whether name is an event type the bus publishes.
func KnownEvent(name string) bool {
	switch events.Type(name) {
	case events.WorldProcessed, events.MailSent, events.AgentAction, events.GameOver:
		return true
	}
	return false
}
