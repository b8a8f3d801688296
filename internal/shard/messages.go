// Package shard partitions the world by zone: ownership registry,
// inter-engine messaging, the player location index, load-based instance
// selection, and the cross-zone handoff protocol.
package shard

import (
	"encoding/json"
	"fmt"

	"github.com/ambonmud/server/internal/event"
	"github.com/ambonmud/server/internal/id"
	"github.com/ambonmud/server/internal/player"
)

// Message is the closed set of inter-engine messages.
type Message interface{ interEngine() }

// HandoffRuntime carries the live fields a record does not, so the target
// engine can admit the player without a persistence read.
type HandoffRuntime struct {
	HP          int               `json:"hp"`
	Mana        int               `json:"mana"`
	Level       int               `json:"level"`
	XPTotal     int64             `json:"xp_total"`
	Attr        player.Attributes `json:"attributes"`
	AnsiEnabled bool              `json:"ansi_enabled"`
	// WebSession rides along so the target engine re-subscribes the core
	// GMCP set on admit.
	WebSession bool `json:"web_session,omitempty"`
	IsStaff    bool `json:"is_staff"`
	// Items travel by template id plus instance id; the target engine
	// re-inflates instances from its own template tables.
	Inventory []player.ItemRecord          `json:"inventory"`
	Equipped  map[string]player.ItemRecord `json:"equipped"`
}

type PlayerHandoff struct {
	HandoffID  string         `json:"handoff_id"`
	SessionID  id.SessionID   `json:"session_id"`
	FromEngine string         `json:"from_engine"`
	TargetRoom id.RoomID      `json:"target_room"`
	Record     player.Record  `json:"record"`
	Runtime    HandoffRuntime `json:"runtime"`
}

type HandoffAck struct {
	HandoffID string       `json:"handoff_id"`
	SessionID id.SessionID `json:"session_id"`
	Accepted  bool         `json:"accepted"`
	Reason    string       `json:"reason,omitempty"`
}

type TellMessage struct {
	FromName string `json:"from_name"`
	ToName   string `json:"to_name"`
	Text     string `json:"text"`
	// RequestID/ReplyTo let the delivering engine send a TellDelivered
	// receipt; the sender reports "not found" when none arrives in time.
	RequestID string `json:"request_id,omitempty"`
	ReplyTo   string `json:"reply_to,omitempty"` // engine id
}

// TellDelivered is the receipt for a routed or broadcast TellMessage.
type TellDelivered struct {
	RequestID string `json:"request_id"`
	ToName    string `json:"to_name"`
}

type GlobalBroadcast struct {
	Channel  string `json:"channel"` // gossip | shout | ooc
	FromName string `json:"from_name"`
	Text     string `json:"text"`
}

type WhoRequest struct {
	RequestID string `json:"request_id"`
	ReplyTo   string `json:"reply_to"` // engine id
}

type WhoResponse struct {
	RequestID string   `json:"request_id"`
	EngineID  string   `json:"engine_id"`
	Names     []string `json:"names"`
}

type SessionRedirect struct {
	SessionID    id.SessionID `json:"session_id"`
	TargetEngine string       `json:"target_engine"`
}

type TransferRequest struct {
	PlayerName  string    `json:"player_name"`
	TargetRoom  id.RoomID `json:"target_room"`
	RequestedBy string    `json:"requested_by"`
}

type KickRequest struct {
	PlayerName  string `json:"player_name"`
	RequestedBy string `json:"requested_by"`
	Reason      string `json:"reason"`
}

func (PlayerHandoff) interEngine()   {}
func (HandoffAck) interEngine()      {}
func (TellMessage) interEngine()     {}
func (TellDelivered) interEngine()   {}
func (GlobalBroadcast) interEngine() {}
func (WhoRequest) interEngine()      {}
func (WhoResponse) interEngine()     {}
func (SessionRedirect) interEngine() {}
func (TransferRequest) interEngine() {}
func (KickRequest) interEngine()     {}

// Encode wraps a message in a wire frame. The frame type shares the event
// codec's shape so envelopes sign and verify the same way.
func Encode(m Message) (event.Frame, error) {
	var typ string
	switch m.(type) {
	case PlayerHandoff:
		typ = "player_handoff"
	case HandoffAck:
		typ = "handoff_ack"
	case TellMessage:
		typ = "tell"
	case TellDelivered:
		typ = "tell_delivered"
	case GlobalBroadcast:
		typ = "global_broadcast"
	case WhoRequest:
		typ = "who_request"
	case WhoResponse:
		typ = "who_response"
	case SessionRedirect:
		typ = "session_redirect"
	case TransferRequest:
		typ = "transfer_request"
	case KickRequest:
		typ = "kick_request"
	default:
		return event.Frame{}, fmt.Errorf("shard: unencodable message %T", m)
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return event.Frame{}, err
	}
	return event.Frame{Type: typ, Payload: payload}, nil
}

// Decode unwraps a wire frame back into a message.
func Decode(f event.Frame) (Message, error) {
	switch f.Type {
	case "player_handoff":
		var v PlayerHandoff
		return v, json.Unmarshal(f.Payload, &v)
	case "handoff_ack":
		var v HandoffAck
		return v, json.Unmarshal(f.Payload, &v)
	case "tell":
		var v TellMessage
		return v, json.Unmarshal(f.Payload, &v)
	case "tell_delivered":
		var v TellDelivered
		return v, json.Unmarshal(f.Payload, &v)
	case "global_broadcast":
		var v GlobalBroadcast
		return v, json.Unmarshal(f.Payload, &v)
	case "who_request":
		var v WhoRequest
		return v, json.Unmarshal(f.Payload, &v)
	case "who_response":
		var v WhoResponse
		return v, json.Unmarshal(f.Payload, &v)
	case "session_redirect":
		var v SessionRedirect
		return v, json.Unmarshal(f.Payload, &v)
	case "transfer_request":
		var v TransferRequest
		return v, json.Unmarshal(f.Payload, &v)
	case "kick_request":
		var v KickRequest
		return v, json.Unmarshal(f.Payload, &v)
	}
	return nil, fmt.Errorf("shard: unknown message type %q", f.Type)
}
