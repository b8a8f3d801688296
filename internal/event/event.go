package event

import (
	"encoding/json"

	"github.com/ambonmud/server/internal/id"
)

// Inbound events flow transport -> engine. The family is sealed: transports
// produce values, the engine consumes them with a single type switch.
type Inbound interface {
	Session() id.SessionID
	inbound()
}

type Connected struct {
	SessionID   id.SessionID `json:"session_id"`
	DefaultAnsi bool         `json:"default_ansi"`
	// WebSession marks a WebSocket-class session, which is auto-subscribed
	// to the core GMCP package set on connect.
	WebSession bool `json:"web_session,omitempty"`
}

type Disconnected struct {
	SessionID id.SessionID `json:"session_id"`
	Reason    string       `json:"reason"`
}

type LineReceived struct {
	SessionID id.SessionID `json:"session_id"`
	Line      string       `json:"line"`
}

type GmcpReceived struct {
	SessionID id.SessionID    `json:"session_id"`
	Package   string          `json:"package"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func (e Connected) Session() id.SessionID    { return e.SessionID }
func (e Disconnected) Session() id.SessionID { return e.SessionID }
func (e LineReceived) Session() id.SessionID { return e.SessionID }
func (e GmcpReceived) Session() id.SessionID { return e.SessionID }

func (Connected) inbound()    {}
func (Disconnected) inbound() {}
func (LineReceived) inbound() {}
func (GmcpReceived) inbound() {}

// Outbound events flow engine -> transport. Renderers turn them into bytes;
// the engine never touches sockets or framing.
type Outbound interface {
	Session() id.SessionID
	outbound()
}

type SendText struct {
	SessionID id.SessionID `json:"session_id"`
	Text      string       `json:"text"`
}

type SendInfo struct {
	SessionID id.SessionID `json:"session_id"`
	Text      string       `json:"text"`
}

type SendError struct {
	SessionID id.SessionID `json:"session_id"`
	Text      string       `json:"text"`
}

type SendPrompt struct {
	SessionID id.SessionID `json:"session_id"`
}

type ShowLoginScreen struct {
	SessionID id.SessionID `json:"session_id"`
}

type SetAnsi struct {
	SessionID id.SessionID `json:"session_id"`
	Enabled   bool         `json:"enabled"`
}

type ClearScreen struct {
	SessionID id.SessionID `json:"session_id"`
}

type Close struct {
	SessionID id.SessionID `json:"session_id"`
	Reason    string       `json:"reason"`
}

type SessionRedirect struct {
	SessionID      id.SessionID `json:"session_id"`
	TargetEngineID string       `json:"target_engine_id"`
}

type GmcpData struct {
	SessionID id.SessionID    `json:"session_id"`
	Package   string          `json:"package"`
	JSON      json.RawMessage `json:"json"`
}

func (e SendText) Session() id.SessionID        { return e.SessionID }
func (e SendInfo) Session() id.SessionID        { return e.SessionID }
func (e SendError) Session() id.SessionID       { return e.SessionID }
func (e SendPrompt) Session() id.SessionID      { return e.SessionID }
func (e ShowLoginScreen) Session() id.SessionID { return e.SessionID }
func (e SetAnsi) Session() id.SessionID         { return e.SessionID }
func (e ClearScreen) Session() id.SessionID     { return e.SessionID }
func (e Close) Session() id.SessionID           { return e.SessionID }
func (e SessionRedirect) Session() id.SessionID { return e.SessionID }
func (e GmcpData) Session() id.SessionID        { return e.SessionID }

func (SendText) outbound()        {}
func (SendInfo) outbound()        {}
func (SendError) outbound()       {}
func (SendPrompt) outbound()      {}
func (ShowLoginScreen) outbound() {}
func (SetAnsi) outbound()         {}
func (ClearScreen) outbound()     {}
func (Close) outbound()           {}
func (SessionRedirect) outbound() {}
func (GmcpData) outbound()        {}
