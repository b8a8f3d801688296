package event

import (
	"encoding/json"
	"fmt"
)

// Frame is the wire form of a single event: a type tag plus the variant's
// own JSON. Both the distributed bus and the gateway stream carry Frames.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func encode(typ string, v any) (Frame, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s: %w", typ, err)
	}
	return Frame{Type: typ, Payload: payload}, nil
}

func decodeInto(f Frame, v any) error {
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return fmt.Errorf("decode %s: %w", f.Type, err)
	}
	return nil
}

// EncodeInbound serializes an inbound event into a Frame.
func EncodeInbound(ev Inbound) (Frame, error) {
	switch e := ev.(type) {
	case Connected:
		return encode("connected", e)
	case Disconnected:
		return encode("disconnected", e)
	case LineReceived:
		return encode("line", e)
	case GmcpReceived:
		return encode("gmcp_in", e)
	default:
		return Frame{}, fmt.Errorf("encode inbound: unknown variant %T", ev)
	}
}

// DecodeInbound deserializes a Frame into an inbound event.
func DecodeInbound(f Frame) (Inbound, error) {
	switch f.Type {
	case "connected":
		var v Connected
		return v, decodeInto(f, &v)
	case "disconnected":
		var v Disconnected
		return v, decodeInto(f, &v)
	case "line":
		var v LineReceived
		return v, decodeInto(f, &v)
	case "gmcp_in":
		var v GmcpReceived
		return v, decodeInto(f, &v)
	default:
		return nil, fmt.Errorf("decode inbound: unknown type %q", f.Type)
	}
}

// EncodeOutbound serializes an outbound event into a Frame.
func EncodeOutbound(ev Outbound) (Frame, error) {
	switch e := ev.(type) {
	case SendText:
		return encode("text", e)
	case SendInfo:
		return encode("info", e)
	case SendError:
		return encode("error", e)
	case SendPrompt:
		return encode("prompt", e)
	case ShowLoginScreen:
		return encode("login_screen", e)
	case SetAnsi:
		return encode("set_ansi", e)
	case ClearScreen:
		return encode("clear", e)
	case Close:
		return encode("close", e)
	case SessionRedirect:
		return encode("redirect", e)
	case GmcpData:
		return encode("gmcp_out", e)
	default:
		return Frame{}, fmt.Errorf("encode outbound: unknown variant %T", ev)
	}
}

// DecodeOutbound deserializes a Frame into an outbound event.
func DecodeOutbound(f Frame) (Outbound, error) {
	switch f.Type {
	case "text":
		var v SendText
		return v, decodeInto(f, &v)
	case "info":
		var v SendInfo
		return v, decodeInto(f, &v)
	case "error":
		var v SendError
		return v, decodeInto(f, &v)
	case "prompt":
		var v SendPrompt
		return v, decodeInto(f, &v)
	case "login_screen":
		var v ShowLoginScreen
		return v, decodeInto(f, &v)
	case "set_ansi":
		var v SetAnsi
		return v, decodeInto(f, &v)
	case "clear":
		var v ClearScreen
		return v, decodeInto(f, &v)
	case "close":
		var v Close
		return v, decodeInto(f, &v)
	case "redirect":
		var v SessionRedirect
		return v, decodeInto(f, &v)
	case "gmcp_out":
		var v GmcpData
		return v, decodeInto(f, &v)
	default:
		return nil, fmt.Errorf("decode outbound: unknown type %q", f.Type)
	}
}
