package event

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestInboundRoundTrip(t *testing.T) {
	events := []Inbound{
		Connected{SessionID: 7, DefaultAnsi: true, WebSession: true},
		Disconnected{SessionID: 7, Reason: "transport"},
		LineReceived{SessionID: 9, Line: "kill rat"},
		GmcpReceived{SessionID: 9, Package: "Core.Hello", Payload: json.RawMessage(`{"client":"web"}`)},
	}
	for _, ev := range events {
		f, err := EncodeInbound(ev)
		if err != nil {
			t.Fatalf("encode %T: %v", ev, err)
		}
		got, err := DecodeInbound(f)
		if err != nil {
			t.Fatalf("decode %T: %v", ev, err)
		}
		if !reflect.DeepEqual(got, ev) {
			t.Errorf("round trip %T: got %+v, want %+v", ev, got, ev)
		}
	}
}

func TestOutboundRoundTrip(t *testing.T) {
	events := []Outbound{
		SendText{SessionID: 1, Text: "A rat scurries past."},
		SendInfo{SessionID: 1, Text: "Welcome back."},
		SendError{SessionID: 1, Text: "You are out of mana."},
		SendPrompt{SessionID: 1},
		ShowLoginScreen{SessionID: 2},
		SetAnsi{SessionID: 2, Enabled: true},
		ClearScreen{SessionID: 2},
		Close{SessionID: 3, Reason: "backpressure"},
		SessionRedirect{SessionID: 3, TargetEngineID: "engine-2"},
		GmcpData{SessionID: 4, Package: "Char.Vitals", JSON: json.RawMessage(`{"hp":10}`)},
	}
	for _, ev := range events {
		f, err := EncodeOutbound(ev)
		if err != nil {
			t.Fatalf("encode %T: %v", ev, err)
		}
		got, err := DecodeOutbound(f)
		if err != nil {
			t.Fatalf("decode %T: %v", ev, err)
		}
		if !reflect.DeepEqual(got, ev) {
			t.Errorf("round trip %T: got %+v, want %+v", ev, got, ev)
		}
	}
}

func TestDecodeUnknownType(t *testing.T) {
	if _, err := DecodeInbound(Frame{Type: "nope"}); err == nil {
		t.Error("expected error for unknown inbound type")
	}
	if _, err := DecodeOutbound(Frame{Type: "nope"}); err == nil {
		t.Error("expected error for unknown outbound type")
	}
}
