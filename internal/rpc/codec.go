package rpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content-subtype both sides of the stream use. The
// messages are event frames, already JSON on every other transport, so the
// stream carries the same bytes instead of a parallel protobuf schema.
const CodecName = "ambonmud-json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)   { return json.Marshal(v) }
func (jsonCodec) Unmarshal(b []byte, v any) error { return json.Unmarshal(b, v) }
func (jsonCodec) Name() string                    { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
