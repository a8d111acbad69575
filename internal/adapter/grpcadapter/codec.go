// Package grpcadapter is a grpc-backed adapter.Adapter, grounded on the
// teacher's internal/agent/runtime/grpc package (same dial pattern, same
// streaming RunTurn shape). The teacher's client depends on protoc-generated
// stubs that were not part of the retrieval pack; rather than fabricate
// generated protobuf code, this package drives google.golang.org/grpc's
// documented pluggable-codec extension point (encoding.Codec) with a JSON
// wire format, so the actual grpc transport, dialing, and streaming
// machinery are the real library, not a hand-rolled substitute.
package grpcadapter

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

const codecName = "foreman-json"

// jsonCodec implements google.golang.org/grpc/encoding.Codec, letting grpc
// carry plain JSON-tagged Go structs as message payloads instead of
// protobuf wire format.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
