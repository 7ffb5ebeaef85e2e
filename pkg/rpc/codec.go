package rpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

const codecName = "cascade-rpc-json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec is the same shape as pkg/streaming/channel's private codec of
// the same idea, registered under its own name so the control-plane RPCs
// in this package don't share a content-subtype with the data-plane
// exchange stream.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                               { return codecName }
