package cache

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrDecode indicates that stored bytes do not match the expected layout
// (corrupted or truncated entry). The tiered cache treats it as a miss,
// never as a fatal error.
var ErrDecode = errors.New("cache: decode failed")

// Codec converts structured values (embedding vectors, result sets, response
// payloads) to and from bytes. The implementation is chosen once at
// construction time and surfaced in statistics; there is no per-call
// feature detection.
type Codec interface {
	// Name identifies the serialization format for the statistics report.
	Name() string
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

// MsgpackCodec serializes values with MessagePack. It is the default codec:
// compact, fast, and lossless for float32 vectors and nested map/slice data.
type MsgpackCodec struct{}

// NewMsgpackCodec creates the default codec.
func NewMsgpackCodec() Codec { return MsgpackCodec{} }

// Name implements Codec
func (MsgpackCodec) Name() string { return "msgpack" }

// Marshal implements Codec
func (MsgpackCodec) Marshal(v interface{}) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("msgpack marshal: %w", err)
	}
	return data, nil
}

// Unmarshal implements Codec
func (MsgpackCodec) Unmarshal(data []byte, v interface{}) error {
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return nil
}

// JSONCodec serializes values as JSON. Slower and larger than msgpack but
// human-inspectable in the backend; useful when operators debug cached
// responses directly.
type JSONCodec struct{}

// NewJSONCodec creates a JSON codec.
func NewJSONCodec() Codec { return JSONCodec{} }

// Name implements Codec
func (JSONCodec) Name() string { return "json" }

// Marshal implements Codec
func (JSONCodec) Marshal(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json marshal: %w", err)
	}
	return data, nil
}

// Unmarshal implements Codec
func (JSONCodec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return nil
}
