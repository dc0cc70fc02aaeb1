package signal

import (
	"bytes"
	"fmt"

	"github.com/dkeye/huddle/internal/domain"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// MsgpackSubprotocol switches a connection to binary MessagePack frames.
const MsgpackSubprotocol = "huddle.msgpack"

// Request is one decoded client envelope. Data stays encoded until the
// handler knows its payload type.
type Request struct {
	Type string
	ID   string
	data []byte
	dec  func([]byte, any) error
}

// DecodePayload decodes the request data into v. A request without data
// leaves v untouched.
func (r Request) DecodePayload(v any) error {
	if len(r.data) == 0 {
		return nil
	}
	if err := r.dec(r.data, v); err != nil {
		return fmt.Errorf("%w: bad %s payload: %w", domain.ErrInvalidRequest, r.Type, err)
	}
	return nil
}

// Codec encodes envelopes for one connection.
type Codec interface {
	Name() string
	// FrameType is the websocket message type used for writes.
	FrameType() int
	Marshal(v any) ([]byte, error)
	Decode(data []byte) (Request, error)
}

func CodecFor(subprotocol string) Codec {
	if subprotocol == MsgpackSubprotocol {
		return MsgpackCodec{}
	}
	return JSONCodec{}
}

type JSONCodec struct{}

func (JSONCodec) Name() string   { return "json" }
func (JSONCodec) FrameType() int { return websocket.TextMessage }

func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec) Decode(data []byte) (Request, error) {
	var env struct {
		Type string          `json:"type"`
		ID   string          `json:"id"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return Request{}, fmt.Errorf("%w: bad json: %w", domain.ErrInvalidRequest, err)
	}
	raw := []byte(env.Data)
	if bytes.Equal(raw, []byte("null")) {
		raw = nil
	}
	return Request{Type: env.Type, ID: env.ID, data: raw, dec: json.Unmarshal}, nil
}

// MsgpackCodec reuses the json struct tags so both codecs put the same
// field names on the wire.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string   { return "msgpack" }
func (MsgpackCodec) FrameType() int { return websocket.BinaryMessage }

func (MsgpackCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	enc.SetOmitEmpty(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func msgpackUnmarshal(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}

func (MsgpackCodec) Decode(data []byte) (Request, error) {
	var env struct {
		Type string             `json:"type"`
		ID   string             `json:"id"`
		Data msgpack.RawMessage `json:"data"`
	}
	if err := msgpackUnmarshal(data, &env); err != nil {
		return Request{}, fmt.Errorf("%w: bad msgpack: %w", domain.ErrInvalidRequest, err)
	}
	raw := []byte(env.Data)
	// nil encodes as 0xc0.
	if len(raw) == 1 && raw[0] == 0xc0 {
		raw = nil
	}
	return Request{Type: env.Type, ID: env.ID, data: raw, dec: msgpackUnmarshal}, nil
}
