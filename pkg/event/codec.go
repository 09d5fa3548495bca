package event

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec turns events into message payloads and back.
type Codec interface {
	Name() string
	Marshal(evt *Event) ([]byte, error)
	Unmarshal(data []byte, evt *Event) error
}

// CodecFor returns the codec registered under name; empty means json.
func CodecFor(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "msgpack":
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown event codec '%s'", name)
	}
}

type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(evt *Event) ([]byte, error) {
	return json.Marshal(evt)
}

func (JSONCodec) Unmarshal(data []byte, evt *Event) error {
	return json.Unmarshal(data, evt)
}

// MsgpackCodec reuses the json field names. Integers in Data decode as int64.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string { return "msgpack" }

func (MsgpackCodec) Marshal(evt *Event) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(evt); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (MsgpackCodec) Unmarshal(data []byte, evt *Event) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	dec.UseLooseInterfaceDecoding(true)
	return dec.Decode(evt)
}
