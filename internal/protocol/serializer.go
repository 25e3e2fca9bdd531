package protocol

import (
	"bytes"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// Supported serialization format names.
const (
	SerMsgpack = "msgpack"
	SerCBOR    = "cbor"
)

// Serializer turns structured frames into bytes and back. Implementations
// must be deterministic (sorted map keys, compact integers) so that
// re-encoding a decoded frame reproduces the original bytes. The Name is
// what header frames carry in their content field.
type Serializer interface {
	Name() string
	Marshal(v any) ([]byte, error)
	UnmarshalMap(data []byte) (map[string]any, error)
}

// NewSerializer resolves a serialization format name. Unknown formats fail
// here, before any socket is bound.
func NewSerializer(format string) (Serializer, error) {
	switch format {
	case SerMsgpack:
		return msgpackSerializer{}, nil
	case SerCBOR:
		return newCBORSerializer()
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedSerialization, format)
}

type msgpackSerializer struct{}

func (msgpackSerializer) Name() string { return SerMsgpack }

func (msgpackSerializer) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	enc.UseCompactInts(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (msgpackSerializer) UnmarshalMap(data []byte) (map[string]any, error) {
	var m map[string]any
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

type cborSerializer struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func newCBORSerializer() (Serializer, error) {
	enc, err := cbor.EncOptions{Sort: cbor.SortCanonical}.EncMode()
	if err != nil {
		return nil, err
	}
	dec, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		return nil, err
	}
	return cborSerializer{enc: enc, dec: dec}, nil
}

func (s cborSerializer) Name() string { return SerCBOR }

func (s cborSerializer) Marshal(v any) ([]byte, error) {
	return s.enc.Marshal(v)
}

func (s cborSerializer) UnmarshalMap(data []byte) (map[string]any, error) {
	var m map[string]any
	if err := s.dec.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
