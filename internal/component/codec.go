package component

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec encodes, decodes, and sizes the cell values of one Datatype. The
// core dispatches over component types purely through this table, never
// through an interface hierarchy per element type.
type Codec interface {
	ByteSize(v any) int
	Encode(v any) ([]byte, error)
	Decode(data []byte) (any, error)
}

// Codecs maps each Datatype to the Codec responsible for its cell values.
var Codecs = map[Datatype]Codec{
	Primitive:      primitiveCodec{},
	VariableLength: variableLengthCodec{},
	Struct:         structCodec{},
}

// CodecFor returns the Codec registered for d, or an error if none is.
func CodecFor(d Datatype) (Codec, error) {
	c, ok := Codecs[d]
	if !ok {
		return nil, fmt.Errorf("component: no codec registered for datatype %s", d)
	}
	return c, nil
}

// primitiveCodec handles fixed-width scalars: float64, float32, int64,
// uint64, int32, uint32, and bool. Encoding is little-endian raw bytes,
// the same layout the teacher's attribute encoder uses for its
// fixed-width length fields. Decode picks the type from the byte width
// alone: 8 bytes decode as float64, 4 bytes as float32, 1 byte as bool,
// so encoded integers do not decode back to their original type.
type primitiveCodec struct{}

func (primitiveCodec) ByteSize(v any) int {
	switch v.(type) {
	case float64, int64, uint64:
		return 8
	case float32, int32, uint32:
		return 4
	case bool:
		return 1
	default:
		return 0
	}
}

func (primitiveCodec) Encode(v any) ([]byte, error) {
	switch x := v.(type) {
	case float64:
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, math.Float64bits(x))
		return buf, nil
	case float32:
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, math.Float32bits(x))
		return buf, nil
	case int64:
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, uint64(x))
		return buf, nil
	case uint64:
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, x)
		return buf, nil
	case int32:
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(x))
		return buf, nil
	case uint32:
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, x)
		return buf, nil
	case bool:
		if x {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	default:
		return nil, fmt.Errorf("component: primitive codec cannot encode %T", v)
	}
}

func (primitiveCodec) Decode(data []byte) (any, error) {
	switch len(data) {
	case 1:
		return data[0] != 0, nil
	case 4:
		return math.Float32frombits(binary.LittleEndian.Uint32(data)), nil
	case 8:
		return math.Float64frombits(binary.LittleEndian.Uint64(data)), nil
	default:
		return nil, fmt.Errorf("component: primitive codec cannot decode %d bytes", len(data))
	}
}

// variableLengthCodec handles byte strings of arbitrary size: []byte and
// string values pass through unchanged.
type variableLengthCodec struct{}

func (variableLengthCodec) ByteSize(v any) int {
	switch x := v.(type) {
	case []byte:
		return len(x)
	case string:
		return len(x)
	default:
		return 0
	}
}

func (variableLengthCodec) Encode(v any) ([]byte, error) {
	switch x := v.(type) {
	case []byte:
		return x, nil
	case string:
		return []byte(x), nil
	default:
		return nil, fmt.Errorf("component: variable-length codec cannot encode %T", v)
	}
}

func (variableLengthCodec) Decode(data []byte) (any, error) {
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// structCodec handles arbitrary structured values via msgpack, the same
// struct serialization the teacher's codebase reaches for outside its
// hand-rolled fixed-layout binary formats.
type structCodec struct{}

func (structCodec) ByteSize(v any) int {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return 0
	}
	return len(data)
}

func (structCodec) Encode(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (structCodec) Decode(data []byte) (any, error) {
	var v any
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
