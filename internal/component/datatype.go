package component

import "fmt"

// Datatype tags the element type of a component column. The core never
// interprets cell contents beyond this tag: dispatch over datatype is a
// table lookup (see Codec), not an interface hierarchy.
type Datatype int

const (
	// Primitive is a fixed-width scalar (e.g. a float or integer), stored
	// as its raw bytes.
	Primitive Datatype = iota
	// VariableLength is a byte string of variable size (e.g. UTF-8 text
	// or an opaque blob).
	VariableLength
	// Struct is an arbitrary structured value, encoded with msgpack (see
	// structCodec).
	Struct
)

func (d Datatype) String() string {
	switch d {
	case Primitive:
		return "primitive"
	case VariableLength:
		return "variable_length"
	case Struct:
		return "struct"
	default:
		return fmt.Sprintf("component.Datatype(%d)", int(d))
	}
}
