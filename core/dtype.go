package core

import "fmt"

// ElementType is the storage type of a tensor element, fixed at build time.
type ElementType uint8

const (
	Int8 ElementType = iota + 1
	UInt8
	Int16
	Int32
	Float32
)

var elementTypeNames = map[ElementType]string{
	Int8:    "int8",
	UInt8:   "uint8",
	Int16:   "int16",
	Int32:   "int32",
	Float32: "float32",
}

// Size returns the width of one element in bytes, or 0 for an unknown type.
func (t ElementType) Size() int {
	switch t {
	case Int8, UInt8:
		return 1
	case Int16:
		return 2
	case Int32, Float32:
		return 4
	default:
		return 0
	}
}

func (t ElementType) String() string {
	if name, ok := elementTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ElementType(%d)", uint8(t))
}

// Valid reports whether t is one of the known element types.
func (t ElementType) Valid() bool {
	return t.Size() != 0
}

// ParseElementType maps a type name such as "int8" to its ElementType.
func ParseElementType(s string) (ElementType, error) {
	for t, name := range elementTypeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown element type %q", s)
}
