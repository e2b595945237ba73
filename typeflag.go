package kanary

import "fmt"

// TypeFlag is the one-byte tag that introduces every value on the wire.
// Ordinals are part of the wire format: they must never be reordered or
// reused once released.
type TypeFlag byte

const (
	FlagBoolean TypeFlag = iota + 1
	FlagByte
	FlagChar
	FlagShort
	FlagInt
	FlagLong
	FlagFloat
	FlagDouble

	FlagBooleanArray
	FlagByteArray
	FlagCharArray
	FlagShortArray
	FlagIntArray
	FlagLongArray
	FlagFloatArray
	FlagDoubleArray

	FlagString
	FlagObjectArray
	FlagList
	FlagIterable
	FlagPair
	FlagTriple
	FlagMapEntry
	FlagMap
	FlagUnit

	FlagNull
	FlagFunction
	FlagObject
	FlagEndObject
)

func (f TypeFlag) String() string {
	switch f {
	case FlagBoolean:
		return "BOOLEAN"
	case FlagByte:
		return "BYTE"
	case FlagChar:
		return "CHAR"
	case FlagShort:
		return "SHORT"
	case FlagInt:
		return "INT"
	case FlagLong:
		return "LONG"
	case FlagFloat:
		return "FLOAT"
	case FlagDouble:
		return "DOUBLE"
	case FlagBooleanArray:
		return "BOOLEAN_ARRAY"
	case FlagByteArray:
		return "BYTE_ARRAY"
	case FlagCharArray:
		return "CHAR_ARRAY"
	case FlagShortArray:
		return "SHORT_ARRAY"
	case FlagIntArray:
		return "INT_ARRAY"
	case FlagLongArray:
		return "LONG_ARRAY"
	case FlagFloatArray:
		return "FLOAT_ARRAY"
	case FlagDoubleArray:
		return "DOUBLE_ARRAY"
	case FlagString:
		return "STRING"
	case FlagObjectArray:
		return "OBJECT_ARRAY"
	case FlagList:
		return "LIST"
	case FlagIterable:
		return "ITERABLE"
	case FlagPair:
		return "PAIR"
	case FlagTriple:
		return "TRIPLE"
	case FlagMapEntry:
		return "MAP_ENTRY"
	case FlagMap:
		return "MAP"
	case FlagUnit:
		return "UNIT"
	case FlagNull:
		return "NULL"
	case FlagFunction:
		return "FUNCTION"
	case FlagObject:
		return "OBJECT"
	case FlagEndObject:
		return "END_OBJECT"
	default:
		return fmt.Sprintf("TypeFlag(%d)", byte(f))
	}
}

// IsPrimitive reports whether f is one of the scalar primitive tags
// (BOOLEAN..DOUBLE), each of which is decoded with a single typed read.
func (f TypeFlag) IsPrimitive() bool {
	return f >= FlagBoolean && f <= FlagDouble
}

// IsPrimitiveArray reports whether f is one of the primitive-array tags.
func (f TypeFlag) IsPrimitiveArray() bool {
	return f >= FlagBooleanArray && f <= FlagDoubleArray
}

// elementSize returns the on-wire size in bytes of a single element of
// the primitive array tag f, or 0 if f is not a primitive array tag.
func (f TypeFlag) elementSize() int {
	switch f {
	case FlagBooleanArray, FlagByteArray:
		return 1
	case FlagCharArray, FlagShortArray:
		return 2
	case FlagIntArray, FlagFloatArray:
		return 4
	case FlagLongArray, FlagDoubleArray:
		return 8
	default:
		return 0
	}
}

// Unit is the zero-sized singleton value encoded by FlagUnit.
type Unit struct{}

// Pair is the built-in two-value container encoded by FlagPair.
type Pair[A, B any] struct {
	First  A
	Second B
}

// Triple is the built-in three-value container encoded by FlagTriple.
type Triple[A, B, C any] struct {
	First  A
	Second B
	Third  C
}

// MapEntry is the built-in key/value container encoded by FlagMapEntry.
type MapEntry[K, V any] struct {
	Key   K
	Value V
}
