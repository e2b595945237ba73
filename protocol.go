package kanary

import (
	"reflect"

	"github.com/puzpuzpuz/xsync/v4"
)

// WriteFunc is the write operation held by a protocol. It receives the
// Serializer positioned inside the type's OBJECT block (or, for a static
// writer, inside the sole block) and the runtime value to encode.
type WriteFunc[T any] func(s *Serializer, v T) error

// ReadFunc is the read operation held by a protocol. It receives the
// Deserializer scoped to the type's own payload bytes (supertype bytes,
// if any, are reachable via Supertype[S](d)/Superclass[S](d)) and returns the
// materialized value.
type ReadFunc[T any] func(d *Deserializer) (T, error)

// erasedWriteFunc and erasedReadFunc are the type-erased forms stored on
// protocol, since a Schema holds protocols for many distinct T behind a
// single reflect.Type-keyed map.
type (
	erasedWriteFunc func(s *Serializer, v any) error
	erasedReadFunc  func(d *Deserializer) (any, error)
)

// protocol is the per-type record described in spec §3: a possibly-absent
// read op, a possibly-absent write op, and the hasFallback/hasStatic
// modifiers.
type protocol struct {
	typ  reflect.Type
	name string

	write     erasedWriteFunc
	writeName string
	hasWrite  bool

	read     erasedReadFunc
	readName string
	hasRead  bool

	hasFallback bool
	hasStatic   bool

	// directAncestors are the exemplar types passed to Extends, in
	// declaration order. Resolved to a flattened, root-first ancestor
	// chain at Build() time (see the resolve closure in schema.go Build).
	directAncestors []reflect.Type
}

// typeNameCache avoids repeated reflect.Type introspection on the
// serialize/deserialize hot path, mirroring teacher's sizeCache.
var typeNameCache = xsync.NewMap[reflect.Type, string]()

// typeName derives the stable, process-wide identity for t per spec §3:
// the fully-qualified name. Anonymous types (those with no Name()) yield
// "" and are rejected by callers of this function. A named type declared
// inside a function has a Name() and yields PkgPath()+"."+Name() like a
// package-level type.
func typeName(t reflect.Type) string {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if name, ok := typeNameCache.Load(t); ok {
		return name
	}
	name := computeTypeName(t)
	typeNameCache.Store(t, name)
	return name
}

func computeTypeName(t reflect.Type) string {
	if t.Name() == "" {
		return ""
	}
	if t.PkgPath() == "" {
		return t.Name()
	}
	return t.PkgPath() + "." + t.Name()
}

func exemplarType(exemplar any) reflect.Type {
	t := reflect.TypeOf(exemplar)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}
