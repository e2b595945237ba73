package kanary

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"reflect"
	"sync"
)

// OpaqueCodec encodes and decodes the payload of a FUNCTION tag (spec
// §3/§4.4's "opaque function values" case): any value whose runtime type
// is a func other than the ITERABLE shape, which has its own built-in
// handler. Such values are sent here before any schema protocol is
// consulted.
type OpaqueCodec interface {
	EncodeOpaque(v any) ([]byte, error)
	DecodeOpaque(b []byte) (any, error)
}

// defaultOpaqueCodec uses encoding/gob, the standard library's own
// interface-value codec, to round-trip whatever the caller registered
// with gob.Register. It cannot encode a bare func value (gob never
// could either), so it is primarily useful for opaque values that
// close over encodable state behind an interface the caller controls.
type defaultOpaqueCodec struct{}

func (defaultOpaqueCodec) EncodeOpaque(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("%w: opaque value %T: %v", ErrMissingOperation, v, err)
	}
	return buf.Bytes(), nil
}

func (defaultOpaqueCodec) DecodeOpaque(b []byte) (any, error) {
	var v any
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// namedWriteEntry and namedReadEntry are the registry rows backing
// schema self-encoding (spec §4.7): a protocol's read/write operation is
// a Go closure and cannot be serialized by value, so it is addressed by
// the name passed to ProtocolBuilder.Write/Read instead, and resolved
// back through this process-global table on the decoding side.
type namedWriteEntry struct {
	typ   reflect.Type
	write erasedWriteFunc
}

type namedReadEntry struct {
	typ  reflect.Type
	read erasedReadFunc
}

var (
	namedWritesMu sync.RWMutex
	namedWrites   = make(map[string]namedWriteEntry)

	namedReadsMu sync.RWMutex
	namedReads   = make(map[string]namedReadEntry)
)

// registerNamedWrite records fn under name so a schema deserialized by
// DeserializeSchema can resolve it back to a live write operation. Names
// are global and process-wide, mirroring the FUNCTION tag's own "opaque
// outside this process" contract (spec §3 Non-goals).
func registerNamedWrite[T any](name string, typ reflect.Type, fn WriteFunc[T]) {
	namedWritesMu.Lock()
	defer namedWritesMu.Unlock()
	namedWrites[name] = namedWriteEntry{
		typ:   typ,
		write: func(s *Serializer, v any) error { return fn(s, v.(T)) },
	}
}

// registerNamedRead is the Read-side dual of registerNamedWrite.
func registerNamedRead[T any](name string, typ reflect.Type, fn ReadFunc[T]) {
	namedReadsMu.Lock()
	defer namedReadsMu.Unlock()
	namedReads[name] = namedReadEntry{
		typ:  typ,
		read: func(d *Deserializer) (any, error) { return fn(d) },
	}
}

func lookupNamedWrite(name string) (namedWriteEntry, bool) {
	namedWritesMu.RLock()
	defer namedWritesMu.RUnlock()
	e, ok := namedWrites[name]
	return e, ok
}

func lookupNamedRead(name string) (namedReadEntry, bool) {
	namedReadsMu.RLock()
	defer namedReadsMu.RUnlock()
	e, ok := namedReads[name]
	return e, ok
}
