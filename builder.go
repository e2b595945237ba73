package kanary

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// Option configures a SchemaBuilder at construction time.
type Option func(*SchemaBuilder)

// ThreadSafe opts the builder into multi-threaded definition (spec §6's
// threadSafe configuration option). The default builder assumes
// single-thread use; a Schema, once Build() succeeds, is always safe to
// share regardless of how it was built.
func ThreadSafe() Option {
	return func(b *SchemaBuilder) {
		b.protocolsTS = xsync.NewMap[reflect.Type, *protocol]()
	}
}

// WithLogger attaches a zerolog.Logger the builder uses for build-time
// diagnostics: Build() logs a Debug line for each Fallback protocol it
// confirms has a registered subtype (a Fallback with no subtype is a
// Build() error, not a log line). The default is zerolog.Nop(), so
// logging is opt-in.
func WithLogger(l zerolog.Logger) Option {
	return func(b *SchemaBuilder) { b.logger = l }
}

// SchemaBuilder accumulates Protocol definitions and finalizes them into
// an immutable Schema. It follows the same first-error-wins pattern as
// Writer/Reader: once an error is recorded, every subsequent builder call
// becomes a no-op until Build() is called, which returns that error.
type SchemaBuilder struct {
	logger zerolog.Logger
	err    error

	// single-threaded default storage.
	protocols map[reflect.Type]*protocol

	// order is the declaration order every protocol was first defined
	// in, needed for built-in/interface resolution tie-breaking (spec
	// §4.2/§4.4). Guarded by orderMu so it is safe to append even in
	// ThreadSafe() mode.
	order   []reflect.Type
	orderMu sync.Mutex

	// threadSafe storage, non-nil only when ThreadSafe() was passed.
	protocolsTS *xsync.Map[reflect.Type, *protocol]
}

// NewSchemaBuilder creates an empty builder.
func NewSchemaBuilder(opts ...Option) *SchemaBuilder {
	b := &SchemaBuilder{
		logger:    zerolog.Nop(),
		protocols: make(map[reflect.Type]*protocol),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *SchemaBuilder) setError(err error) {
	if b.err == nil && err != nil {
		b.err = err
	}
}

func (b *SchemaBuilder) get(t reflect.Type) (*protocol, bool) {
	if b.protocolsTS != nil {
		return b.protocolsTS.Load(t)
	}
	p, ok := b.protocols[t]
	return p, ok
}

func (b *SchemaBuilder) put(t reflect.Type, p *protocol) {
	if b.protocolsTS != nil {
		if _, existed := b.protocolsTS.Load(t); !existed {
			b.orderMu.Lock()
			b.order = append(b.order, t)
			b.orderMu.Unlock()
		}
		b.protocolsTS.Store(t, p)
		return
	}
	if _, exists := b.protocols[t]; !exists {
		b.order = append(b.order, t)
	}
	b.protocols[t] = p
}

// all returns every protocol in declaration order.
func (b *SchemaBuilder) all() []*protocol {
	b.orderMu.Lock()
	order := append([]reflect.Type(nil), b.order...)
	b.orderMu.Unlock()

	out := make([]*protocol, 0, len(order))
	for _, t := range order {
		if p, ok := b.get(t); ok {
			out = append(out, p)
		}
	}
	return out
}

// Define registers (or retrieves) the protocol slot for T and returns a
// typed builder for configuring its read and write operations. Defining a
// protocol for an anonymous (unnamed) type, or for a type already covered
// by a built-in handler, records a MalformedProtocol error that surfaces
// from Build(). A named type declared inside a function is not rejected:
// reflect gives it a name like any package-level type, and it is
// identified by its package path and name.
func Define[T any](b *SchemaBuilder) *ProtocolBuilder[T] {
	t := reflect.TypeOf((*T)(nil)).Elem()
	pb := &ProtocolBuilder[T]{b: b, typ: t}

	if b.err != nil {
		return pb
	}

	name := typeName(t)
	if name == "" {
		b.setError(fmt.Errorf("%w: type %v is anonymous or locally-scoped and has no stable name", ErrMalformedProtocol, t))
		return pb
	}
	if _, ok := builtinFlagForType(t); ok {
		b.setError(fmt.Errorf("%w: %s already has a built-in handler", ErrMalformedProtocol, name))
		return pb
	}

	if p, ok := b.get(t); ok {
		pb.p = p
		return pb
	}

	p := &protocol{typ: t, name: name}
	b.put(t, p)
	pb.p = p
	return pb
}

// ProtocolBuilder configures the Protocol slot for a single type T. Its
// setters are write-only: there is deliberately no getter for the
// read/write operation, so behavior cannot accidentally be composed by
// reading back a half-configured protocol.
type ProtocolBuilder[T any] struct {
	b   *SchemaBuilder
	typ reflect.Type
	p   *protocol
}

// Extends declares T's direct ancestors (superclass and/or interfaces), in
// declaration order. The exemplars may be zero values or nil pointers of
// the ancestor types; only their type is consulted.
func (pb *ProtocolBuilder[T]) Extends(ancestors ...any) *ProtocolBuilder[T] {
	if pb.b.err != nil || pb.p == nil {
		return pb
	}
	types := make([]reflect.Type, 0, len(ancestors))
	for _, a := range ancestors {
		types = append(types, exemplarType(a))
	}
	pb.p.directAncestors = lo.Uniq(append(pb.p.directAncestors, types...))
	return pb
}

// Write assigns the write operation, named so it can be addressed by the
// schema self-encoding mechanism (spec §4.7). Setting it twice fails with
// MalformedProtocol.
func (pb *ProtocolBuilder[T]) Write(name string, fn WriteFunc[T]) *ProtocolBuilder[T] {
	if pb.b.err != nil || pb.p == nil {
		return pb
	}
	if pb.p.hasWrite {
		pb.b.setError(fmt.Errorf("%w: %s already has a write operation", ErrMalformedProtocol, pb.p.name))
		return pb
	}
	pb.p.write = func(s *Serializer, v any) error { return fn(s, v.(T)) }
	pb.p.writeName = name
	pb.p.hasWrite = true
	registerNamedWrite(name, pb.p.typ, fn)
	return pb
}

// Read assigns the read operation, named for the same reason as Write.
// Setting it twice fails with MalformedProtocol.
func (pb *ProtocolBuilder[T]) Read(name string, fn ReadFunc[T]) *ProtocolBuilder[T] {
	if pb.b.err != nil || pb.p == nil {
		return pb
	}
	if pb.p.hasRead {
		pb.b.setError(fmt.Errorf("%w: %s already has a read operation", ErrMalformedProtocol, pb.p.name))
		return pb
	}
	pb.p.read = func(d *Deserializer) (any, error) { return fn(d) }
	pb.p.readName = name
	pb.p.hasRead = true
	registerNamedRead(name, pb.p.typ, fn)
	return pb
}

// Fallback marks the read operation as usable for subtypes lacking their
// own reader. Legality (T must be non-final, i.e. have at least one
// registered descendant) is checked at Build() time, since "final" in a
// language without sealed classes can only be known once every protocol
// in the schema has been declared.
func (pb *ProtocolBuilder[T]) Fallback() *ProtocolBuilder[T] {
	if pb.b.err != nil || pb.p == nil {
		return pb
	}
	if !pb.p.hasRead {
		pb.b.setError(fmt.Errorf("%w: %s: Fallback requires Read to be set first", ErrMalformedProtocol, pb.p.name))
		return pb
	}
	pb.p.hasFallback = true
	return pb
}

// Static marks the write operation as emitting only its own bytes: no
// supertype packets are produced for this type, and no subtype in the
// same schema may define a write operation. Legality of the subtype
// restriction is checked at Build() time and rechecked whenever a
// subtype is added.
func (pb *ProtocolBuilder[T]) Static() *ProtocolBuilder[T] {
	if pb.b.err != nil || pb.p == nil {
		return pb
	}
	if !pb.p.hasWrite {
		pb.b.setError(fmt.Errorf("%w: %s: Static requires Write to be set first", ErrMalformedProtocol, pb.p.name))
		return pb
	}
	pb.p.hasStatic = true
	return pb
}
