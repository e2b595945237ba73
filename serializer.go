package kanary

import (
	"encoding/binary"
	"fmt"
	"io"
	"reflect"

	"github.com/rs/zerolog"
)

// Serializer emits the tagged stream described in spec §6 for a given
// Schema. It is single-threaded and stateful: it holds position in the
// underlying stream and must not be shared across goroutines (spec §5).
type Serializer struct {
	schema *Schema
	w      *Writer
	opaque OpaqueCodec
	logger zerolog.Logger
	depth  int
}

// NewSerializer creates a Serializer writing to w under schema. w is
// upgraded through the same Writer constructors the rest of the package
// uses, so an already-buffered writer or *BytesWriter is detected and
// reused rather than double-buffered.
func NewSerializer(schema *Schema, w io.Writer, opts ...SerializerOption) (*Serializer, error) {
	writer, err := NewWriter(w)
	if err != nil {
		return nil, err
	}
	s := &Serializer{schema: schema, w: writer, opaque: defaultOpaqueCodec{}, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SerializerOption configures a Serializer.
type SerializerOption func(*Serializer)

// WithOpaqueCodec overrides the FUNCTION-tag opaque encoder/decoder.
func WithOpaqueCodec(c OpaqueCodec) SerializerOption {
	return func(s *Serializer) { s.opaque = c }
}

// WithSerializerLogger attaches a trace logger for OBJECT frame entry/exit.
func WithSerializerLogger(l zerolog.Logger) SerializerOption {
	return func(s *Serializer) { s.logger = l }
}

// Flush flushes the underlying buffered writer.
func (s *Serializer) Flush() error { return s.w.Flush() }

// WithByteOrder overrides the byte order primitives are written in. The
// engine defaults to big-endian (spec §4.1); this exists for callers
// interoperating with a byte sink that was already committed to a
// different order before adopting this schema.
func (s *Serializer) WithByteOrder(order binary.ByteOrder) *Serializer {
	s.w = s.w.WithByteOrder(order)
	return s
}

// Write is the top-level polymorphic dispatch described in spec §4.4.
func (s *Serializer) Write(v any) error {
	return s.writeValue(v)
}

func (s *Serializer) writeValue(v any) error {
	if s.w.Err() != nil {
		return s.w.Err()
	}

	if v == nil || isNilValue(v) {
		s.w.WriteByte(byte(FlagNull))
		return s.w.Err()
	}

	rv := reflect.ValueOf(v)
	R := rv.Type()
	for R.Kind() == reflect.Ptr {
		rv = rv.Elem()
		R = rv.Type()
	}

	if R.Kind() == reflect.Func && !isIterableFunc(R) {
		return s.writeOpaque(v)
	}

	name := typeName(R)
	builtin, hasBuiltin := builtinFlagForType(R)
	if name == "" && R.Kind() != reflect.Func && !hasBuiltin {
		return fmt.Errorf("%w: %v has no stable type name", ErrMissingOperation, R)
	}

	p := s.schema.protocolFor(R)

	if p != nil && p.hasStatic {
		return s.writeStaticObject(rv, p)
	}

	if p != nil {
		return s.writeObject(rv, R, p)
	}

	if hasBuiltin {
		s.w.WriteByte(byte(builtin.flag))
		return builtin.write(s, rv, true)
	}

	promoted := s.findWriterForUnregistered(R)
	if promoted == nil {
		return fmt.Errorf("%w: no write operation for %v", ErrMissingOperation, R)
	}
	return s.writeObject(rv, R, promoted)
}

// writeMember writes a single container/struct member. When nullable is
// true it checks for a nil pointer/interface/map/slice/chan/func value
// and emits NULL directly (spec §4.2's nullable table); when false it
// skips that check, trusting the caller (the non-null fast path).
func (s *Serializer) writeMember(rv reflect.Value, nullable bool) error {
	if nullable && isNilReflectValue(rv) {
		s.w.WriteByte(byte(FlagNull))
		return s.w.Err()
	}
	return s.writeValue(rv.Interface())
}

func isNilValue(v any) bool {
	rv := reflect.ValueOf(v)
	return isNilReflectValue(rv)
}

func isNilReflectValue(rv reflect.Value) bool {
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
		return rv.IsNil()
	default:
		return false
	}
}

func (s *Serializer) writeOpaque(v any) error {
	s.w.WriteByte(byte(FlagFunction))
	b, err := s.opaque.EncodeOpaque(v)
	if err != nil {
		return err
	}
	s.w.WriteInt32(int32(len(b)))
	s.w.WriteBytes(b)
	return s.w.Err()
}

// writeStaticObject implements spec §4.5's static-writer contract: the
// OBJECT block has superCount 0 and carries exactly the bytes the
// protocol's own writer emits.
func (s *Serializer) writeStaticObject(rv reflect.Value, p *protocol) error {
	s.w.WriteByte(byte(FlagObject))
	s.w.WriteRawString(p.name)
	s.w.WriteUint8(0)
	s.logger.Trace().Str("type", p.name).Msg("enter static OBJECT")
	if err := p.write(s, rv.Interface()); err != nil {
		return err
	}
	s.w.WriteByte(byte(FlagEndObject))
	s.logger.Trace().Str("type", p.name).Msg("exit static OBJECT")
	return s.w.Err()
}

// writeObject composes the multi-layer OBJECT block of spec §4.5 for a
// value whose own writer is p (p.typ may be R itself or a promoted
// ancestor, per spec §4.4's final branch).
func (s *Serializer) writeObject(rv reflect.Value, R reflect.Type, p *protocol) error {
	seq := s.schema.writeSequence(p)
	if len(seq) == 0 {
		return fmt.Errorf("%w: no write operation for %v", ErrMissingOperation, R)
	}

	own := seq[0]
	ancestors := seq[1:]

	// Built-in-as-super only applies when R's own type (not a promoted
	// ancestor) has a built-in ancestor in addition to its registered
	// protocol. The builder rejects defining a protocol on a built-in
	// shaped type, so this is always false in a schema that passed
	// Build(); the check is kept for wire-format fidelity (spec §4.5).
	var builtinSuper *builtinEntry
	if p.typ == R {
		if b, ok := builtinFlagForType(R); ok && !p.hasStatic {
			builtinSuper = &b
		}
	}

	superCount := len(ancestors)
	if builtinSuper != nil {
		superCount++
	}
	if superCount > 255 {
		return fmt.Errorf("%w: %s has %d ancestor writers, exceeding the 255-entry superCount limit", ErrMalformedProtocol, own.name, superCount)
	}

	s.w.WriteByte(byte(FlagObject))
	s.w.WriteRawString(own.name)
	s.w.WriteUint8(uint8(superCount))
	s.logger.Trace().Str("type", own.name).Int("superCount", superCount).Msg("enter OBJECT")

	for _, step := range ancestors {
		s.w.WriteByte(byte(FlagObject))
		s.w.WriteRawString(step.name)
		s.w.WriteUint8(0)
		if err := step.write(s, rv.Interface()); err != nil {
			return err
		}
		s.w.WriteByte(byte(FlagEndObject))
	}

	if builtinSuper != nil {
		s.w.WriteByte(byte(builtinSuper.flag))
		if err := builtinSuper.write(s, rv, false); err != nil {
			return err
		}
	}

	if err := own.write(s, rv.Interface()); err != nil {
		return err
	}
	s.w.WriteByte(byte(FlagEndObject))
	s.logger.Trace().Str("type", own.name).Msg("exit OBJECT")
	return s.w.Err()
}

// findWriterForUnregistered implements spec §4.4's final fallback: when R
// has neither its own protocol nor a built-in match, consult registered
// interface protocols R satisfies, in declaration order, and use the
// first writer found.
func (s *Serializer) findWriterForUnregistered(R reflect.Type) *protocol {
	ptr := reflect.PtrTo(R)
	for _, t := range s.schema.order {
		p := s.schema.protocols[t]
		if !p.hasWrite || t.Kind() != reflect.Interface {
			continue
		}
		if R.Implements(t) || ptr.Implements(t) {
			return p
		}
	}
	return nil
}
