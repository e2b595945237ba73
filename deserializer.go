package kanary

import (
	"encoding/binary"
	"fmt"
	"io"
	"reflect"

	"github.com/rs/zerolog"
)

// Deserializer consumes the tagged stream described in spec §6 and
// reconstructs values under a Schema. Like Serializer, it is
// single-threaded and holds stream position (spec §5).
type Deserializer struct {
	schema *Schema
	r      *Reader
	opaque OpaqueCodec
	logger zerolog.Logger

	frames []*frame

	// peeked buffers a single tag byte so Peek/peekFlag work over streams
	// that cannot seek backward (the Reader's forwardSeeker only seeks
	// forward), per spec §6's lookahead requirement for ITERABLE.
	peeked     bool
	peekedByte byte
}

// frame holds the supertype packets buffered while reading a single
// OBJECT block, keyed by the ancestor's protocol name (or, for a
// built-in-as-super packet, its TypeFlag name), per spec §4.6.b/d.
type frame struct {
	packets  map[string]any
	nearest  string // name of the directly-inherited ancestor, for Superclass
	hasNear  bool
}

// DeserializerOption configures a Deserializer.
type DeserializerOption func(*Deserializer)

// WithDeserializerOpaqueCodec overrides the FUNCTION-tag decoder.
func WithDeserializerOpaqueCodec(c OpaqueCodec) DeserializerOption {
	return func(d *Deserializer) { d.opaque = c }
}

// WithDeserializerLogger attaches a trace logger for OBJECT frame entry/exit.
func WithDeserializerLogger(l zerolog.Logger) DeserializerOption {
	return func(d *Deserializer) { d.logger = l }
}

// NewDeserializer creates a Deserializer reading from r under schema.
func NewDeserializer(schema *Schema, r io.Reader, opts ...DeserializerOption) (*Deserializer, error) {
	reader, err := NewReader(r)
	if err != nil {
		return nil, err
	}
	d := &Deserializer{schema: schema, r: reader, opaque: defaultOpaqueCodec{}, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Read is the top-level polymorphic read of spec §4.6, with no specific
// target type requested; containers decode into their natural Go shape
// (e.g. LIST -> []any, MAP -> map[any]any).
func (d *Deserializer) Read() (any, error) {
	return d.readTyped(nil)
}

// WithByteOrder overrides the byte order primitives are read in, the
// Deserializer dual of Serializer.WithByteOrder.
func (d *Deserializer) WithByteOrder(order binary.ByteOrder) *Deserializer {
	d.r = d.r.WithByteOrder(order)
	return d
}

// ReadAs decodes the next value as T. For a primitive or built-in shape
// it validates the wire tag matches T's built-in ancestor; for an OBJECT
// it resolves the reader of the type named in the OBJECT header (or that
// type's nearest fallback ancestor) and converts the result to T.
func ReadAs[T any](d *Deserializer) (T, error) {
	var zero T
	t := reflect.TypeOf((*T)(nil)).Elem()
	v, err := d.readTyped(t)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	rv := reflectOf(v, t)
	out, ok := rv.Interface().(T)
	if !ok {
		return zero, fmt.Errorf("%w: decoded %T, wanted %v", ErrTypeMismatch, v, t)
	}
	return out, nil
}

// Peek reports the next tag without consuming it.
func (d *Deserializer) Peek() (TypeFlag, error) {
	return d.peekFlag()
}

func (d *Deserializer) peekFlag() (TypeFlag, error) {
	if !d.peeked {
		b, err := d.r.ReadByte()
		if err != nil {
			return 0, err
		}
		d.peekedByte = b
		d.peeked = true
	}
	return TypeFlag(d.peekedByte), nil
}

// consumeFlag drops a byte buffered by peekFlag without re-reading it.
func (d *Deserializer) consumeFlag() {
	d.peeked = false
}

// nextByte is the single entry point for reading a tag byte: it returns
// a byte buffered by peekFlag first, falling back to the stream.
func (d *Deserializer) nextByte() (byte, error) {
	if d.peeked {
		d.peeked = false
		return d.peekedByte, nil
	}
	return d.r.ReadByte()
}

// SkipValue consumes and discards the next tagged value without
// materializing it.
func (d *Deserializer) SkipValue() error {
	_, err := d.readTyped(nil)
	return err
}

func (d *Deserializer) readTyped(t reflect.Type) (any, error) {
	if d.r.Err() != nil {
		return nil, d.r.Err()
	}

	tagByte, err := d.nextByte()
	if err != nil {
		return nil, err
	}
	flag := TypeFlag(tagByte)

	switch flag {
	case FlagNull:
		return nil, nil
	case FlagFunction:
		return d.readOpaque()
	case FlagObject:
		return d.readObject(t)
	}

	entry, ok := builtinEntryForFlag(flag)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected tag %s", ErrTypeMismatch, flag)
	}
	if t != nil {
		if expected, ok := builtinFlagForType(t); ok && expected.flag != flag {
			return nil, fmt.Errorf("%w: wire tag %s does not match requested type %v", ErrTypeMismatch, flag, t)
		}
	}
	target := t
	if target == nil || !goTypeMatchesFlag(target, flag) {
		target = defaultGoTypeForFlag(flag)
	}
	return entry.read(d, target)
}

// readMember reads a container/struct member, honoring the same NULL
// convention writeMember used: NULL decodes to the zero value of t.
func (d *Deserializer) readMember(t reflect.Type) (any, error) {
	v, err := d.readTyped(t)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v, nil
}

func (d *Deserializer) readOpaque() (any, error) {
	var n int32
	d.r.ReadInt32(&n)
	if d.r.Err() != nil {
		return nil, d.r.Err()
	}
	b := d.r.ReadBytes(int(n))
	if d.r.Err() != nil {
		return nil, d.r.Err()
	}
	return d.opaque.DecodeOpaque(b)
}

// readObject implements spec §4.6.4: read name+superCount, buffer
// superCount packets into a frame, resolve T's reader (or the nearest
// fallback ancestor), invoke it, and assert clean END_OBJECT framing.
func (d *Deserializer) readObject(t reflect.Type) (any, error) {
	name := d.r.ReadRawString()
	if d.r.Err() != nil {
		return nil, d.r.Err()
	}
	var superCount uint8
	d.r.ReadUint8(&superCount)
	if d.r.Err() != nil {
		return nil, d.r.Err()
	}

	f := &frame{packets: make(map[string]any, superCount)}
	for i := 0; i < int(superCount); i++ {
		tag, err := d.peekFlag()
		if err != nil {
			return nil, err
		}
		if tag == FlagObject {
			packetName, val, err := d.readSuperPacket()
			if err != nil {
				return nil, err
			}
			f.packets[packetName] = val
			f.nearest, f.hasNear = packetName, true
		} else {
			entry, ok := builtinEntryForFlag(tag)
			if !ok {
				return nil, fmt.Errorf("%w: unexpected built-in-as-super tag %s", ErrTypeMismatch, tag)
			}
			d.consumeFlag()
			val, err := entry.read(d, defaultGoTypeForFlag(tag))
			if err != nil {
				return nil, err
			}
			f.packets[tag.String()] = val
		}
	}

	d.logger.Trace().Str("type", name).Int("superCount", int(superCount)).Msg("enter OBJECT")
	d.frames = append(d.frames, f)
	defer func() { d.frames = d.frames[:len(d.frames)-1] }()

	reader := d.schema.resolveReaderByName(name)
	if reader == nil {
		return nil, fmt.Errorf("%w: no reader resolvable for %s", ErrMissingOperation, name)
	}

	val, err := reader.read(d)
	if err != nil {
		return nil, err
	}

	endTag, err := d.nextByte()
	if err != nil {
		return nil, err
	}
	if TypeFlag(endTag) != FlagEndObject {
		return nil, fmt.Errorf("%w: expected END_OBJECT for %s, got tag %d", ErrFraming, name, endTag)
	}
	d.logger.Trace().Str("type", name).Msg("exit OBJECT")

	_ = t
	return val, nil
}

// readSuperPacket reads one nested "OBJECT <name> 0 <own-bytes> END_OBJECT"
// supertype packet (spec §4.5/§6 superPacket grammar) and returns its
// name together with the decoded value.
func (d *Deserializer) readSuperPacket() (string, any, error) {
	tagByte, err := d.nextByte()
	if err != nil {
		return "", nil, err
	}
	if TypeFlag(tagByte) != FlagObject {
		return "", nil, fmt.Errorf("%w: expected OBJECT for supertype packet", ErrFraming)
	}
	name := d.r.ReadRawString()
	if d.r.Err() != nil {
		return "", nil, d.r.Err()
	}
	var superCount uint8
	d.r.ReadUint8(&superCount)
	if d.r.Err() != nil {
		return "", nil, d.r.Err()
	}
	if superCount != 0 {
		return "", nil, fmt.Errorf("%w: supertype packet %s must have superCount 0", ErrFraming, name)
	}

	f := &frame{packets: map[string]any{}}
	d.frames = append(d.frames, f)

	// An ancestor that only ever writes (spec §8 scenario 2: Parent/Sub
	// define write but not read) has no reader to resolve; its packet
	// body is whatever single tagged value its writer emitted, so fall
	// back to a generic untyped read instead of treating this as an
	// error. Supertype[S] then reflects that value into S directly.
	var val any
	if reader := d.schema.resolveReaderByName(name); reader != nil {
		val, err = reader.read(d)
	} else {
		val, err = d.readTyped(nil)
	}
	d.frames = d.frames[:len(d.frames)-1]
	if err != nil {
		return "", nil, err
	}

	endTag, err := d.nextByte()
	if err != nil {
		return "", nil, err
	}
	if TypeFlag(endTag) != FlagEndObject {
		return "", nil, fmt.Errorf("%w: expected END_OBJECT for supertype packet %s", ErrFraming, name)
	}
	return name, val, nil
}

// Supertype returns the already-decoded payload of the ancestor S from
// the frame of the OBJECT block currently being read, as spec §4.6.d's
// supertype<S>() query.
func Supertype[S any](d *Deserializer) (S, bool) {
	var zero S
	if len(d.frames) == 0 {
		return zero, false
	}
	t := reflect.TypeOf((*S)(nil)).Elem()
	name := typeName(t)
	f := d.frames[len(d.frames)-1]
	val, ok := f.packets[name]
	if !ok {
		return zero, false
	}
	out, ok := reflectOf(val, t).Interface().(S)
	return out, ok
}

// Superclass returns the directly-inherited ancestor's decoded payload,
// i.e. the last supertype packet buffered for the current frame.
func Superclass[S any](d *Deserializer) (S, bool) {
	var zero S
	if len(d.frames) == 0 {
		return zero, false
	}
	f := d.frames[len(d.frames)-1]
	if !f.hasNear {
		return zero, false
	}
	val := f.packets[f.nearest]
	t := reflect.TypeOf((*S)(nil)).Elem()
	out, ok := reflectOf(val, t).Interface().(S)
	return out, ok
}

func goTypeMatchesFlag(t reflect.Type, flag TypeFlag) bool {
	e, ok := builtinFlagForType(t)
	return ok && e.flag == flag
}

// defaultGoTypeForFlag picks a natural Go type for a built-in tag when no
// specific target type was requested (spec §4.6's untyped read<T>() path).
func defaultGoTypeForFlag(flag TypeFlag) reflect.Type {
	switch flag {
	case FlagBoolean:
		return reflect.TypeOf(false)
	case FlagByte:
		return reflect.TypeOf(uint8(0))
	case FlagChar:
		return charType
	case FlagShort:
		return reflect.TypeOf(int16(0))
	case FlagInt:
		return reflect.TypeOf(int32(0))
	case FlagLong:
		return reflect.TypeOf(int64(0))
	case FlagFloat:
		return reflect.TypeOf(float32(0))
	case FlagDouble:
		return reflect.TypeOf(float64(0))
	case FlagBooleanArray:
		return reflect.TypeOf([]bool(nil))
	case FlagByteArray:
		return reflect.TypeOf([]byte(nil))
	case FlagCharArray:
		return reflect.TypeOf([]Char(nil))
	case FlagShortArray:
		return reflect.TypeOf([]int16(nil))
	case FlagIntArray:
		return reflect.TypeOf([]int32(nil))
	case FlagLongArray:
		return reflect.TypeOf([]int64(nil))
	case FlagFloatArray:
		return reflect.TypeOf([]float32(nil))
	case FlagDoubleArray:
		return reflect.TypeOf([]float64(nil))
	case FlagString:
		return reflect.TypeOf("")
	case FlagPair:
		return pairType
	case FlagTriple:
		return tripleType
	case FlagMapEntry:
		return entryType
	case FlagUnit:
		return unitType
	case FlagMap:
		return reflect.TypeOf(map[any]any(nil))
	case FlagObjectArray:
		return reflect.ArrayOf(0, reflect.TypeOf((*any)(nil)).Elem())
	case FlagList:
		return reflect.TypeOf([]any(nil))
	default:
		return reflect.TypeOf((*any)(nil)).Elem()
	}
}
