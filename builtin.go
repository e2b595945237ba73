package kanary

import (
	"fmt"
	"reflect"
	"sync"
)

// Char is a distinct, two-byte UTF-16 code unit type, kept separate from
// uint16/SHORT so the built-in table can tell CHAR and SHORT apart by Go
// type alone (spec §3's CHAR tag).
type Char uint16

var (
	charType   = reflect.TypeOf(Char(0))
	pairType   = reflect.TypeOf(Pair[any, any]{})
	tripleType = reflect.TypeOf(Triple[any, any, any]{})
	entryType  = reflect.TypeOf(MapEntry[any, any]{})
	unitType   = reflect.TypeOf(Unit{})
)

// builtinEntry is one row of the built-in handler table (spec §4.2): a
// matcher for the most-specific built-in ancestor type, the tag it wires
// to, and its write/read operations. Entries are tried in order; the
// first match wins, which is how open question (b) — LIST precedence
// over ITERABLE — is preserved.
type builtinEntry struct {
	flag  TypeFlag
	match func(t reflect.Type) bool
	write func(s *Serializer, v reflect.Value, nullable bool) error
	read  func(d *Deserializer, t reflect.Type) (any, error)
}

func kindIs(k reflect.Kind) func(reflect.Type) bool {
	return func(t reflect.Type) bool { return t.Kind() == k }
}

func exact(want reflect.Type) func(reflect.Type) bool {
	return func(t reflect.Type) bool { return t == want }
}

func sliceOf(elemKind reflect.Kind) func(reflect.Type) bool {
	return func(t reflect.Type) bool {
		return t.Kind() == reflect.Slice && t.Elem().Kind() == elemKind && t.Elem() != charType
	}
}

// builtinTable is the ordered nullable/non-null pair of handler tables
// collapsed into one: each entry's write function takes a `nullable`
// flag and honors spec §4.2's nullable-vs-non-null split internally,
// since in Go the two tables differ only in whether per-member NULL
// checks are elided, not in which types they cover.
var (
	builtinTableOnce sync.Once
	builtinTableVal  []builtinEntry
)

// builtinTable returns the ordered nullable/non-null pair of handler tables
// collapsed into one: each entry's write function takes a `nullable` flag
// and honors spec §4.2's nullable-vs-non-null split internally, since in Go
// the two tables differ only in whether per-member NULL checks are elided,
// not in which types they cover.
//
// The table is built lazily on first use, inside a function body rather
// than a package-level var initializer, because its write/read entries
// transitively call back into builtinFlagForType, which looks up this same
// table; evaluating it eagerly as a var initializer would be an
// initialization cycle even though no entry is invoked during init.
func builtinTable() []builtinEntry {
	builtinTableOnce.Do(func() {
		builtinTableVal = []builtinEntry{
			{FlagBoolean, kindIs(reflect.Bool), writeBool, readBool},
			{FlagByte, kindIs(reflect.Uint8), writeByte, readByteFlag},
			{FlagChar, exact(charType), writeChar, readCharFlag},
			{FlagShort, kindIs(reflect.Int16), writeShort, readShort},
			{FlagInt, kindIs(reflect.Int32), writeInt, readInt},
			{FlagLong, kindIs(reflect.Int64), writeLong, readLong},
			{FlagFloat, kindIs(reflect.Float32), writeFloat, readFloat},
			{FlagDouble, kindIs(reflect.Float64), writeDouble, readDouble},

			{FlagBooleanArray, sliceOf(reflect.Bool), writeBoolArray, readBoolArray},
			{FlagByteArray, sliceOf(reflect.Uint8), writeByteArray, readByteArray},
			{FlagCharArray, func(t reflect.Type) bool { return t.Kind() == reflect.Slice && t.Elem() == charType }, writeCharArray, readCharArray},
			{FlagShortArray, sliceOf(reflect.Int16), writeShortArray, readShortArray},
			{FlagIntArray, sliceOf(reflect.Int32), writeIntArray, readIntArray},
			{FlagLongArray, sliceOf(reflect.Int64), writeLongArray, readLongArray},
			{FlagFloatArray, sliceOf(reflect.Float32), writeFloatArray, readFloatArray},
			{FlagDoubleArray, sliceOf(reflect.Float64), writeDoubleArray, readDoubleArray},

			{FlagString, kindIs(reflect.String), writeStringFlag, readStringFlag},
			{FlagPair, func(t reflect.Type) bool { return t.Kind() == reflect.Struct && hasFields(t, "First", "Second") }, writePair, readPair},
			{FlagTriple, func(t reflect.Type) bool { return t.Kind() == reflect.Struct && hasFields(t, "First", "Second", "Third") }, writeTriple, readTriple},
			{FlagMapEntry, func(t reflect.Type) bool { return t.Kind() == reflect.Struct && hasFields(t, "Key", "Value") }, writeMapEntry, readMapEntry},
			{FlagUnit, func(t reflect.Type) bool { return t.Kind() == reflect.Struct && t.NumField() == 0 }, writeUnit, readUnit},

			{FlagMap, kindIs(reflect.Map), writeMapFlag, readMapFlag},
			{FlagObjectArray, kindIs(reflect.Array), writeObjectArray, readObjectArray},
			{FlagList, kindIs(reflect.Slice), writeList, readList},
			{FlagIterable, isIterableFunc, writeIterableFlag, readIterableFlag},
		}
	})
	return builtinTableVal
}

func hasFields(t reflect.Type, names ...string) bool {
	if t.NumField() != len(names) {
		return false
	}
	for i, n := range names {
		if t.Field(i).Name != n {
			return false
		}
	}
	return true
}

// isIterableFunc matches Go 1.23's iter.Seq[T] shape: func(func(T) bool).
func isIterableFunc(t reflect.Type) bool {
	if t.Kind() != reflect.Func || t.NumIn() != 1 || t.NumOut() != 0 {
		return false
	}
	yield := t.In(0)
	return yield.Kind() == reflect.Func && yield.NumIn() == 1 && yield.NumOut() == 1 && yield.Out(0).Kind() == reflect.Bool
}

// builtinFlagForType returns the first matching built-in entry for t, if
// any, honoring the ordered first-match-wins resolution spec §4.2
// requires.
func builtinFlagForType(t reflect.Type) (builtinEntry, bool) {
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil {
		return builtinEntry{}, false
	}
	for _, e := range builtinTable() {
		if e.match(t) {
			return e, true
		}
	}
	return builtinEntry{}, false
}

func builtinEntryForFlag(f TypeFlag) (builtinEntry, bool) {
	for _, e := range builtinTable() {
		if e.flag == f {
			return e, true
		}
	}
	return builtinEntry{}, false
}

// --- scalar primitives ---

func writeBool(s *Serializer, v reflect.Value, _ bool) error {
	s.w.WriteBool(v.Bool())
	return s.w.Err()
}
func readBool(d *Deserializer, _ reflect.Type) (any, error) {
	var v bool
	d.r.ReadBool(&v)
	return v, d.r.Err()
}

func writeByte(s *Serializer, v reflect.Value, _ bool) error {
	s.w.WriteUint8(uint8(v.Uint()))
	return s.w.Err()
}
func readByteFlag(d *Deserializer, _ reflect.Type) (any, error) {
	var v uint8
	d.r.ReadUint8(&v)
	return v, d.r.Err()
}

func writeChar(s *Serializer, v reflect.Value, _ bool) error {
	s.w.WriteChar(uint16(v.Uint()))
	return s.w.Err()
}
func readCharFlag(d *Deserializer, _ reflect.Type) (any, error) {
	var v uint16
	d.r.ReadChar(&v)
	return Char(v), d.r.Err()
}

func writeShort(s *Serializer, v reflect.Value, _ bool) error {
	s.w.WriteInt16(int16(v.Int()))
	return s.w.Err()
}
func readShort(d *Deserializer, _ reflect.Type) (any, error) {
	var v int16
	d.r.ReadInt16(&v)
	return v, d.r.Err()
}

func writeInt(s *Serializer, v reflect.Value, _ bool) error {
	s.w.WriteInt32(int32(v.Int()))
	return s.w.Err()
}
func readInt(d *Deserializer, _ reflect.Type) (any, error) {
	var v int32
	d.r.ReadInt32(&v)
	return v, d.r.Err()
}

func writeLong(s *Serializer, v reflect.Value, _ bool) error {
	s.w.WriteInt64(v.Int())
	return s.w.Err()
}
func readLong(d *Deserializer, _ reflect.Type) (any, error) {
	var v int64
	d.r.ReadInt64(&v)
	return v, d.r.Err()
}

func writeFloat(s *Serializer, v reflect.Value, _ bool) error {
	s.w.WriteFloat32(float32(v.Float()))
	return s.w.Err()
}
func readFloat(d *Deserializer, _ reflect.Type) (any, error) {
	var v float32
	d.r.ReadFloat32(&v)
	return v, d.r.Err()
}

func writeDouble(s *Serializer, v reflect.Value, _ bool) error {
	s.w.WriteFloat64(v.Float())
	return s.w.Err()
}
func readDouble(d *Deserializer, _ reflect.Type) (any, error) {
	var v float64
	d.r.ReadFloat64(&v)
	return v, d.r.Err()
}

func writeStringFlag(s *Serializer, v reflect.Value, _ bool) error {
	s.w.WriteRawString(v.String())
	return s.w.Err()
}
func readStringFlag(d *Deserializer, _ reflect.Type) (any, error) {
	str := d.r.ReadRawString()
	return str, d.r.Err()
}

// --- primitive arrays ---

func writeBoolArray(s *Serializer, v reflect.Value, _ bool) error {
	s.w.WriteInt32(int32(v.Len()))
	for i := 0; i < v.Len(); i++ {
		s.w.WriteBool(v.Index(i).Bool())
	}
	return s.w.Err()
}
func readBoolArray(d *Deserializer, _ reflect.Type) (any, error) {
	n := d.readArrayLen()
	if d.r.Err() != nil {
		return nil, d.r.Err()
	}
	out := make([]bool, n)
	for i := range out {
		d.r.ReadBool(&out[i])
	}
	return out, d.r.Err()
}

func writeByteArray(s *Serializer, v reflect.Value, _ bool) error {
	s.w.WriteInt32(int32(v.Len()))
	s.w.WriteBytes(v.Bytes())
	return s.w.Err()
}
func readByteArray(d *Deserializer, _ reflect.Type) (any, error) {
	n := d.readArrayLen()
	if d.r.Err() != nil {
		return nil, d.r.Err()
	}
	return d.r.ReadBytes(n), d.r.Err()
}

func writeCharArray(s *Serializer, v reflect.Value, _ bool) error {
	s.w.WriteInt32(int32(v.Len()))
	for i := 0; i < v.Len(); i++ {
		s.w.WriteChar(uint16(v.Index(i).Uint()))
	}
	return s.w.Err()
}
func readCharArray(d *Deserializer, _ reflect.Type) (any, error) {
	n := d.readArrayLen()
	if d.r.Err() != nil {
		return nil, d.r.Err()
	}
	out := make([]Char, n)
	for i := range out {
		var c uint16
		d.r.ReadChar(&c)
		out[i] = Char(c)
	}
	return out, d.r.Err()
}

func writeShortArray(s *Serializer, v reflect.Value, _ bool) error {
	s.w.WriteInt32(int32(v.Len()))
	for i := 0; i < v.Len(); i++ {
		s.w.WriteInt16(int16(v.Index(i).Int()))
	}
	return s.w.Err()
}
func readShortArray(d *Deserializer, _ reflect.Type) (any, error) {
	n := d.readArrayLen()
	if d.r.Err() != nil {
		return nil, d.r.Err()
	}
	out := make([]int16, n)
	for i := range out {
		d.r.ReadInt16(&out[i])
	}
	return out, d.r.Err()
}

func writeIntArray(s *Serializer, v reflect.Value, _ bool) error {
	s.w.WriteInt32(int32(v.Len()))
	for i := 0; i < v.Len(); i++ {
		s.w.WriteInt32(int32(v.Index(i).Int()))
	}
	return s.w.Err()
}
func readIntArray(d *Deserializer, _ reflect.Type) (any, error) {
	n := d.readArrayLen()
	if d.r.Err() != nil {
		return nil, d.r.Err()
	}
	out := make([]int32, n)
	for i := range out {
		d.r.ReadInt32(&out[i])
	}
	return out, d.r.Err()
}

func writeLongArray(s *Serializer, v reflect.Value, _ bool) error {
	s.w.WriteInt32(int32(v.Len()))
	for i := 0; i < v.Len(); i++ {
		s.w.WriteInt64(v.Index(i).Int())
	}
	return s.w.Err()
}
func readLongArray(d *Deserializer, _ reflect.Type) (any, error) {
	n := d.readArrayLen()
	if d.r.Err() != nil {
		return nil, d.r.Err()
	}
	out := make([]int64, n)
	for i := range out {
		d.r.ReadInt64(&out[i])
	}
	return out, d.r.Err()
}

func writeFloatArray(s *Serializer, v reflect.Value, _ bool) error {
	s.w.WriteInt32(int32(v.Len()))
	for i := 0; i < v.Len(); i++ {
		s.w.WriteFloat32(float32(v.Index(i).Float()))
	}
	return s.w.Err()
}
func readFloatArray(d *Deserializer, _ reflect.Type) (any, error) {
	n := d.readArrayLen()
	if d.r.Err() != nil {
		return nil, d.r.Err()
	}
	out := make([]float32, n)
	for i := range out {
		d.r.ReadFloat32(&out[i])
	}
	return out, d.r.Err()
}

func writeDoubleArray(s *Serializer, v reflect.Value, _ bool) error {
	s.w.WriteInt32(int32(v.Len()))
	for i := 0; i < v.Len(); i++ {
		s.w.WriteFloat64(v.Index(i).Float())
	}
	return s.w.Err()
}
func readDoubleArray(d *Deserializer, _ reflect.Type) (any, error) {
	n := d.readArrayLen()
	if d.r.Err() != nil {
		return nil, d.r.Err()
	}
	out := make([]float64, n)
	for i := range out {
		d.r.ReadFloat64(&out[i])
	}
	return out, d.r.Err()
}

func (d *Deserializer) readArrayLen() int {
	var n int32
	d.r.ReadInt32(&n)
	if d.r.Err() == nil && n < 0 {
		d.r.setError(fmt.Errorf("%w: negative length %d", ErrFraming, n))
	}
	return int(n)
}

// --- PAIR / TRIPLE / MAP_ENTRY / UNIT ---

func writePair(s *Serializer, v reflect.Value, nullable bool) error {
	if err := s.writeMember(v.Field(0), nullable); err != nil {
		return err
	}
	return s.writeMember(v.Field(1), nullable)
}
func readPair(d *Deserializer, t reflect.Type) (any, error) {
	first, err := d.readMember(t.Field(0).Type)
	if err != nil {
		return nil, err
	}
	second, err := d.readMember(t.Field(1).Type)
	if err != nil {
		return nil, err
	}
	out := reflect.New(t).Elem()
	setField(out, 0, first)
	setField(out, 1, second)
	return out.Interface(), nil
}

func writeTriple(s *Serializer, v reflect.Value, nullable bool) error {
	for i := 0; i < 3; i++ {
		if err := s.writeMember(v.Field(i), nullable); err != nil {
			return err
		}
	}
	return nil
}
func readTriple(d *Deserializer, t reflect.Type) (any, error) {
	out := reflect.New(t).Elem()
	for i := 0; i < 3; i++ {
		val, err := d.readMember(t.Field(i).Type)
		if err != nil {
			return nil, err
		}
		setField(out, i, val)
	}
	return out.Interface(), nil
}

func writeMapEntry(s *Serializer, v reflect.Value, nullable bool) error {
	if err := s.writeMember(v.Field(0), nullable); err != nil {
		return err
	}
	return s.writeMember(v.Field(1), nullable)
}
func readMapEntry(d *Deserializer, t reflect.Type) (any, error) {
	key, err := d.readMember(t.Field(0).Type)
	if err != nil {
		return nil, err
	}
	val, err := d.readMember(t.Field(1).Type)
	if err != nil {
		return nil, err
	}
	out := reflect.New(t).Elem()
	setField(out, 0, key)
	setField(out, 1, val)
	return out.Interface(), nil
}

func writeUnit(_ *Serializer, _ reflect.Value, _ bool) error { return nil }
func readUnit(_ *Deserializer, t reflect.Type) (any, error) {
	return reflect.New(t).Elem().Interface(), nil
}

func setField(out reflect.Value, i int, val any) {
	f := out.Field(i)
	if val == nil {
		return
	}
	rv := reflect.ValueOf(val)
	if rv.Type() != f.Type() && rv.Type().ConvertibleTo(f.Type()) {
		rv = rv.Convert(f.Type())
	}
	f.Set(rv)
}

// --- MAP / OBJECT_ARRAY / LIST / ITERABLE ---

func writeMapFlag(s *Serializer, v reflect.Value, nullable bool) error {
	s.w.WriteInt32(int32(v.Len()))
	iter := v.MapRange()
	for iter.Next() {
		if err := s.writeMember(iter.Key(), nullable); err != nil {
			return err
		}
		if err := s.writeMember(iter.Value(), nullable); err != nil {
			return err
		}
	}
	return s.w.Err()
}
func readMapFlag(d *Deserializer, t reflect.Type) (any, error) {
	n := d.readArrayLen()
	if d.r.Err() != nil {
		return nil, d.r.Err()
	}
	out := reflect.MakeMapWithSize(t, n)
	for i := 0; i < n; i++ {
		key, err := d.readMember(t.Key())
		if err != nil {
			return nil, err
		}
		val, err := d.readMember(t.Elem())
		if err != nil {
			return nil, err
		}
		out.SetMapIndex(reflectOf(key, t.Key()), reflectOf(val, t.Elem()))
	}
	return out.Interface(), nil
}

func writeObjectArray(s *Serializer, v reflect.Value, nullable bool) error {
	s.w.WriteInt32(int32(v.Len()))
	for i := 0; i < v.Len(); i++ {
		if err := s.writeMember(v.Index(i), nullable); err != nil {
			return err
		}
	}
	return s.w.Err()
}
func readObjectArray(d *Deserializer, t reflect.Type) (any, error) {
	n := d.readArrayLen()
	if d.r.Err() != nil {
		return nil, d.r.Err()
	}
	out := reflect.New(reflect.ArrayOf(n, t.Elem())).Elem()
	for i := 0; i < n; i++ {
		val, err := d.readMember(t.Elem())
		if err != nil {
			return nil, err
		}
		out.Index(i).Set(reflectOf(val, t.Elem()))
	}
	return out.Interface(), nil
}

func writeList(s *Serializer, v reflect.Value, nullable bool) error {
	s.w.WriteInt32(int32(v.Len()))
	for i := 0; i < v.Len(); i++ {
		if err := s.writeMember(v.Index(i), nullable); err != nil {
			return err
		}
	}
	return s.w.Err()
}
func readList(d *Deserializer, t reflect.Type) (any, error) {
	n := d.readArrayLen()
	if d.r.Err() != nil {
		return nil, d.r.Err()
	}
	out := reflect.MakeSlice(t, n, n)
	for i := 0; i < n; i++ {
		val, err := d.readMember(t.Elem())
		if err != nil {
			return nil, err
		}
		out.Index(i).Set(reflectOf(val, t.Elem()))
	}
	return out.Interface(), nil
}

func writeIterableFlag(s *Serializer, v reflect.Value, nullable bool) error {
	elemType := v.Type().In(0).In(0)
	var writeErr error
	yield := reflect.MakeFunc(v.Type().In(0), func(args []reflect.Value) []reflect.Value {
		if writeErr != nil {
			return []reflect.Value{reflect.ValueOf(false)}
		}
		writeErr = s.writeMember(args[0], nullable)
		return []reflect.Value{reflect.ValueOf(writeErr == nil)}
	})
	v.Call([]reflect.Value{yield})
	if writeErr != nil {
		return writeErr
	}
	_ = elemType
	s.w.WriteByte(byte(FlagEndObject))
	return s.w.Err()
}
func readIterableFlag(d *Deserializer, t reflect.Type) (any, error) {
	elemType := t.In(0).In(0)
	var values []reflect.Value
	for {
		flag, err := d.peekFlag()
		if err != nil {
			return nil, err
		}
		if flag == FlagEndObject {
			d.consumeFlag()
			break
		}
		val, err := d.readMember(elemType)
		if err != nil {
			return nil, err
		}
		values = append(values, reflectOf(val, elemType))
	}
	seq := reflect.MakeFunc(t, func(args []reflect.Value) []reflect.Value {
		yield := args[0]
		for _, v := range values {
			out := yield.Call([]reflect.Value{v})
			if !out[0].Bool() {
				break
			}
		}
		return nil
	})
	return seq.Interface(), nil
}

func reflectOf(val any, t reflect.Type) reflect.Value {
	if val == nil {
		return reflect.Zero(t)
	}
	rv := reflect.ValueOf(val)
	if rv.Type() == t {
		return rv
	}
	if rv.Type().ConvertibleTo(t) {
		return rv.Convert(t)
	}
	return rv
}
