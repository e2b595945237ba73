//go:build test

package kanary

import (
	"bytes"
	"encoding/binary"
	"reflect"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// --- Scenario 1: primitives ---

func TestScenario1Primitives(t *testing.T) {
	schema, err := NewSchemaBuilder().Build()
	require.NoError(t, err)

	var buf bytes.Buffer
	ser, err := NewSerializer(schema, &buf)
	require.NoError(t, err)

	for _, v := range []any{
		true,
		uint8(0x2A),
		Char('X'),
		int16(1000),
		int32(12345),
		int64(9876543210),
		float32(3.14),
		float64(2.71828),
	} {
		require.NoError(t, ser.Write(v))
	}
	require.NoError(t, ser.Flush())

	want := []byte{byte(FlagBoolean), 0x01}
	want = append(want, byte(FlagByte), 0x2A)
	want = append(want, byte(FlagChar), 0x00, 0x58)
	want = append(want, byte(FlagShort), 0x03, 0xE8)
	want = append(want, byte(FlagInt), 0x00, 0x00, 0x30, 0x39)
	want = append(want, byte(FlagLong), 0x00, 0x00, 0x00, 0x02, 0x4C, 0xB0, 0x16, 0xEA)
	assert.Equal(t, want, buf.Bytes()[:len(want)])

	// Round-trip all eight values (float/double don't have a literal hex
	// target in the spec text, only "round-trips", so assert value equality).
	deser, err := NewDeserializer(schema, &buf)
	require.NoError(t, err)
	for _, want := range []any{true, uint8(0x2A), Char('X'), int16(1000), int32(12345), int64(9876543210), float32(3.14), float64(2.71828)} {
		switch want.(type) {
		case bool:
			got, err := ReadAs[bool](deser)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		case uint8:
			got, err := ReadAs[uint8](deser)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		case Char:
			got, err := ReadAs[Char](deser)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		case int16:
			got, err := ReadAs[int16](deser)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		case int32:
			got, err := ReadAs[int32](deser)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		case int64:
			got, err := ReadAs[int64](deser)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		case float32:
			got, err := ReadAs[float32](deser)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		case float64:
			got, err := ReadAs[float64](deser)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}
	}
}

// --- Scenario 2: polymorphic write, single reader at the leaf ---

type scenarioParent interface{ parentTag() }
type scenarioSub interface{ subTag() }

type scenarioSubSub struct {
	Message string
}

func (scenarioSubSub) parentTag() {}
func (scenarioSubSub) subTag()    {}

func scenario2Schema(t *testing.T) *Schema {
	sb := NewSchemaBuilder()
	Define[scenarioParent](sb).Write("scenarioParent.write", func(s *Serializer, v scenarioParent) error {
		return s.Write("parent")
	})
	Define[scenarioSub](sb).Extends((*scenarioParent)(nil)).Write("scenarioSub.write", func(s *Serializer, v scenarioSub) error {
		return s.Write("subclass")
	})
	Define[scenarioSubSub](sb).Extends((*scenarioSub)(nil)).
		Write("scenarioSubSub.write", func(s *Serializer, v scenarioSubSub) error {
			return s.Write(v.Message)
		}).
		Read("scenarioSubSub.read", func(d *Deserializer) (scenarioSubSub, error) {
			msg, err := ReadAs[string](d)
			return scenarioSubSub{Message: msg}, err
		})
	schema, err := sb.Build()
	require.NoError(t, err)
	return schema
}

func TestScenario2Polymorphic(t *testing.T) {
	schema := scenario2Schema(t)

	var buf bytes.Buffer
	ser, err := NewSerializer(schema, &buf)
	require.NoError(t, err)
	require.NoError(t, ser.Write(scenarioSubSub{Message: "subclass of subclass"}))
	require.NoError(t, ser.Flush())

	data := buf.Bytes()
	require.Equal(t, byte(FlagObject), data[0])

	// Two nested OBJECT supertype packets (Parent, Sub), per the write
	// sequence's ancestor order.
	r := bytes.NewReader(data)
	var tag byte
	var nameLen int32
	readName := func() string {
		require.NoError(t, binary.Read(r, Order, &nameLen))
		b := make([]byte, nameLen)
		_, err := r.Read(b)
		require.NoError(t, err)
		return string(b)
	}
	require.NoError(t, binary.Read(r, Order, &tag))
	require.Equal(t, byte(FlagObject), tag)
	_ = readName() // own name
	var superCount uint8
	require.NoError(t, binary.Read(r, Order, &superCount))
	assert.Equal(t, uint8(2), superCount)

	deser, err := NewDeserializer(schema, &buf)
	require.NoError(t, err)
	got, err := ReadAs[scenarioSubSub](deser)
	require.NoError(t, err)
	assert.Equal(t, scenarioSubSub{Message: "subclass of subclass"}, got)
}

// --- Scenario 3: fallback reader ignoring subtype identity ---

type scenarioPerson interface{ personTag() }

type scenarioBasicPerson struct {
	Name string
	Year int32
}

func (scenarioBasicPerson) personTag() {}

type scenarioUniquePerson struct {
	Name string
	Year int32
}

func (scenarioUniquePerson) personTag() {}

func TestScenario3Fallback(t *testing.T) {
	sb := NewSchemaBuilder()
	Define[scenarioPerson](sb).
		Read("scenarioPerson.read", func(d *Deserializer) (scenarioPerson, error) {
			if _, err := ReadAs[string](d); err != nil {
				return nil, err
			}
			if _, err := ReadAs[int32](d); err != nil {
				return nil, err
			}
			return scenarioBasicPerson{Name: "Joe Schmoe", Year: 1969}, nil
		}).
		Fallback()
	Define[scenarioUniquePerson](sb).Extends((*scenarioPerson)(nil)).
		Write("scenarioUniquePerson.write", func(s *Serializer, v scenarioUniquePerson) error {
			if err := s.Write(v.Name); err != nil {
				return err
			}
			return s.Write(v.Year)
		})
	schema, err := sb.Build()
	require.NoError(t, err)

	var buf bytes.Buffer
	ser, err := NewSerializer(schema, &buf)
	require.NoError(t, err)
	require.NoError(t, ser.Write(scenarioUniquePerson{Name: "Charlie", Year: 17}))
	require.NoError(t, ser.Flush())

	deser, err := NewDeserializer(schema, &buf)
	require.NoError(t, err)
	got, err := ReadAs[scenarioPerson](deser)
	require.NoError(t, err)
	assert.Equal(t, scenarioBasicPerson{Name: "Joe Schmoe", Year: 1969}, got)
}

// --- Scenario 4: static write excludes supertype packets ---

type scenarioPhonebook struct {
	Entries map[string]string
}

func TestScenario4StaticWrite(t *testing.T) {
	sb := NewSchemaBuilder()
	Define[scenarioPhonebook](sb).
		Write("scenarioPhonebook.write", func(s *Serializer, v scenarioPhonebook) error {
			return s.Write(v.Entries)
		}).
		Static()
	schema, err := sb.Build()
	require.NoError(t, err)

	var buf bytes.Buffer
	ser, err := NewSerializer(schema, &buf)
	require.NoError(t, err)
	require.NoError(t, ser.Write(scenarioPhonebook{Entries: map[string]string{"Alice": "555-1234"}}))
	require.NoError(t, ser.Flush())

	data := buf.Bytes()
	require.Equal(t, byte(FlagObject), data[0])
	nameLen := int(Order.Uint32(data[1:5]))
	superCountOffset := 5 + nameLen
	assert.Equal(t, uint8(0), data[superCountOffset], "static write must not produce supertype packets")

	// A subtype declaring its own write under a static ancestor fails at
	// Build(), never at write time.
	type scenarioPhonebookV2 struct{ scenarioPhonebook }
	sb2 := NewSchemaBuilder()
	Define[scenarioPhonebook](sb2).
		Write("scenarioPhonebook.write2", func(s *Serializer, v scenarioPhonebook) error { return nil }).
		Static()
	Define[scenarioPhonebookV2](sb2).Extends(scenarioPhonebook{}).
		Write("scenarioPhonebookV2.write", func(s *Serializer, v scenarioPhonebookV2) error { return nil })
	_, err = sb2.Build()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedProtocol)
}

// --- Scenario 5: schema self-encoding ---

type scenarioSerializableData struct {
	Label string
	Count int32
}

// withSerializedSchema round-trips s through SerializeSchema/DeserializeSchema,
// retrying the whole round trip up to 3 times with exponential backoff if
// either step returns an error.
func withSerializedSchema(t *testing.T, s *Schema) *Schema {
	var buf bytes.Buffer
	var out *Schema
	op := func() error {
		buf.Reset()
		if err := SerializeSchema(s, &buf); err != nil {
			return err
		}
		decoded, err := DeserializeSchema(&buf)
		if err != nil {
			return err
		}
		out = decoded
		return nil
	}
	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	require.NoError(t, backoff.Retry(op, b))
	return out
}

func TestScenario5SchemaSelfEncoding(t *testing.T) {
	sb := NewSchemaBuilder()
	Define[scenarioSerializableData](sb).
		Write("scenarioSerializableData.write", func(s *Serializer, v scenarioSerializableData) error {
			if err := s.Write(v.Label); err != nil {
				return err
			}
			return s.Write(v.Count)
		}).
		Read("scenarioSerializableData.read", func(d *Deserializer) (scenarioSerializableData, error) {
			label, err := ReadAs[string](d)
			if err != nil {
				return scenarioSerializableData{}, err
			}
			count, err := ReadAs[int32](d)
			return scenarioSerializableData{Label: label, Count: count}, err
		})
	schema, err := sb.Build()
	require.NoError(t, err)

	restored := withSerializedSchema(t, schema)

	value := scenarioSerializableData{Label: "widgets", Count: 42}

	var bufA, bufB bytes.Buffer
	serA, err := NewSerializer(schema, &bufA)
	require.NoError(t, err)
	require.NoError(t, serA.Write(value))
	require.NoError(t, serA.Flush())

	serB, err := NewSerializer(restored, &bufB)
	require.NoError(t, err)
	require.NoError(t, serB.Write(value))
	require.NoError(t, serB.Flush())

	assert.Equal(t, bufA.Bytes(), bufB.Bytes())

	deser, err := NewDeserializer(restored, &bufA)
	require.NoError(t, err)
	got, err := ReadAs[scenarioSerializableData](deser)
	require.NoError(t, err)
	assert.Equal(t, value, got)
}

// --- Scenario 6: null round-trips as exactly one byte ---

func TestScenario6NullRoundtrip(t *testing.T) {
	schema, err := NewSchemaBuilder().Build()
	require.NoError(t, err)

	var buf bytes.Buffer
	ser, err := NewSerializer(schema, &buf)
	require.NoError(t, err)
	require.NoError(t, ser.Write(nil))
	require.NoError(t, ser.Flush())

	assert.Equal(t, []byte{byte(FlagNull)}, buf.Bytes())

	deser, err := NewDeserializer(schema, &buf)
	require.NoError(t, err)

	gotInt, err := ReadAs[int32](deser)
	require.NoError(t, err)
	assert.Equal(t, int32(0), gotInt)

	buf.Reset()
	require.NoError(t, ser.Write(nil))
	require.NoError(t, ser.Flush())
	deser2, err := NewDeserializer(schema, &buf)
	require.NoError(t, err)
	gotStr, err := ReadAs[string](deser2)
	require.NoError(t, err)
	assert.Equal(t, "", gotStr)
}

// --- SchemaBuilderSuite: Build()-time validation ---

type SchemaBuilderSuite struct {
	suite.Suite
}

func (s *SchemaBuilderSuite) TestAnonymousTypeRejected() {
	sb := NewSchemaBuilder()
	Define[struct{ X int }](sb)
	_, err := sb.Build()
	s.ErrorIs(err, ErrMalformedProtocol)
}

func (s *SchemaBuilderSuite) TestBuiltinShapeRejected() {
	sb := NewSchemaBuilder()
	Define[string](sb)
	_, err := sb.Build()
	s.ErrorIs(err, ErrMalformedProtocol)
}

func (s *SchemaBuilderSuite) TestDuplicateWriteRejected() {
	type t struct{}
	sb := NewSchemaBuilder()
	Define[t](sb).
		Write("dupWrite.a", func(s *Serializer, v t) error { return nil }).
		Write("dupWrite.b", func(s *Serializer, v t) error { return nil })
	_, err := sb.Build()
	s.ErrorIs(err, ErrMalformedProtocol)
}

func (s *SchemaBuilderSuite) TestFallbackWithoutReadRejected() {
	type t struct{}
	sb := NewSchemaBuilder()
	Define[t](sb).Fallback()
	_, err := sb.Build()
	s.ErrorIs(err, ErrMalformedProtocol)
}

func (s *SchemaBuilderSuite) TestStaticWithoutWriteRejected() {
	type t struct{}
	sb := NewSchemaBuilder()
	Define[t](sb).Static()
	_, err := sb.Build()
	s.ErrorIs(err, ErrMalformedProtocol)
}

func (s *SchemaBuilderSuite) TestInterfaceReaderWithoutFallbackRejected() {
	type shape interface{ area() float64 }
	sb := NewSchemaBuilder()
	Define[shape](sb).Read("shape.read", func(d *Deserializer) (shape, error) { return nil, nil })
	_, err := sb.Build()
	s.ErrorIs(err, ErrMalformedProtocol)
}

func (s *SchemaBuilderSuite) TestAncestorCycleRejected() {
	type a struct{}
	type b struct{}
	sb := NewSchemaBuilder()
	Define[a](sb).Extends(b{}).Write("cycle.a", func(s *Serializer, v a) error { return nil })
	Define[b](sb).Extends(a{}).Write("cycle.b", func(s *Serializer, v b) error { return nil })
	_, err := sb.Build()
	s.ErrorIs(err, ErrMalformedProtocol)
}

func (s *SchemaBuilderSuite) TestStaticExclusivityRejected() {
	type base struct{}
	type derived struct{ base }
	sb := NewSchemaBuilder()
	Define[base](sb).
		Write("static.base", func(s *Serializer, v base) error { return nil }).
		Static()
	Define[derived](sb).Extends(base{}).
		Write("static.derived", func(s *Serializer, v derived) error { return nil })
	_, err := sb.Build()
	s.ErrorIs(err, ErrMalformedProtocol)
}

func TestSchemaBuilderSuite(t *testing.T) {
	suite.Run(t, new(SchemaBuilderSuite))
}

// --- WireFormatSuite: built-in container shapes ---

type WireFormatSuite struct {
	suite.Suite
	schema *Schema
}

func (s *WireFormatSuite) SetupTest() {
	schema, err := NewSchemaBuilder().Build()
	s.Require().NoError(err)
	s.schema = schema
}

func (s *WireFormatSuite) write(v any) *bytes.Buffer {
	var buf bytes.Buffer
	ser, err := NewSerializer(s.schema, &buf)
	s.Require().NoError(err)
	s.Require().NoError(ser.Write(v))
	s.Require().NoError(ser.Flush())
	return &buf
}

func (s *WireFormatSuite) TestIntArray() {
	buf := s.write([]int32{1, 2, 3})
	deser, err := NewDeserializer(s.schema, buf)
	s.Require().NoError(err)
	got, err := ReadAs[[]int32](deser)
	s.Require().NoError(err)
	s.Equal([]int32{1, 2, 3}, got)
}

func (s *WireFormatSuite) TestMap() {
	buf := s.write(map[string]int32{"a": 1})
	deser, err := NewDeserializer(s.schema, buf)
	s.Require().NoError(err)
	got, err := ReadAs[map[string]int32](deser)
	s.Require().NoError(err)
	s.Equal(map[string]int32{"a": 1}, got)
}

func (s *WireFormatSuite) TestPair() {
	buf := s.write(Pair[any, any]{First: int32(1), Second: "x"})
	deser, err := NewDeserializer(s.schema, buf)
	s.Require().NoError(err)
	got, err := ReadAs[Pair[any, any]](deser)
	s.Require().NoError(err)
	s.Equal(Pair[any, any]{First: int32(1), Second: "x"}, got)
}

func (s *WireFormatSuite) TestPairConcreteInstantiation() {
	// PAIR matches on field shape alone (hasFields), the same as TRIPLE
	// and MAP_ENTRY, so any instantiation of Pair dispatches through the
	// PAIR tag, not just Pair[any, any].
	buf := s.write(Pair[int32, string]{First: 7, Second: "seven"})
	deser, err := NewDeserializer(s.schema, buf)
	s.Require().NoError(err)
	got, err := ReadAs[Pair[int32, string]](deser)
	s.Require().NoError(err)
	s.Equal(Pair[int32, string]{First: 7, Second: "seven"}, got)
}

func (s *WireFormatSuite) TestUnit() {
	buf := s.write(Unit{})
	deser, err := NewDeserializer(s.schema, buf)
	s.Require().NoError(err)
	got, err := ReadAs[Unit](deser)
	s.Require().NoError(err)
	s.Equal(Unit{}, got)
}

func (s *WireFormatSuite) TestNullableMemberErasedToZero() {
	var buf bytes.Buffer
	ser, err := NewSerializer(s.schema, &buf)
	s.Require().NoError(err)
	s.Require().NoError(ser.Write([]map[string]int32{nil, {"a": 1}}))
	s.Require().NoError(ser.Flush())

	deser, err := NewDeserializer(s.schema, &buf)
	s.Require().NoError(err)
	got, err := ReadAs[[]map[string]int32](deser)
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Nil(got[0])
	s.Equal(map[string]int32{"a": 1}, got[1])
}

func (s *WireFormatSuite) TestPeekDoesNotConsume() {
	buf := s.write(int32(42))
	deser, err := NewDeserializer(s.schema, buf)
	s.Require().NoError(err)

	flag, err := deser.Peek()
	s.Require().NoError(err)
	s.Equal(FlagInt, flag)

	flag, err = deser.Peek()
	s.Require().NoError(err)
	s.Equal(FlagInt, flag)

	got, err := ReadAs[int32](deser)
	s.Require().NoError(err)
	s.Equal(int32(42), got)
}

func (s *WireFormatSuite) TestSkipValue() {
	var buf bytes.Buffer
	ser, err := NewSerializer(s.schema, &buf)
	s.Require().NoError(err)
	s.Require().NoError(ser.Write(int32(1)))
	s.Require().NoError(ser.Write("second"))
	s.Require().NoError(ser.Flush())

	deser, err := NewDeserializer(s.schema, &buf)
	s.Require().NoError(err)
	s.Require().NoError(deser.SkipValue())

	got, err := ReadAs[string](deser)
	s.Require().NoError(err)
	s.Equal("second", got)
}

func (s *WireFormatSuite) TestReadListStreams() {
	// []any encodes as LIST; a []int32 would encode as INT_ARRAY instead.
	buf := s.write([]any{int32(1), int32(2), int32(3)})
	deser, err := NewDeserializer(s.schema, buf)
	s.Require().NoError(err)

	var got []int32
	err = deser.ReadList(reflect.TypeOf(int32(0)), func(v any) error {
		got = append(got, v.(int32))
		return nil
	})
	s.Require().NoError(err)
	s.Equal([]int32{1, 2, 3}, got)
}

func (s *WireFormatSuite) TestReadMapStreams() {
	buf := s.write(map[string]int32{"a": 1, "b": 2})
	deser, err := NewDeserializer(s.schema, buf)
	s.Require().NoError(err)

	got := make(map[string]int32)
	err = deser.ReadMap(reflect.TypeOf(""), reflect.TypeOf(int32(0)), func(key, val any) error {
		got[key.(string)] = val.(int32)
		return nil
	})
	s.Require().NoError(err)
	s.Equal(map[string]int32{"a": 1, "b": 2}, got)
}

func (s *WireFormatSuite) TestWithByteOrderRoundTrip() {
	var buf bytes.Buffer
	ser, err := NewSerializer(s.schema, &buf)
	s.Require().NoError(err)
	ser.WithByteOrder(binary.LittleEndian)
	s.Require().NoError(ser.Write(int32(0x01020304)))
	s.Require().NoError(ser.Flush())

	// Little-endian byte order for 0x01020304, as opposed to the
	// default big-endian 01 02 03 04 - confirms WithByteOrder took effect.
	wantLittleEndian := []byte{byte(FlagInt), 0x04, 0x03, 0x02, 0x01}
	s.Equal(wantLittleEndian, buf.Bytes())

	deser, err := NewDeserializer(s.schema, &buf)
	s.Require().NoError(err)
	deser.WithByteOrder(binary.LittleEndian)
	got, err := ReadAs[int32](deser)
	s.Require().NoError(err)
	s.Equal(int32(0x01020304), got)
}

func TestWireFormatSuite(t *testing.T) {
	suite.Run(t, new(WireFormatSuite))
}

// --- SelfSchemaSuite: schema self-encoding round trips for more than
// one shape, exercising the withSerializedSchema helper generically.

type selfSchemaPoint struct {
	X, Y int32
}

type SelfSchemaSuite struct {
	suite.Suite
}

func (s *SelfSchemaSuite) TestPointSchemaSurvivesRoundTrip() {
	sb := NewSchemaBuilder()
	Define[selfSchemaPoint](sb).
		Write("selfSchemaPoint.write", func(ser *Serializer, v selfSchemaPoint) error {
			if err := ser.Write(v.X); err != nil {
				return err
			}
			return ser.Write(v.Y)
		}).
		Read("selfSchemaPoint.read", func(d *Deserializer) (selfSchemaPoint, error) {
			x, err := ReadAs[int32](d)
			if err != nil {
				return selfSchemaPoint{}, err
			}
			y, err := ReadAs[int32](d)
			return selfSchemaPoint{X: x, Y: y}, err
		})
	schema, err := sb.Build()
	s.Require().NoError(err)

	restored := withSerializedSchema(s.T(), schema)
	s.Len(restored.Describe(), len(schema.Describe()))

	var buf bytes.Buffer
	ser, err := NewSerializer(restored, &buf)
	s.Require().NoError(err)
	s.Require().NoError(ser.Write(selfSchemaPoint{X: 3, Y: 4}))
	s.Require().NoError(ser.Flush())

	deser, err := NewDeserializer(schema, &buf)
	s.Require().NoError(err)
	got, err := ReadAs[selfSchemaPoint](deser)
	s.Require().NoError(err)
	s.Equal(selfSchemaPoint{X: 3, Y: 4}, got)
}

func TestSelfSchemaSuite(t *testing.T) {
	suite.Run(t, new(SelfSchemaSuite))
}
