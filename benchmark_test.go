package kanary

import (
	"bytes"
	"encoding/binary"
	"testing"
)

type benchmarkPayload struct {
	ID      uint32
	Val1    uint64
	Val2    uint64
	Val3    uint64
	IsAlive bool
}

func benchmarkSchema(b *testing.B) *Schema {
	sb := NewSchemaBuilder()
	Define[benchmarkPayload](sb).
		Write("benchmarkPayload.write", func(s *Serializer, v benchmarkPayload) error {
			s.w.WriteUint32(v.ID)
			s.w.WriteUint64(v.Val1)
			s.w.WriteUint64(v.Val2)
			s.w.WriteUint64(v.Val3)
			s.w.WriteBool(v.IsAlive)
			return s.w.Err()
		}).
		Read("benchmarkPayload.read", func(d *Deserializer) (benchmarkPayload, error) {
			var v benchmarkPayload
			d.r.ReadUint32(&v.ID)
			d.r.ReadUint64(&v.Val1)
			d.r.ReadUint64(&v.Val2)
			d.r.ReadUint64(&v.Val3)
			d.r.ReadBool(&v.IsAlive)
			return v, d.r.Err()
		})
	schema, err := sb.Build()
	if err != nil {
		b.Fatal(err)
	}
	return schema
}

func BenchmarkSerializerWrite(b *testing.B) {
	schema := benchmarkSchema(b)
	payload := benchmarkPayload{ID: 1, Val1: 100}
	var buf bytes.Buffer
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Reset()
		s, _ := NewSerializer(schema, &buf)
		_ = s.Write(payload)
		_ = s.Flush()
	}
}

func BenchmarkDeserializerRead(b *testing.B) {
	schema := benchmarkSchema(b)
	payload := benchmarkPayload{ID: 1, Val1: 100}
	var buf bytes.Buffer
	s, _ := NewSerializer(schema, &buf)
	_ = s.Write(payload)
	_ = s.Flush()
	data := buf.Bytes()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d, _ := NewDeserializer(schema, bytes.NewReader(data))
		_, _ = d.Read()
	}
}

func BenchmarkSerializerRoundTrip(b *testing.B) {
	schema := benchmarkSchema(b)
	payload := benchmarkPayload{ID: 1, Val1: 100}
	var buf bytes.Buffer
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Reset()
		s, _ := NewSerializer(schema, &buf)
		_ = s.Write(payload)
		_ = s.Flush()
		d, _ := NewDeserializer(schema, bytes.NewReader(buf.Bytes()))
		_, _ = d.Read()
	}
}

// Baseline comparison using binary.Write directly, to see the
// overhead the tagged engine adds over the fixed-layout struct it wraps.
func BenchmarkStandardBinaryWrite(b *testing.B) {
	payload := benchmarkPayload{ID: 1, Val1: 100}
	buf := make([]byte, binary.Size(payload))
	w := NewBytesWriter(buf)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w.Reset()
		_ = binary.Write(w, Order, &payload)
	}
}
