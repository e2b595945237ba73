package kanary

import "math"

// WriteChar writes a single UTF-16 code unit, per the wire format's CHAR
// encoding (two bytes, the Writer's configured byte order).
func (w *Writer) WriteChar(v uint16) {
	w.WriteUint16(v)
}

// WriteFloat32 writes an IEEE-754 binary32 value.
func (w *Writer) WriteFloat32(v float32) {
	w.WriteUint32(math.Float32bits(v))
}

// WriteFloat64 writes an IEEE-754 binary64 value.
func (w *Writer) WriteFloat64(v float64) {
	w.WriteUint64(math.Float64bits(v))
}

// WriteRawString writes s as a 32-bit signed byte-length prefix followed
// by its UTF-8 bytes, per the wire format's STRING encoding. It does not
// write the STRING tag itself; callers needing a tagged value use the
// built-in handler table instead.
func (w *Writer) WriteRawString(s string) {
	if w.err != nil {
		return
	}
	w.WriteInt32(int32(len(s)))
	if len(s) > 0 {
		_, _ = w.WriteString(s)
	}
}
