package kanary

import "math"

// ReadChar reads a single UTF-16 code unit.
func (r *Reader) ReadChar(dest *uint16) {
	r.ReadUint16(dest)
}

// ReadFloat32 reads an IEEE-754 binary32 value.
func (r *Reader) ReadFloat32(dest *float32) {
	var bits uint32
	r.ReadUint32(&bits)
	if r.err == nil {
		*dest = math.Float32frombits(bits)
	}
}

// ReadFloat64 reads an IEEE-754 binary64 value.
func (r *Reader) ReadFloat64(dest *float64) {
	var bits uint64
	r.ReadUint64(&bits)
	if r.err == nil {
		*dest = math.Float64frombits(bits)
	}
}

// ReadRawString reads a 32-bit signed byte-length prefix followed by that
// many UTF-8 bytes, the dual of WriteRawString. A negative length is a
// framing error.
func (r *Reader) ReadRawString() string {
	var n int32
	r.ReadInt32(&n)
	if r.err != nil {
		return ""
	}
	if n < 0 {
		r.err = ErrFraming
		return ""
	}
	if n == 0 {
		return ""
	}
	buf := r.readFull(int(n))
	if r.err != nil {
		return ""
	}
	return string(buf)
}
