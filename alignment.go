package kanary

import (
	"encoding/binary"
	"fmt"
	"reflect"

	"golang.org/x/exp/constraints"
)

// AlignedPrimitive is the element type set WriteAlignedArray/ReadAlignedArray
// accept: the fixed-width numeric kinds a stride can be computed for.
type AlignedPrimitive interface {
	constraints.Integer | constraints.Float
}

// WriteAlignedArray is an opt-in fast path for fixed-stride primitive
// arrays, grounded on teacher's list.go List4/List8 alignment variants.
// Unlike the tagged wire format's LIST/primitive-array built-ins (which
// are always byte-packed, §4.1/§6), this pads every element up to align
// bytes so the encoded array supports fixed-offset random access. It is
// never used by Serializer.Write's own dispatch; callers reach for it
// directly when both ends of a stream agree on T and align out of band.
func WriteAlignedArray[T AlignedPrimitive](s *Serializer, values []T, align int) error {
	if s.w.Err() != nil {
		return s.w.Err()
	}
	if align <= 0 {
		return fmt.Errorf("%w: alignment must be positive, got %d", ErrFraming, align)
	}

	elemSize := alignedElemSize[T]()
	stride := int(Roundup(elemSize, align))

	s.w.WriteInt32(int32(len(values)))
	s.w.WriteInt32(int32(stride))
	for _, v := range values {
		if err := binary.Write(s.w, s.w.order, v); err != nil {
			return err
		}
		if pad := stride - elemSize; pad > 0 {
			s.w.WriteZeros(int64(pad))
		}
	}
	return s.w.Err()
}

// ReadAlignedArray reverses WriteAlignedArray. The caller's T must match
// the element type the array was written with; there is no tag byte to
// check it against, since this is a side channel outside the tagged
// format proper.
func ReadAlignedArray[T AlignedPrimitive](d *Deserializer) ([]T, error) {
	if d.r.Err() != nil {
		return nil, d.r.Err()
	}

	var n, stride int32
	d.r.ReadInt32(&n)
	d.r.ReadInt32(&stride)
	if d.r.Err() != nil {
		return nil, d.r.Err()
	}
	if n < 0 || stride < 0 {
		return nil, fmt.Errorf("%w: negative length or stride", ErrFraming)
	}

	elemSize := alignedElemSize[T]()
	if int(stride) < elemSize {
		return nil, fmt.Errorf("%w: stride %d smaller than element size %d", ErrFraming, stride, elemSize)
	}

	out := make([]T, n)
	pad := int(stride) - elemSize
	for i := range out {
		if err := binary.Read(d.r, d.r.order, &out[i]); err != nil {
			d.r.setError(err)
			return nil, err
		}
		if pad > 0 {
			if _, err := Discard(d.r, int64(pad)); err != nil {
				d.r.setError(err)
				return nil, err
			}
		}
	}
	return out, d.r.Err()
}

func alignedElemSize[T AlignedPrimitive]() int {
	var zero T
	return int(reflect.TypeOf(zero).Size())
}

// ReadList streams a LIST or OBJECT_ARRAY value element-by-element,
// invoking fn for each decoded member instead of materializing the whole
// container, so a large sequence need not be held in memory at once.
// Grounded on teacher's list.go ReadFrom, which read items in a loop
// until EOF rather than allocating a backing slice up front.
func (d *Deserializer) ReadList(elemType reflect.Type, fn func(any) error) error {
	flag, err := d.peekFlag()
	if err != nil {
		return err
	}
	if flag != FlagList && flag != FlagObjectArray {
		return fmt.Errorf("%w: expected LIST or OBJECT_ARRAY, got %s", ErrFraming, flag)
	}
	d.consumeFlag()

	n := d.readArrayLen()
	if d.r.Err() != nil {
		return d.r.Err()
	}
	for i := 0; i < n; i++ {
		val, err := d.readMember(elemType)
		if err != nil {
			return err
		}
		if err := fn(val); err != nil {
			return err
		}
	}
	return d.r.Err()
}

// ReadMap streams a MAP value entry-by-entry, the streaming dual of
// ReadList for spec §4.2's MAP built-in.
func (d *Deserializer) ReadMap(keyType, valType reflect.Type, fn func(key, val any) error) error {
	flag, err := d.peekFlag()
	if err != nil {
		return err
	}
	if flag != FlagMap {
		return fmt.Errorf("%w: expected MAP, got %s", ErrFraming, flag)
	}
	d.consumeFlag()

	n := d.readArrayLen()
	if d.r.Err() != nil {
		return d.r.Err()
	}
	for i := 0; i < n; i++ {
		key, err := d.readMember(keyType)
		if err != nil {
			return err
		}
		val, err := d.readMember(valType)
		if err != nil {
			return err
		}
		if err := fn(key, val); err != nil {
			return err
		}
	}
	return d.r.Err()
}
