package kanary

import (
	"fmt"
	"io"
)

// SerializeSchema writes s in the self-describing form required by spec
// §4.7: every protocol's name, modifiers, ancestor names, and the name
// under which its read/write operations were registered (never the
// closures themselves, which Go cannot serialize). DeserializeSchema
// reverses this by resolving those names back through the process-wide
// registry registerNamedWrite/registerNamedRead populate.
func SerializeSchema(s *Schema, w io.Writer) error {
	aw, err := NewWriter(w)
	if err != nil {
		return err
	}
	aw.WriteInt32(int32(len(s.order)))
	for _, t := range s.order {
		p, ok := s.protocols[t]
		if !ok {
			continue
		}
		aw.WriteRawString(p.name)
		aw.WriteBool(p.hasFallback)
		aw.WriteBool(p.hasStatic)

		aw.WriteBool(p.hasWrite)
		if p.hasWrite {
			aw.WriteRawString(p.writeName)
		}
		aw.WriteBool(p.hasRead)
		if p.hasRead {
			aw.WriteRawString(p.readName)
		}

		aw.WriteInt32(int32(len(p.directAncestors)))
		for _, at := range p.directAncestors {
			ap, ok := s.protocols[at]
			if !ok {
				return fmt.Errorf("%w: %s has an ancestor with no protocol in this schema", ErrMalformedProtocol, p.name)
			}
			aw.WriteRawString(ap.name)
		}
	}
	return aw.Flush()
}

// rawProtocol is the on-wire shape of one protocol row; a two-pass
// reconstruction (rows first, ancestor wiring second) is needed because
// ancestor references are by name and may point forward in the stream.
type rawProtocol struct {
	name                   string
	hasFallback, hasStatic bool
	hasWrite, hasRead      bool
	writeName, readName    string
	ancestorNames          []string
}

// DeserializeSchema reconstructs a Schema from bytes written by
// SerializeSchema. Every read/write operation named in the stream must
// have been registered (by building at least one schema that defines it)
// in this process before DeserializeSchema runs; an unregistered name is
// a MalformedProtocol error, mirroring spec §3's "identity beyond a name
// string is out of scope" Non-goal.
func DeserializeSchema(r io.Reader) (*Schema, error) {
	ar, err := NewReader(r)
	if err != nil {
		return nil, err
	}

	var count int32
	ar.ReadInt32(&count)
	if ar.Err() != nil {
		return nil, ar.Err()
	}
	if count < 0 {
		return nil, fmt.Errorf("%w: negative protocol count", ErrFraming)
	}

	raws := make([]rawProtocol, count)
	for i := range raws {
		raws[i].name = ar.ReadRawString()
		ar.ReadBool(&raws[i].hasFallback)
		ar.ReadBool(&raws[i].hasStatic)
		ar.ReadBool(&raws[i].hasWrite)
		if raws[i].hasWrite {
			raws[i].writeName = ar.ReadRawString()
		}
		ar.ReadBool(&raws[i].hasRead)
		if raws[i].hasRead {
			raws[i].readName = ar.ReadRawString()
		}
		var nAncestors int32
		ar.ReadInt32(&nAncestors)
		if ar.Err() != nil {
			return nil, ar.Err()
		}
		raws[i].ancestorNames = make([]string, nAncestors)
		for j := range raws[i].ancestorNames {
			raws[i].ancestorNames[j] = ar.ReadRawString()
		}
		if ar.Err() != nil {
			return nil, ar.Err()
		}
	}

	b := NewSchemaBuilder()
	byName := make(map[string]*protocol, len(raws))
	for _, raw := range raws {
		p := &protocol{name: raw.name, hasFallback: raw.hasFallback, hasStatic: raw.hasStatic}

		if raw.hasWrite {
			e, ok := lookupNamedWrite(raw.writeName)
			if !ok {
				return nil, fmt.Errorf("%w: no write operation registered under name %q for %s", ErrMalformedProtocol, raw.writeName, raw.name)
			}
			p.typ, p.write, p.writeName, p.hasWrite = e.typ, e.write, raw.writeName, true
		}
		if raw.hasRead {
			e, ok := lookupNamedRead(raw.readName)
			if !ok {
				return nil, fmt.Errorf("%w: no read operation registered under name %q for %s", ErrMalformedProtocol, raw.readName, raw.name)
			}
			if p.typ == nil {
				p.typ = e.typ
			}
			p.read, p.readName, p.hasRead = e.read, raw.readName, true
		}
		if p.typ == nil {
			return nil, fmt.Errorf("%w: %s has neither a resolvable read nor write operation", ErrMalformedProtocol, raw.name)
		}
		byName[raw.name] = p
	}

	for _, raw := range raws {
		p := byName[raw.name]
		for _, an := range raw.ancestorNames {
			ap, ok := byName[an]
			if !ok {
				return nil, fmt.Errorf("%w: %s references unknown ancestor %s", ErrMalformedProtocol, raw.name, an)
			}
			p.directAncestors = append(p.directAncestors, ap.typ)
		}
		b.put(p.typ, p)
	}

	return b.Build()
}
