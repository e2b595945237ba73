package kanary

import (
	"fmt"
	"reflect"

	"github.com/samber/lo"
)

// writeStep is one entry of a write sequence: the ancestor (or T itself)
// and the write operation to invoke for it.
type writeStep struct {
	name  string
	write erasedWriteFunc
}

// Schema is the immutable, concurrency-safe registry of protocols built
// from a SchemaBuilder. Once built it never changes; Serializer and
// Deserializer instances borrow it for the duration of a call (spec §5).
type Schema struct {
	protocols map[reflect.Type]*protocol
	byName    map[string]*protocol

	// order preserves declaration order, needed for spec §4.4's
	// "consult ancestors ... in declaration order" resolution of
	// unregistered concrete types against registered interfaces.
	order []reflect.Type

	// ancestorChains[t] is the flattened, root-first ancestor chain for
	// t, used both to assemble supertype packets on write and to walk
	// for a fallback reader on read.
	ancestorChains map[reflect.Type][]reflect.Type
}

// Build finalizes the builder into an immutable Schema, validating every
// invariant in spec §3/§4.3. The first validation or configuration error
// recorded anywhere during building is returned here.
func (b *SchemaBuilder) Build() (*Schema, error) {
	if b.err != nil {
		return nil, b.err
	}

	protocols := b.all()
	byType := make(map[reflect.Type]*protocol, len(protocols))
	byName := make(map[string]*protocol, len(protocols))
	for _, p := range protocols {
		byType[p.typ] = p
		byName[p.name] = p
	}

	chains := make(map[reflect.Type][]reflect.Type, len(protocols))
	visiting := make(map[reflect.Type]bool)
	var resolve func(t reflect.Type) ([]reflect.Type, error)
	resolve = func(t reflect.Type) ([]reflect.Type, error) {
		if chain, ok := chains[t]; ok {
			return chain, nil
		}
		p, ok := byType[t]
		if !ok {
			return nil, nil
		}
		if visiting[t] {
			return nil, fmt.Errorf("%w: ancestor cycle involving %s", ErrMalformedProtocol, p.name)
		}
		visiting[t] = true
		defer delete(visiting, t)

		var chain []reflect.Type
		for _, direct := range p.directAncestors {
			ancestorChain, err := resolve(direct)
			if err != nil {
				return nil, err
			}
			chain = append(chain, ancestorChain...)
			chain = append(chain, direct)
		}
		chain = lo.Uniq(chain)
		chains[t] = chain
		return chain, nil
	}

	for _, p := range protocols {
		chain, err := resolve(p.typ)
		if err != nil {
			return nil, err
		}
		chains[p.typ] = chain
	}

	// hasFallback legality: T must be non-final, i.e. have at least one
	// descendant somewhere in the schema.
	hasDescendant := make(map[reflect.Type]bool)
	for _, p := range protocols {
		for _, ancestor := range chains[p.typ] {
			hasDescendant[ancestor] = true
		}
	}
	for _, p := range protocols {
		if !p.hasFallback {
			continue
		}
		if !hasDescendant[p.typ] {
			return nil, fmt.Errorf("%w: %s: Fallback on a final type (no registered subtype)", ErrMalformedProtocol, p.name)
		}
		b.logger.Debug().Str("type", p.name).Msg("fallback reader resolved for a non-final type")
	}

	// hasStatic exclusivity: no proper subtype of a static type may
	// define a write operation.
	for _, p := range protocols {
		if !p.hasStatic {
			continue
		}
		for _, other := range protocols {
			if other == p || !other.hasWrite {
				continue
			}
			for _, ancestor := range chains[other.typ] {
				if ancestor == p.typ {
					return nil, fmt.Errorf("%w: %s is static but subtype %s defines a write operation", ErrMalformedProtocol, p.name, other.name)
				}
			}
		}
	}

	// abstract-read legality: a non-fallback reader is only meaningful
	// on a concrete (non-anonymous, already-named) type; Go has no
	// "abstract" keyword, so the only enforceable form of this spec §4.3
	// rule is that an interface type (which can never be instantiated by
	// a reader returning a concrete T) must use Fallback.
	for _, p := range protocols {
		if p.hasRead && !p.hasFallback && p.typ.Kind() == reflect.Interface {
			return nil, fmt.Errorf("%w: %s is an interface type and must use Fallback for its reader", ErrMalformedProtocol, p.name)
		}
	}

	order := make([]reflect.Type, 0, len(protocols))
	for _, p := range protocols {
		order = append(order, p.typ)
	}

	return &Schema{
		protocols:      byType,
		byName:         byName,
		order:          order,
		ancestorChains: chains,
	}, nil
}

// writeSequence returns T's own (name, writeOp) first if it has a write
// operation, followed by its ancestors' write operations in root-first
// declaration order, per spec §3. The wire emission order for supertype
// packets is the ancestor portion of this sequence (see serializer.go).
func (s *Schema) writeSequence(p *protocol) []writeStep {
	var seq []writeStep
	for _, at := range s.ancestorChains[p.typ] {
		ap, ok := s.protocols[at]
		if !ok || !ap.hasWrite {
			continue
		}
		seq = append(seq, writeStep{name: ap.name, write: ap.write})
	}
	if p.hasWrite {
		seq = append([]writeStep{{name: p.name, write: p.write}}, seq...)
	}
	return seq
}

// resolveReader implements spec §4.6.c: T's own reader, or the nearest
// ancestor (walking from nearest to furthest) whose reader has
// hasFallback set.
func (s *Schema) resolveReader(p *protocol) *protocol {
	if p.hasRead {
		return p
	}
	chain := s.ancestorChains[p.typ]
	for i := len(chain) - 1; i >= 0; i-- {
		ap, ok := s.protocols[chain[i]]
		if ok && ap.hasRead && ap.hasFallback {
			return ap
		}
	}
	return nil
}

func (s *Schema) resolveReaderByName(name string) *protocol {
	p, ok := s.byName[name]
	if !ok {
		return nil
	}
	return s.resolveReader(p)
}

func (s *Schema) protocolFor(t reflect.Type) *protocol {
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil {
		return nil
	}
	return s.protocols[t]
}

// Describe returns a debug dump of every registered protocol: its name,
// modifiers, and the length of its flattened ancestor chain. It is a library-introspection aid
// (SPEC_FULL §4 "Supplemented features"); the engine has no CLI surface.
func (s *Schema) Describe() []string {
	out := make([]string, 0, len(s.protocols))
	for _, p := range s.protocols {
		out = append(out, fmt.Sprintf(
			"%s[read=%t fallback=%t write=%t static=%t ancestors=%d]",
			p.name, p.hasRead, p.hasFallback, p.hasWrite, p.hasStatic, len(s.ancestorChains[p.typ]),
		))
	}
	return out
}
