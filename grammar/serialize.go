package grammar

import (
	"fmt"

	"github.com/ollama/constrain/codec"
	"github.com/ollama/constrain/container"
)

// The cache document is a single JSON (or CBOR) value holding the
// compiled form of a Grammar: per-rule CSR edge tables, hashes, and
// canonical state remaps. Rule bodies are not persisted; the front end
// owns those and matchers never read them.

const wireVersion = 1

type ruleWire struct {
	ID        int32
	Name      string
	Start     int32
	Accepting []int32
	EdgeData  []Edge
	EdgePtr   []int32
}

type grammarWire struct {
	Version  int
	Root     int32
	Rules    []ruleWire
	Hashes   []*uint64
	StateIDs []map[int32]int32
}

var edgeCodec = codec.Struct(
	codec.F("min", func(e *Edge) *int32 { return &e.Min }, codec.Number[int32]()),
	codec.F("max", func(e *Edge) *int32 { return &e.Max }, codec.Number[int32]()),
	codec.F("target", func(e *Edge) *int32 { return &e.Target }, codec.Number[int32]()),
)

var ruleCodec = codec.Struct(
	codec.F("id", func(r *ruleWire) *int32 { return &r.ID }, codec.Number[int32]()),
	codec.F("name", func(r *ruleWire) *string { return &r.Name }, codec.String()),
	codec.F("start", func(r *ruleWire) *int32 { return &r.Start }, codec.Number[int32]()),
	codec.F("accepting", func(r *ruleWire) *[]int32 { return &r.Accepting }, codec.Slice(codec.Number[int32]())),
	codec.F("edge_data", func(r *ruleWire) *[]Edge { return &r.EdgeData }, codec.Slice(edgeCodec)),
	codec.F("edge_indptr", func(r *ruleWire) *[]int32 { return &r.EdgePtr }, codec.Slice(codec.Number[int32]())),
)

var grammarCodec = codec.Struct(
	codec.F("version", func(w *grammarWire) *int { return &w.Version }, codec.Number[int]()),
	codec.F("root", func(w *grammarWire) *int32 { return &w.Root }, codec.Number[int32]()),
	codec.F("rules", func(w *grammarWire) *[]ruleWire { return &w.Rules }, codec.Slice(ruleCodec)),
	codec.F("hashes", func(w *grammarWire) *[]*uint64 { return &w.Hashes }, codec.Slice(codec.Ptr(codec.Uint64Hex()))),
	codec.F("state_ids", func(w *grammarWire) *[]map[int32]int32 { return &w.StateIDs },
		codec.Slice(codec.KeyedMap(codec.Number[int32](), codec.Number[int32]()))),
)

func (g *Grammar) wire() grammarWire {
	w := grammarWire{
		Version:  wireVersion,
		Root:     g.root,
		Hashes:   g.hashes,
		StateIDs: g.stateIDs,
	}
	for _, r := range g.rules {
		csr := r.fsm.compact()
		w.Rules = append(w.Rules, ruleWire{
			ID:        r.ID,
			Name:      r.Name,
			Start:     r.fsm.Start(),
			Accepting: r.fsm.Accepting(),
			EdgeData:  csr.Data(),
			EdgePtr:   csr.Indptr(),
		})
	}
	return w
}

// fromWire validates the document and rebuilds the Grammar's state. It
// builds everything aside first so a failed call leaves g untouched.
func (g *Grammar) fromWire(w grammarWire) error {
	if w.Version != wireVersion {
		return fmt.Errorf("unsupported document version %d", w.Version)
	}
	n := len(w.Rules)
	if len(w.Hashes) != n || len(w.StateIDs) != n {
		return fmt.Errorf("side tables cover %d/%d rules, want %d", len(w.Hashes), len(w.StateIDs), n)
	}
	if w.Root < 0 || int(w.Root) >= n {
		return fmt.Errorf("root rule %d out of range", w.Root)
	}
	rules := make([]*Rule, 0, n)
	byName := make(map[string]int32, n)
	for i, rw := range w.Rules {
		if rw.ID != int32(i) {
			return fmt.Errorf("rule %d carries id %d", i, rw.ID)
		}
		csr, err := container.CSRFromParts(rw.EdgeData, rw.EdgePtr)
		if err != nil {
			return fmt.Errorf("rule %q: %w", rw.Name, err)
		}
		states := int32(csr.Rows())
		if rw.Start < 0 || rw.Start >= states {
			return fmt.Errorf("rule %q: start state %d out of range", rw.Name, rw.Start)
		}
		for _, e := range rw.EdgeData {
			if err := validateEdge(e, states, int32(n)); err != nil {
				return fmt.Errorf("rule %q: %w", rw.Name, err)
			}
		}
		for _, s := range rw.Accepting {
			if s < 0 || s >= states {
				return fmt.Errorf("rule %q: accepting state %d out of range", rw.Name, s)
			}
		}
		rules = append(rules, &Rule{
			ID:   rw.ID,
			Name: rw.Name,
			fsm:  fromCompact(rw.Start, rw.Accepting, csr),
		})
		byName[rw.Name] = rw.ID
	}
	g.rules = rules
	g.byName = byName
	g.root = w.Root
	g.hashes = w.Hashes
	g.stateIDs = w.StateIDs
	return nil
}

func validateEdge(e Edge, states, rules int32) error {
	switch {
	case e.Target < 0 || e.Target >= states:
		return fmt.Errorf("edge target %d out of range", e.Target)
	case e.IsEpsilon():
		return nil
	case e.IsRuleRef():
		if e.Max >= rules {
			return fmt.Errorf("edge references rule %d of %d", e.Max, rules)
		}
		return nil
	case e.IsCharRange():
		if e.Min > e.Max {
			return &InvalidRangeError{Lo: e.Min, Hi: e.Max}
		}
		return nil
	default:
		return fmt.Errorf("edge (%d,%d) has no kind", e.Min, e.Max)
	}
}

// MarshalJSON renders the compiled grammar as the JSON cache document.
func (g *Grammar) MarshalJSON() ([]byte, error) {
	return codec.MarshalJSON(grammarCodec, g.wire())
}

// UnmarshalJSON replaces g with the grammar a cache document
// describes. On error g is left untouched.
func (g *Grammar) UnmarshalJSON(data []byte) error {
	var w grammarWire
	if err := codec.UnmarshalJSON(grammarCodec, &w, data); err != nil {
		return err
	}
	return g.fromWire(w)
}

// MarshalBinary renders the same document as CBOR.
func (g *Grammar) MarshalBinary() ([]byte, error) {
	return codec.MarshalCBOR(grammarCodec, g.wire())
}

// UnmarshalBinary replaces g from a CBOR document. On error g is left
// untouched.
func (g *Grammar) UnmarshalBinary(data []byte) error {
	var w grammarWire
	if err := codec.UnmarshalCBOR(grammarCodec, &w, data); err != nil {
		return err
	}
	return g.fromWire(w)
}
