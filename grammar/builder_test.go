package grammar

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEdgeKinds(t *testing.T) {
	eps := Epsilon(3)
	ref := RuleRef(2, 5)
	rng, err := CharRange('a', 'z', 7)
	if err != nil {
		t.Fatalf("CharRange: %v", err)
	}

	for _, tt := range []struct {
		name                      string
		edge                      Edge
		epsilon, ruleRef, charRng bool
	}{
		{"epsilon", eps, true, false, false},
		{"rule ref", ref, false, true, false},
		{"char range", rng, false, false, true},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.edge.IsEpsilon(); got != tt.epsilon {
				t.Errorf("IsEpsilon = %v", got)
			}
			if got := tt.edge.IsRuleRef(); got != tt.ruleRef {
				t.Errorf("IsRuleRef = %v", got)
			}
			if got := tt.edge.IsCharRange(); got != tt.charRng {
				t.Errorf("IsCharRange = %v", got)
			}
		})
	}

	if id, err := ref.RefRule(); err != nil || id != 2 {
		t.Errorf("RefRule = %d, %v", id, err)
	}
	if _, err := eps.RefRule(); err == nil {
		t.Error("RefRule on epsilon edge should fail")
	}
	if _, err := CharRange('z', 'a', 0); err == nil {
		t.Error("reversed CharRange should fail")
	}
	var ire *InvalidRangeError
	if _, err := CharRange(-2, 'a', 0); !errors.As(err, &ire) {
		t.Errorf("negative CharRange: %v", err)
	}
}

func TestChoiceSharesEndpoints(t *testing.T) {
	g, err := New("root", []RuleDef{
		{Name: "root", Body: Choice{Range('a', 'z'), Range('0', '9')}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m := g.Rule(0).FSM()
	if m.NumStates() != 2 {
		t.Fatalf("NumStates = %d, want 2", m.NumStates())
	}
	want := []Edge{
		{Min: 'a', Max: 'z', Target: 1},
		{Min: '0', Max: '9', Target: 1},
	}
	if diff := cmp.Diff(want, m.Edges(m.Start())); diff != "" {
		t.Errorf("edges mismatch (-want +got):\n%s", diff)
	}
	if !m.IsAccepting(1) || m.IsAccepting(0) {
		t.Errorf("accepting set wrong: %v", m.Accepting())
	}
}

func TestLiteralChain(t *testing.T) {
	g, err := New("root", []RuleDef{{Name: "root", Body: Literal("ab")}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m := g.Rule(0).FSM()
	if m.NumStates() != 3 {
		t.Fatalf("NumStates = %d, want 3", m.NumStates())
	}
	if diff := cmp.Diff([]Edge{{Min: 'a', Max: 'a', Target: 2}}, m.Edges(0)); diff != "" {
		t.Errorf("first edge (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]Edge{{Min: 'b', Max: 'b', Target: 1}}, m.Edges(2)); diff != "" {
		t.Errorf("second edge (-want +got):\n%s", diff)
	}
}

func TestRuleRefNotInlined(t *testing.T) {
	g, err := New("root", []RuleDef{
		{Name: "root", Body: Sequence{Ref("hex"), Ref("hex")}},
		{Name: "hex", Body: Choice{Range('0', '9'), Range('a', 'f')}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m := g.Rule(0).FSM()
	// Two calls, one intermediate state; the callee FSM is not copied in.
	if m.NumStates() != 3 {
		t.Fatalf("NumStates = %d, want 3", m.NumStates())
	}
	edges := m.Edges(0)
	if len(edges) != 1 || !edges[0].IsRuleRef() {
		t.Fatalf("start edges = %v, want one rule reference", edges)
	}
	id, err := edges[0].RefRule()
	if err != nil || id != 1 {
		t.Errorf("RefRule = %d, %v, want 1", id, err)
	}
	if edges[0].Target != 2 {
		t.Errorf("return continuation = %d, want intermediate state 2", edges[0].Target)
	}
}

func TestRepeatShapes(t *testing.T) {
	for _, tt := range []struct {
		name       string
		op         RepeatOp
		wantStates int
		// epsilon edges out of the start state
		wantStartEps int
	}{
		{"star", Star, 4, 2},    // into the loop head and skipping to accept
		{"plus", Plus, 4, 1},    // into the loop head only
		{"optional", Optional, 2, 1}, // body shares endpoints, plus a skip
	} {
		t.Run(tt.name, func(t *testing.T) {
			g, err := New("root", []RuleDef{
				{Name: "root", Body: Repeat{Body: Range('a', 'z'), Op: tt.op}},
			})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			m := g.Rule(0).FSM()
			if m.NumStates() != tt.wantStates {
				t.Errorf("NumStates = %d, want %d", m.NumStates(), tt.wantStates)
			}
			eps := 0
			for _, e := range m.Edges(m.Start()) {
				if e.IsEpsilon() {
					eps++
				}
			}
			if eps != tt.wantStartEps {
				t.Errorf("epsilon edges from start = %d, want %d", eps, tt.wantStartEps)
			}
		})
	}
}

func TestEmptySequenceAndLiteral(t *testing.T) {
	g, err := New("root", []RuleDef{
		{Name: "root", Body: Sequence{}},
		{Name: "empty", Body: Literal("")},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for id := int32(0); id < 2; id++ {
		m := g.Rule(id).FSM()
		if diff := cmp.Diff([]Edge{Epsilon(1)}, m.Edges(0)); diff != "" {
			t.Errorf("rule %d (-want +got):\n%s", id, diff)
		}
	}
}

func TestBuildDeterministic(t *testing.T) {
	defs := []RuleDef{
		{Name: "root", Body: Sequence{Literal("ab"), Repeat{Body: Ref("d"), Op: Star}}},
		{Name: "d", Body: Range('0', '9')},
	}
	g1, err := New("root", defs)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	g2, err := New("root", defs)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for id := int32(0); id < int32(g1.NumRules()); id++ {
		m1, m2 := g1.Rule(id).FSM(), g2.Rule(id).FSM()
		if m1.NumStates() != m2.NumStates() || m1.Start() != m2.Start() {
			t.Fatalf("rule %d: shape differs", id)
		}
		for s := int32(0); s < int32(m1.NumStates()); s++ {
			if diff := cmp.Diff(m1.Edges(s), m2.Edges(s)); diff != "" {
				t.Errorf("rule %d state %d (-first +second):\n%s", id, s, diff)
			}
		}
	}
}

func TestBuildErrors(t *testing.T) {
	t.Run("unresolved reference", func(t *testing.T) {
		g, err := New("root", []RuleDef{{Name: "root", Body: Ref("nope")}})
		var ure *UnresolvedRuleError
		if !errors.As(err, &ure) {
			t.Fatalf("err = %v, want UnresolvedRuleError", err)
		}
		if g != nil {
			t.Error("failed New must not return a partial Grammar")
		}
		if ure.Rule != "root" || ure.Ref != "nope" {
			t.Errorf("error context = %+v", ure)
		}
	})

	t.Run("unknown root", func(t *testing.T) {
		_, err := New("missing", []RuleDef{{Name: "root", Body: Literal("x")}})
		var ure *UnresolvedRuleError
		if !errors.As(err, &ure) || ure.Ref != "missing" {
			t.Fatalf("err = %v, want UnresolvedRuleError for root", err)
		}
	})

	t.Run("invalid range", func(t *testing.T) {
		g, err := New("root", []RuleDef{
			{Name: "root", Body: CharClass{Ranges: []CharRangeLit{{Lo: 'z', Hi: 'a'}}}},
		})
		var ire *InvalidRangeError
		if !errors.As(err, &ire) {
			t.Fatalf("err = %v, want InvalidRangeError", err)
		}
		if g != nil {
			t.Error("failed New must not return a partial Grammar")
		}
		if ire.Rule != "root" {
			t.Errorf("error names rule %q, want root", ire.Rule)
		}
	})
}
