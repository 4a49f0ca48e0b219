package grammar

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func testDefs() (string, []RuleDef) {
	return "root", []RuleDef{
		{Name: "root", Body: Sequence{Ref("word"), Repeat{Body: Ref("digits"), Op: Star}}},
		{Name: "word", Body: Repeat{Body: Range('a', 'z'), Op: Plus}},
		{Name: "digits", Body: Choice{Range('0', '9'), Literal("-")}},
	}
}

func compileTestDefs(t *testing.T) *Grammar {
	t.Helper()
	root, defs := testDefs()
	return mustCompile(t, root, defs)
}

func requireEqualGrammars(t *testing.T, want, got *Grammar) {
	t.Helper()
	if got.NumRules() != want.NumRules() || got.Root() != want.Root() {
		t.Fatalf("shape: %d rules root %d, want %d rules root %d",
			got.NumRules(), got.Root(), want.NumRules(), want.Root())
	}
	for id := int32(0); id < int32(want.NumRules()); id++ {
		rw, rg := want.Rule(id), got.Rule(id)
		if rg.Name != rw.Name || rg.ID != rw.ID {
			t.Errorf("rule %d: %q/%d, want %q/%d", id, rg.Name, rg.ID, rw.Name, rw.ID)
		}
		mw, mg := rw.FSM(), rg.FSM()
		if mg.NumStates() != mw.NumStates() || mg.Start() != mw.Start() {
			t.Fatalf("rule %d: fsm shape differs", id)
		}
		if diff := cmp.Diff(mw.Accepting(), mg.Accepting()); diff != "" {
			t.Errorf("rule %d accepting (-want +got):\n%s", id, diff)
		}
		for s := int32(0); s < int32(mw.NumStates()); s++ {
			if diff := cmp.Diff(mw.Edges(s), mg.Edges(s)); diff != "" {
				t.Errorf("rule %d state %d (-want +got):\n%s", id, s, diff)
			}
		}
		hw, okw := want.Hash(id)
		hg, okg := got.Hash(id)
		if okw != okg || hw != hg {
			t.Errorf("rule %d hash: %#x/%v, want %#x/%v", id, hg, okg, hw, okw)
		}
		if diff := cmp.Diff(want.CanonicalStateIDs(id), got.CanonicalStateIDs(id)); diff != "" {
			t.Errorf("rule %d remap (-want +got):\n%s", id, diff)
		}
	}
}

func TestJSONRoundTrip(t *testing.T) {
	g := compileTestDefs(t)

	data, err := json.Marshal(g)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got Grammar
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	requireEqualGrammars(t, g, &got)

	// Rule bodies are not persisted.
	if got.Rule(0).Body != nil {
		t.Error("deserialized rule carries a body")
	}
	if r, ok := got.RuleByName("digits"); !ok || r.ID != 2 {
		t.Errorf("RuleByName after round trip: %v, %v", r, ok)
	}
}

func TestJSONRoundTripWithoutCanonicalize(t *testing.T) {
	root, defs := testDefs()
	g, err := New(root, defs)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	data, err := json.Marshal(g)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got Grammar
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := got.Hash(0); ok {
		t.Error("hash materialized out of nowhere")
	}
}

func TestBinaryRoundTrip(t *testing.T) {
	g := compileTestDefs(t)

	data, err := g.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	var got Grammar
	if err := got.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	requireEqualGrammars(t, g, &got)
}

func TestMarshalDeterministic(t *testing.T) {
	g := compileTestDefs(t)
	a, err := json.Marshal(g)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	b, err := json.Marshal(g)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(a) != string(b) {
		t.Errorf("marshaling not deterministic:\n%s\n%s", a, b)
	}
}

// mutate unmarshals a valid document into a generic tree, lets the
// callback corrupt it, and re-marshals.
func mutate(t *testing.T, g *Grammar, f func(doc map[string]any)) []byte {
	t.Helper()
	data, err := json.Marshal(g)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("Unmarshal tree: %v", err)
	}
	f(doc)
	out, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("re-Marshal: %v", err)
	}
	return out
}

func TestUnmarshalRejectsCorruptDocuments(t *testing.T) {
	g := compileTestDefs(t)

	cases := []struct {
		name    string
		corrupt func(doc map[string]any)
		wantErr string
	}{
		{
			"bad version",
			func(doc map[string]any) { doc["version"] = float64(99) },
			"version",
		},
		{
			"root out of range",
			func(doc map[string]any) { doc["root"] = float64(12) },
			"out of range",
		},
		{
			"missing field",
			func(doc map[string]any) { delete(doc, "hashes") },
			"hashes",
		},
		{
			"rule id mismatch",
			func(doc map[string]any) {
				doc["rules"].([]any)[1].(map[string]any)["id"] = float64(7)
			},
			"carries id",
		},
		{
			"corrupt indptr",
			func(doc map[string]any) {
				doc["rules"].([]any)[0].(map[string]any)["edge_indptr"] = []any{float64(0), float64(99)}
			},
			"",
		},
		{
			"start out of range",
			func(doc map[string]any) {
				doc["rules"].([]any)[0].(map[string]any)["start"] = float64(-1)
			},
			"start state",
		},
		{
			"edge target out of range",
			func(doc map[string]any) {
				edge := doc["rules"].([]any)[0].(map[string]any)["edge_data"].([]any)[0].(map[string]any)
				edge["target"] = float64(1000)
			},
			"target",
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			var got Grammar
			err := json.Unmarshal(mutate(t, g, tt.corrupt), &got)
			if err == nil {
				t.Fatal("corrupt document accepted")
			}
			if tt.wantErr != "" && !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestUnmarshalErrorLeavesGrammarUntouched(t *testing.T) {
	g := compileTestDefs(t)
	data, err := json.Marshal(g)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got Grammar
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	bad := mutate(t, g, func(doc map[string]any) { doc["version"] = float64(2) })
	if err := got.UnmarshalJSON(bad); err == nil {
		t.Fatal("corrupt document accepted")
	}
	requireEqualGrammars(t, g, &got)
}
