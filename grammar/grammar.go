package grammar

// Rule is one named production and the FSM built from its body. Ids
// are assigned by the Grammar in declaration order.
type Rule struct {
	ID   int32
	Name string
	Body Expr // nil after deserialization; matchers never read it
	fsm  *FSM
}

// FSM returns the rule's automaton.
func (r *Rule) FSM() *FSM { return r.fsm }

// RuleDef is the front end's handoff for one rule.
type RuleDef struct {
	Name string
	Body Expr
}

// Grammar is an ordered rule set with a designated root. It
// exclusively owns every rule's FSM and the two per-rule side tables
// filled in by Canonicalize.
type Grammar struct {
	rules  []*Rule
	byName map[string]int32
	root   int32

	// hashes[i] is rule i's canonical structural hash, nil until
	// Canonicalize has run.
	hashes []*uint64
	// stateIDs[i] maps rule i's original state ids to canonical ids,
	// nil until Canonicalize has run.
	stateIDs []map[int32]int32
}

// New builds a Grammar from the front end's rule table, compiling every
// rule body into an FSM. Any failure aborts the whole construction; no
// partial Grammar is returned.
func New(root string, defs []RuleDef) (*Grammar, error) {
	g := &Grammar{
		byName:   make(map[string]int32, len(defs)),
		hashes:   make([]*uint64, len(defs)),
		stateIDs: make([]map[int32]int32, len(defs)),
	}
	for i, def := range defs {
		r := &Rule{ID: int32(i), Name: def.Name, Body: def.Body}
		g.rules = append(g.rules, r)
		g.byName[def.Name] = r.ID
	}
	id, ok := g.byName[root]
	if !ok {
		return nil, &UnresolvedRuleError{Ref: root}
	}
	g.root = id
	for _, r := range g.rules {
		fsm, err := buildRule(g, r)
		if err != nil {
			return nil, err
		}
		r.fsm = fsm
	}
	return g, nil
}

// NumRules reports the number of rules.
func (g *Grammar) NumRules() int { return len(g.rules) }

// Root returns the root rule's id.
func (g *Grammar) Root() int32 { return g.root }

// Rule returns the rule with the given id.
func (g *Grammar) Rule(id int32) *Rule { return g.rules[id] }

// RuleByName returns the rule with the given name, if any.
func (g *Grammar) RuleByName(name string) (*Rule, bool) {
	id, ok := g.byName[name]
	if !ok {
		return nil, false
	}
	return g.rules[id], true
}

// Hash returns rule id's canonical hash. ok is false until
// Canonicalize has run.
func (g *Grammar) Hash(id int32) (uint64, bool) {
	if h := g.hashes[id]; h != nil {
		return *h, true
	}
	return 0, false
}

// CanonicalStateIDs returns rule id's original→canonical state id map,
// or nil until Canonicalize has run. Side tables indexed by original
// state ids can be remapped through it. The map is read-only.
func (g *Grammar) CanonicalStateIDs(id int32) map[int32]int32 {
	return g.stateIDs[id]
}
