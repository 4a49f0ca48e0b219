package grammar

// buildRule compiles one rule body into a fresh FSM. State 0 is the
// start, state 1 the sole accepting state, and the body is constructed
// between them. Construction order is fully deterministic, so equal
// rule trees always produce identical FSMs.
func buildRule(g *Grammar, r *Rule) (*FSM, error) {
	m := newFSM()
	start := m.addState()
	end := m.addState()
	m.start = start
	m.accepting[end] = struct{}{}
	b := &builder{g: g, m: m, rule: r.Name}
	if err := b.build(r.Body, start, end); err != nil {
		return nil, err
	}
	return m, nil
}

type builder struct {
	g    *Grammar
	m    *FSM
	rule string
}

// build constructs expr between the given states. Sharing the
// endpoints instead of allocating per sub-expression keeps automata
// small: a choice of character classes collapses to two states.
func (b *builder) build(expr Expr, from, to int32) error {
	switch e := expr.(type) {
	case CharClass:
		for _, r := range e.Ranges {
			edge, err := CharRange(r.Lo, r.Hi, to)
			if err != nil {
				return &InvalidRangeError{Rule: b.rule, Lo: r.Lo, Hi: r.Hi}
			}
			b.m.addEdge(from, edge)
		}
		return nil

	case Literal:
		runes := []rune(e)
		if len(runes) == 0 {
			b.m.addEdge(from, Epsilon(to))
			return nil
		}
		cur := from
		for i, r := range runes {
			next := to
			if i < len(runes)-1 {
				next = b.m.addState()
			}
			edge, err := CharRange(r, r, next)
			if err != nil {
				return &InvalidRangeError{Rule: b.rule, Lo: r, Hi: r}
			}
			b.m.addEdge(cur, edge)
			cur = next
		}
		return nil

	case Sequence:
		if len(e) == 0 {
			b.m.addEdge(from, Epsilon(to))
			return nil
		}
		cur := from
		for i, sub := range e {
			next := to
			if i < len(e)-1 {
				next = b.m.addState()
			}
			if err := b.build(sub, cur, next); err != nil {
				return err
			}
			cur = next
		}
		return nil

	case Choice:
		for _, alt := range e {
			if err := b.build(alt, from, to); err != nil {
				return err
			}
		}
		return nil

	case Repeat:
		switch e.Op {
		case Optional:
			b.m.addEdge(from, Epsilon(to))
			return b.build(e.Body, from, to)
		default:
			// Star and Plus share the loop shape: the body runs
			// between two fresh states with an epsilon back-edge;
			// Star additionally skips the body entirely.
			head := b.m.addState()
			tail := b.m.addState()
			b.m.addEdge(from, Epsilon(head))
			b.m.addEdge(tail, Epsilon(head))
			b.m.addEdge(tail, Epsilon(to))
			if e.Op == Star {
				b.m.addEdge(from, Epsilon(to))
			}
			return b.build(e.Body, head, tail)
		}

	case Ref:
		id, ok := b.g.byName[string(e)]
		if !ok {
			return &UnresolvedRuleError{Rule: b.rule, Ref: string(e)}
		}
		b.m.addEdge(from, RuleRef(id, to))
		return nil

	default:
		// Unknown Expr implementations cannot come from the front end.
		return &UnresolvedRuleError{Rule: b.rule, Ref: "<unknown expression>"}
	}
}
