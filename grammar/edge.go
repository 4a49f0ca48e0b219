// Package grammar compiles rule trees into per-rule finite-state
// machines for constrained decoding. A compiled Grammar is immutable
// and safe to share across any number of matchers; recompiling always
// produces a fresh Grammar.
package grammar

// sentinel marks the non-character value in an edge's Min field (and,
// for epsilon edges, Max). It is the sole discriminator between the
// three edge kinds.
const sentinel = -1

// Edge is one transition of a rule's FSM. Three disjoint kinds share
// the struct:
//
//   - epsilon: Min == -1, Max == -1
//   - rule reference: Min == -1, Max == rule id; Target is the state
//     the matcher continues at after the called rule returns
//   - char range: Min >= 0, Max >= 0, an inclusive code-point range
//
// The matcher treats a rule reference as a push into the callee's FSM
// at its start state, with Target as the return continuation.
type Edge struct {
	Min, Max int32
	Target   int32
}

// Epsilon returns a no-input transition to target.
func Epsilon(target int32) Edge {
	return Edge{Min: sentinel, Max: sentinel, Target: target}
}

// RuleRef returns a transition that calls rule, continuing at target
// when the call returns.
func RuleRef(rule, target int32) Edge {
	return Edge{Min: sentinel, Max: rule, Target: target}
}

// CharRange returns a transition on any code point in [lo, hi]. It
// fails with InvalidRangeError when the range is reversed or either
// bound is negative.
func CharRange(lo, hi rune, target int32) (Edge, error) {
	if lo < 0 || hi < 0 || lo > hi {
		return Edge{}, &InvalidRangeError{Lo: lo, Hi: hi}
	}
	return Edge{Min: lo, Max: hi, Target: target}, nil
}

// IsEpsilon reports whether e is a no-input transition.
func (e Edge) IsEpsilon() bool { return e.Min == sentinel && e.Max == sentinel }

// IsRuleRef reports whether e calls another rule.
func (e Edge) IsRuleRef() bool { return e.Min == sentinel && e.Max >= 0 }

// IsCharRange reports whether e consumes a code point.
func (e Edge) IsCharRange() bool { return e.Min >= 0 }

// RefRule returns the called rule's id. It fails unless e is a rule
// reference.
func (e Edge) RefRule() (int32, error) {
	if !e.IsRuleRef() {
		return 0, &NotRuleRefError{Edge: e}
	}
	return e.Max, nil
}
