package grammar

import "fmt"

// InvalidRangeError reports a character class whose bounds are reversed
// or negative.
type InvalidRangeError struct {
	Rule   string
	Lo, Hi rune
}

func (e *InvalidRangeError) Error() string {
	if e.Rule != "" {
		return fmt.Sprintf("rule %q: invalid char range %d-%d", e.Rule, e.Lo, e.Hi)
	}
	return fmt.Sprintf("invalid char range %d-%d", e.Lo, e.Hi)
}

// UnresolvedRuleError reports a reference to a rule name that does not
// exist in the grammar.
type UnresolvedRuleError struct {
	Rule string // the referring rule, empty for the root lookup
	Ref  string
}

func (e *UnresolvedRuleError) Error() string {
	if e.Rule != "" {
		return fmt.Sprintf("rule %q: reference to unknown rule %q", e.Rule, e.Ref)
	}
	return fmt.Sprintf("unknown rule %q", e.Ref)
}

// NotRuleRefError reports RefRule called on an edge that is not a rule
// reference.
type NotRuleRefError struct {
	Edge Edge
}

func (e *NotRuleRefError) Error() string {
	return fmt.Sprintf("edge (%d,%d)->%d is not a rule reference", e.Edge.Min, e.Edge.Max, e.Edge.Target)
}

// ConvergenceError reports that color refinement did not reach a fixed
// point within its pass budget. It signals an internal invariant
// failure, not a caller mistake.
type ConvergenceError struct {
	Passes int
	States int
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("refinement did not converge after %d passes over %d states", e.Passes, e.States)
}
