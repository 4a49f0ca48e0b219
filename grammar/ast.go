package grammar

// Expr is a rule body expression as handed over by the front end. The
// front end owns parsing; the builder only walks these trees.
type Expr interface {
	isExpr()
}

// CharRangeLit is one inclusive code-point range of a character class.
type CharRangeLit struct {
	Lo, Hi rune
}

// CharClass matches any code point covered by one of its ranges.
type CharClass struct {
	Ranges []CharRangeLit
}

// Literal matches its code points in order.
type Literal string

// Sequence matches its elements one after another.
type Sequence []Expr

// Choice matches any one of its alternatives.
type Choice []Expr

// RepeatOp selects the repetition form of a Repeat.
type RepeatOp int

const (
	// Star matches the body zero or more times.
	Star RepeatOp = iota
	// Plus matches the body one or more times.
	Plus
	// Optional matches the body zero or one time.
	Optional
)

// Repeat matches its body according to Op.
type Repeat struct {
	Body Expr
	Op   RepeatOp
}

// Ref invokes another rule by name.
type Ref string

func (CharClass) isExpr() {}
func (Literal) isExpr()   {}
func (Sequence) isExpr()  {}
func (Choice) isExpr()    {}
func (Repeat) isExpr()    {}
func (Ref) isExpr()       {}

// Range is shorthand for a single-range character class.
func Range(lo, hi rune) CharClass {
	return CharClass{Ranges: []CharRangeLit{{Lo: lo, Hi: hi}}}
}
