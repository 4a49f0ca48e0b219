package grammar

import (
	"encoding/binary"
	"slices"

	"github.com/emirpasic/gods/v2/maps/treemap"
	"github.com/zeebo/blake3"

	"github.com/ollama/constrain/container"
	"github.com/ollama/constrain/logutil"
)

// Canonicalize assigns every rule a structural hash that is invariant
// to the numbering of its own states and to the declaration order of
// all rules, including mutually and self-recursive rule graphs. It
// runs iterative color refinement over the joint state graph of all
// rules at once: a rule-reference edge is labeled with the color of
// the referenced rule's start state rather than its id, which is what
// makes recursion commute with declaration order.
//
// Results land in the per-rule hash table and the original→canonical
// state id remap. Canonicalize is idempotent: rerunning it on an
// unchanged Grammar reproduces identical hashes.
func (g *Grammar) Canonicalize() error {
	c := newCanonicalizer(g)
	if err := c.refine(); err != nil {
		return err
	}
	c.colorClasses()
	c.merge()
	c.record()
	return nil
}

// edge kind tags used in color and hash encodings.
const (
	kindEpsilon uint64 = iota
	kindRuleRef
	kindCharRange
)

type canonicalizer struct {
	g      *Grammar
	offset []int32   // rule id -> first joint state index
	ruleOf []int32   // joint state -> rule id
	total  int32     // joint state count
	starts []int32   // rule id -> joint index of the rule's start state
	preds  [][]int32 // joint state -> states whose signature depends on it

	// Refinement partition. classOf[s] names s's current equivalence
	// class; members lists each class's states. Classes only ever
	// split, and a state that stays in the surviving fragment keeps
	// its class, so stability is per-state.
	classOf []int32
	members [][]int32
	value   []uint64 // joint state -> last computed signature hash

	// Work frontier. handle[s] is s's live handle in the list, 0 when
	// s is not queued (0 is never a valid element handle).
	frontier *container.List[int32]
	handle   []int32

	classes *container.UnionFind[int32]
	ccolor  []uint64 // class -> canonical declaration-order-invariant color
}

func newCanonicalizer(g *Grammar) *canonicalizer {
	c := &canonicalizer{g: g}
	c.offset = make([]int32, g.NumRules())
	c.starts = make([]int32, g.NumRules())
	for i, r := range g.rules {
		c.offset[i] = c.total
		c.starts[i] = c.total + r.fsm.Start()
		c.total += int32(r.fsm.NumStates())
	}
	c.ruleOf = make([]int32, c.total)
	c.preds = make([][]int32, c.total)
	c.classOf = make([]int32, c.total)
	c.value = make([]uint64, c.total)
	c.handle = make([]int32, c.total)
	c.frontier = container.NewList[int32](int(c.total))

	for i, r := range g.rules {
		for s := range int32(r.fsm.NumStates()) {
			js := c.offset[i] + s
			c.ruleOf[js] = int32(i)
			for _, e := range r.fsm.Edges(s) {
				jt := c.offset[i] + e.Target
				c.preds[jt] = append(c.preds[jt], js)
				if e.IsRuleRef() {
					c.preds[c.starts[e.Max]] = append(c.preds[c.starts[e.Max]], js)
				}
			}
		}
	}

	// Initial coloring: start/accepting marks plus the sorted multiset
	// of outgoing edge kinds, targets ignored. States sharing an
	// initial color form one class; every state enters the frontier as
	// it is first colored.
	classByColor := make(map[uint64]int32)
	for i, r := range g.rules {
		for s := range int32(r.fsm.NumStates()) {
			js := c.offset[i] + s
			color := c.initialColor(int32(i), s)
			c.value[js] = color
			cid, ok := classByColor[color]
			if !ok {
				cid = int32(len(c.members))
				classByColor[color] = cid
				c.members = append(c.members, nil)
			}
			c.classOf[js] = cid
			c.members[cid] = append(c.members[cid], js)
			c.handle[js] = c.frontier.PushBack(js)
		}
	}
	return c
}

func (c *canonicalizer) initialColor(rule, s int32) uint64 {
	fsm := c.g.rules[rule].fsm
	edges := fsm.Edges(s)
	words := make([]uint64, 0, 3+len(edges))
	words = append(words, 0) // domain tag: initial coloring
	words = append(words, boolWord(fsm.Start() == s), boolWord(fsm.IsAccepting(s)))
	kinds := make([]uint64, 0, len(edges))
	for _, e := range edges {
		kinds = append(kinds, edgeKind(e))
	}
	slices.Sort(kinds)
	words = append(words, kinds...)
	return hashWords(words)
}

// refine runs recoloring passes until no class splits and no signature
// moves. Each pass rehashes every frontier state against the current
// class ids; a state whose value a full pass confirms stable is erased
// from the frontier (Erase hands back the next live handle so the scan
// can prune as it goes). Classes whose members diverged are then
// split: the fragment keeping the old signature keeps the class, every
// other fragment becomes a new class and the predecessors of its
// states are re-enqueued — MoveBack when already queued, PushBack
// otherwise. Colors only split, never merge, so the pass budget
// derived from the joint state count bounds the loop; exceeding it
// signals a broken invariant, not a hard input.
func (c *canonicalizer) refine() error {
	maxPasses := 2*int(c.total) + 4
	var changed []int32
	for pass := 1; c.frontier.Len() > 0; pass++ {
		if pass > maxPasses {
			return &ConvergenceError{Passes: pass - 1, States: int(c.total)}
		}
		changed = changed[:0]
		for h := c.frontier.Front(); h != 0; {
			js := *c.frontier.At(h)
			next := c.signature(js)
			if next != c.value[js] {
				c.value[js] = next
				changed = append(changed, js)
				h = c.frontier.Next(h)
			} else {
				c.handle[js] = 0
				h = c.frontier.Erase(h)
			}
		}

		splitClasses := make(map[int32]struct{})
		for _, js := range changed {
			splitClasses[c.classOf[js]] = struct{}{}
		}
		splits := 0
		for cid := range splitClasses {
			splits += c.split(cid)
		}
		logutil.Trace("refinement pass", "pass", pass, "changed", len(changed), "splits", splits, "frontier", c.frontier.Len())
	}
	return nil
}

// split regroups a class by signature value. The fragment holding the
// first member keeps the class id; every other fragment moves to a
// fresh class, which invalidates the signatures of its predecessors.
// Returns the number of new classes.
func (c *canonicalizer) split(cid int32) int {
	group := c.members[cid]
	keep := c.value[group[0]]
	fragments := make(map[uint64][]int32)
	for _, js := range group {
		fragments[c.value[js]] = append(fragments[c.value[js]], js)
	}
	if len(fragments) == 1 {
		return 0
	}
	c.members[cid] = fragments[keep]
	splits := 0
	// Deterministic fragment order keeps class numbering reproducible.
	values := make([]uint64, 0, len(fragments))
	for v := range fragments {
		if v != keep {
			values = append(values, v)
		}
	}
	slices.Sort(values)
	for _, v := range values {
		fragment := fragments[v]
		nid := int32(len(c.members))
		c.members = append(c.members, fragment)
		for _, js := range fragment {
			c.classOf[js] = nid
			// The moved state's own signature covers its class, so it
			// needs recomputing along with everything that observes it.
			c.enqueue(js)
			for _, p := range c.preds[js] {
				c.enqueue(p)
			}
		}
		splits++
	}
	return splits
}

func (c *canonicalizer) enqueue(js int32) {
	if c.handle[js] == 0 {
		c.handle[js] = c.frontier.PushBack(js)
	} else {
		c.frontier.MoveBack(c.handle[js])
	}
}

// signature hashes a state's class together with the sorted multiset
// of (edge label, neighbor class) over its out-edges. For a rule
// reference the label embeds the callee start state's class and the
// neighbor is the return continuation. Recomputing against unchanged
// classes reproduces the same value, which is what lets the frontier
// drain.
func (c *canonicalizer) signature(js int32) uint64 {
	rule := c.ruleOf[js]
	fsm := c.g.rules[rule].fsm
	edges := fsm.Edges(js - c.offset[rule])

	records := make([][4]uint64, 0, len(edges))
	for _, e := range edges {
		jt := c.offset[rule] + e.Target
		switch {
		case e.IsCharRange():
			records = append(records, [4]uint64{kindCharRange, uint64(e.Min), uint64(e.Max), uint64(c.classOf[jt])})
		case e.IsRuleRef():
			records = append(records, [4]uint64{kindRuleRef, uint64(c.classOf[c.starts[e.Max]]), 0, uint64(c.classOf[jt])})
		default:
			records = append(records, [4]uint64{kindEpsilon, 0, 0, uint64(c.classOf[jt])})
		}
	}
	slices.SortFunc(records, compareRecords)

	words := make([]uint64, 0, 2+4*len(records))
	words = append(words, 1) // domain tag: refinement
	words = append(words, uint64(c.classOf[js]))
	for _, rec := range records {
		words = append(words, rec[0], rec[1], rec[2], rec[3])
	}
	return hashWords(words)
}

// colorClasses derives a declaration-order-invariant color per
// equivalence class by rerunning the refinement arithmetic on the
// quotient graph: classes as nodes, any member as representative
// (members of a stable class have identical class-level edges). Class
// ids never enter the encoding, so two grammars equal up to rule
// reordering color corresponding classes identically.
func (c *canonicalizer) colorClasses() {
	n := len(c.members)
	c.ccolor = make([]uint64, n)
	for cid, group := range c.members {
		rep := group[0]
		c.ccolor[cid] = c.initialColor(c.ruleOf[rep], rep-c.offset[c.ruleOf[rep]])
	}
	// n synchronous rounds separate every pair of classes the stable
	// partition distinguishes.
	next := make([]uint64, n)
	for range n {
		for cid, group := range c.members {
			rep := group[0]
			rule := c.ruleOf[rep]
			fsm := c.g.rules[rule].fsm
			edges := fsm.Edges(rep - c.offset[rule])

			records := make([][4]uint64, 0, len(edges))
			for _, e := range edges {
				to := c.ccolor[c.classOf[c.offset[rule]+e.Target]]
				switch {
				case e.IsCharRange():
					records = append(records, [4]uint64{kindCharRange, uint64(e.Min), uint64(e.Max), to})
				case e.IsRuleRef():
					records = append(records, [4]uint64{kindRuleRef, c.ccolor[c.classOf[c.starts[e.Max]]], 0, to})
				default:
					records = append(records, [4]uint64{kindEpsilon, 0, 0, to})
				}
			}
			slices.SortFunc(records, compareRecords)

			words := make([]uint64, 0, 2+4*len(records))
			words = append(words, 1) // same arithmetic as refinement
			words = append(words, c.ccolor[cid])
			for _, rec := range records {
				words = append(words, rec[0], rec[1], rec[2], rec[3])
			}
			next[cid] = hashWords(words)
		}
		c.ccolor, next = next, c.ccolor
	}
}

// merge collapses equal-colored states into equivalence classes in the
// union-find.
func (c *canonicalizer) merge() {
	c.classes = container.NewUnionFind[int32]()
	for js := range c.total {
		c.classes.Make(js)
	}
	for _, group := range c.members {
		for _, js := range group[1:] {
			c.classes.Union(group[0], js)
		}
	}
}

// record fills the Grammar's side tables: canonical state ids assigned
// in ascending class-color order within each rule, and the per-rule
// hash over the class multiset and inter-class labeled edges.
func (c *canonicalizer) record() {
	for i, r := range c.g.rules {
		classID := treemap.New[uint64, int32]()
		for s := range int32(r.fsm.NumStates()) {
			classID.Put(c.classColor(c.offset[i]+s), 0)
		}
		for id, color := range classID.Keys() {
			classID.Put(color, int32(id))
		}

		remap := make(map[int32]int32, r.fsm.NumStates())
		for s := range int32(r.fsm.NumStates()) {
			id, _ := classID.Get(c.classColor(c.offset[i] + s))
			remap[s] = id
		}
		c.g.stateIDs[i] = remap

		h := c.ruleHash(int32(i), r)
		c.g.hashes[i] = &h
	}
}

func (c *canonicalizer) classColor(js int32) uint64 {
	return c.ccolor[c.classOf[c.classes.Find(js)]]
}

// ruleHash computes a rule's canonical hash over the sorted multiset
// of its states' class colors (with start/accepting marks) and the
// labeled class-to-class edges among them. Raw state ids never enter
// the encoding.
func (c *canonicalizer) ruleHash(id int32, r *Rule) uint64 {
	states := make([][]uint64, 0, r.fsm.NumStates())
	var edges [][]uint64
	for s := range int32(r.fsm.NumStates()) {
		js := c.offset[id] + s
		from := c.classColor(js)
		states = append(states, []uint64{from, boolWord(r.fsm.Start() == s), boolWord(r.fsm.IsAccepting(s))})
		for _, e := range r.fsm.Edges(s) {
			to := c.classColor(c.offset[id] + e.Target)
			switch {
			case e.IsCharRange():
				edges = append(edges, []uint64{from, kindCharRange, uint64(e.Min), uint64(e.Max), to})
			case e.IsRuleRef():
				edges = append(edges, []uint64{from, kindRuleRef, c.classColor(c.starts[e.Max]), 0, to})
			default:
				edges = append(edges, []uint64{from, kindEpsilon, 0, 0, to})
			}
		}
	}
	slices.SortFunc(states, slices.Compare)
	slices.SortFunc(edges, slices.Compare)

	words := []uint64{2} // domain tag: rule hash
	for _, rec := range states {
		words = append(words, rec...)
	}
	words = append(words, uint64(len(edges)))
	for _, rec := range edges {
		words = append(words, rec...)
	}
	return hashWords(words)
}

func edgeKind(e Edge) uint64 {
	switch {
	case e.IsCharRange():
		return kindCharRange
	case e.IsRuleRef():
		return kindRuleRef
	default:
		return kindEpsilon
	}
}

func boolWord(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func compareRecords(a, b [4]uint64) int {
	for i := range a {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	return 0
}

func hashWords(words []uint64) uint64 {
	buf := make([]byte, 8*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint64(buf[i*8:], w)
	}
	sum := blake3.Sum256(buf)
	return binary.LittleEndian.Uint64(sum[:8])
}
