package grammar

import (
	"slices"

	"github.com/ollama/constrain/container"
)

// FSM is one rule's automaton: integer states, a start state, a set of
// accepting states, and per-state ordered edge lists. It is owned by
// the Rule that built it and is never mutated once the Grammar is
// handed to callers.
type FSM struct {
	start     int32
	accepting map[int32]struct{}
	edges     [][]Edge
}

func newFSM() *FSM {
	return &FSM{accepting: make(map[int32]struct{})}
}

// NumStates reports the number of states.
func (m *FSM) NumStates() int { return len(m.edges) }

// Start returns the start state.
func (m *FSM) Start() int32 { return m.start }

// IsAccepting reports whether s is an accepting state.
func (m *FSM) IsAccepting(s int32) bool {
	_, ok := m.accepting[s]
	return ok
}

// Accepting returns the accepting states in ascending order.
func (m *FSM) Accepting() []int32 {
	out := make([]int32, 0, len(m.accepting))
	for s := range m.accepting {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

// Edges returns the outgoing edges of s. The slice is read-only.
func (m *FSM) Edges(s int32) []Edge { return m.edges[s] }

func (m *FSM) addState() int32 {
	m.edges = append(m.edges, nil)
	return int32(len(m.edges) - 1)
}

func (m *FSM) addEdge(from int32, e Edge) {
	m.edges[from] = append(m.edges[from], e)
}

// compact flattens the per-state edge lists into a CSR table, the form
// the wire codec persists.
func (m *FSM) compact() *container.CSR[Edge] {
	csr := container.NewCSR[Edge]()
	for _, row := range m.edges {
		csr.Insert(row)
	}
	return csr
}

// fromCompact rebuilds per-state edge lists from a CSR table.
func fromCompact(start int32, accepting []int32, csr *container.CSR[Edge]) *FSM {
	m := newFSM()
	m.start = start
	m.edges = make([][]Edge, csr.Rows())
	for i := range m.edges {
		if row := csr.Row(i); len(row) > 0 {
			m.edges[i] = slices.Clone(row)
		}
	}
	for _, s := range accepting {
		m.accepting[s] = struct{}{}
	}
	return m
}
