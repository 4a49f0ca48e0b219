package container

// UnionFind is a disjoint-set over arbitrary comparable keys. It is a
// single-owner structure: no internal locking.
type UnionFind[K comparable] struct {
	parent map[K]K
	rank   map[K]int
}

func NewUnionFind[K comparable]() *UnionFind[K] {
	return &UnionFind[K]{
		parent: make(map[K]K),
		rank:   make(map[K]int),
	}
}

// Make inserts k as a new singleton set. It returns false, without
// mutating anything, if k is already present.
func (u *UnionFind[K]) Make(k K) bool {
	if _, ok := u.parent[k]; ok {
		return false
	}
	u.parent[k] = k
	u.rank[k] = 0
	return true
}

// Find returns the representative of the set containing k, compressing
// the chain it walked. An unknown key is its own representative and is
// not inserted.
func (u *UnionFind[K]) Find(k K) K {
	if _, ok := u.parent[k]; !ok {
		return k
	}
	// Iterative compression: collect the chain, then repoint every
	// link at the root. No recursion so long chains cannot blow the
	// stack.
	var chain []K
	for u.parent[k] != k {
		chain = append(chain, k)
		k = u.parent[k]
	}
	for _, c := range chain {
		u.parent[c] = k
	}
	return k
}

// Union merges the sets containing a and b, inserting either key if it
// is new. It returns false when a and b already share a representative
// (no structural change) and true when a merge happened.
func (u *UnionFind[K]) Union(a, b K) bool {
	u.Make(a)
	u.Make(b)
	ra, rb := u.Find(a), u.Find(b)
	if ra == rb {
		return false
	}
	if u.rank[ra] < u.rank[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	if u.rank[ra] == u.rank[rb] {
		u.rank[ra]++
	}
	return true
}

// SameSet reports whether a and b share a representative.
func (u *UnionFind[K]) SameSet(a, b K) bool {
	return u.Find(a) == u.Find(b)
}
