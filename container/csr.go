package container

import (
	"fmt"
	"slices"
)

// CSR stores many variable-length rows in one flat buffer plus a row
// offset index, the compact form used to persist per-state edge lists
// and per-rule state tables. indptr always starts at 0, is
// non-decreasing, and ends at len(data).
type CSR[T any] struct {
	data   []T
	indptr []int32
}

func NewCSR[T any]() *CSR[T] {
	return &CSR[T]{indptr: []int32{0}}
}

// Insert appends row as the next row.
func (c *CSR[T]) Insert(row []T) {
	c.data = append(c.data, row...)
	c.indptr = append(c.indptr, int32(len(c.data)))
}

// Rows reports the number of rows.
func (c *CSR[T]) Rows() int { return len(c.indptr) - 1 }

// Len reports the total number of elements across all rows.
func (c *CSR[T]) Len() int { return len(c.data) }

// Row returns the i'th row as a sub-slice of the backing buffer. The
// caller must treat it as read-only.
func (c *CSR[T]) Row(i int) []T {
	return c.data[c.indptr[i]:c.indptr[i+1]]
}

// Data exposes the flat element buffer for serialization.
func (c *CSR[T]) Data() []T { return c.data }

// Indptr exposes the row offset index for serialization.
func (c *CSR[T]) Indptr() []int32 { return c.indptr }

// CSRFromParts rebuilds a CSR from its two serialized buffers,
// validating the offset invariants. The slices are taken over, not
// copied.
func CSRFromParts[T any](data []T, indptr []int32) (*CSR[T], error) {
	if len(indptr) == 0 || indptr[0] != 0 {
		return nil, fmt.Errorf("csr: indptr must start at 0")
	}
	for i := 1; i < len(indptr); i++ {
		if indptr[i] < indptr[i-1] {
			return nil, fmt.Errorf("csr: indptr decreases at %d", i)
		}
	}
	if int(indptr[len(indptr)-1]) != len(data) {
		return nil, fmt.Errorf("csr: indptr ends at %d, have %d elements", indptr[len(indptr)-1], len(data))
	}
	return &CSR[T]{data: data, indptr: indptr}, nil
}

// CSREqual reports whether both buffers match exactly.
func CSREqual[T comparable](a, b *CSR[T]) bool {
	return slices.Equal(a.data, b.data) && slices.Equal(a.indptr, b.indptr)
}
