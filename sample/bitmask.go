// Package sample applies grammar token bitmasks to model logits. This
// is the per-decoding-step hot path: every logit whose mask bit is
// clear is forced to negative infinity before sampling, and every
// allowed logit passes through byte-for-byte untouched.
package sample

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
	"golang.org/x/sync/errgroup"
)

// DType selects the floating precision of a logits buffer. The tag is
// always supplied by the caller, never inferred from the data.
type DType int

const (
	DTypeFloat16 DType = iota
	DTypeBFloat16
	DTypeFloat32
	DTypeFloat64
)

// Size returns the width of one element in bytes.
func (t DType) Size() int {
	switch t {
	case DTypeFloat16, DTypeBFloat16:
		return 2
	case DTypeFloat32:
		return 4
	case DTypeFloat64:
		return 8
	}
	return 0
}

func (t DType) String() string {
	switch t {
	case DTypeFloat16:
		return "float16"
	case DTypeBFloat16:
		return "bfloat16"
	case DTypeFloat32:
		return "float32"
	case DTypeFloat64:
		return "float64"
	}
	return fmt.Sprintf("DType(%d)", int(t))
}

// ShapeError reports a bitmask or logits buffer whose length does not
// match the declared batch and vocabulary sizes.
type ShapeError struct {
	Batch, Vocab     int
	MaskLen, DataLen int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("shape mismatch: batch %d vocab %d needs %d mask words and %d elements, have %d and %d",
		e.Batch, e.Vocab, e.Batch*BitmaskWords(e.Vocab), e.Batch*e.Vocab, e.MaskLen, e.DataLen)
}

// BitmaskWords returns the packed words per sequence for a vocabulary:
// one bit per token, 32 tokens per word.
func BitmaskWords(vocab int) int { return (vocab + 31) / 32 }

// Negative infinity bit patterns per precision.
var (
	negInf16   = float16.Fromfloat32(float32(math.Inf(-1))).Bits()
	negInfBF16 = uint16(bfloat16.FromFloat32(float32(math.Inf(-1))))
	negInf64   = math.Float64bits(math.Inf(-1))
)

// ApplyTokenBitmask masks a batch of logits in place. logits is the
// raw little-endian buffer of shape [batch, vocab] in the tagged
// precision; mask holds BitmaskWords(vocab) words per sequence with
// bit 1 meaning allowed. Mask bits at positions >= vocab in the final
// word of a row are ignored. Shapes are validated here, once, and
// never inside the loop.
func ApplyTokenBitmask(logits []byte, mask []uint32, dtype DType, batch, vocab int) error {
	if err := checkShape(len(logits), len(mask), dtype, batch, vocab); err != nil {
		return err
	}
	words := BitmaskWords(vocab)
	rowBytes := vocab * dtype.Size()
	for b := 0; b < batch; b++ {
		maskRow(logits[b*rowBytes:(b+1)*rowBytes], mask[b*words:(b+1)*words], dtype, vocab)
	}
	return nil
}

// ApplyTokenBitmaskParallel is ApplyTokenBitmask with rows fanned out
// across at most workers goroutines. Rows are independent; the single
// Wait is the only synchronization.
func ApplyTokenBitmaskParallel(logits []byte, mask []uint32, dtype DType, batch, vocab, workers int) error {
	if err := checkShape(len(logits), len(mask), dtype, batch, vocab); err != nil {
		return err
	}
	words := BitmaskWords(vocab)
	rowBytes := vocab * dtype.Size()
	var g errgroup.Group
	g.SetLimit(max(workers, 1))
	for b := 0; b < batch; b++ {
		row := logits[b*rowBytes : (b+1)*rowBytes]
		maskRowWords := mask[b*words : (b+1)*words]
		g.Go(func() error {
			maskRow(row, maskRowWords, dtype, vocab)
			return nil
		})
	}
	return g.Wait()
}

// ApplyTokenBitmaskFloat32 is the typed convenience for float32 logits
// kept in Go slices rather than raw framework buffers.
func ApplyTokenBitmaskFloat32(logits []float32, mask []uint32, batch, vocab int) error {
	if err := checkShape(len(logits)*4, len(mask), DTypeFloat32, batch, vocab); err != nil {
		return err
	}
	words := BitmaskWords(vocab)
	negInf := float32(math.Inf(-1))
	for b := 0; b < batch; b++ {
		row := logits[b*vocab : (b+1)*vocab]
		for w, word := range mask[b*words : (b+1)*words] {
			if word == ^uint32(0) {
				continue
			}
			for inv := ^word; inv != 0; inv &= inv - 1 {
				idx := w*32 + bits.TrailingZeros32(inv)
				if idx >= vocab {
					break
				}
				row[idx] = negInf
			}
		}
	}
	return nil
}

func checkShape(dataLen int, maskLen int, dtype DType, batch, vocab int) error {
	if batch < 0 || vocab <= 0 || dtype.Size() == 0 ||
		maskLen != batch*BitmaskWords(vocab) || dataLen != batch*vocab*dtype.Size() {
		return &ShapeError{Batch: batch, Vocab: vocab, MaskLen: maskLen, DataLen: dataLen / max(dtype.Size(), 1)}
	}
	return nil
}

func maskRow(row []byte, words []uint32, dtype DType, vocab int) {
	switch dtype {
	case DTypeFloat16:
		maskRow16(row, words, vocab, negInf16)
	case DTypeBFloat16:
		maskRow16(row, words, vocab, negInfBF16)
	case DTypeFloat32:
		maskRow32(row, words, vocab)
	case DTypeFloat64:
		maskRow64(row, words, vocab)
	}
}

// The row kernels scan whole mask words, skipping fully allowed ones,
// and walk only the cleared bits of the rest.

func maskRow16(row []byte, words []uint32, vocab int, pattern uint16) {
	for w, word := range words {
		if word == ^uint32(0) {
			continue
		}
		for inv := ^word; inv != 0; inv &= inv - 1 {
			idx := w*32 + bits.TrailingZeros32(inv)
			if idx >= vocab {
				break
			}
			binary.LittleEndian.PutUint16(row[idx*2:], pattern)
		}
	}
}

func maskRow32(row []byte, words []uint32, vocab int) {
	pattern := math.Float32bits(float32(math.Inf(-1)))
	for w, word := range words {
		if word == ^uint32(0) {
			continue
		}
		for inv := ^word; inv != 0; inv &= inv - 1 {
			idx := w*32 + bits.TrailingZeros32(inv)
			if idx >= vocab {
				break
			}
			binary.LittleEndian.PutUint32(row[idx*4:], pattern)
		}
	}
}

func maskRow64(row []byte, words []uint32, vocab int) {
	for w, word := range words {
		if word == ^uint32(0) {
			continue
		}
		for inv := ^word; inv != 0; inv &= inv - 1 {
			idx := w*32 + bits.TrailingZeros32(inv)
			if idx >= vocab {
				break
			}
			binary.LittleEndian.PutUint64(row[idx*8:], negInf64)
		}
	}
}
