package sample

// Bitmask is a packed per-sequence allow set over a vocabulary, the
// form matchers hand to the kernel: BitmaskWords(vocab) words per
// sequence, bit 1 meaning the token is allowed. A fresh Bitmask denies
// everything.
type Bitmask struct {
	words        []uint32
	batch, vocab int
}

func NewBitmask(batch, vocab int) *Bitmask {
	return &Bitmask{
		words: make([]uint32, batch*BitmaskWords(vocab)),
		batch: batch,
		vocab: vocab,
	}
}

// Words exposes the packed buffer for the kernel.
func (m *Bitmask) Words() []uint32 { return m.words }

// Allow sets the bit for token in sequence seq.
func (m *Bitmask) Allow(seq, token int) {
	m.words[seq*BitmaskWords(m.vocab)+token/32] |= 1 << (token % 32)
}

// Deny clears the bit for token in sequence seq.
func (m *Bitmask) Deny(seq, token int) {
	m.words[seq*BitmaskWords(m.vocab)+token/32] &^= 1 << (token % 32)
}

// Allowed reports whether token is allowed in sequence seq.
func (m *Bitmask) Allowed(seq, token int) bool {
	return m.words[seq*BitmaskWords(m.vocab)+token/32]&(1<<(token%32)) != 0
}

// AllowAll sets every bit, including the unused tail bits of each
// row's final word; the kernel ignores those.
func (m *Bitmask) AllowAll() {
	for i := range m.words {
		m.words[i] = ^uint32(0)
	}
}

// Reset clears every bit.
func (m *Bitmask) Reset() {
	clear(m.words)
}
