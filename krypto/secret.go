package krypto

// Secret wraps a byte buffer that must be wiped before it goes out of
// scope — a KEK, a FEK, a raw password. It replaces the ad-hoc
// zeroize/wipe helpers that used to be duplicated at every call site that
// materialized one of those buffers.
type Secret struct {
	b []byte
}

// NewSecret takes ownership of b; the caller must not use b directly again.
func NewSecret(b []byte) *Secret {
	return &Secret{b: b}
}

// Bytes returns the underlying buffer. The returned slice aliases the
// secret's storage and becomes invalid after Wipe.
func (s *Secret) Bytes() []byte {
	if s == nil {
		return nil
	}
	return s.b
}

// Wipe overwrites the buffer with zeroes. Safe to call more than once and
// on a nil *Secret.
func (s *Secret) Wipe() {
	if s == nil {
		return
	}
	for i := range s.b {
		s.b[i] = 0
	}
	s.b = nil
}

// Zero overwrites an arbitrary byte slice in place. Used for buffers that
// are not worth wrapping in a Secret (a one-shot nonce, a decoded salt).
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
