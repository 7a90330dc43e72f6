package quic

import "testing"

func TestCryptoStreamInOrder(t *testing.T) {
	s := NewCryptoStream()
	if err := s.Append(0, []byte("hello ")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := s.Append(6, []byte("world")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if got := string(s.ContiguousPrefix()); got != "hello world" {
		t.Errorf("expected %q, got %q", "hello world", got)
	}
	if s.ContiguousEnd() != 11 {
		t.Errorf("expected ContiguousEnd 11, got %d", s.ContiguousEnd())
	}
}

func TestCryptoStreamOutOfOrder(t *testing.T) {
	s := NewCryptoStream()
	if err := s.Append(6, []byte("world")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	// Nothing contiguous yet: offset 0 hasn't arrived.
	if s.ContiguousEnd() != 0 {
		t.Errorf("expected ContiguousEnd 0 before offset 0 arrives, got %d", s.ContiguousEnd())
	}
	if err := s.Append(0, []byte("hello ")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if got := string(s.ContiguousPrefix()); got != "hello world" {
		t.Errorf("expected %q, got %q", "hello world", got)
	}
}

func TestCryptoStreamOverlapIdempotent(t *testing.T) {
	s := NewCryptoStream()
	if err := s.Append(0, []byte("abcdef")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	// Re-delivering an overlapping, identical range is fine.
	if err := s.Append(2, []byte("cdef")); err != nil {
		t.Fatalf("expected idempotent overlap to succeed, got %v", err)
	}
	if got := string(s.ContiguousPrefix()); got != "abcdef" {
		t.Errorf("expected %q, got %q", "abcdef", got)
	}
}

func TestCryptoStreamOverlapMismatch(t *testing.T) {
	s := NewCryptoStream()
	if err := s.Append(0, []byte("abcdef")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := s.Append(2, []byte("XXXX")); err != ErrOverlapMismatch {
		t.Errorf("expected ErrOverlapMismatch, got %v", err)
	}
}

func TestCryptoStreamConsume(t *testing.T) {
	s := NewCryptoStream()
	if err := s.Append(0, []byte("0123456789")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	s.Consume(4)
	if got := string(s.ContiguousPrefix()); got != "456789" {
		t.Errorf("expected %q after consuming 4 bytes, got %q", "456789", got)
	}
	if s.ContiguousEnd() != 10 {
		t.Errorf("expected absolute ContiguousEnd 10, got %d", s.ContiguousEnd())
	}

	// Continuing immediately (absolute offset 10) extends the prefix.
	if err := s.Append(10, []byte("AB")); err != nil {
		t.Fatalf("Append at absolute offset after consume failed: %v", err)
	}
	if got := string(s.ContiguousPrefix()); got != "456789AB" {
		t.Errorf("expected %q, got %q", "456789AB", got)
	}
	if s.ContiguousEnd() != 12 {
		t.Errorf("expected absolute ContiguousEnd 12, got %d", s.ContiguousEnd())
	}
}

func TestCryptoStreamConsumeThenGapThenFill(t *testing.T) {
	s := NewCryptoStream()
	if err := s.Append(0, []byte("0123456789")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	s.Consume(4)

	// Absolute offset 14 leaves a gap at [10,14): prefix must not advance.
	if err := s.Append(14, []byte("XY")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if got := string(s.ContiguousPrefix()); got != "456789" {
		t.Errorf("expected prefix unchanged by a gapped write, got %q", got)
	}

	// Filling the gap (absolute offset 10) makes everything contiguous.
	if err := s.Append(10, []byte("1234")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if got := string(s.ContiguousPrefix()); got != "4567891234XY" {
		t.Errorf("expected gap-filled prefix, got %q", got)
	}
}

func TestCryptoStreamAppendBeforeBaseIsDropped(t *testing.T) {
	s := NewCryptoStream()
	if err := s.Append(0, []byte("0123456789")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	s.Consume(4)

	// Entirely-consumed range: a no-op, not an error.
	if err := s.Append(0, []byte("0123")); err != nil {
		t.Fatalf("expected re-delivery of consumed bytes to be a no-op, got %v", err)
	}
	if got := string(s.ContiguousPrefix()); got != "456789" {
		t.Errorf("expected prefix unchanged, got %q", got)
	}

	// Partially-consumed range: only the unconsumed tail (which matches what
	// is already buffered) is applied; this is an idempotent no-op.
	if err := s.Append(2, []byte("23456789")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if got := string(s.ContiguousPrefix()); got != "456789" {
		t.Errorf("expected prefix unchanged by matching overlap, got %q", got)
	}
}

func TestCryptoStreamConsumeBeyondPrefixIsClamped(t *testing.T) {
	s := NewCryptoStream()
	if err := s.Append(0, []byte("abcd")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := s.Append(8, []byte("gh")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	// Only 4 bytes are contiguous; consuming more must stop at the prefix.
	s.Consume(6)
	if got := len(s.ContiguousPrefix()); got != 0 {
		t.Errorf("expected empty prefix after consuming it all, got %d bytes", got)
	}
	if s.ContiguousEnd() != 4 {
		t.Errorf("expected absolute ContiguousEnd to stay 4, got %d", s.ContiguousEnd())
	}
}

func TestCryptoStreamGapBlocksContiguity(t *testing.T) {
	s := NewCryptoStream()
	if err := s.Append(0, []byte("aaaa")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := s.Append(8, []byte("cccc")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if s.ContiguousEnd() != 4 {
		t.Errorf("expected ContiguousEnd 4 with a gap at [4,8), got %d", s.ContiguousEnd())
	}
	if err := s.Append(4, []byte("bbbb")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if s.ContiguousEnd() != 12 {
		t.Errorf("expected ContiguousEnd 12 once the gap is filled, got %d", s.ContiguousEnd())
	}
}
