package quic

import (
	"bytes"
	"errors"
	"sort"
)

// ErrOverlapMismatch is returned by Append when two writes overlapping the
// same byte range disagree, a protocol violation that errors the connection
// rather than merely dropping the frame.
var ErrOverlapMismatch = errors.New("quic: overlapping crypto stream writes disagree")

type byteRange struct {
	start, end uint64 // [start, end)
}

// CryptoStream is an append-only, offset-indexed byte log for one
// encryption level's TLS handshake bytes (RFC 9000 section 19.6). It
// tolerates out-of-order CRYPTO frame delivery: ContiguousEnd only ever
// grows, and only over bytes that have actually been written.
type CryptoStream struct {
	buffer    []byte
	received  []byteRange // sorted, non-overlapping ranges of offsets that have been written
	contigEnd uint64
	base      uint64 // absolute offset of buffer[0], advanced by Consume
}

// NewCryptoStream returns an empty crypto stream.
func NewCryptoStream() *CryptoStream {
	return &CryptoStream{}
}

// Append writes data at offset, growing the buffer as needed. Re-delivering
// identical bytes at an already-written offset is a no-op (idempotent);
// delivering different bytes over an already-written range is reported as
// ErrOverlapMismatch since it indicates a protocol violation.
func (s *CryptoStream) Append(absOffset uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if absOffset < s.base {
		// Entirely or partially covers bytes already consumed; only the
		// portion at or past base is still relevant.
		skip := s.base - absOffset
		if skip >= uint64(len(data)) {
			return nil
		}
		data = data[skip:]
		absOffset = s.base
	}
	offset := absOffset - s.base
	end := offset + uint64(len(data))

	if need := int(end); need > len(s.buffer) {
		grown := make([]byte, need)
		copy(grown, s.buffer)
		s.buffer = grown
	}

	for _, r := range s.received {
		if r.start >= end || r.end <= offset {
			continue // disjoint
		}
		// overlapping range: the bytes in the overlap must already match.
		overlapStart := max64(r.start, offset)
		overlapEnd := min64(r.end, end)
		existing := s.buffer[overlapStart:overlapEnd]
		incoming := data[overlapStart-offset : overlapEnd-offset]
		if !bytes.Equal(existing, incoming) {
			return ErrOverlapMismatch
		}
	}

	copy(s.buffer[offset:end], data)
	s.markReceived(offset, end)
	s.advanceContiguous()
	return nil
}

func (s *CryptoStream) markReceived(start, end uint64) {
	merged := append(s.received, byteRange{start, end})
	sort.Slice(merged, func(i, j int) bool { return merged[i].start < merged[j].start })

	out := merged[:0]
	for _, r := range merged {
		if len(out) > 0 && r.start <= out[len(out)-1].end {
			if r.end > out[len(out)-1].end {
				out[len(out)-1].end = r.end
			}
			continue
		}
		out = append(out, r)
	}
	s.received = out
}

func (s *CryptoStream) advanceContiguous() {
	for _, r := range s.received {
		if r.start > s.contigEnd {
			break
		}
		if r.end > s.contigEnd {
			s.contigEnd = r.end
		}
	}
}

// ContiguousPrefix returns the longest prefix of the stream that has been
// fully received, starting at the first byte not yet consumed.
func (s *CryptoStream) ContiguousPrefix() []byte {
	return s.buffer[:s.contigEnd]
}

// ContiguousEnd returns the absolute exclusive end offset of ContiguousPrefix
// (i.e. base + len(ContiguousPrefix())). It never decreases across calls.
func (s *CryptoStream) ContiguousEnd() uint64 {
	return s.base + s.contigEnd
}

// Consume logically advances the stream, dropping the first n bytes of the
// contiguous prefix so future ContiguousPrefix calls only return unconsumed
// bytes. Offsets passed to Append always stay in the original, absolute
// numbering; Consume never changes what offset a given byte is addressed by.
func (s *CryptoStream) Consume(n int) {
	if n <= 0 {
		return
	}
	if n > int(s.contigEnd) {
		n = int(s.contigEnd) // only the contiguous prefix can be consumed
	}
	s.buffer = s.buffer[n:]
	s.contigEnd -= uint64(n)
	s.base += uint64(n)
	for i := range s.received {
		if s.received[i].start >= uint64(n) {
			s.received[i].start -= uint64(n)
		} else {
			s.received[i].start = 0
		}
		if s.received[i].end >= uint64(n) {
			s.received[i].end -= uint64(n)
		} else {
			s.received[i].end = 0
		}
	}
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
