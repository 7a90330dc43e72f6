package quic

import (
	"bytes"
	"errors"

	"github.com/quic-go/quic-go/quicvarint"
)

// ErrTruncated is returned when fewer bytes are available than a VarInt's
// encoding requires.
var ErrTruncated = errors.New("quic: truncated varint")

// ErrNoSpace is returned by EncodeVarInt when out is too small for the
// shortest encoding of v.
var ErrNoSpace = errors.New("quic: no space for varint")

// DecodeVarInt reads an RFC 9000 section 16 variable-length integer from the
// front of b. It returns the decoded value and the number of bytes
// consumed.
func DecodeVarInt(b []byte) (value uint64, consumed int, err error) {
	if len(b) == 0 {
		return 0, 0, ErrTruncated
	}
	r := bytes.NewReader(b)
	v, err := quicvarint.Read(r)
	if err != nil {
		return 0, 0, ErrTruncated
	}
	return v, len(b) - r.Len(), nil
}

// EncodeVarInt writes the shortest RFC 9000 section 16 encoding of v into
// out, returning the number of bytes written. It fails with ErrNoSpace if
// out is smaller than the required encoding length.
func EncodeVarInt(v uint64, out []byte) (int, error) {
	n := varIntLen(v)
	if len(out) < n {
		return 0, ErrNoSpace
	}
	buf := quicvarint.Append(out[:0], v)
	return len(buf), nil
}

// AppendVarInt appends the shortest RFC 9000 section 16 encoding of v to b
// and returns the extended slice.
func AppendVarInt(b []byte, v uint64) []byte {
	return quicvarint.Append(b, v)
}

func varIntLen(v uint64) int {
	switch {
	case v <= 63:
		return 1
	case v <= 16383:
		return 2
	case v <= 1073741823:
		return 4
	default:
		return 8
	}
}
