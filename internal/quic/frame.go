package quic

import "fmt"

// Frame type bytes recognized during the handshake (RFC 9000 section 19).
// Others are left unparsed: ExtractFrames stops at the first unrecognized
// type without failing the payload.
const (
	FrameTypePadding            byte = 0x00
	FrameTypePing               byte = 0x01
	FrameTypeAckMin             byte = 0x02
	FrameTypeAckMax             byte = 0x03
	FrameTypeCrypto             byte = 0x06
	FrameTypeConnectionClose    byte = 0x1c
	FrameTypeConnectionCloseApp byte = 0x1d
)

// Frame is implemented by every frame type the core understands.
type Frame interface {
	frameType() byte
}

// PaddingFrame is a single zero byte used to pad a datagram to a minimum
// size; it carries no data.
type PaddingFrame struct{}

func (PaddingFrame) frameType() byte { return FrameTypePadding }

// PingFrame solicits an acknowledgment; the core parses but never acts on
// it during the handshake.
type PingFrame struct{}

func (PingFrame) frameType() byte { return FrameTypePing }

// AckRange is one contiguous acknowledged range within an ACK frame.
type AckRange struct {
	Gap      uint64
	AckRange uint64
}

// AckFrame describes an ACK frame. ExtractFrames only skips ACK frames
// structurally (its VarInt fields are read so parsing can continue past it)
// and never returns an AckFrame; this core does not implement loss recovery.
type AckFrame struct {
	LargestAcked uint64
	AckDelay     uint64
	Ranges       []AckRange
	ECN          bool
}

func (AckFrame) frameType() byte { return FrameTypeAckMin }

// CryptoFrame carries TLS handshake bytes at Offset on the implicit
// per-epoch crypto stream.
type CryptoFrame struct {
	Offset uint64
	Data   []byte
}

func (CryptoFrame) frameType() byte { return FrameTypeCrypto }

// Serialize writes this CRYPTO frame's wire form: type byte, VarInt offset,
// VarInt length, then the data.
func (f CryptoFrame) Serialize() []byte {
	buf := make([]byte, 0, 1+8+8+len(f.Data))
	buf = append(buf, FrameTypeCrypto)
	buf = AppendVarInt(buf, f.Offset)
	buf = AppendVarInt(buf, uint64(len(f.Data)))
	buf = append(buf, f.Data...)
	return buf
}

// ConnectionCloseFrame signals connection termination with a transport or
// application error code (RFC 9000 section 19.19). The transport variant
// additionally names the frame type that provoked the close.
type ConnectionCloseFrame struct {
	ErrorCode     uint64
	FrameType     uint64
	ReasonPhrase  string
	IsApplication bool
}

func (f ConnectionCloseFrame) frameType() byte {
	if f.IsApplication {
		return FrameTypeConnectionCloseApp
	}
	return FrameTypeConnectionClose
}

// Serialize writes this CONNECTION_CLOSE frame's wire form: type byte,
// VarInt error code, the offending frame type (transport variant only),
// VarInt reason length, then the reason phrase.
func (f ConnectionCloseFrame) Serialize() []byte {
	buf := make([]byte, 0, 1+8+8+8+len(f.ReasonPhrase))
	buf = append(buf, f.frameType())
	buf = AppendVarInt(buf, f.ErrorCode)
	if !f.IsApplication {
		buf = AppendVarInt(buf, f.FrameType)
	}
	buf = AppendVarInt(buf, uint64(len(f.ReasonPhrase)))
	buf = append(buf, f.ReasonPhrase...)
	return buf
}

// ExtractFrames walks payload, a sequence of frames with no length prefix
// between them, dispatching on each frame's leading type byte. Parsing of
// the payload stops (without an error) at the first frame type this core
// does not recognize. A CRYPTO frame whose declared length exceeds the
// remaining payload is a hard error.
func ExtractFrames(payload []byte) ([]Frame, error) {
	var frames []Frame
	curr := 0
	for curr < len(payload) {
		switch payload[curr] {
		case FrameTypePadding:
			frames = append(frames, PaddingFrame{})
			curr++

		case FrameTypePing:
			frames = append(frames, PingFrame{})
			curr++

		case FrameTypeAckMin, FrameTypeAckMax:
			n, err := skipAckFrame(payload[curr:])
			if err != nil {
				return frames, nil
			}
			curr += n

		case FrameTypeCrypto:
			f, n, err := parseCryptoFrame(payload[curr:])
			if err != nil {
				return nil, err
			}
			frames = append(frames, f)
			curr += n

		case FrameTypeConnectionClose, FrameTypeConnectionCloseApp:
			f, n, err := parseConnectionCloseFrame(payload[curr:])
			if err != nil {
				return frames, nil
			}
			frames = append(frames, f)
			curr += n

		default:
			return frames, nil
		}
	}
	return frames, nil
}

func parseCryptoFrame(b []byte) (CryptoFrame, int, error) {
	curr := 1
	offset, n, err := DecodeVarInt(b[curr:])
	if err != nil {
		return CryptoFrame{}, 0, fmt.Errorf("quic: invalid CRYPTO offset: %w", err)
	}
	curr += n

	length, n, err := DecodeVarInt(b[curr:])
	if err != nil {
		return CryptoFrame{}, 0, fmt.Errorf("quic: invalid CRYPTO length: %w", err)
	}
	curr += n

	if len(b) < curr+int(length) {
		return CryptoFrame{}, 0, ErrTruncated
	}

	data := make([]byte, length)
	copy(data, b[curr:curr+int(length)])
	curr += int(length)

	return CryptoFrame{Offset: offset, Data: data}, curr, nil
}

func parseConnectionCloseFrame(b []byte) (ConnectionCloseFrame, int, error) {
	f := ConnectionCloseFrame{IsApplication: b[0] == FrameTypeConnectionCloseApp}
	curr := 1

	code, n, err := DecodeVarInt(b[curr:])
	if err != nil {
		return ConnectionCloseFrame{}, 0, err
	}
	f.ErrorCode = code
	curr += n

	if !f.IsApplication {
		frameType, n, err := DecodeVarInt(b[curr:])
		if err != nil {
			return ConnectionCloseFrame{}, 0, err
		}
		f.FrameType = frameType
		curr += n
	}

	reasonLen, n, err := DecodeVarInt(b[curr:])
	if err != nil {
		return ConnectionCloseFrame{}, 0, err
	}
	curr += n
	if len(b) < curr+int(reasonLen) {
		return ConnectionCloseFrame{}, 0, ErrTruncated
	}
	f.ReasonPhrase = string(b[curr : curr+int(reasonLen)])
	curr += int(reasonLen)

	return f, curr, nil
}

// skipAckFrame reads an ACK frame's fields without interpreting them,
// returning the number of bytes it occupies.
func skipAckFrame(b []byte) (int, error) {
	curr := 1
	ecn := b[0] == FrameTypeAckMax

	largest, n, err := DecodeVarInt(b[curr:])
	_ = largest
	if err != nil {
		return 0, err
	}
	curr += n

	_, n, err = DecodeVarInt(b[curr:])
	if err != nil {
		return 0, err
	}
	curr += n

	rangeCount, n, err := DecodeVarInt(b[curr:])
	if err != nil {
		return 0, err
	}
	curr += n

	_, n, err = DecodeVarInt(b[curr:]) // first ack range
	if err != nil {
		return 0, err
	}
	curr += n

	for i := uint64(0); i < rangeCount; i++ {
		_, n, err = DecodeVarInt(b[curr:]) // gap
		if err != nil {
			return 0, err
		}
		curr += n
		_, n, err = DecodeVarInt(b[curr:]) // ack range length
		if err != nil {
			return 0, err
		}
		curr += n
	}

	if ecn {
		for i := 0; i < 3; i++ {
			_, n, err = DecodeVarInt(b[curr:])
			if err != nil {
				return 0, err
			}
			curr += n
		}
	}

	return curr, nil
}
