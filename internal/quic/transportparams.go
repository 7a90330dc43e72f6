package quic

import (
	"golang.org/x/crypto/cryptobyte"
)

// Transport parameter IDs recognized by the core (RFC 9000 section 18.2).
// IDs not in this set are ignored on decode.
const (
	tpMaxIdleTimeout                 = 0x0001
	tpMaxUDPPayloadSize              = 0x0003
	tpInitialMaxData                 = 0x0004
	tpInitialMaxStreamDataBidiLocal  = 0x0005
	tpInitialMaxStreamDataBidiRemote = 0x0006
	tpInitialMaxStreamDataUni        = 0x0007
	tpInitialMaxStreamsBidi          = 0x0008
	tpInitialMaxStreamsUni           = 0x0009
	tpAckDelayExponent               = 0x000a
	tpMaxAckDelay                    = 0x000b
	tpDisableActiveMigration         = 0x000c
	tpActiveConnectionIDLimit        = 0x000e
)

// TransportParameters is the negotiated parameter set of RFC 9000
// section 18. Once a peer's set is decoded it is immutable for the life of
// the connection.
type TransportParameters struct {
	MaxIdleTimeoutMs               uint64
	MaxUDPPayloadSize              uint64
	InitialMaxData                 uint64
	InitialMaxStreamDataBidiLocal  uint64
	InitialMaxStreamDataBidiRemote uint64
	InitialMaxStreamDataUni        uint64
	InitialMaxStreamsBidi          uint64
	InitialMaxStreamsUni           uint64
	AckDelayExponent               uint64
	MaxAckDelayMs                  uint64
	DisableActiveMigration         bool
	ActiveConnectionIDLimit        uint64
}

// DefaultTransportParameters returns the local parameter set this endpoint
// advertises.
func DefaultTransportParameters() TransportParameters {
	return TransportParameters{
		MaxIdleTimeoutMs:               30000,
		MaxUDPPayloadSize:              65527,
		InitialMaxData:                 10_000_000,
		InitialMaxStreamDataBidiLocal:  1_000_000,
		InitialMaxStreamDataBidiRemote: 1_000_000,
		InitialMaxStreamDataUni:        1_000_000,
		InitialMaxStreamsBidi:          100,
		InitialMaxStreamsUni:           100,
		AckDelayExponent:               3,
		MaxAckDelayMs:                  25,
		DisableActiveMigration:         true,
		ActiveConnectionIDLimit:        2,
	}
}

// Encode serializes p as a sequence of VarInt-id / VarInt-length / value
// TLV records (RFC 9000 section 18).
func (p TransportParameters) Encode() []byte {
	var buf []byte
	buf = appendVarIntParam(buf, tpMaxIdleTimeout, p.MaxIdleTimeoutMs)
	buf = appendVarIntParam(buf, tpMaxUDPPayloadSize, p.MaxUDPPayloadSize)
	buf = appendVarIntParam(buf, tpInitialMaxData, p.InitialMaxData)
	buf = appendVarIntParam(buf, tpInitialMaxStreamDataBidiLocal, p.InitialMaxStreamDataBidiLocal)
	buf = appendVarIntParam(buf, tpInitialMaxStreamDataBidiRemote, p.InitialMaxStreamDataBidiRemote)
	buf = appendVarIntParam(buf, tpInitialMaxStreamDataUni, p.InitialMaxStreamDataUni)
	buf = appendVarIntParam(buf, tpInitialMaxStreamsBidi, p.InitialMaxStreamsBidi)
	buf = appendVarIntParam(buf, tpInitialMaxStreamsUni, p.InitialMaxStreamsUni)
	buf = appendVarIntParam(buf, tpAckDelayExponent, p.AckDelayExponent)
	buf = appendVarIntParam(buf, tpMaxAckDelay, p.MaxAckDelayMs)
	buf = appendVarIntParam(buf, tpActiveConnectionIDLimit, p.ActiveConnectionIDLimit)
	if p.DisableActiveMigration {
		buf = appendVarIntID(buf, tpDisableActiveMigration)
		buf = AppendVarInt(buf, 0)
	}
	return buf
}

func appendVarIntID(buf []byte, id uint64) []byte {
	return AppendVarInt(buf, id)
}

func appendVarIntParam(buf []byte, id, v uint64) []byte {
	buf = AppendVarInt(buf, id)
	val := AppendVarInt(nil, v)
	buf = AppendVarInt(buf, uint64(len(val)))
	return append(buf, val...)
}

// DecodeTransportParameters parses a peer's TLV transport parameter set,
// using cryptobyte.String as a cursor over the VarInt-length-prefixed
// records. Unknown IDs are skipped; a truncated record is reported as an
// error (TRANSPORT_PARAMETER_ERROR).
func DecodeTransportParameters(data []byte) (TransportParameters, error) {
	p := DefaultTransportParameters()
	// disable_active_migration is a zero-length flag: it is true only when
	// the peer actually sends it.
	p.DisableActiveMigration = false
	s := cryptobyte.String(data)

	for len(s) > 0 {
		id, idLen, err := DecodeVarInt(s)
		if err != nil {
			return p, err
		}
		if !s.Skip(idLen) {
			return p, ErrTruncated
		}

		length, lenLen, err := DecodeVarInt(s)
		if err != nil {
			return p, err
		}
		if !s.Skip(lenLen) {
			return p, ErrTruncated
		}

		var value []byte
		if !s.ReadBytes(&value, int(length)) {
			return p, ErrTruncated
		}

		applyParam(&p, id, value)
	}

	return p, nil
}

func applyParam(p *TransportParameters, id uint64, value []byte) {
	switch id {
	case tpMaxIdleTimeout:
		p.MaxIdleTimeoutMs, _, _ = DecodeVarInt(value)
	case tpMaxUDPPayloadSize:
		p.MaxUDPPayloadSize, _, _ = DecodeVarInt(value)
	case tpInitialMaxData:
		p.InitialMaxData, _, _ = DecodeVarInt(value)
	case tpInitialMaxStreamDataBidiLocal:
		p.InitialMaxStreamDataBidiLocal, _, _ = DecodeVarInt(value)
	case tpInitialMaxStreamDataBidiRemote:
		p.InitialMaxStreamDataBidiRemote, _, _ = DecodeVarInt(value)
	case tpInitialMaxStreamDataUni:
		p.InitialMaxStreamDataUni, _, _ = DecodeVarInt(value)
	case tpInitialMaxStreamsBidi:
		p.InitialMaxStreamsBidi, _, _ = DecodeVarInt(value)
	case tpInitialMaxStreamsUni:
		p.InitialMaxStreamsUni, _, _ = DecodeVarInt(value)
	case tpAckDelayExponent:
		p.AckDelayExponent, _, _ = DecodeVarInt(value)
	case tpMaxAckDelay:
		p.MaxAckDelayMs, _, _ = DecodeVarInt(value)
	case tpDisableActiveMigration:
		p.DisableActiveMigration = true
	case tpActiveConnectionIDLimit:
		p.ActiveConnectionIDLimit, _, _ = DecodeVarInt(value)
	default:
		// unrecognized id: ignored
	}
}
