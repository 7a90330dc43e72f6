package quic

import "crypto/rand"

// SupportedVersions is the list of QUIC versions this core will negotiate.
// Only v1 is implemented.
var SupportedVersions = []uint32{VersionV1}

// BuildVersionNegotiation constructs a Version Negotiation packet
// (RFC 9000 section 6) in response to a long-header packet whose version
// this core does not support. The response's DCID is the incoming packet's
// SCID and vice versa (RFC 9000 section 6.1). The packet-type/version bits of byte 0
// are unspecified by the RFC for this packet type, so they're randomized
// the way a real endpoint does to avoid ossification.
func BuildVersionNegotiation(incomingSCID, incomingDCID []byte) []byte {
	var firstByte [1]byte
	_, _ = rand.Read(firstByte[:])
	firstByte[0] |= 0x80 // long header form bit must be set

	buf := make([]byte, 0, 7+len(incomingSCID)+len(incomingDCID)+4*len(SupportedVersions))
	buf = append(buf, firstByte[0])
	buf = append(buf, 0x00, 0x00, 0x00, 0x00) // version 0 marks Version Negotiation

	buf = append(buf, byte(len(incomingSCID)))
	buf = append(buf, incomingSCID...)
	buf = append(buf, byte(len(incomingDCID)))
	buf = append(buf, incomingDCID...)

	for _, v := range SupportedVersions {
		buf = append(buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	}
	return buf
}
