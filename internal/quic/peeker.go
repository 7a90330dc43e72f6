package quic

import (
	"errors"
	"fmt"
)

// DecryptInitialPacket removes header protection and AEAD-decrypts a
// client Initial packet using keys derived from dcid, without otherwise
// interpreting the connection (used for SNI-based routing decisions in
// internal/relay before any Connection exists).
func DecryptInitialPacket(data []byte, dcid []byte) ([]byte, error) {
	h, err := ParsePacket(data)
	if err != nil {
		return nil, err
	}
	if !h.IsLongHeader || h.Type != PacketTypeInitial {
		return nil, errors.New("quic: not an initial packet")
	}

	secrets := DeriveInitialSecrets(dcid)

	pkt := append([]byte(nil), data[:h.FullLength]...)
	pnOffset := len(h.RawHeader)
	truncatedPN, pnLen, aad, err := RemoveHeaderProtection(pkt, pnOffset, secrets.Client.HPBlock)
	if err != nil {
		return nil, err
	}
	pn := ReconstructPacketNumber(truncatedPN, pnLen, -1)

	ciphertext := pkt[pnOffset+pnLen:]
	plaintext, err := secrets.Client.Open(uint64(pn), aad, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("quic: decryption failed: %w", err)
	}
	return plaintext, nil
}

// ExtractSNI attempts to recover the SNI a client sent in the ClientHello
// carried by a QUIC Initial packet's CRYPTO frame(s), for
// internal/relay's SNI-based backend routing.
func ExtractSNI(data []byte) (string, error) {
	header, err := ParsePacket(data)
	if err != nil {
		return "", err
	}
	if !header.IsLongHeader || header.Type != PacketTypeInitial {
		return "", errors.New("quic: not a QUIC Initial packet")
	}

	decrypted, err := DecryptInitialPacket(data, header.DCID)
	if err != nil {
		return "", fmt.Errorf("quic: failed to decrypt Initial packet: %w", err)
	}

	frames, err := ExtractFrames(decrypted)
	if err != nil {
		return "", err
	}

	stream := NewCryptoStream()
	for _, f := range frames {
		cf, ok := f.(CryptoFrame)
		if !ok {
			continue
		}
		if err := stream.Append(cf.Offset, cf.Data); err != nil {
			return "", err
		}
	}

	return ExtractSNIFromClientHello(stream.ContiguousPrefix())
}

// ExtractSNIFromClientHello parses a raw TLS 1.3 ClientHello handshake
// message and returns the server_name extension's host name, if present.
func ExtractSNIFromClientHello(data []byte) (string, error) {
	if len(data) < 4 {
		return "", errors.New("quic: too short for TLS handshake message")
	}
	if data[0] != 0x01 { // ClientHello
		return "", errors.New("quic: not a ClientHello")
	}

	curr := 4
	if len(data) < curr+2 {
		return "", errors.New("quic: too short for version")
	}
	curr += 2 // legacy_version

	if len(data) < curr+32 {
		return "", errors.New("quic: too short for random")
	}
	curr += 32

	if len(data) < curr+1 {
		return "", errors.New("quic: too short for legacy session id")
	}
	sidLen := int(data[curr])
	curr += 1 + sidLen

	if len(data) < curr+2 {
		return "", errors.New("quic: too short for cipher suites")
	}
	csLen := int(data[curr])<<8 | int(data[curr+1])
	curr += 2 + csLen

	if len(data) < curr+1 {
		return "", errors.New("quic: too short for compression methods")
	}
	cmLen := int(data[curr])
	curr += 1 + cmLen

	if len(data) < curr+2 {
		return "", errors.New("quic: no extensions")
	}
	extensionsLen := int(data[curr])<<8 | int(data[curr+1])
	curr += 2
	extensionsEnd := curr + extensionsLen
	if len(data) < extensionsEnd {
		return "", errors.New("quic: extensions truncated")
	}

	for curr < extensionsEnd {
		if curr+4 > extensionsEnd {
			break
		}
		extType := int(data[curr])<<8 | int(data[curr+1])
		extLen := int(data[curr+2])<<8 | int(data[curr+3])
		curr += 4

		if extType == 0 { // server_name
			if curr+extLen > extensionsEnd {
				return "", errors.New("quic: sni extension truncated")
			}
			sni, err := parseServerNameExtension(data[curr : curr+extLen])
			if err == nil {
				return sni, nil
			}
		}
		curr += extLen
	}

	return "", errors.New("quic: sni not found")
}

func parseServerNameExtension(sniData []byte) (string, error) {
	if len(sniData) < 2 {
		return "", errors.New("quic: invalid sni extension data")
	}
	sniListLen := int(sniData[0])<<8 | int(sniData[1])
	if len(sniData) < 2+sniListLen {
		return "", errors.New("quic: sni list truncated")
	}

	curr := 2
	for curr < 2+sniListLen {
		if curr+3 > 2+sniListLen {
			break
		}
		nameType := sniData[curr]
		nameLen := int(sniData[curr+1])<<8 | int(sniData[curr+2])
		curr += 3
		if nameType == 0 { // host_name
			if curr+nameLen > 2+sniListLen {
				return "", errors.New("quic: sni name truncated")
			}
			return string(sniData[curr : curr+nameLen]), nil
		}
		curr += nameLen
	}
	return "", errors.New("quic: sni not found")
}
