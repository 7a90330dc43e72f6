package quic

import (
	"encoding/binary"
	"testing"
)

func TestBuildVersionNegotiationSwapsConnectionIDs(t *testing.T) {
	scid := []byte{1, 2, 3}
	dcid := []byte{4, 5, 6, 7}

	pkt := BuildVersionNegotiation(scid, dcid)

	if pkt[0]&0x80 == 0 {
		t.Fatal("expected long header form bit set")
	}
	if binary.BigEndian.Uint32(pkt[1:5]) != 0 {
		t.Errorf("expected version field 0, got %x", pkt[1:5])
	}

	curr := 5
	dcidLen := int(pkt[curr])
	curr++
	gotDCID := pkt[curr : curr+dcidLen]
	curr += dcidLen
	if string(gotDCID) != string(scid) {
		t.Errorf("expected response DCID to be the incoming SCID %x, got %x", scid, gotDCID)
	}

	scidLen := int(pkt[curr])
	curr++
	gotSCID := pkt[curr : curr+scidLen]
	curr += scidLen
	if string(gotSCID) != string(dcid) {
		t.Errorf("expected response SCID to be the incoming DCID %x, got %x", dcid, gotSCID)
	}

	if (len(pkt)-curr)%4 != 0 {
		t.Fatalf("expected the remaining bytes to be a whole number of 4-byte versions, got %d bytes", len(pkt)-curr)
	}
	var versions []uint32
	for ; curr < len(pkt); curr += 4 {
		versions = append(versions, binary.BigEndian.Uint32(pkt[curr:curr+4]))
	}
	if len(versions) != len(SupportedVersions) || versions[0] != VersionV1 {
		t.Errorf("expected supported versions %v, got %v", SupportedVersions, versions)
	}
}
