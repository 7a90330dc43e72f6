package quic

import "testing"

func TestTransportParametersEncodeDecodeRoundTrip(t *testing.T) {
	want := DefaultTransportParameters()
	want.MaxIdleTimeoutMs = 60000
	want.InitialMaxStreamsBidi = 42
	want.DisableActiveMigration = true

	encoded := want.Encode()
	got, err := DecodeTransportParameters(encoded)
	if err != nil {
		t.Fatalf("DecodeTransportParameters failed: %v", err)
	}
	if got != want {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestTransportParametersDisableActiveMigrationAbsentWhenFalse(t *testing.T) {
	want := DefaultTransportParameters()
	want.DisableActiveMigration = false

	got, err := DecodeTransportParameters(want.Encode())
	if err != nil {
		t.Fatalf("DecodeTransportParameters failed: %v", err)
	}
	if got.DisableActiveMigration {
		t.Error("expected DisableActiveMigration to decode false when not present")
	}
}

func TestDecodeTransportParametersIgnoresUnknownID(t *testing.T) {
	var buf []byte
	buf = AppendVarInt(buf, 0xbeef) // unrecognized id, per spec's grease allowance
	val := AppendVarInt(nil, 7)
	buf = AppendVarInt(buf, uint64(len(val)))
	buf = append(buf, val...)
	buf = append(buf, DefaultTransportParameters().Encode()...)

	p, err := DecodeTransportParameters(buf)
	if err != nil {
		t.Fatalf("expected unknown transport parameter ids to be skipped, got error: %v", err)
	}
	if p.MaxIdleTimeoutMs != DefaultTransportParameters().MaxIdleTimeoutMs {
		t.Errorf("expected known parameters after an unknown one to still decode, got %+v", p)
	}
}

func TestDecodeTransportParametersTruncated(t *testing.T) {
	buf := AppendVarInt(nil, tpInitialMaxData)
	buf = AppendVarInt(buf, 4) // claims 4 bytes of value but none follow
	if _, err := DecodeTransportParameters(buf); err == nil {
		t.Error("expected an error for a truncated transport parameter value")
	}
}
