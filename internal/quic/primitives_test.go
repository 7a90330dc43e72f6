package quic

import (
	"crypto/tls"
	"encoding/hex"
	"testing"
)

func TestDeriveInitialSecretsRFC9001Vector(t *testing.T) {
	// RFC 9001 Appendix A.1 test vector.
	dcid, _ := hex.DecodeString("8394c8f03e515708")
	secrets := DeriveInitialSecrets(dcid)

	if len(secrets.Client.Key) != 16 {
		t.Errorf("expected 16 byte client key, got %d", len(secrets.Client.Key))
	}
	if len(secrets.Client.IV) != 12 {
		t.Errorf("expected 12 byte client IV, got %d", len(secrets.Client.IV))
	}
	if len(secrets.Client.HP) != 16 {
		t.Errorf("expected 16 byte client HP key, got %d", len(secrets.Client.HP))
	}

	wantKey := "1f369613dd76d5467730efcbe3b1a22d"
	wantIV := "fa044b2f42a3fd3b46fb255c"
	wantHP := "9f50449e04a0e810283a1e9933adedd2"

	if got := hex.EncodeToString(secrets.Client.Key); got != wantKey {
		t.Errorf("client key mismatch: got %s, want %s", got, wantKey)
	}
	if got := hex.EncodeToString(secrets.Client.IV); got != wantIV {
		t.Errorf("client IV mismatch: got %s, want %s", got, wantIV)
	}
	if got := hex.EncodeToString(secrets.Client.HP); got != wantHP {
		t.Errorf("client HP key mismatch: got %s, want %s", got, wantHP)
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	dcid, _ := hex.DecodeString("8394c8f03e515708")
	secrets := DeriveInitialSecrets(dcid)

	aad := []byte{0xc3, 0x00, 0x00, 0x00, 0x01}
	plaintext := []byte("hello quic")

	ciphertext, err := secrets.Server.Seal(1, aad, plaintext)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if len(ciphertext) != len(plaintext)+16 {
		t.Fatalf("expected ciphertext len %d, got %d", len(plaintext)+16, len(ciphertext))
	}

	got, err := secrets.Server.Open(1, aad, ciphertext)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Errorf("roundtrip mismatch: got %q, want %q", got, plaintext)
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	dcid, _ := hex.DecodeString("8394c8f03e515708")
	secrets := DeriveInitialSecrets(dcid)

	aad := []byte{0xc3, 0x00, 0x00, 0x00, 0x01}
	ciphertext, err := secrets.Client.Seal(0, aad, []byte("payload"))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	ciphertext[0] ^= 0xff

	if _, err := secrets.Client.Open(0, aad, ciphertext); err != ErrAuth {
		t.Errorf("expected ErrAuth for tampered ciphertext, got %v", err)
	}
}

func TestOpenRejectsWrongAAD(t *testing.T) {
	dcid, _ := hex.DecodeString("8394c8f03e515708")
	secrets := DeriveInitialSecrets(dcid)

	ciphertext, err := secrets.Client.Seal(5, []byte{0xc3}, []byte("payload"))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	if _, err := secrets.Client.Open(5, []byte{0xc4}, ciphertext); err != ErrAuth {
		t.Errorf("expected ErrAuth for mismatched AAD, got %v", err)
	}
}

func TestDirectionalKeysForSuiteSizes(t *testing.T) {
	secret := make([]byte, 32)
	for i := range secret {
		secret[i] = byte(i)
	}

	tests := []struct {
		name                 string
		suite                uint16
		keyLen, ivLen, hpLen int
	}{
		{"aes-128-gcm", tls.TLS_AES_128_GCM_SHA256, 16, 12, 16},
		{"aes-256-gcm", tls.TLS_AES_256_GCM_SHA384, 32, 12, 32},
		{"chacha20-poly1305", tls.TLS_CHACHA20_POLY1305_SHA256, 32, 12, 32},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys, err := directionalKeysForSuite(tt.suite, secret)
			if err != nil {
				t.Fatalf("directionalKeysForSuite failed: %v", err)
			}
			if len(keys.Key) != tt.keyLen || len(keys.IV) != tt.ivLen || len(keys.HP) != tt.hpLen {
				t.Errorf("got key/iv/hp lengths %d/%d/%d, want %d/%d/%d",
					len(keys.Key), len(keys.IV), len(keys.HP), tt.keyLen, tt.ivLen, tt.hpLen)
			}
		})
	}

	if _, err := directionalKeysForSuite(0x1399, secret); err == nil {
		t.Error("expected an error for an unknown cipher suite")
	}
}

func TestChaChaKeysSealOpenAndMask(t *testing.T) {
	secret := make([]byte, 32)
	for i := range secret {
		secret[i] = byte(0x40 + i)
	}
	keys, err := directionalKeysForSuite(tls.TLS_CHACHA20_POLY1305_SHA256, secret)
	if err != nil {
		t.Fatalf("directionalKeysForSuite failed: %v", err)
	}

	aad := []byte{0xe3, 0x01}
	plaintext := []byte("chacha payload")
	ciphertext, err := keys.Seal(7, aad, plaintext)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	got, err := keys.Open(7, aad, ciphertext)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Errorf("roundtrip mismatch: got %q, want %q", got, plaintext)
	}
	ciphertext[3] ^= 0xff
	if _, err := keys.Open(7, aad, ciphertext); err != ErrAuth {
		t.Errorf("expected ErrAuth for tampered ciphertext, got %v", err)
	}

	sample := make([]byte, 16)
	for i := range sample {
		sample[i] = byte(i * 3)
	}
	mask1, err := HeaderProtectionMask(keys.HPBlock, sample)
	if err != nil {
		t.Fatalf("HeaderProtectionMask failed: %v", err)
	}
	mask2, err := HeaderProtectionMask(keys.HPBlock, sample)
	if err != nil {
		t.Fatalf("HeaderProtectionMask failed: %v", err)
	}
	if string(mask1) != string(mask2) {
		t.Error("expected deterministic mask for the same sample")
	}
}

func TestHeaderProtectionMaskDeterministic(t *testing.T) {
	dcid, _ := hex.DecodeString("8394c8f03e515708")
	secrets := DeriveInitialSecrets(dcid)

	sample := make([]byte, 16)
	for i := range sample {
		sample[i] = byte(i)
	}

	mask1, err := HeaderProtectionMask(secrets.Client.HPBlock, sample)
	if err != nil {
		t.Fatalf("HeaderProtectionMask failed: %v", err)
	}
	mask2, err := HeaderProtectionMask(secrets.Client.HPBlock, sample)
	if err != nil {
		t.Fatalf("HeaderProtectionMask failed: %v", err)
	}
	if string(mask1) != string(mask2) {
		t.Errorf("expected deterministic mask for the same sample")
	}
	if len(mask1) != 16 {
		t.Errorf("expected 16 byte mask, got %d", len(mask1))
	}
}
