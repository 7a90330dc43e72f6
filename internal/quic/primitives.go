package quic

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"io"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// quicV1Salt is the fixed Initial salt for QUIC version 1 (RFC 9001 section 5.2).
var quicV1Salt = []byte{0x38, 0x76, 0x2c, 0xf7, 0xf5, 0x59, 0x34, 0xb3, 0x4d, 0x17, 0x9a, 0xe6, 0xa4, 0xc8, 0x0c, 0xad, 0xcc, 0xbb, 0x7f, 0x0a}

// ErrAuth is returned by Open when authentication fails. Per RFC 9000
// section 12.2 this is fatal only to the packet, never to the connection.
var ErrAuth = errors.New("quic: aead authentication failed")

// DirectionalKeys holds the AEAD key/IV and header-protection key for one
// direction (client->server or server->client) at one encryption level.
type DirectionalKeys struct {
	Key     []byte
	IV      []byte
	HP      []byte
	HPBlock HPEncrypter

	aead cipher.AEAD
}

// Seal encrypts pt under these keys for packet number pn, authenticating
// aad, and returns ciphertext||tag.
func (k DirectionalKeys) Seal(pn uint64, aad, pt []byte) ([]byte, error) {
	if k.aead == nil {
		return nil, errors.New("quic: keys not initialized")
	}
	return k.aead.Seal(nil, aeadNonce(k.IV, pn), pt, aad), nil
}

// Open decrypts ct (ciphertext||tag) under these keys for packet number pn,
// authenticating aad. It returns ErrAuth on any authentication failure.
func (k DirectionalKeys) Open(pn uint64, aad, ct []byte) ([]byte, error) {
	if k.aead == nil {
		return nil, errors.New("quic: keys not initialized")
	}
	pt, err := k.aead.Open(nil, aeadNonce(k.IV, pn), ct, aad)
	if err != nil {
		return nil, ErrAuth
	}
	return pt, nil
}

// InitialSecrets is the six fixed-size key bundle derived from a client's
// Initial DCID (RFC 9001 section 5.2).
type InitialSecrets struct {
	Client DirectionalKeys
	Server DirectionalKeys
}

// DeriveInitialSecrets derives the Initial key bundle from dcid. It is a
// pure function of dcid. Initial packets always use AES-128-GCM with
// SHA-256, independent of the suite TLS later negotiates.
func DeriveInitialSecrets(dcid []byte) InitialSecrets {
	initialSecret := hkdf.Extract(sha256.New, dcid, quicV1Salt)

	clientSecret := hkdfExpandLabel(initialSecret, "client in", 32)
	serverSecret := hkdfExpandLabel(initialSecret, "server in", 32)

	return InitialSecrets{
		Client: directionalKeysFromSecret(clientSecret),
		Server: directionalKeysFromSecret(serverSecret),
	}
}

func directionalKeysFromSecret(secret []byte) DirectionalKeys {
	return aesDirectionalKeys(sha256.New, secret, 16)
}

// directionalKeysForSuite derives the packet-protection keys of RFC 9001
// section 5.1 from a TLS handshake secret, sized and constructed for the
// cipher suite the handshake actually negotiated. tls.Config cannot pin the
// TLS 1.3 suite choice, and the standard library prefers ChaCha20-Poly1305
// over AES on CPUs without AES hardware, so all three TLS 1.3 suites must
// be handled here.
func directionalKeysForSuite(suite uint16, secret []byte) (DirectionalKeys, error) {
	switch suite {
	case tls.TLS_AES_128_GCM_SHA256:
		return aesDirectionalKeys(sha256.New, secret, 16), nil
	case tls.TLS_AES_256_GCM_SHA384:
		return aesDirectionalKeys(sha512.New384, secret, 32), nil
	case tls.TLS_CHACHA20_POLY1305_SHA256:
		return chachaDirectionalKeys(secret)
	default:
		return DirectionalKeys{}, fmt.Errorf("quic: unsupported cipher suite 0x%04x", suite)
	}
}

func aesDirectionalKeys(h func() hash.Hash, secret []byte, keyLen int) DirectionalKeys {
	key := hkdfExpandLabelHash(h, secret, "quic key", keyLen)
	iv := hkdfExpandLabelHash(h, secret, "quic iv", 12)
	hp := hkdfExpandLabelHash(h, secret, "quic hp", keyLen)

	hpBlock, err := aes.NewCipher(hp)
	if err != nil {
		// aes.NewCipher only fails on a bad key length; hp is always 16 or
		// 32 bytes here, so this is unreachable.
		panic(err)
	}
	aeadBlock, err := aes.NewCipher(key)
	if err != nil {
		panic(err)
	}
	aead, err := cipher.NewGCM(aeadBlock)
	if err != nil {
		panic(err)
	}

	return DirectionalKeys{Key: key, IV: iv, HP: hp, HPBlock: hpBlock, aead: aead}
}

func chachaDirectionalKeys(secret []byte) (DirectionalKeys, error) {
	key := hkdfExpandLabelHash(sha256.New, secret, "quic key", chacha20poly1305.KeySize)
	iv := hkdfExpandLabelHash(sha256.New, secret, "quic iv", 12)
	hp := hkdfExpandLabelHash(sha256.New, secret, "quic hp", chacha20.KeySize)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return DirectionalKeys{}, err
	}
	return DirectionalKeys{Key: key, IV: iv, HP: hp, HPBlock: chachaHeaderProtector{key: hp}, aead: aead}, nil
}

// chachaHeaderProtector computes the ChaCha20 header-protection mask of
// RFC 9001 section 5.4.4: the first 4 sample bytes are the block counter,
// the remaining 12 the nonce, and the mask is the resulting keystream.
type chachaHeaderProtector struct {
	key []byte
}

func (p chachaHeaderProtector) Encrypt(mask, sample []byte) {
	c, err := chacha20.NewUnauthenticatedCipher(p.key, sample[4:16])
	if err != nil {
		panic(err)
	}
	c.SetCounter(binary.LittleEndian.Uint32(sample[:4]))
	for i := range mask {
		mask[i] = 0
	}
	c.XORKeyStream(mask, mask)
}

// hkdfExpandLabel implements TLS 1.3's HKDF-Expand-Label (RFC 8446 section
// 7.1) over SHA-256 with the QUIC "tls13 " label prefix and an empty
// context, as used by RFC 9001 section 5.2.
func hkdfExpandLabel(secret []byte, label string, length int) []byte {
	return hkdfExpandLabelHash(sha256.New, secret, label, length)
}

func hkdfExpandLabelHash(h func() hash.Hash, secret []byte, label string, length int) []byte {
	fullLabel := "tls13 " + label
	info := make([]byte, 2+1+len(fullLabel)+1)
	binary.BigEndian.PutUint16(info[0:2], uint16(length))
	info[2] = uint8(len(fullLabel))
	copy(info[3:], fullLabel)
	info[3+len(fullLabel)] = 0

	out := make([]byte, length)
	r := hkdf.Expand(h, secret, info)
	if _, err := io.ReadFull(r, out); err != nil {
		panic(err)
	}
	return out
}

// aeadNonce builds the per-packet AEAD nonce (RFC 9001 section 5.3): the IV
// XORed with the packet number left-padded to the IV's length.
func aeadNonce(iv []byte, pn uint64) []byte {
	nonce := make([]byte, len(iv))
	copy(nonce, iv)
	var pnBytes [8]byte
	binary.BigEndian.PutUint64(pnBytes[:], pn)
	off := len(nonce) - 8
	for i := 0; i < 8; i++ {
		nonce[off+i] ^= pnBytes[i]
	}
	return nonce
}

// HeaderProtectionMask computes the 16-byte header-protection mask for
// sample (RFC 9001 section 5.4). sample must be 16 bytes.
func HeaderProtectionMask(hp HPEncrypter, sample []byte) ([]byte, error) {
	if len(sample) != 16 {
		return nil, errors.New("quic: header protection sample must be 16 bytes")
	}
	mask := make([]byte, 16)
	hp.Encrypt(mask, sample)
	return mask, nil
}
