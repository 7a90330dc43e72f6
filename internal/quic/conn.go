package quic

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"
)

const (
	// minInitialDatagramSize is the floor RFC 9000 section 14.1 puts on UDP
	// datagrams carrying ack-eliciting Initial packets, in either direction.
	minInitialDatagramSize = 1200

	// maxCryptoChunk bounds how many TLS handshake bytes go into one
	// outbound packet, so a packet plus its header, packet number, and AEAD
	// tag stays inside a single 1500-byte datagram slot.
	maxCryptoChunk = 1150
)

// ConnState is a Connection's lifecycle state. A connection moves
// handshaking -> connected -> closed, or handshaking -> errored -> closed
// when a connection-fatal failure occurs.
type ConnState int

const (
	ConnHandshaking ConnState = iota
	ConnConnected
	ConnErrored
	ConnClosed
)

// Transport error codes (RFC 9000 section 20.1) carried in CONNECTION_CLOSE
// frames. TLS alerts map into the 0x0100-0x01ff crypto error range.
const (
	errCodeInternalError      uint64 = 0x01
	errCodeTransportParameter uint64 = 0x08
	errCodeCryptoBase         uint64 = 0x0100
)

// ErrTransportParameters marks a malformed peer transport parameter set, a
// connection-fatal violation.
var ErrTransportParameters = errors.New("quic: invalid peer transport parameters")

// pnSpace is one packet-number space's transmit/receive counters
// (RFC 9000 section 12.3).
type pnSpace struct {
	nextTxPN     uint64
	largestRxPN  int64 // -1 until a packet has been received in this space
}

func newPNSpace() *pnSpace {
	return &pnSpace{largestRxPN: -1}
}

// pnSpaceIndex names the three packet-number spaces.
type pnSpaceIndex int

const (
	pnSpaceInitial pnSpaceIndex = iota
	pnSpaceHandshake
	pnSpaceApplication
	numPNSpaces
)

// Connection holds one QUIC connection's state: CIDs, initial secrets,
// handshake driver, packet-number spaces, and transport parameters.
type Connection struct {
	LocalCID       []byte
	RemoteCID      []byte
	InitialDCID    []byte
	PeerAddr       *net.UDPAddr

	secrets InitialSecrets
	driver  *HandshakeDriver
	engine  TLSEngine

	pnSpaces [numPNSpaces]*pnSpace

	localParams TransportParameters
	peerParams  *TransportParameters

	state    ConnState
	errCause error

	createdAt time.Time
	deadline  time.Time
}

// NewConnection constructs a Connection for a freshly-seen client Initial.
// Initial secrets are derived from initialDCID immediately (RFC 9001
// section 5.2) and are immutable thereafter.
func NewConnection(localCID, remoteCID, initialDCID []byte, peer *net.UDPAddr, tlsConfig *tls.Config, handshakeTimeout time.Duration) (*Connection, error) {
	local := DefaultTransportParameters()
	engine, err := NewServerEngine(tlsConfig, local.Encode())
	if err != nil {
		return nil, err
	}

	now := time.Now()
	c := &Connection{
		LocalCID:    append([]byte(nil), localCID...),
		RemoteCID:   append([]byte(nil), remoteCID...),
		InitialDCID: append([]byte(nil), initialDCID...),
		PeerAddr:    peer,
		secrets:     DeriveInitialSecrets(initialDCID),
		driver:      NewHandshakeDriver(engine),
		engine:      engine,
		localParams: local,
		state:       ConnHandshaking,
		createdAt:   now,
		deadline:    now.Add(handshakeTimeout),
	}
	for i := range c.pnSpaces {
		c.pnSpaces[i] = newPNSpace()
	}
	return c, nil
}

// IsClosed reports whether the connection has reached its terminal state.
func (c *Connection) IsClosed() bool { return c.state == ConnClosed }

// State returns the connection's lifecycle state.
func (c *Connection) State() ConnState { return c.state }

// Err returns the failure that moved the connection into ConnErrored, if any.
func (c *Connection) Err() error { return c.errCause }

// Deadline returns the time at which this connection's handshake must
// complete, for the I/O loop's deadline sweep.
func (c *Connection) Deadline() time.Time { return c.deadline }

// Receive parses and processes one or more coalesced QUIC packets in
// datagram. Per-packet failures (parse error, authentication failure,
// header-protection sample out of bounds) are swallowed here: only a
// genuine connection-level failure (TLS engine error, conflicting CRYPTO
// data, malformed peer transport parameters) is returned.
func (c *Connection) Receive(datagram []byte) error {
	curr := 0
	for curr < len(datagram) {
		h, err := ParsePacket(datagram[curr:])
		if err != nil {
			return nil // malformed packet: drop silently
		}

		n := h.FullLength
		if n <= 0 {
			return nil
		}

		if connErr := c.receiveOne(datagram[curr:curr+n], h); connErr != nil {
			c.state = ConnErrored
			c.errCause = connErr
			return connErr
		}

		curr += n
		if !h.IsLongHeader {
			break
		}
	}
	return nil
}

func (c *Connection) receiveOne(pkt []byte, h *ParsedHeader) error {
	var space pnSpaceIndex
	var keys DirectionalKeys

	switch {
	case h.IsLongHeader && h.Type == PacketTypeInitial:
		space = pnSpaceInitial
		keys = c.secrets.Client
	case h.IsLongHeader && h.Type == PacketTypeHandshake:
		space = pnSpaceHandshake
		read, _, ok := c.engine.Keys(LevelHandshake)
		if !ok {
			return nil // Handshake keys not installed yet: drop (packet arrived early)
		}
		keys = read
	default:
		return nil // 0-RTT/Retry/short-header application data: not handled during the handshake
	}

	pnOffset := len(h.RawHeader)
	truncatedPN, pnLen, aad, err := RemoveHeaderProtection(pkt, pnOffset, keys.HPBlock)
	if err != nil {
		return nil // sample out of bounds: drop packet
	}

	fullPN := ReconstructPacketNumber(truncatedPN, pnLen, c.pnSpaces[space].largestRxPN)

	ciphertext := pkt[pnOffset+pnLen:]
	plaintext, err := keys.Open(uint64(fullPN), aad, ciphertext)
	if err != nil {
		return nil // authentication failure: drop packet (RFC 9000 section 12.2)
	}

	if fullPN > c.pnSpaces[space].largestRxPN {
		c.pnSpaces[space].largestRxPN = fullPN
	}

	var dispatchErr error
	switch space {
	case pnSpaceInitial:
		dispatchErr = c.driver.OnInitialPayload(plaintext)
	case pnSpaceHandshake:
		dispatchErr = c.driver.OnHandshakePayload(plaintext)
	}
	if dispatchErr != nil {
		return dispatchErr
	}

	if c.peerParams == nil {
		if raw, ok := c.engine.PeerTransportParameters(); ok {
			params, err := DecodeTransportParameters(raw)
			if err != nil {
				// TRANSPORT_PARAMETER_ERROR: fatal to the connection, not
				// just the packet.
				return fmt.Errorf("%w: %v", ErrTransportParameters, err)
			}
			c.peerParams = &params
		}
	}

	if c.driver.State() == StateComplete {
		c.state = ConnConnected
	}
	return nil
}

// PeerTransportParameters returns the peer's transport parameter set, once
// it has been received inside the TLS handshake. The set is immutable from
// that point on.
func (c *Connection) PeerTransportParameters() (TransportParameters, bool) {
	if c.peerParams == nil {
		return TransportParameters{}, false
	}
	return *c.peerParams, true
}

// NextOutgoing assembles the next outbound packet, if the handshake driver
// has produced anything unsent for Initial or Handshake (in that order).
func (c *Connection) NextOutgoing() ([]byte, bool) {
	if data, offset, ok := c.driver.PollOutput(LevelInitial); ok {
		return c.buildOutgoing(pnSpaceInitial, data, offset)
	}
	if data, offset, ok := c.driver.PollOutput(LevelHandshake); ok {
		return c.buildOutgoing(pnSpaceHandshake, data, offset)
	}
	return nil, false
}

func (c *Connection) buildOutgoing(space pnSpaceIndex, data []byte, offset uint64) ([]byte, bool) {
	if len(data) > maxCryptoChunk {
		data = data[:maxCryptoChunk]
	}
	frame := CryptoFrame{Offset: offset, Data: data}

	pkt, ok := c.sealPacket(space, frame.Serialize())
	if !ok {
		return nil, false
	}
	c.driver.AdvanceOutput(levelFor(space), len(data))
	return pkt, true
}

// CloseDatagram builds a datagram carrying a CONNECTION_CLOSE frame for an
// errored connection, encrypted at the highest epoch whose send keys are
// installed. ok is false when the connection is not errored.
func (c *Connection) CloseDatagram() ([]byte, bool) {
	if c.state != ConnErrored {
		return nil, false
	}
	frame := ConnectionCloseFrame{ErrorCode: closeErrorCode(c.errCause)}
	payload := frame.Serialize()

	if _, _, ok := c.engine.Keys(LevelHandshake); ok {
		return c.sealPacket(pnSpaceHandshake, payload)
	}
	return c.sealPacket(pnSpaceInitial, payload)
}

// closeErrorCode maps a connection-fatal error to the RFC 9000 section 20.1
// transport error code sent in CONNECTION_CLOSE.
func closeErrorCode(err error) uint64 {
	var alert tls.AlertError
	if errors.As(err, &alert) {
		return errCodeCryptoBase + uint64(uint8(alert))
	}
	if errors.Is(err, ErrTransportParameters) {
		return errCodeTransportParameter
	}
	return errCodeInternalError
}

// sealPacket wraps payload in an Initial or Handshake packet: serialize the
// unprotected header, AEAD-seal, apply header protection, and advance the
// space's transmit packet number.
func (c *Connection) sealPacket(space pnSpaceIndex, payload []byte) ([]byte, bool) {
	var keys DirectionalKeys
	switch space {
	case pnSpaceInitial:
		keys = c.secrets.Server
	case pnSpaceHandshake:
		_, write, ok := c.engine.Keys(LevelHandshake)
		if !ok {
			return nil, false // Handshake write keys not installed yet
		}
		keys = write
	default:
		return nil, false
	}

	pn := c.pnSpaces[space].nextTxPN
	pnLen := pnLenFor(pn)

	if space == pnSpaceInitial {
		// Datagrams carrying Initial packets must be at least 1200 bytes
		// (RFC 9000 section 14.1); PADDING frames (zero bytes) fill the gap.
		// The length field's VarInt is 2 bytes for any padded payload.
		headerLen := 10 + len(c.RemoteCID) + len(c.LocalCID)
		if pad := minInitialDatagramSize - (headerLen + pnLen + len(payload) + 16); pad > 0 {
			payload = append(payload, make([]byte, pad)...)
		}
	}

	var pkt []byte
	var pnOffset int
	var err error
	switch space {
	case pnSpaceInitial:
		pkt, pnOffset, err = SerializeInitialPacket(pnLen, VersionV1, c.RemoteCID, c.LocalCID, pn, make([]byte, len(payload)+16))
	case pnSpaceHandshake:
		pkt, pnOffset, err = SerializeHandshakePacket(pnLen, VersionV1, c.RemoteCID, c.LocalCID, pn, make([]byte, len(payload)+16))
	}
	if err != nil {
		return nil, false
	}

	aad := pkt[:pnOffset+pnLen]
	ciphertext, err := keys.Seal(pn, aad, payload)
	if err != nil {
		return nil, false
	}
	copy(pkt[pnOffset+pnLen:], ciphertext)

	if err := ApplyHeaderProtection(pkt, pnOffset, pnLen, keys.HPBlock); err != nil {
		return nil, false
	}

	c.pnSpaces[space].nextTxPN++
	return pkt, true
}

func pnLenFor(pn uint64) int {
	switch {
	case pn < 1<<8:
		return 1
	case pn < 1<<16:
		return 2
	case pn < 1<<24:
		return 3
	default:
		return 4
	}
}

func levelFor(space pnSpaceIndex) EncryptionLevel {
	if space == pnSpaceHandshake {
		return LevelHandshake
	}
	return LevelInitial
}
