package quic

import (
	"context"
	"crypto/tls"
	"errors"
)

// EncryptionLevel is one of the four QUIC encryption levels (RFC 9001
// section 2.1). The core only ever drives Initial and Handshake;
// Application is reachable through the TLSEngine contract but never driven
// here, since the server hands off once the handshake completes.
type EncryptionLevel int

const (
	LevelInitial EncryptionLevel = iota
	LevelHandshake
	LevelApplication
	Level0RTT
)

func fromTLSLevel(l tls.QUICEncryptionLevel) EncryptionLevel {
	switch l {
	case tls.QUICEncryptionLevelInitial:
		return LevelInitial
	case tls.QUICEncryptionLevelHandshake:
		return LevelHandshake
	case tls.QUICEncryptionLevelApplication:
		return LevelApplication
	case tls.QUICEncryptionLevelEarly:
		return Level0RTT
	default:
		return LevelInitial
	}
}

func toTLSLevel(l EncryptionLevel) tls.QUICEncryptionLevel {
	switch l {
	case LevelInitial:
		return tls.QUICEncryptionLevelInitial
	case LevelHandshake:
		return tls.QUICEncryptionLevelHandshake
	case LevelApplication:
		return tls.QUICEncryptionLevelApplication
	case Level0RTT:
		return tls.QUICEncryptionLevelEarly
	default:
		return tls.QUICEncryptionLevelInitial
	}
}

// EpochOutput is a chunk of TLS handshake bytes the engine has produced for
// a given encryption level, to be wrapped in a CRYPTO frame.
type EpochOutput struct {
	Level EncryptionLevel
	Data  []byte
}

// TLSEngine is the boundary to the TLS 1.3 implementation: it accepts raw
// handshake bytes per epoch and emits raw handshake bytes per epoch, never
// interpreting the QUIC framing around them. The core treats it as a black
// box satisfying this capability set; any RFC-8446-compliant engine with a
// QUIC epoch API qualifies.
type TLSEngine interface {
	// HandleData feeds the contiguous prefix of the crypto stream at level
	// into the engine.
	HandleData(level EncryptionLevel, data []byte) error
	// Outputs drains and returns everything the engine has produced since
	// the last call.
	Outputs() []EpochOutput
	// IsComplete reports whether the handshake has finished.
	IsComplete() bool
	// ConnectionState returns the negotiated TLS state once available.
	ConnectionState() tls.ConnectionState
	// PeerTransportParameters returns the raw transport parameter TLV set
	// the peer sent inside its TLS handshake, once it has arrived.
	PeerTransportParameters() ([]byte, bool)
	// Keys returns the read (peer->us) and write (us->peer) AEAD/header
	// protection keys installed for level, derived from the secrets
	// tls.QUICConn exports at that level (RFC 9001 section 5.1). ok is
	// false until both directions have been installed for that level.
	Keys(level EncryptionLevel) (read, write DirectionalKeys, ok bool)
}

// quicTLSEngine adapts the standard library's QUIC-mode TLS handshake
// (tls.QUICConn) to the TLSEngine contract.
type quicTLSEngine struct {
	conn       *tls.QUICConn
	pending    []EpochOutput
	complete   bool
	connState  tls.ConnectionState
	peerParams []byte
	keyErr     error

	readKeys  map[EncryptionLevel]DirectionalKeys
	writeKeys map[EncryptionLevel]DirectionalKeys
}

// NewServerEngine constructs a server-side TLSEngine. transportParams is
// the already-encoded local transport parameter TLV set (see
// transportparams.go), handed to the peer inside the TLS handshake's quic
// transport parameters extension.
func NewServerEngine(cfg *tls.Config, transportParams []byte) (TLSEngine, error) {
	if cfg == nil {
		return nil, errors.New("quic: tls config is required")
	}
	qc := tls.QUICServer(&tls.QUICConfig{TLSConfig: cfg})
	qc.SetTransportParameters(transportParams)
	e := &quicTLSEngine{
		conn:      qc,
		readKeys:  make(map[EncryptionLevel]DirectionalKeys),
		writeKeys: make(map[EncryptionLevel]DirectionalKeys),
	}
	if err := qc.Start(context.Background()); err != nil {
		return nil, err
	}
	e.drain()
	if e.keyErr != nil {
		return nil, e.keyErr
	}
	return e, nil
}

func (e *quicTLSEngine) HandleData(level EncryptionLevel, data []byte) error {
	if err := e.conn.HandleData(toTLSLevel(level), data); err != nil {
		return err
	}
	e.drain()
	return e.keyErr
}

// drain pumps tls.QUICConn's event queue into e.pending and e.complete,
// following the same "NextEvent until EventNoEvent" loop the standard
// library's own examples for tls.QUICConn use.
func (e *quicTLSEngine) drain() {
	for {
		ev := e.conn.NextEvent()
		switch ev.Kind {
		case tls.QUICNoEvent:
			return
		case tls.QUICWriteData:
			e.pending = append(e.pending, EpochOutput{Level: fromTLSLevel(ev.Level), Data: append([]byte(nil), ev.Data...)})
		case tls.QUICHandshakeDone:
			e.complete = true
		case tls.QUICTransportParameters:
			e.peerParams = append([]byte(nil), ev.Data...)
		case tls.QUICSetReadSecret:
			keys, err := directionalKeysForSuite(ev.Suite, ev.Data)
			if err != nil {
				e.keyErr = err
				return
			}
			e.readKeys[fromTLSLevel(ev.Level)] = keys
		case tls.QUICSetWriteSecret:
			keys, err := directionalKeysForSuite(ev.Suite, ev.Data)
			if err != nil {
				e.keyErr = err
				return
			}
			e.writeKeys[fromTLSLevel(ev.Level)] = keys
		default:
			// TransportParametersRequired, RejectedEarlyData and other
			// events require no action from this adapter: the local
			// transport parameters are already set before Start.
		}
	}
}

func (e *quicTLSEngine) Outputs() []EpochOutput {
	out := e.pending
	e.pending = nil
	return out
}

func (e *quicTLSEngine) IsComplete() bool {
	return e.complete
}

func (e *quicTLSEngine) ConnectionState() tls.ConnectionState {
	if e.connState.Version == 0 && e.complete {
		e.connState = e.conn.ConnectionState()
	}
	return e.connState
}

func (e *quicTLSEngine) PeerTransportParameters() ([]byte, bool) {
	return e.peerParams, e.peerParams != nil
}

func (e *quicTLSEngine) Keys(level EncryptionLevel) (read, write DirectionalKeys, ok bool) {
	r, rok := e.readKeys[level]
	w, wok := e.writeKeys[level]
	return r, w, rok && wok
}
