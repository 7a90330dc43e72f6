package quic

// HandshakeState enumerates the handshake driver's progress.
type HandshakeState int

const (
	StateIdle HandshakeState = iota
	StateClientHelloReceived
	StateServerHelloSent
	StateHandshakeSent
	StateComplete
	StateErrored
)

func (s HandshakeState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateClientHelloReceived:
		return "client_hello_received"
	case StateServerHelloSent:
		return "server_hello_sent"
	case StateHandshakeSent:
		return "handshake_sent"
	case StateComplete:
		return "complete"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// pendingOutput tracks bytes the TLS engine has produced for one epoch that
// have not yet been handed to the packet codec, and the stream offset they
// start at.
type pendingOutput struct {
	data   []byte
	offset uint64
}

// HandshakeDriver binds the per-epoch crypto streams to a TLSEngine and
// produces outbound CRYPTO frame payloads.
type HandshakeDriver struct {
	engine TLSEngine
	state  HandshakeState

	initialStream   *CryptoStream
	handshakeStream *CryptoStream

	initialFedLen   int
	handshakeFedLen int

	pending     map[EncryptionLevel]*pendingOutput
	txOffset    map[EncryptionLevel]uint64
	lastErr     error
}

// NewHandshakeDriver constructs a driver in state Idle bound to engine.
func NewHandshakeDriver(engine TLSEngine) *HandshakeDriver {
	return &HandshakeDriver{
		engine:          engine,
		state:           StateIdle,
		initialStream:   NewCryptoStream(),
		handshakeStream: NewCryptoStream(),
		pending:         make(map[EncryptionLevel]*pendingOutput),
		txOffset:        make(map[EncryptionLevel]uint64),
	}
}

// State returns the driver's current state.
func (d *HandshakeDriver) State() HandshakeState { return d.state }

// Err returns the error that moved the driver into StateErrored, if any.
func (d *HandshakeDriver) Err() error { return d.lastErr }

// OnInitialPayload extracts CRYPTO frames from an Initial packet's
// plaintext payload, appends them to the Initial crypto stream, and feeds
// any newly-available contiguous bytes to the TLS engine.
func (d *HandshakeDriver) OnInitialPayload(payload []byte) error {
	return d.onPayload(LevelInitial, d.initialStream, &d.initialFedLen, payload)
}

// OnHandshakePayload is the Handshake-epoch counterpart of OnInitialPayload.
func (d *HandshakeDriver) OnHandshakePayload(payload []byte) error {
	return d.onPayload(LevelHandshake, d.handshakeStream, &d.handshakeFedLen, payload)
}

func (d *HandshakeDriver) onPayload(level EncryptionLevel, stream *CryptoStream, fedLen *int, payload []byte) error {
	if d.state == StateErrored {
		return nil
	}

	frames, err := ExtractFrames(payload)
	if err != nil {
		return nil // malformed frame: the packet is dropped, the connection continues
	}

	hadFrame := false
	for _, f := range frames {
		cf, ok := f.(CryptoFrame)
		if !ok {
			continue
		}
		hadFrame = true
		if err := stream.Append(cf.Offset, cf.Data); err != nil {
			d.state = StateErrored
			d.lastErr = err
			return err
		}
	}
	if !hadFrame {
		return nil
	}

	prefix := stream.ContiguousPrefix()
	if len(prefix) <= *fedLen {
		return nil
	}
	newBytes := prefix[*fedLen:]
	*fedLen = len(prefix)

	if d.state == StateIdle && level == LevelInitial {
		d.state = StateClientHelloReceived
	}

	if err := d.engine.HandleData(level, newBytes); err != nil {
		d.state = StateErrored
		d.lastErr = err
		return err
	}

	d.collectOutputs()

	if d.engine.IsComplete() {
		d.state = StateComplete
	}

	return nil
}

// collectOutputs drains the engine's pending per-epoch output into d.pending,
// appending to anything not yet emitted for that epoch.
func (d *HandshakeDriver) collectOutputs() {
	for _, out := range d.engine.Outputs() {
		p, ok := d.pending[out.Level]
		if !ok {
			p = &pendingOutput{offset: d.txOffset[out.Level]}
			d.pending[out.Level] = p
		}
		p.data = append(p.data, out.Data...)
	}
}

// PollOutput returns whatever the TLS engine has produced for level that
// has not yet been emitted as a CRYPTO frame, along with the stream offset
// it starts at. It does not clear the pending data: the caller advances the
// offset explicitly via AdvanceOutput once the corresponding packet is
// considered sent. Re-sending identical bytes at the same offset is safe
// until acknowledgment tracking exists.
func (d *HandshakeDriver) PollOutput(level EncryptionLevel) (data []byte, offset uint64, ok bool) {
	p, exists := d.pending[level]
	if !exists || len(p.data) == 0 {
		return nil, 0, false
	}
	if level == LevelInitial && d.state == StateClientHelloReceived {
		d.state = StateServerHelloSent
	}
	if level == LevelHandshake && (d.state == StateServerHelloSent || d.state == StateClientHelloReceived) {
		d.state = StateHandshakeSent
	}
	return p.data, p.offset, true
}

// AdvanceOutput marks n bytes of level's pending output as emitted,
// advancing the next CRYPTO frame's offset.
func (d *HandshakeDriver) AdvanceOutput(level EncryptionLevel, n int) {
	p, ok := d.pending[level]
	if !ok || n <= 0 {
		return
	}
	if n > len(p.data) {
		n = len(p.data)
	}
	p.data = p.data[n:]
	p.offset += uint64(n)
	d.txOffset[level] = p.offset
}
