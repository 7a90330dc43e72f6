package quic

import (
	"crypto/rand"
	"crypto/tls"
	"net"
	"sync"
	"time"
)

const localCIDLen = 8

// Table maps connection IDs to Connections. A
// connection is reachable under both its local CID (chosen by this
// endpoint) and the client's original DCID, until the client learns to
// address packets by the server's chosen CID exclusively.
type Table struct {
	mu               sync.Mutex
	conns            map[string]*Connection
	handshakeTimeout time.Duration
}

// NewTable returns an empty connection table.
func NewTable(handshakeTimeout time.Duration) *Table {
	return &Table{
		conns:            make(map[string]*Connection),
		handshakeTimeout: handshakeTimeout,
	}
}

// LookupOrCreate resolves dcid to an existing Connection, or, if dcid is
// unknown, creates one, generating a random local CID and deriving Initial
// secrets from dcid. The packet type is not checked here. created is true
// when a new Connection was made.
func (t *Table) LookupOrCreate(dcid []byte, peer *net.UDPAddr, tlsConfig *tls.Config) (conn *Connection, created bool, err error) {
	key := string(dcid)

	t.mu.Lock()
	if c, ok := t.conns[key]; ok {
		t.mu.Unlock()
		return c, false, nil
	}
	t.mu.Unlock()

	localCID := make([]byte, localCIDLen)
	if _, err := rand.Read(localCID); err != nil {
		return nil, false, err
	}

	c, err := NewConnection(localCID, dcid, dcid, peer, tlsConfig, t.handshakeTimeout)
	if err != nil {
		return nil, false, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.conns[key]; ok {
		// Lost a race with another goroutine (or a retried lookup);
		// discard the one we just built.
		return existing, false, nil
	}
	t.conns[key] = c
	t.conns[string(localCID)] = c
	return c, true, nil
}

// Lookup resolves dcid to an existing Connection without creating one.
func (t *Table) Lookup(dcid []byte) (*Connection, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.conns[string(dcid)]
	return c, ok
}

// Remove deletes every key referencing conn (its local CID and, if still
// present, the client's original DCID) and moves the connection to its
// terminal ConnClosed state.
func (t *Table) Remove(conn *Connection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.conns, string(conn.LocalCID))
	delete(t.conns, string(conn.InitialDCID))
	conn.state = ConnClosed
}

// Sweep removes every connection whose handshake deadline has passed
// without completing, and clears out errored or closed connections still
// occupying a key. The timeout close is silent, with no CONNECTION_CLOSE,
// since handshake keys may not even be usable yet.
func (t *Table) Sweep(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, c := range t.conns {
		switch {
		case c.state == ConnErrored || c.state == ConnClosed:
			c.state = ConnClosed
			delete(t.conns, key)
		case c.state == ConnHandshaking && now.After(c.Deadline()):
			c.state = ConnClosed
			delete(t.conns, key)
		}
	}
}

// Size returns the number of distinct Connections reachable from the table
// (a connection may occupy two keys, local CID and original DCID).
func (t *Table) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	seen := make(map[*Connection]struct{})
	for _, c := range t.conns {
		seen[c] = struct{}{}
	}
	return len(seen)
}
