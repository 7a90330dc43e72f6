package quic

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"time"
)

// QUICConfig configures the terminating UDP I/O loop.
type QUICConfig struct {
	Port             int
	CertFile         string
	KeyFile          string
	HandshakeTimeout time.Duration
	IdleTimeout      time.Duration
	BufferPoolSize   int
	LogRequests      bool
}

// Server runs the single-threaded QUIC UDP I/O loop, backed by Go's
// blocking ReadFromUDP the same way internal/relay.Relay.Start drives its
// own UDP socket. The loop exclusively owns the connection table and
// buffer pool, so packet processing needs no locks on the hot path.
type Server struct {
	cfg       QUICConfig
	conn      *net.UDPConn
	table     *Table
	pool      *BufferPool
	tlsConfig *tls.Config
}

// NewServer loads the server certificate from cfg and returns a Server
// ready to Run.
func NewServer(cfg QUICConfig) (*Server, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("quic: loading certificate: %w", err)
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
		NextProtos:   []string{"h3"},
	}

	poolSize := cfg.BufferPoolSize
	if poolSize <= 0 {
		poolSize = 1024
	}

	return &Server{
		cfg:       cfg,
		table:     NewTable(cfg.HandshakeTimeout),
		pool:      NewBufferPool(poolSize),
		tlsConfig: tlsConfig,
	}, nil
}

// Run binds the UDP socket and services datagrams until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}
	s.conn = conn
	defer s.conn.Close()

	log.Printf("QUIC server listening on %s", addr.String())

	sweepTicker := time.NewTicker(time.Second)
	defer sweepTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-sweepTicker.C:
				s.table.Sweep(now)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		idx, buf, ok := s.pool.Acquire()
		if !ok {
			// Pool exhausted: briefly back off instead of busy-looping
			// until a slot frees up.
			time.Sleep(time.Millisecond)
			continue
		}

		n, peer, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			s.pool.Release(idx)
			if ctx.Err() != nil {
				return nil
			}
			if s.cfg.LogRequests {
				log.Printf("QUIC: read error: %v", err)
			}
			continue
		}

		s.handleDatagram(buf[:n], peer)
		s.pool.Release(idx)
	}
}

func (s *Server) handleDatagram(datagram []byte, peer *net.UDPAddr) {
	if len(datagram) < 7 {
		return // truncated datagram: dropped without error
	}

	h, err := ParsePacket(datagram)
	if err != nil {
		if err == ErrUnsupportedVersion {
			neg := BuildVersionNegotiation(h.SCID, h.DCID)
			s.send(neg, peer)
			return
		}
		if s.cfg.LogRequests {
			log.Printf("QUIC: %s -> parse error: %v", peer, err)
		}
		return
	}

	var conn *Connection
	var created bool
	if h.IsLongHeader && h.Type == PacketTypeInitial {
		conn, created, err = s.table.LookupOrCreate(h.DCID, peer, s.tlsConfig)
		if err != nil {
			if s.cfg.LogRequests {
				log.Printf("QUIC: %s -> failed to create connection: %v", peer, err)
			}
			return
		}
	} else {
		dcid := h.DCID
		if !h.IsLongHeader {
			// Short header: DCID length is only known once we've found a
			// candidate connection by its full-length slice; retry with
			// the table's recorded local CID length if the first lookup
			// misses.
			if c, ok := s.table.Lookup(dcid); ok {
				conn = c
			} else if rh, rerr := ResolveShortHeaderDCID(datagram, localCIDLen); rerr == nil {
				conn, _ = s.table.Lookup(rh.DCID)
			}
		} else {
			conn, _ = s.table.Lookup(dcid)
		}
		if conn == nil {
			if s.cfg.LogRequests {
				log.Printf("QUIC: %s -> no connection for dcid %x", peer, dcid)
			}
			return
		}
	}

	if created && s.cfg.LogRequests {
		log.Printf("QUIC: %s -> new connection (dcid %x)", peer, h.DCID)
	}

	if err := conn.Receive(datagram); err != nil {
		if s.cfg.LogRequests {
			log.Printf("QUIC: %s -> connection error: %v", peer, err)
		}
		// Tell the peer why before dropping the connection, when keys for
		// some epoch are available (RFC 9000 section 10.2).
		if closePkt, ok := conn.CloseDatagram(); ok {
			s.send(closePkt, conn.PeerAddr)
		}
		s.table.Remove(conn)
		return
	}

	for {
		out, ok := conn.NextOutgoing()
		if !ok {
			break
		}
		s.send(out, conn.PeerAddr)
	}

	if conn.IsClosed() {
		s.table.Remove(conn)
	}
}

func (s *Server) send(data []byte, peer *net.UDPAddr) {
	if _, err := s.conn.WriteToUDP(data, peer); err != nil {
		if s.cfg.LogRequests {
			log.Printf("QUIC: write error to %s: %v", peer, err)
		}
	}
}
