package feed

import (
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"golang.org/x/net/ipv4"
	"gopkg.in/tomb.v2"
)

// Publisher transmits already-encoded feed records as one UDP multicast
// datagram per record. It owns the socket and the supervising tomb but not
// the sequence counter — that stays process-global in package feed so that
// every package's emission, not just this transport's, shares one sequence
// space.
type Publisher struct {
	conn    *net.UDPConn
	pconn   *ipv4.PacketConn
	addr    *net.UDPAddr
	log     zerolog.Logger
	t       tomb.Tomb
	records chan []byte
}

// NewPublisher opens a UDP socket on an ephemeral local port that sends to
// the multicast group:port with a TTL of 1, mirroring the original simulator's network.py (socket.IP_MULTICAST_TTL=1)
// via ipv4.PacketConn.SetMulticastTTL rather than a raw setsockopt call.
func NewPublisher(group string, port int, log zerolog.Logger) (*Publisher, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(group), Port: port}

	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return nil, fmt.Errorf("feed: open multicast socket: %w", err)
	}

	pconn := ipv4.NewPacketConn(conn)
	if err := pconn.SetMulticastTTL(1); err != nil {
		conn.Close()
		return nil, fmt.Errorf("feed: set multicast ttl: %w", err)
	}

	p := &Publisher{
		conn:    conn,
		pconn:   pconn,
		addr:    addr,
		log:     log.With().Str("component", "feed.publisher").Logger(),
		records: make(chan []byte, 4096),
	}
	p.t.Go(p.loop)
	return p, nil
}

func (p *Publisher) loop() error {
	for {
		select {
		case <-p.t.Dying():
			return nil
		case rec := <-p.records:
			if _, err := p.conn.WriteTo(rec, p.addr); err != nil {
				p.log.Error().Err(err).Msg("multicast write failed")
			}
		}
	}
}

// Publish enqueues an already-encoded record for transmission. Never blocks
// the caller's matching-lock-held path on network I/O: a full queue drops
// the record and logs it, the same "loss is tolerated" contract the wire
// format itself already allows for.
func (p *Publisher) Publish(rec []byte) {
	select {
	case p.records <- rec:
	default:
		p.log.Warn().Msg("feed publish queue full, dropping record")
	}
}

// Close stops the publisher's loop and releases the socket.
func (p *Publisher) Close() error {
	p.t.Kill(nil)
	err := p.t.Wait()
	p.conn.Close()
	return err
}
